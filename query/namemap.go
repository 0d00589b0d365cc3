package query

import "github.com/linkerd/ivmsync/poke"

// NameMapper is poke.NameMapper, aliased here for callers that only ever
// touch the query package. The poke merger (the thing that applies it at
// ingress, per spec.md §6) defines the interface itself.
type NameMapper = poke.NameMapper

// IdentityNameMapper is poke.IdentityNameMapper.
type IdentityNameMapper = poke.IdentityNameMapper
