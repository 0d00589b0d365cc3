package poke

// NameMapper translates server-side table/column names to their
// client-facing equivalents and back, applied at poke-merger ingress
// before a merged patch reaches the view adapter (spec.md §6). A concrete
// mapping table is out of scope; IdentityNameMapper is the default for
// callers with no renaming to do.
type NameMapper interface {
	ServerTable(clientTable string) string
	ClientTable(serverTable string) string
	ServerColumn(clientTable, clientColumn string) string
	ClientColumn(serverTable, serverColumn string) string
}

// IdentityNameMapper performs no renaming.
type IdentityNameMapper struct{}

func (IdentityNameMapper) ServerTable(t string) string     { return t }
func (IdentityNameMapper) ClientTable(t string) string     { return t }
func (IdentityNameMapper) ServerColumn(_, c string) string { return c }
func (IdentityNameMapper) ClientColumn(_, c string) string { return c }
