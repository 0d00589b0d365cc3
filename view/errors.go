package view

import "github.com/linkerd/ivmsync/ivmerr"

func rowAlreadyPresent(sig string) error {
	return ivmerr.NewInvariantViolation("view.applyAdd", "row %s already present", sig)
}

func rowMissing(sig string) error {
	return ivmerr.NewInvariantViolation("view.apply", "row %s not present", sig)
}
