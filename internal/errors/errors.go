// Package errors provides error handling for lexgraph.
//
// This package re-exports github.com/cockroachdb/errors, providing stack
// traces, wrapping, user-facing hints and details, and error marks used by
// the domain error taxonomy.
//
// Usage:
//
//	if err := repo.Delete(h); err != nil {
//	    return errors.Wrap(err, "delete entry")
//	}
//
//	if errors.Is(err, domain.ErrDeletedObject) {
//	    // dangling handle in the caller
//	}
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

// User-facing messages and details
var (
	WithHint           = crdb.WithHint
	WithHintf          = crdb.WithHintf
	WithDetail         = crdb.WithDetail
	WithDetailf        = crdb.WithDetailf
	WithSecondaryError = crdb.WithSecondaryError
)

// Error inspection
var (
	Is             = crdb.Is
	IsAny          = crdb.IsAny
	As             = crdb.As
	Unwrap         = crdb.Unwrap
	UnwrapAll      = crdb.UnwrapAll
	GetAllHints    = crdb.GetAllHints
	GetAllDetails  = crdb.GetAllDetails
	FlattenHints   = crdb.FlattenHints
	FlattenDetails = crdb.FlattenDetails
)

// Marks attach a sentinel identity to an error without changing its message.
var (
	Mark             = crdb.Mark
	CombineErrors    = crdb.CombineErrors
	AssertionFailedf = crdb.AssertionFailedf
)
