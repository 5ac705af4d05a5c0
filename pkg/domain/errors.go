package domain

import (
	"github.com/cockroachdb/errors"
)

// Error taxonomy. Callers test with errors.Is; constructors below mark the
// concrete error with the matching sentinel so messages stay specific.
var (
	// ErrUsage reports a caller mistake: nil or invalid arguments, out of
	// range indexes, or schema misuse. Fatal to the operation, not the process.
	ErrUsage = errors.New("usage error")
	// ErrConfiguration reports a schema/configuration mismatch such as a class
	// that cannot be owned by the field it was inserted into. Every
	// configuration error is also a usage error.
	ErrConfiguration = errors.New("configuration error")
	// ErrDeletedObject reports an operation on an entity whose handle was
	// deleted. It always indicates a dangling reference in the caller.
	ErrDeletedObject = errors.New("deleted object")
	// ErrUninitializedObject reports an operation on an entity that was
	// allocated but never completed construction.
	ErrUninitializedObject = errors.New("uninitialized object")
	// ErrDisposedStore reports a call into a repository or backend after
	// teardown.
	ErrDisposedStore = errors.New("store disposed")
	// ErrMigrationIntegrity reports a migration whose target identity set
	// differs from the source identity set.
	ErrMigrationIntegrity = errors.New("migration integrity violated")
	// ErrPersistFailed reports a commit whose durable write failed. The
	// in-memory effect of the commit stands.
	ErrPersistFailed = errors.New("persist failed")
	// ErrReadOnly reports a mutation attempted on a partially loaded or
	// otherwise read-only session. It is also a usage error.
	ErrReadOnly = errors.New("read-only session")
)

// UsageErrorf builds an ErrUsage error.
func UsageErrorf(format string, args ...any) error {
	return errors.Mark(errors.Newf(format, args...), ErrUsage)
}

// ConfigurationErrorf builds an error that is both ErrConfiguration and ErrUsage.
func ConfigurationErrorf(format string, args ...any) error {
	return errors.Mark(errors.Mark(errors.Newf(format, args...), ErrConfiguration), ErrUsage)
}

// DeletedObjectError builds an ErrDeletedObject error for h.
func DeletedObjectError(h Handle, op string) error {
	return errors.Mark(errors.Newf("%s: entity %s has been deleted", op, h), ErrDeletedObject)
}

// UninitializedObjectError builds an ErrUninitializedObject error for h.
func UninitializedObjectError(h Handle, op string) error {
	return errors.Mark(errors.Newf("%s: entity %s is not fully constructed", op, h), ErrUninitializedObject)
}

// DisposedStoreError builds an ErrDisposedStore error naming the component.
func DisposedStoreError(component string) error {
	return errors.Mark(errors.Newf("%s has been disposed", component), ErrDisposedStore)
}

// ReadOnlyErrorf builds an error that is both ErrReadOnly and ErrUsage.
func ReadOnlyErrorf(format string, args ...any) error {
	return errors.Mark(errors.Mark(errors.Newf(format, args...), ErrReadOnly), ErrUsage)
}

// PersistError wraps a backend failure as ErrPersistFailed.
func PersistError(err error, backend string) error {
	return errors.Mark(errors.Wrapf(err, "persist to %s backend", backend), ErrPersistFailed)
}

// MigrationIntegrityError reports the identities missing on either side.
func MigrationIntegrityError(sourceCount, targetCount int, missing, extra []GUID) error {
	err := errors.Newf("migration produced %d identities, source has %d", targetCount, sourceCount)
	if len(missing) > 0 {
		err = errors.WithDetailf(err, "missing in target: %d (first %s)", len(missing), missing[0])
	}
	if len(extra) > 0 {
		err = errors.WithDetailf(err, "unexpected in target: %d (first %s)", len(extra), extra[0])
	}
	return errors.Mark(err, ErrMigrationIntegrity)
}

// IsUsage reports whether err is a caller error.
func IsUsage(err error) bool { return errors.Is(err, ErrUsage) }
