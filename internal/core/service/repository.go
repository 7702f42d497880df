package service

import (
	"context"
	"fmt"

	"github.com/yndnr/snapfn-go/internal/core/domain"
)

// StateRepository defines the storage interface for durable state.
//
// Implementations evaluate the precondition and apply the write atomically.
// A failed precondition leaves the stored record unchanged.
type StateRepository interface {
	// Get retrieves a record. Expired records are reported as not found.
	Get(ctx context.Context, key domain.Key, consistent bool) (*domain.StateRecord, error)

	// Put stores rec with version = previous version + 1 (or 1 when the
	// record is created) and returns the new version.
	Put(ctx context.Context, rec *domain.StateRecord, cond Precondition) (uint64, error)

	// Delete removes a record. A missing record is ErrNotFound.
	Delete(ctx context.Context, key domain.Key, cond Precondition) error

	// Close releases connections and file handles.
	Close() error
}

// PreconditionMode selects how a write is guarded.
type PreconditionMode int

const (
	// CondNone writes unconditionally.
	CondNone PreconditionMode = iota
	// CondAbsent requires that no live record exists.
	CondAbsent
	// CondVersion requires the stored version to equal Version.
	CondVersion
	// CondUnversioned requires a live record that carries no version, as
	// written by producers outside snapfn.
	CondUnversioned
)

// Precondition guards a write.
type Precondition struct {
	Mode    PreconditionMode
	Version uint64
}

// Unconditional returns a precondition that always holds.
func Unconditional() Precondition {
	return Precondition{Mode: CondNone}
}

// IfAbsent returns a precondition that holds only when the record does not exist.
func IfAbsent() Precondition {
	return Precondition{Mode: CondAbsent}
}

// IfVersion returns a precondition on the stored version. Version 0 means
// the record must not exist.
func IfVersion(v uint64) Precondition {
	if v == 0 {
		return IfAbsent()
	}
	return Precondition{Mode: CondVersion, Version: v}
}

// IfUnversioned returns a precondition that holds only for a live record
// without a version. Such records read back with Version 0.
func IfUnversioned() Precondition {
	return Precondition{Mode: CondUnversioned}
}

// String renders the precondition for logs.
func (p Precondition) String() string {
	switch p.Mode {
	case CondAbsent:
		return "absent"
	case CondVersion:
		return fmt.Sprintf("version=%d", p.Version)
	case CondUnversioned:
		return "unversioned"
	default:
		return "none"
	}
}

// Check evaluates the precondition against the current record, which is nil
// when the record does not exist (or has expired).
func (p Precondition) Check(existing *domain.StateRecord) error {
	switch p.Mode {
	case CondAbsent:
		if existing != nil {
			return domain.ErrVersionConflict.WithDetails(
				fmt.Sprintf("%s exists at version %d", existing.Key, existing.Version))
		}
	case CondVersion:
		if existing == nil {
			return domain.ErrVersionConflict.WithDetails(
				fmt.Sprintf("expected version %d, record does not exist", p.Version))
		}
		if existing.Version != p.Version {
			return domain.ErrVersionConflict.WithDetails(
				fmt.Sprintf("%s expected version %d, found %d", existing.Key, p.Version, existing.Version))
		}
	case CondUnversioned:
		if existing == nil {
			return domain.ErrVersionConflict.WithDetails("expected an unversioned record, record does not exist")
		}
		if existing.Version != 0 {
			return domain.ErrVersionConflict.WithDetails(
				fmt.Sprintf("%s expected no version, found %d", existing.Key, existing.Version))
		}
	}
	return nil
}

// NextVersion returns the version a successful write stores.
func NextVersion(existing *domain.StateRecord) uint64 {
	if existing == nil {
		return 1
	}
	return existing.Version + 1
}
