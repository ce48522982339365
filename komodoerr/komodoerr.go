// Package komodoerr holds the store's typed error taxonomy. Each
// distinct failure kind is its own type so callers can use errors.As
// rather than string matching; BackendFailure additionally carries a
// wrapped cause and a captured call stack, since it is the one kind
// whose root cause lives inside an opaque collaborator (mdbxkv or
// memkv) and is otherwise hard to place without a debugger attached.
package komodoerr

import (
	"fmt"

	"github.com/go-stack/stack"
	"github.com/pkg/errors"
)

// BadName reports a collection name containing '.'.
type BadName struct {
	Name string
}

func (e *BadName) Error() string {
	return fmt.Sprintf("komodoerr: collection name %q must not contain '.'", e.Name)
}

// NoIndex reports a codec that declared zero ordered indices.
type NoIndex struct {
	Collection string
}

func (e *NoIndex) Error() string {
	return fmt.Sprintf("komodoerr: collection %q: codec declared no ordered indices", e.Collection)
}

// NonUniquePrimary reports a codec whose first ordered index is not
// marked unique.
type NonUniquePrimary struct {
	Collection string
	IndexName  string
}

func (e *NonUniquePrimary) Error() string {
	return fmt.Sprintf("komodoerr: collection %q: primary index %q must be unique", e.Collection, e.IndexName)
}

// DuplicateIndexName reports two indices sharing a name within one
// collection.
type DuplicateIndexName struct {
	Collection string
	Name       string
}

func (e *DuplicateIndexName) Error() string {
	return fmt.Sprintf("komodoerr: collection %q: index name %q declared more than once", e.Collection, e.Name)
}

// Duplicate reports a uniqueness violation on insert or update.
type Duplicate struct {
	Collection string
	IndexName  string
}

func (e *Duplicate) Error() string {
	return fmt.Sprintf("komodoerr: collection %q: duplicate value for unique index %q", e.Collection, e.IndexName)
}

// UnknownIndex reports a query/delete/count/containedBy call naming
// an index the collection does not have.
type UnknownIndex struct {
	Collection string
	Name       string
}

func (e *UnknownIndex) Error() string {
	return fmt.Sprintf("komodoerr: collection %q: unknown index %q", e.Collection, e.Name)
}

// BadStride reports a Cursor constructed with a negative stride (a
// zero Stride in a QuerySpec means the default of 1).
type BadStride struct {
	Stride int
}

func (e *BadStride) Error() string {
	return fmt.Sprintf("komodoerr: stride must be >= 1, got %d", e.Stride)
}

// NoSuchElement reports Cursor.Next called past exhaustion.
type NoSuchElement struct{}

func (e *NoSuchElement) Error() string {
	return "komodoerr: next() called after cursor exhaustion"
}

// OpenTransactions reports Store.Close attempted while long-running
// transactions are outstanding.
type OpenTransactions struct {
	Count int64
}

func (e *OpenTransactions) Error() string {
	return fmt.Sprintf("komodoerr: close refused: %d open transaction(s)", e.Count)
}

// BackendFailure wraps any I/O or invariant failure surfaced by the
// KV collaborator. It captures the call stack at construction so a
// failure deep inside mdbxkv/memkv is diagnosable from logs alone.
type BackendFailure struct {
	cause error
	stack stack.CallStack
}

// NewBackendFailure wraps cause, capturing the caller's stack.
func NewBackendFailure(cause error) *BackendFailure {
	return &BackendFailure{
		cause: errors.WithStack(cause),
		stack: stack.Trace().TrimRuntime(),
	}
}

func (e *BackendFailure) Error() string {
	return fmt.Sprintf("komodoerr: backend failure: %v", e.cause)
}

func (e *BackendFailure) Unwrap() error {
	return e.cause
}

// Stack returns the call stack captured when the failure was
// constructed, formatted one frame per line.
func (e *BackendFailure) Stack() string {
	return fmt.Sprintf("%+v", e.stack)
}
