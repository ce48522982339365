package komodo

import (
	"errors"

	"github.com/clydebarrow/komodo/komodoerr"
	"github.com/clydebarrow/komodo/kvbackend"
)

// wrapBackend lifts a raw backend error into komodoerr.BackendFailure,
// capturing a call stack at the point of failure. A nil err passes
// through unchanged.
func wrapBackend(err error) error {
	if err == nil {
		return nil
	}
	return komodoerr.NewBackendFailure(err)
}

func isNotFound(err error) bool {
	return errors.Is(err, kvbackend.ErrNotFound)
}
