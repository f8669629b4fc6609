package ingest

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gyeh/ingestflow/internal/model"
	"github.com/gyeh/ingestflow/internal/store"
)

var (
	// ErrPrecondition marks a call made in a state the operation does not
	// allow. It indicates a caller bug and is never retried.
	ErrPrecondition = errors.New("precondition violated")
	// ErrInvalidStatus is returned for status values outside the known set.
	ErrInvalidStatus = errors.New("invalid ingest status")

	ErrNotFound    = store.ErrNotFound
	ErrUnknownKind = store.ErrUnknownKind
)

// TransitionError reports a state machine operation attempted from a status
// it does not accept. Op names the operation for callers that branch on it.
type TransitionError struct {
	Op     string
	Status model.IngestStatus
	Want   []model.IngestStatus
}

func (e *TransitionError) Error() string {
	if len(e.Want) == 0 {
		return fmt.Sprintf("not allowed from status %s", e.Status)
	}
	want := make([]string, len(e.Want))
	for i, s := range e.Want {
		want[i] = string(s)
	}
	return fmt.Sprintf("requires status %s, ingest is %s", strings.Join(want, " or "), e.Status)
}

func (e *TransitionError) Unwrap() error {
	return ErrPrecondition
}
