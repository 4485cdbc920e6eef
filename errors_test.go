package eventlog_test

import (
	"errors"
	"testing"

	"github.com/streamhaus/eventlog"
)

func TestWrapStoreUnavailable(t *testing.T) {
	cause := errors.New("disk full")
	wrapped := eventlog.WrapStoreUnavailable(cause)

	var unavailable *eventlog.StoreUnavailableError
	if !errors.As(wrapped, &unavailable) {
		t.Fatalf("wrapped = %T, want StoreUnavailableError", wrapped)
	}
	if !errors.Is(wrapped, cause) {
		t.Error("cause not reachable through Unwrap")
	}

	if eventlog.WrapStoreUnavailable(nil) != nil {
		t.Error("wrapping nil produced an error")
	}
}

func TestProjectionRebuildErrorUnwrap(t *testing.T) {
	cause := errors.New("bad fold")
	err := &eventlog.ProjectionRebuildError{SubscriberID: "totals", Sequence: 7, Err: cause}
	if !errors.Is(err, cause) {
		t.Error("cause not reachable through Unwrap")
	}
}
