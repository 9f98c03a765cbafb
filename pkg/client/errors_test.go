package client

import (
	"errors"
	"testing"

	"github.com/Sternrassler/graph-client/pkg/apierr"
)

func TestBatchError_Error(t *testing.T) {
	err := &BatchError{
		Request: &BatchRequest{Method: "GET", RelativeURL: "me/friends"},
		Err:     apierr.Remote("Unsupported get request.", 100),
	}

	expected := "batch GET me/friends: graph remote error: [100] Unsupported get request."
	if got := err.Error(); got != expected {
		t.Errorf("Error() = %q, want %q", got, expected)
	}
}

func TestBatchError_Unwrap(t *testing.T) {
	cause := &apierr.Error{Kind: apierr.KindAuth, Message: "Session expired"}
	err := error(&BatchError{Request: &BatchRequest{Method: "GET", RelativeURL: "me"}, Err: cause})

	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the wrapped cause")
	}
	if !apierr.IsAuth(err) {
		t.Error("apierr.IsAuth should see through BatchError")
	}
	if !apierr.IsRemote(err) {
		t.Error("apierr.IsRemote should see through BatchError")
	}
}
