package apierr

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/api/googleapi"
)

func TestKindOf(t *testing.T) {
	err := New(AccessDenied, "nope")
	assert.Equal(t, AccessDenied, KindOf(err))
	assert.True(t, Is(err, AccessDenied))

	wrapped := fmt.Errorf("outer: %w", err)
	assert.Equal(t, AccessDenied, KindOf(wrapped), "kind survives wrapping")

	assert.Equal(t, Internal, KindOf(fmt.Errorf("plain")))
}

func TestHTTPStatus(t *testing.T) {
	cases := map[Kind]int{
		NotAuthenticated:       http.StatusUnauthorized,
		AccessDenied:           http.StatusForbidden,
		InvalidToken:           http.StatusForbidden,
		NotFound:               http.StatusNotFound,
		QuotaExceeded:          http.StatusTooManyRequests,
		ResourceExhausted:      http.StatusTooManyRequests,
		InvalidArgument:        http.StatusBadRequest,
		AlreadyExists:          http.StatusConflict,
		ConflictRetryExhausted: http.StatusConflict,
		IncompleteOperation:    http.StatusServiceUnavailable,
		NotSupported:           http.StatusNotImplemented,
		FeatureNotAvailable:    http.StatusInternalServerError,
		Internal:               http.StatusInternalServerError,
	}
	for kind, want := range cases {
		assert.Equal(t, want, HTTPStatus(New(kind, "x")), string(kind))
	}
}

func TestMessage_NeverLeaksCause(t *testing.T) {
	cause := fmt.Errorf("stack trace and internals")
	err := Wrap(AccessDenied, cause, "cannot read policy of project-1")
	assert.Equal(t, "cannot read policy of project-1", Message(err))
	assert.Contains(t, err.Error(), "internals", "the full chain stays available for logs")
}

func TestFromGoogleAPI(t *testing.T) {
	cases := map[int]Kind{
		401: NotAuthenticated,
		403: AccessDenied,
		404: NotFound,
		409: Conflict,
		429: QuotaExceeded,
		400: InvalidArgument,
		500: Internal,
	}
	for code, want := range cases {
		err := FromGoogleAPI(&googleapi.Error{Code: code}, "call failed")
		assert.Equal(t, want, KindOf(err), "code %d", code)
	}

	plain := FromGoogleAPI(fmt.Errorf("dial tcp"), "call failed")
	assert.Equal(t, Internal, KindOf(plain))
}

func TestRetriable(t *testing.T) {
	assert.True(t, Retriable(New(QuotaExceeded, "x")))
	assert.True(t, Retriable(New(ResourceExhausted, "x")))
	assert.True(t, Retriable(New(Conflict, "x")))
	assert.False(t, Retriable(New(AccessDenied, "x")))
	assert.False(t, Retriable(New(InvalidArgument, "x")))
}
