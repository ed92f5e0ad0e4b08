package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindMatching(t *testing.T) {
	err := Insufficient("balance would drop below zero")
	assert.True(t, errors.Is(err, New(KindInsufficient, "")))
	assert.False(t, errors.Is(err, New(KindOverflow, "")))
	assert.Equal(t, KindInsufficient, KindOf(err))
}

func TestWrappedKindSurvives(t *testing.T) {
	cause := fmt.Errorf("disk full")
	err := fmt.Errorf("apply schema: %w", Migration("plugin economy").Wrap(cause))

	assert.Equal(t, KindMigration, KindOf(err))
	assert.True(t, errors.Is(err, cause))
}

func TestUnknownErrorIsInternal(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.Equal(t, http.StatusInternalServerError, StatusOf(errors.New("boom")))
}

func TestHTTPStatusMapping(t *testing.T) {
	cases := map[Kind]int{
		KindBadRequest:       http.StatusBadRequest,
		KindUnauthenticated:  http.StatusUnauthorized,
		KindForbidden:        http.StatusForbidden,
		KindNotFound:         http.StatusNotFound,
		KindMethodNotAllowed: http.StatusMethodNotAllowed,
		KindConflict:         http.StatusConflict,
		KindInsufficient:     http.StatusConflict,
		KindOverflow:         http.StatusConflict,
		KindInvalidState:     http.StatusConflict,
		KindMigration:        http.StatusInternalServerError,
		KindInternal:         http.StatusInternalServerError,
		KindTimeout:          http.StatusGatewayTimeout,
	}
	for kind, want := range cases {
		assert.Equal(t, want, HTTPStatus(kind), string(kind))
	}
}

func TestDetails(t *testing.T) {
	err := Conflict("route already registered").
		WithDetails("method", "GET").
		WithDetails("path", "/plugins/x/foo")

	require.NotNil(t, err.Details)
	assert.Equal(t, "GET", err.Details["method"])
	assert.Equal(t, "/plugins/x/foo", err.Details["path"])
}
