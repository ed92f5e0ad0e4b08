package plugin

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgeline/gamekernel/internal/apperr"
)

func noopHandler(w http.ResponseWriter, r *http.Request, rc *RequestContext) error {
	return nil
}

func TestNormalizePath(t *testing.T) {
	assert.Equal(t, "/", NormalizePath(""))
	assert.Equal(t, "/", NormalizePath("/"))
	assert.Equal(t, "/plugins/x/foo", NormalizePath("plugins/x/foo/"))
	assert.Equal(t, "/plugins/x/foo", NormalizePath("/plugins/x/foo"))
}

func TestRouteMatching(t *testing.T) {
	table := newRouteTable()
	require.NoError(t, table.install("economy", []Route{
		{Method: "GET", Path: "/plugins/economy/balances/:userId", Handler: noopHandler},
		{Method: "GET", Path: "/plugins/economy/balances/:userId/:currencyId", Handler: noopHandler},
		{Method: "POST", Path: "/plugins/economy/transactions", Handler: noopHandler},
	}))

	match, err := table.match("GET", "/plugins/economy/balances/42")
	require.NoError(t, err)
	assert.Equal(t, "economy", match.Plugin)
	assert.Equal(t, map[string]string{"userId": "42"}, match.Params)

	match, err = table.match("get", "/plugins/economy/balances/42/coins/")
	require.NoError(t, err)
	assert.Equal(t, "coins", match.Params["currencyId"])
}

func TestStaticBeatsParam(t *testing.T) {
	table := newRouteTable()
	require.NoError(t, table.install("boards", []Route{
		{Method: "GET", Path: "/plugins/boards/boards/:boardId", Handler: noopHandler},
		{Method: "GET", Path: "/plugins/boards/boards/featured", Handler: noopHandler},
	}))

	match, err := table.match("GET", "/plugins/boards/boards/featured")
	require.NoError(t, err)
	assert.Equal(t, "/plugins/boards/boards/featured", match.Pattern)

	match, err = table.match("GET", "/plugins/boards/boards/weekly-1")
	require.NoError(t, err)
	assert.Equal(t, "/plugins/boards/boards/:boardId", match.Pattern)
}

func TestMethodNotAllowed(t *testing.T) {
	table := newRouteTable()
	require.NoError(t, table.install("economy", []Route{
		{Method: "POST", Path: "/plugins/economy/transactions", Handler: noopHandler},
	}))

	_, err := table.match("DELETE", "/plugins/economy/transactions")
	require.Error(t, err)
	assert.Equal(t, apperr.KindMethodNotAllowed, apperr.KindOf(err))

	_, err = table.match("GET", "/plugins/economy/nowhere")
	require.Error(t, err)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestRouteConflictRejectsWholeBatch(t *testing.T) {
	table := newRouteTable()
	require.NoError(t, table.install("first", []Route{
		{Method: "GET", Path: "/plugins/x/foo", Handler: noopHandler},
	}))

	err := table.install("second", []Route{
		{Method: "GET", Path: "/plugins/second/ok", Handler: noopHandler},
		{Method: "GET", Path: "/plugins/x/foo", Handler: noopHandler},
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	// The conflicting batch must not be partially visible.
	_, err = table.match("GET", "/plugins/second/ok")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	match, err := table.match("GET", "/plugins/x/foo")
	require.NoError(t, err)
	assert.Equal(t, "first", match.Plugin)
}

func TestRemoveDropsOnlyOwnRoutes(t *testing.T) {
	table := newRouteTable()
	require.NoError(t, table.install("a", []Route{{Method: "GET", Path: "/plugins/a/x", Handler: noopHandler}}))
	require.NoError(t, table.install("b", []Route{{Method: "GET", Path: "/plugins/b/x", Handler: noopHandler}}))

	table.remove("a")

	_, err := table.match("GET", "/plugins/a/x")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	_, err = table.match("GET", "/plugins/b/x")
	assert.NoError(t, err)
}
