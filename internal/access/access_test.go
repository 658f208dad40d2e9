package access

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Spok95/binledger/internal/errs"
)

func quietLog() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestHTTPChecker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req checkRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		allowed := req.ActorID == "u-1" && req.Action == ActionIssue
		_ = json.NewEncoder(w).Encode(Decision{Allowed: allowed, Role: "storekeeper"})
	}))
	defer srv.Close()

	c := NewHTTPChecker(srv.URL, time.Second, false, quietLog())

	d, err := c.CheckPermission(context.Background(), "u-1", ActionIssue)
	require.NoError(t, err)
	assert.Equal(t, Decision{Allowed: true, Role: "storekeeper"}, d)

	err = Require(context.Background(), c, "u-2", ActionIssue)
	assert.Equal(t, errs.PermissionDenied, errs.KindOf(err))
}

func TestHTTPCheckerFailOpen(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	closed := NewHTTPChecker(srv.URL, time.Second, false, quietLog())
	_, err := closed.CheckPermission(context.Background(), "u-1", ActionReceive)
	assert.Error(t, err)

	open := NewHTTPChecker(srv.URL, time.Second, true, quietLog())
	d, err := open.CheckPermission(context.Background(), "u-1", ActionReceive)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestRequireNeedsActor(t *testing.T) {
	err := Require(context.Background(), AllowAll{}, "", ActionReceive)
	assert.Equal(t, errs.Validation, errs.KindOf(err))
	assert.NoError(t, Require(context.Background(), AllowAll{}, "u-1", ActionReceive))
}

type memCache struct {
	data   map[string]string
	getErr error
}

func (m *memCache) Get(_ context.Context, key string) (string, bool, error) {
	if m.getErr != nil {
		return "", false, m.getErr
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memCache) Set(_ context.Context, key, value string, _ time.Duration) error {
	m.data[key] = value
	return nil
}

func TestCachedChecker(t *testing.T) {
	calls := 0
	next := CheckerFunc(func(context.Context, string, string) (Decision, error) {
		calls++
		return Decision{Allowed: false, Role: "viewer"}, nil
	})
	cache := &memCache{data: map[string]string{}}
	c := NewCached(next, cache, time.Minute, quietLog())

	for i := 0; i < 3; i++ {
		d, err := c.CheckPermission(context.Background(), "u-5", ActionImportCommit)
		require.NoError(t, err)
		assert.Equal(t, Decision{Allowed: false, Role: "viewer"}, d)
	}
	assert.Equal(t, 1, calls)
	assert.Equal(t, "0:viewer", cache.data["perm:u-5:import.commit"])
}

func TestCachedCheckerSurvivesCacheErrors(t *testing.T) {
	next := CheckerFunc(func(context.Context, string, string) (Decision, error) {
		return Decision{Allowed: true, Role: "admin"}, nil
	})
	c := NewCached(next, &memCache{data: map[string]string{}, getErr: errors.New("redis down")}, time.Minute, quietLog())

	d, err := c.CheckPermission(context.Background(), "u-1", ActionTransfer)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}
