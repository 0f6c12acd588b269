package diagnostics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/waconnect/waconnect-go/internal/appstate"
	"github.com/waconnect/waconnect-go/internal/router"
)

type fakeInspectable struct {
	router   *router.RequestRouter
	appstate *appstate.Engine
}

func (f *fakeInspectable) Router() *router.RequestRouter { return f.router }
func (f *fakeInspectable) AppState() *appstate.Engine    { return f.appstate }

func newTestServer() *Server {
	return NewServer(Config{
		Session:     &fakeInspectable{router: router.NewRequestRouter(nil), appstate: appstate.NewEngine(appstate.NewKeyRing(), nil)},
		Collections: []appstate.Collection{"regular", "critical_unblock_low"},
	})
}

func TestHealthReportsOK(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	resp, err := s.app.Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "ok", body["status"])
}

func TestPendingRequestsReportsZeroWhenIdle(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/debug/requests", nil)
	resp, err := s.app.Test(req)
	require.NoError(t, err)

	var body map[string]int
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, 0, body["pending_requests"])
}

func TestAppStateVersionsListsConfiguredCollections(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/debug/appstate", nil)
	resp, err := s.app.Test(req)
	require.NoError(t, err)

	var body struct {
		Collections []struct {
			Collection string `json:"collection"`
			Version    uint64 `json:"version"`
		} `json:"collections"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Collections, 2)
	require.Equal(t, "regular", body.Collections[0].Collection)
	require.Equal(t, uint64(0), body.Collections[0].Version)
}
