package httpserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/feedgate/internal/domain/schema"
	"github.com/coachpo/feedgate/internal/feed"
	"github.com/coachpo/feedgate/internal/feed/session"
	"github.com/coachpo/feedgate/internal/infra/config"
	"github.com/coachpo/feedgate/internal/infra/logger"
)

type idleTransport struct{}

func (idleTransport) Connect() error    { return nil }
func (idleTransport) Send([]byte) error { return nil }
func (idleTransport) Close() error      { return nil }

func newTestHandler(t *testing.T) (http.Handler, *session.Manager) {
	t.Helper()
	factory := feed.TransportFactoryFunc(func(schema.Account, feed.Listener) (feed.Transport, error) {
		return idleTransport{}, nil
	})
	manager := session.NewManager(factory, session.WithLogger(logger.Discard().WithComponent("session")))
	t.Cleanup(func() { _ = manager.CloseAll(context.Background()) })
	require.NoError(t, manager.Open(schema.Account{ID: "main", Enabled: true}))
	return NewHandler(config.EnvDev, manager), manager
}

func do(t *testing.T, h http.Handler, method, target, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestHealthCountsSessionsByState(t *testing.T) {
	h, _ := newTestHandler(t)
	rec, body := do(t, h, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", body["status"])
	require.Equal(t, map[string]any{"connecting": float64(1)}, body["sessions"])
}

func TestSubscribeAndInspect(t *testing.T) {
	h, _ := newTestHandler(t)

	rec, body := do(t, h, http.MethodPost, "/sessions/main/subscriptions",
		`{"topic":"Position","scope":{"instType":"USDT-FUTURES"}}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, "position|instType=USDT-FUTURES", body["key"])

	rec, body = do(t, h, http.MethodGet, "/sessions/main", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "main", body["accountId"])
	subs := body["subscriptions"].([]any)
	require.Len(t, subs, 1)
	require.Equal(t, "idle", subs[0].(map[string]any)["state"])

	rec, body = do(t, h, http.MethodGet, "/sessions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, body["sessions"].([]any), 1)
}

func TestUnsubscribeByKey(t *testing.T) {
	h, manager := newTestHandler(t)
	key, err := manager.Subscribe("main", schema.TopicTicker, schema.Scope{"instId": "BTCUSDT"})
	require.NoError(t, err)

	rec, _ := do(t, h, http.MethodDelete, "/sessions/main/subscriptions?key="+url.QueryEscape(string(key)), "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, h, http.MethodDelete, "/sessions/main/subscriptions?key="+url.QueryEscape(string(key)), "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = do(t, h, http.MethodDelete, "/sessions/main/subscriptions", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestErrorMapping(t *testing.T) {
	h, _ := newTestHandler(t)

	rec, _ := do(t, h, http.MethodGet, "/sessions/ghost", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = do(t, h, http.MethodPost, "/sessions/main/subscriptions", `{"topic":"candles"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, h, http.MethodPost, "/sessions/main/subscriptions", `{not json`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, h, http.MethodPut, "/sessions/main", "")
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	require.Equal(t, http.MethodGet, rec.Header().Get("Allow"))

	rec, _ = do(t, h, http.MethodPost, "/sessions/main/restart", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCloseSession(t *testing.T) {
	h, _ := newTestHandler(t)

	rec, body := do(t, h, http.MethodPost, "/sessions/main/close", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "closed", body["state"])

	rec, _ = do(t, h, http.MethodPost, "/sessions/main/subscriptions", `{"topic":"ticker"}`)
	require.Equal(t, http.StatusConflict, rec.Code)
}
