package admin

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/maxpert/ripple/cfg"
	"github.com/maxpert/ripple/data"
	"github.com/maxpert/ripple/notify"
	"github.com/stretchr/testify/require"
)

type fakeProcessor struct {
	size    int
	entries int
	bytes   int64
	cleared bool
}

func (p *fakeProcessor) Size() int                  { return p.size }
func (p *fakeProcessor) TrackerStats() (int, int64) { return p.entries, p.bytes }
func (p *fakeProcessor) Clear()                     { p.cleared = true; p.entries, p.bytes = 0, 0 }

type fakeStore struct {
	notifications []notify.Notification
	last          uint64
}

func (s *fakeStore) ScanNotificationsAfter(after []byte, fn func(n notify.Notification) error) error {
	for _, n := range s.notifications {
		if after != nil && bytes.Compare(n.RowColumn.Encode(), after) <= 0 {
			continue
		}
		if err := fn(n); err != nil {
			return err
		}
	}
	return nil
}

func (s *fakeStore) LastCommitTS() (uint64, error) { return s.last, nil }

var testCol = data.NewColumn("attr", "count")

func newTestServer(proc *fakeProcessor, store *fakeStore) *Server {
	h := NewAdminHandlers(proc, store, []data.Column{testCol})
	return NewServer("127.0.0.1", 0, h)
}

func doRequest(t *testing.T, h http.Handler, method, path string, header http.Header) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var body map[string]interface{}
	if rec.Body.Len() > 0 && rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestProcessorStats(t *testing.T) {
	proc := &fakeProcessor{size: 3, entries: 4, bytes: 120}
	srv := newTestServer(proc, &fakeStore{})

	rec, body := doRequest(t, srv.Handler(), http.MethodGet, "/admin/processor/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	stats := body["data"].(map[string]interface{})
	require.Equal(t, float64(3), stats["queued"])
	require.Equal(t, float64(4), stats["tracked"])
	require.Equal(t, float64(120), stats["tracked_bytes"])
}

func TestProcessorClear(t *testing.T) {
	proc := &fakeProcessor{entries: 2, bytes: 40}
	srv := newTestServer(proc, &fakeStore{})

	rec, _ := doRequest(t, srv.Handler(), http.MethodGet, "/admin/processor/clear", nil)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	require.False(t, proc.cleared)

	rec, body := doRequest(t, srv.Handler(), http.MethodPost, "/admin/processor/clear", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, proc.cleared)
	require.Equal(t, float64(2), body["data"].(map[string]interface{})["cleared"])
}

func TestHealthAndObservers(t *testing.T) {
	srv := newTestServer(&fakeProcessor{}, &fakeStore{last: 42})

	rec, body := doRequest(t, srv.Handler(), http.MethodGet, "/admin/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, float64(42), body["data"].(map[string]interface{})["last_commit_ts"])

	rec, body = doRequest(t, srv.Handler(), http.MethodGet, "/admin/observers", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []interface{}{testCol.String()}, body["data"])
}

func TestNotificationsPagination(t *testing.T) {
	store := &fakeStore{}
	for i, row := range []string{"a", "b", "c"} {
		rc := data.NewRowColumn(row, testCol)
		store.notifications = append(store.notifications, notify.New(rc, notify.Weak, uint64(10+i)))
	}
	srv := newTestServer(&fakeProcessor{}, store)

	rec, body := doRequest(t, srv.Handler(), http.MethodGet, "/admin/notifications?limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := body["data"].([]interface{})
	require.Len(t, page, 2)
	require.Equal(t, "a", page[0].(map[string]interface{})["row"])
	require.Equal(t, "b", page[1].(map[string]interface{})["row"])
	require.Equal(t, true, body["has_more"])

	cursor := body["last_key"].(string)
	expected := base64.URLEncoding.EncodeToString(data.NewRowColumn("b", testCol).Encode())
	require.Equal(t, expected, cursor)

	rec, body = doRequest(t, srv.Handler(), http.MethodGet, "/admin/notifications?limit=2&from="+cursor, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page = body["data"].([]interface{})
	require.Len(t, page, 1)
	last := page[0].(map[string]interface{})
	require.Equal(t, "c", last["row"])
	require.Equal(t, "weak", last["type"])
	require.Equal(t, float64(12), last["timestamp"])
	require.NotContains(t, body, "has_more")
}

func TestNotificationsBadParams(t *testing.T) {
	srv := newTestServer(&fakeProcessor{}, &fakeStore{})

	tests := []struct {
		name  string
		query string
	}{
		{"non numeric limit", "limit=abc"},
		{"zero limit", "limit=0"},
		{"limit too large", "limit=5000"},
		{"bad cursor", "from=***"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := doRequest(t, srv.Handler(), http.MethodGet, "/admin/notifications?"+tt.query, nil)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			require.NotEmpty(t, body["error"])
		})
	}
}

func TestAuthMiddleware(t *testing.T) {
	saved := cfg.Config.Admin.Secret
	cfg.Config.Admin.Secret = "s3cret"
	defer func() { cfg.Config.Admin.Secret = saved }()

	srv := newTestServer(&fakeProcessor{}, &fakeStore{})

	tests := []struct {
		name   string
		header http.Header
		status int
	}{
		{"missing", nil, http.StatusUnauthorized},
		{"secret header", http.Header{"X-Ripple-Secret": {"s3cret"}}, http.StatusOK},
		{"bearer token", http.Header{"Authorization": {"Bearer s3cret"}}, http.StatusOK},
		{"wrong secret", http.Header{"X-Ripple-Secret": {"nope"}}, http.StatusUnauthorized},
		{"basic scheme", http.Header{"Authorization": {"Basic s3cret"}}, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, _ := doRequest(t, srv.Handler(), http.MethodGet, "/admin/processor/stats", tt.header)
			require.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestMetricsAndProfiling(t *testing.T) {
	srv := newTestServer(&fakeProcessor{}, &fakeStore{})

	rec, _ := doRequest(t, srv.Handler(), http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	srv.SetMetricsHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ripple_notifications_queued 0\n"))
	}))
	rec, _ = doRequest(t, srv.Handler(), http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "ripple_notifications_queued")

	rec, _ = doRequest(t, srv.Handler(), http.MethodGet, "/debug/pprof/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}
