package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lessonstate/internal/auth"
	"github.com/roach88/lessonstate/internal/state"
	"github.com/roach88/lessonstate/internal/store"
	"github.com/roach88/lessonstate/internal/syncclient"
	"github.com/roach88/lessonstate/internal/testutil"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testEnv struct {
	srv    *Server
	st     *store.Store
	issuer *auth.Issuer
	clk    *testutil.FakeClock
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clk := testutil.NewFakeClock(time.Time{})
	st, err := store.Open(":memory:", store.WithClock(clk))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	iss, err := auth.NewIssuer([]byte("0123456789abcdef0123456789abcdef"), "lessonstate", time.Hour, auth.WithClock(clk))
	require.NoError(t, err)

	return &testEnv{
		srv:    New(st, iss, WithLogger(discardLogger())),
		st:     st,
		issuer: iss,
		clk:    clk,
	}
}

// do performs a request as id (guest sends no token).
func (e *testEnv) do(t *testing.T, method, path string, id state.Identity, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			reader = strings.NewReader(b)
		default:
			data, err := json.Marshal(b)
			require.NoError(t, err)
			reader = bytes.NewReader(data)
		}
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if !id.IsGuest() {
		tok, err := e.issuer.Issue(id)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHealthz(t *testing.T) {
	e := newTestEnv(t)
	w := e.do(t, http.MethodGet, "/healthz", state.Guest, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestFetch_GuestGetsEmptyList(t *testing.T) {
	e := newTestEnv(t)
	w := e.do(t, http.MethodGet, "/v1/lessons/L1/states", state.Guest, nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"lesson_id":"L1","states":[]}`, w.Body.String())
}

func TestFetch_InvalidTokenIsGuest(t *testing.T) {
	e := newTestEnv(t)
	_, _, err := e.st.Upsert(context.Background(), state.Record{
		Identity: "u1", LessonID: "L1", ExerciseID: "E1", State: []byte(`1`),
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/v1/lessons/L1/states", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	w := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody[syncclient.FetchResponse](t, w)
	assert.Empty(t, resp.States)
}

func TestFetch_EmptyLesson(t *testing.T) {
	e := newTestEnv(t)
	w := e.do(t, http.MethodGet, "/v1/lessons/L1/states", "u1", nil)

	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody[syncclient.FetchResponse](t, w)
	assert.Equal(t, "L1", resp.LessonID)
	assert.NotNil(t, resp.States)
	assert.Empty(t, resp.States)
}

func TestPush_RequiresIdentity(t *testing.T) {
	e := newTestEnv(t)
	w := e.do(t, http.MethodPut, "/v1/lessons/L1/exercises/E1/state", state.Guest,
		syncclient.PushRequest{State: `{"a":1}`})

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	resp := decodeBody[syncclient.ErrorResponse](t, w)
	assert.Equal(t, syncclient.CodeUnauthorized, resp.Code)
}

func TestPush_ThenFetch(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, http.MethodPut, "/v1/lessons/L1/exercises/E1/state", "u1",
		syncclient.PushRequest{State: `{"typed":"S3"}`, WrittenAt: e.clk.Now()})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	push := decodeBody[syncclient.PushResponse](t, w)
	assert.True(t, push.Applied)
	assert.Equal(t, "E1", push.Record.ExerciseID)
	assert.Equal(t, `{"typed":"S3"}`, push.Record.State)

	w = e.do(t, http.MethodGet, "/v1/lessons/L1/states", "u1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	fetch := decodeBody[syncclient.FetchResponse](t, w)
	require.Len(t, fetch.States, 1)
	assert.JSONEq(t, `{"typed":"S3"}`, fetch.States[0].State)

	// Other identities see nothing.
	w = e.do(t, http.MethodGet, "/v1/lessons/L1/states", "u2", nil)
	assert.Empty(t, decodeBody[syncclient.FetchResponse](t, w).States)
}

func TestPush_StaleWriteNotApplied(t *testing.T) {
	e := newTestEnv(t)
	later := e.clk.Now().Add(time.Minute)

	w := e.do(t, http.MethodPut, "/v1/lessons/L1/exercises/E1/state", "u1",
		syncclient.PushRequest{State: `"new"`, WrittenAt: later})
	require.Equal(t, http.StatusOK, w.Code)

	w = e.do(t, http.MethodPut, "/v1/lessons/L1/exercises/E1/state", "u1",
		syncclient.PushRequest{State: `"old"`, WrittenAt: e.clk.Now()})
	require.Equal(t, http.StatusOK, w.Code)
	push := decodeBody[syncclient.PushResponse](t, w)
	assert.False(t, push.Applied)
	assert.Equal(t, `"new"`, push.Record.State)
}

func TestPush_BadRequests(t *testing.T) {
	e := newTestEnv(t)

	tests := []struct {
		name string
		path string
		body any
		code string
	}{
		{"malformed body", "/v1/lessons/L1/exercises/E1/state", `{"state":`, syncclient.CodeInvalidRequest},
		{"empty state", "/v1/lessons/L1/exercises/E1/state", syncclient.PushRequest{State: ""}, syncclient.CodeInvalidState},
		{"state not json", "/v1/lessons/L1/exercises/E1/state", syncclient.PushRequest{State: `{"x":`}, syncclient.CodeInvalidState},
		{"oversized exercise id", "/v1/lessons/L1/exercises/" + strings.Repeat("e", state.MaxKeyLength+1) + "/state", syncclient.PushRequest{State: `1`}, syncclient.CodeInvalidKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := e.do(t, http.MethodPut, tt.path, "u1", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tt.code, decodeBody[syncclient.ErrorResponse](t, w).Code)
		})
	}
}

func TestFetch_InvalidLessonID(t *testing.T) {
	e := newTestEnv(t)
	w := e.do(t, http.MethodGet, "/v1/lessons/"+strings.Repeat("l", state.MaxKeyLength+1)+"/states", "u1", nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, syncclient.CodeInvalidKey, decodeBody[syncclient.ErrorResponse](t, w).Code)
}

func TestFetch_ReturnsCorruptedRowsVerbatim(t *testing.T) {
	e := newTestEnv(t)
	_, err := e.st.DB().Exec(`INSERT INTO exercise_states
		(identity, exercise_id, lesson_id, state, updated_at, written_at)
		VALUES ('u1', 'E2', 'L1', '{"broken":', 1, 1)`)
	require.NoError(t, err)

	w := e.do(t, http.MethodGet, "/v1/lessons/L1/states", "u1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody[syncclient.FetchResponse](t, w)
	require.Len(t, resp.States, 1)
	assert.Equal(t, `{"broken":`, resp.States[0].State)
}

func TestRequestID(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, http.MethodGet, "/healthz", state.Guest, nil)
	assert.NotEmpty(t, w.Header().Get(HeaderRequestID))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(HeaderRequestID, "req-123")
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "req-123", rec.Header().Get(HeaderRequestID))
}

func TestMetricsEndpoint(t *testing.T) {
	e := newTestEnv(t)
	e.do(t, http.MethodGet, "/v1/lessons/L1/states", state.Guest, nil)

	w := e.do(t, http.MethodGet, "/metrics", state.Guest, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "lessonstate_http_requests_total")
	assert.Contains(t, w.Body.String(), `route="/v1/lessons/:lesson_id/states"`)
}

func TestServe_StopsOnCancel(t *testing.T) {
	e := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() { done <- e.srv.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(ShutdownTimeout + time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
