package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mbaylor/intelboard/internal/model"
	"github.com/stretchr/testify/require"
)

// recordingServer captures the last request for assertion.
type recordingServer struct {
	srv      *httptest.Server
	lastReq  *http.Request
	lastBody []byte
	status   int
	respond  any
}

func newRecordingServer(t *testing.T) *recordingServer {
	t.Helper()
	rs := &recordingServer{status: http.StatusOK}
	rs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rs.lastReq = r.Clone(context.Background())
		rs.lastBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(rs.status)
		if rs.respond != nil {
			json.NewEncoder(w).Encode(rs.respond)
		} else {
			w.Write([]byte("{}"))
		}
	}))
	t.Cleanup(rs.srv.Close)
	return rs
}

func TestGetIntelQueryEncoding(t *testing.T) {
	rs := newRecordingServer(t)
	rs.respond = model.ListResponse{Total: 1, Items: []model.IntelItem{{ID: "a"}}}

	c := New(rs.srv.URL + "/api/")
	res, err := c.GetIntel(context.Background(), model.SearchHot, "typhoon", model.Range3h, 20, 40)
	require.NoError(t, err)
	require.Equal(t, 1, res.Total)

	q := rs.lastReq.URL.Query()
	require.Equal(t, "/api/intel/", rs.lastReq.URL.Path)
	require.Equal(t, "hot", q.Get("type"))
	require.Equal(t, "typhoon", q.Get("q"))
	require.Equal(t, "3h", q.Get("range"))
	require.Equal(t, "20", q.Get("limit"))
	require.Equal(t, "40", q.Get("offset"))
}

func TestBearerTokenAttached(t *testing.T) {
	rs := newRecordingServer(t)
	c := New(rs.srv.URL)

	_, err := c.GetFavorites(context.Background(), "", 10, 0)
	require.NoError(t, err)
	require.Empty(t, rs.lastReq.Header.Get("Authorization"), "no token installed yet")

	c.SetToken("secret")
	_, err = c.GetFavorites(context.Background(), "", 10, 0)
	require.NoError(t, err)
	require.Equal(t, "Bearer secret", rs.lastReq.Header.Get("Authorization"))

	c.SetToken("")
	_, err = c.GetFavorites(context.Background(), "", 10, 0)
	require.NoError(t, err)
	require.Empty(t, rs.lastReq.Header.Get("Authorization"), "cleared token")
}

func TestToggleFavoriteBody(t *testing.T) {
	rs := newRecordingServer(t)
	c := New(rs.srv.URL)

	require.NoError(t, c.ToggleFavorite(context.Background(), "intel/('x')", true))
	require.Equal(t, http.MethodPost, rs.lastReq.Method)
	// The id is path-escaped, never spliced raw.
	require.Contains(t, rs.lastReq.RequestURI, "/intel/intel%2F%28%27x%27%29/favorite")

	var body map[string]bool
	require.NoError(t, json.Unmarshal(rs.lastBody, &body))
	require.True(t, body["favorited"])
}

func TestAPIErrorCarriesStatusAndBody(t *testing.T) {
	rs := newRecordingServer(t)
	rs.status = http.StatusBadRequest

	c := New(rs.srv.URL)
	_, err := c.GetIntel(context.Background(), model.SearchAll, "", model.RangeAll, 10, 0)
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusBadRequest, apiErr.Status)
}

func TestOnUnauthorizedHook(t *testing.T) {
	rs := newRecordingServer(t)
	rs.status = http.StatusUnauthorized

	c := New(rs.srv.URL)
	var gotStatus int
	c.OnUnauthorized = func(status int) { gotStatus = status }

	err := c.ToggleFavorite(context.Background(), "a", true)
	require.Error(t, err, "the error still reaches the caller")
	require.Equal(t, http.StatusUnauthorized, gotStatus)
}

func TestLoginReturnsSession(t *testing.T) {
	rs := newRecordingServer(t)
	rs.respond = Session{Token: "tok-1", Username: "alice"}

	c := New(rs.srv.URL)
	sess, err := c.Login(context.Background(), "alice", "pw")
	require.NoError(t, err)
	require.Equal(t, "tok-1", sess.Token)
	require.Equal(t, "/auth/login", rs.lastReq.URL.Path)

	var creds map[string]string
	require.NoError(t, json.Unmarshal(rs.lastBody, &creds))
	require.Equal(t, "alice", creds["username"])
}

func TestExportReturnsRawBytes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/intel/export", r.URL.Path)
		w.Write([]byte{0x50, 0x4b, 0x03, 0x04})
	}))
	defer srv.Close()

	c := New(srv.URL)
	data, err := c.Export(context.Background(), ExportRequest{IDs: []string{"a", "b"}})
	require.NoError(t, err)
	require.Equal(t, []byte{0x50, 0x4b, 0x03, 0x04}, data)
}

func TestStreamURL(t *testing.T) {
	c := New("http://backend:8000/api/")
	require.Equal(t, "http://backend:8000/api/agent/stream/global", c.StreamURL())
}
