package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) (*gin.Engine, *testEnv) {
	t.Helper()
	env := newTestEnv(t)
	return NewRouter(Config{}, env.routerDeps()), env
}

func doRequest(r http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, _ := json.Marshal(b)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func registerUser(t *testing.T, r http.Handler, username, email, password string) string {
	t.Helper()
	w := doRequest(r, http.MethodPost, "/api/users/register/", "", gin.H{"username": username, "email": email, "password": password})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	token, _ := decodeBody(t, w)["access_token"].(string)
	require.NotEmpty(t, token)
	return token
}

func TestRegisterAndLoginEndpoints(t *testing.T) {
	r, env := newTestRouter(t)

	token := registerUser(t, r, "a", "a@a.com", "x")
	claims, ok := env.tokens.Decode(token)
	require.True(t, ok)
	assert.Equal(t, int64(1), claims.UserID)

	w := doRequest(r, http.MethodPost, "/api/users/login/", "", gin.H{"email": "a@a.com", "password": "x"})
	require.Equal(t, http.StatusOK, w.Code)
	claims, ok = env.tokens.Decode(decodeBody(t, w)["access_token"].(string))
	require.True(t, ok)
	assert.Equal(t, int64(1), claims.UserID)

	wrong := doRequest(r, http.MethodPost, "/api/users/login/", "", gin.H{"email": "a@a.com", "password": "wrong"})
	unknown := doRequest(r, http.MethodPost, "/api/users/login/", "", gin.H{"email": "nobody@a.com", "password": "x"})
	assert.Equal(t, http.StatusUnauthorized, wrong.Code)
	assert.Equal(t, http.StatusUnauthorized, unknown.Code)
	assert.Equal(t, wrong.Body.String(), unknown.Body.String())
	assert.Equal(t, "Invalid credentials", decodeBody(t, wrong)["message"])
}

func TestRegisterDuplicateEmailReturns409(t *testing.T) {
	r, _ := newTestRouter(t)
	registerUser(t, r, "a", "a@a.com", "x")

	w := doRequest(r, http.MethodPost, "/api/users/register/", "", gin.H{"username": "b", "email": "a@a.com", "password": "y"})
	assert.Equal(t, http.StatusConflict, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "Registration Failed", body["message"])
	assert.Equal(t, "CONFLICT", body["code"])
}

func TestRegisterMalformedBodyReturns422(t *testing.T) {
	r, _ := newTestRouter(t)
	w := doRequest(r, http.MethodPost, "/api/users/register/", "", "{not json")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestProtectedRoutesRejectBeforeBusinessLogic(t *testing.T) {
	r, env := newTestRouter(t)
	token := registerUser(t, r, "a", "a@a.com", "x")
	commits := env.uow.commits

	routes := []struct{ method, path string }{
		{http.MethodGet, "/api/users/me/"},
		{http.MethodPatch, "/api/users/username/?username=z"},
		{http.MethodPost, "/api/subscriptions/subscribe/"},
		{http.MethodPost, "/api/music/"},
		{http.MethodGet, "/api/music/?music_type=Band"},
		{http.MethodPatch, "/api/music/"},
		{http.MethodDelete, "/api/music/?music_id=1&music_type=Band"},
		{http.MethodPost, "/api/music/csv_upload"},
		{http.MethodGet, "/api/notifications/status"},
	}
	headers := map[string]string{
		"missing":      "",
		"basic scheme": "Basic " + token,
		"lowercase":    "bearer " + token,
		"no token":     "Bearer ",
		"garbage":      "Bearer not-a-token",
	}

	for _, rt := range routes {
		for name, header := range headers {
			t.Run(rt.method+" "+rt.path+" "+name, func(t *testing.T) {
				req := httptest.NewRequest(rt.method, rt.path, strings.NewReader(`{"band_id":1}`))
				if header != "" {
					req.Header.Set("Authorization", header)
				}
				w := httptest.NewRecorder()
				r.ServeHTTP(w, req)
				assert.Equal(t, http.StatusForbidden, w.Code)
			})
		}
	}
	assert.Equal(t, commits, env.uow.commits, "no unit of work may commit for rejected requests")
	assert.Empty(t, env.store.subs)
}

func TestTokenForDeletedUserIsRejected(t *testing.T) {
	r, env := newTestRouter(t)
	token, err := env.tokens.Issue(77)
	require.NoError(t, err)

	w := doRequest(r, http.MethodGet, "/api/users/me/", token, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestMeAndChangeUsername(t *testing.T) {
	r, _ := newTestRouter(t)
	token := registerUser(t, r, "a", "a@a.com", "x")

	w := doRequest(r, http.MethodGet, "/api/users/me/", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]any{"id": float64(1), "username": "a", "email": "a@a.com"}, decodeBody(t, w))

	w = doRequest(r, http.MethodPatch, "/api/users/username/?username=alice", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alice", decodeBody(t, w)["username"])

	w = doRequest(r, http.MethodPatch, "/api/users/username/", token, gin.H{"username": "bob"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "bob", decodeBody(t, w)["username"])
}

func TestMusicFlowOverHTTP(t *testing.T) {
	r, env := newTestRouter(t)
	token := registerUser(t, r, "a", "a@a.com", "x")

	w := doRequest(r, http.MethodPost, "/api/music/", token, gin.H{"type": "Band", "data": gin.H{"name": "Muse"}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"type":"Band","data":[{"id":1,"name":"Muse"}]}`, w.Body.String())

	w = doRequest(r, http.MethodPost, "/api/subscriptions/subscribe/", token, gin.H{"band_id": 1})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "User subscribed to band 1", decodeBody(t, w)["message"])

	w = doRequest(r, http.MethodPost, "/api/music/", token, gin.H{"type": "Album", "data": gin.H{"name": "Drones", "band_id": 1}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	sent := env.notifier.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "a@a.com", sent[0].To)
	assert.Equal(t, "New album 1 from 1", sent[0].Subject)

	w = doRequest(r, http.MethodGet, "/api/music/?music_type=Album", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"type":"Album","data":[{"id":1,"name":"Drones","band_id":1}]}`, w.Body.String())

	w = doRequest(r, http.MethodPatch, "/api/music/", token, gin.H{"type": "Album", "music_id": 1, "new_name": "Drones (Deluxe)"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"type":"Album","data":[{"id":1,"name":"Drones (Deluxe)","band_id":1}]}`, w.Body.String())

	w = doRequest(r, http.MethodDelete, "/api/music/?music_id=1&music_type=Album", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Music object deleted successfully", decodeBody(t, w)["message"])

	w = doRequest(r, http.MethodDelete, "/api/music/?music_id=1&music_type=Album", token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", decodeBody(t, w)["code"])
}

func TestMusicRequestValidation(t *testing.T) {
	r, _ := newTestRouter(t)
	token := registerUser(t, r, "a", "a@a.com", "x")

	cases := []struct {
		method, path string
		body         any
	}{
		{http.MethodPost, "/api/music/", gin.H{"type": "Playlist", "data": gin.H{"name": "x"}}},
		{http.MethodPost, "/api/music/", gin.H{"type": "Album", "data": gin.H{"name": "x"}}},
		{http.MethodGet, "/api/music/", nil},
		{http.MethodGet, "/api/music/?music_type=Genre", nil},
		{http.MethodPatch, "/api/music/", gin.H{"type": "Band", "music_id": 1, "new_name": ""}},
		{http.MethodPatch, "/api/music/", gin.H{"type": "Tape", "music_id": 1, "new_name": "x"}},
		{http.MethodDelete, "/api/music/?music_id=abc&music_type=Band", nil},
		{http.MethodPost, "/api/subscriptions/subscribe/", gin.H{"band_id": "one"}},
	}
	for _, tc := range cases {
		w := doRequest(r, tc.method, tc.path, token, tc.body)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code, "%s %s: %s", tc.method, tc.path, w.Body.String())
	}
}

func csvMultipart(t *testing.T, content, contentType string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="songs.csv"`)
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestCSVUpload(t *testing.T) {
	r, env := newTestRouter(t)
	token := registerUser(t, r, "a", "a@a.com", "x")
	doRequest(r, http.MethodPost, "/api/music/", token, gin.H{"type": "Band", "data": gin.H{"name": "Muse"}})
	doRequest(r, http.MethodPost, "/api/music/", token, gin.H{"type": "Album", "data": gin.H{"name": "Drones", "band_id": 1}})

	body, ct := csvMultipart(t, "album_id,song_name\n1,Dead Inside\n1,Psycho\n", "text/csv")
	req := httptest.NewRequest(http.MethodPost, "/api/music/csv_upload", body)
	req.Header.Set("Content-Type", ct)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Songs added successfully", decodeBody(t, w)["message"])
	assert.Len(t, env.store.songs, 2)

	req = httptest.NewRequest(http.MethodPost, "/api/music/csv_upload", strings.NewReader("album_id,song_name\n1,Mercy\n2,Nope\n"))
	req.Header.Set("Content-Type", "text/csv")
	req.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Len(t, env.store.songs, 2, "failed import must not insert any row")

	body, ct = csvMultipart(t, "{}", "application/json")
	req = httptest.NewRequest(http.MethodPost, "/api/music/csv_upload", body)
	req.Header.Set("Content-Type", ct)
	req.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestAuthRateLimit(t *testing.T) {
	env := newTestEnv(t)
	r := NewRouter(Config{AuthRateLimit: 0.001, AuthRateBurst: 2}, env.routerDeps())

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := doRequest(r, http.MethodPost, "/api/users/login/", "", gin.H{"email": "a@a.com", "password": "x"})
		codes = append(codes, w.Code)
		if w.Code == http.StatusTooManyRequests {
			assert.NotEmpty(t, w.Header().Get("Retry-After"))
		}
	}
	assert.Equal(t, []int{http.StatusUnauthorized, http.StatusUnauthorized, http.StatusTooManyRequests}, codes)
}

func TestAuthRateLimitIgnoresForwardedFor(t *testing.T) {
	env := newTestEnv(t)
	r := NewRouter(Config{AuthRateLimit: 0.001, AuthRateBurst: 2}, env.routerDeps())

	codes := make([]int, 0, 5)
	for i := 0; i < 5; i++ {
		raw, _ := json.Marshal(gin.H{"email": "a@a.com", "password": "x"})
		req := httptest.NewRequest(http.MethodPost, "/api/users/login/", bytes.NewReader(raw))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i+1))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{
		http.StatusUnauthorized, http.StatusUnauthorized,
		http.StatusTooManyRequests, http.StatusTooManyRequests, http.StatusTooManyRequests,
	}, codes)
}

func TestAuthRateLimitHonorsTrustedProxy(t *testing.T) {
	env := newTestEnv(t)
	// httptest requests arrive from 192.0.2.1.
	cfg := Config{AuthRateLimit: 0.001, AuthRateBurst: 1, TrustedProxies: []string{"192.0.2.1"}}
	r := NewRouter(cfg, env.routerDeps())

	for i := 0; i < 3; i++ {
		raw, _ := json.Marshal(gin.H{"email": "a@a.com", "password": "x"})
		req := httptest.NewRequest(http.MethodPost, "/api/users/login/", bytes.NewReader(raw))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i+1))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code, "each forwarded client gets its own bucket")
	}
}

func TestHealthzAndMetrics(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doRequest(r, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	w = doRequest(r, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `music_notify_http_requests_total{method="GET",route="/healthz",status="200"}`)
}

func TestNotificationStatusInLogMode(t *testing.T) {
	r, _ := newTestRouter(t)
	token := registerUser(t, r, "a", "a@a.com", "x")
	w := doRequest(r, http.MethodGet, "/api/notifications/status", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, NotifierLog, decodeBody(t, w)["notifier"])
}

func TestUnclassifiedErrorsCollapseTo500(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/boom", func(c *gin.Context) {
		respondAppError(c, discardLogger(), fmt.Errorf("db password is hunter2"))
	})
	w := doRequest(r, http.MethodGet, "/boom", "", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Server Error", decodeBody(t, w)["message"])
	assert.NotContains(t, w.Body.String(), "hunter2")
}
