package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/sakif/propability/internal/auth"
	"github.com/sakif/propability/internal/blob"
	"github.com/sakif/propability/internal/metrics"
	"github.com/sakif/propability/internal/middleware"
	"github.com/sakif/propability/internal/model"
	sqliteRepo "github.com/sakif/propability/internal/repository/sqlite"
	"github.com/sakif/propability/internal/service"
	"github.com/sakif/propability/internal/testutil"
	"github.com/sakif/propability/internal/workspace"
)

// stubAnalyzer always returns the same analysis.
type stubAnalyzer struct {
	mu       sync.Mutex
	requests []model.AnalysisRequest
}

func (a *stubAnalyzer) seen() []model.AnalysisRequest {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]model.AnalysisRequest(nil), a.requests...)
}

func (a *stubAnalyzer) Analyze(_ context.Context, req model.AnalysisRequest) (*model.Analysis, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.requests = append(a.requests, req)
	return &model.Analysis{SuccessRate: 82, HealthStatus: "Healthy", Species: "Pothos", Feedback: "Visible nodes."}, nil
}

type testApp struct {
	server     *httptest.Server
	clock      *testutil.StubClock
	workspaces *workspace.Manager
	blobs      *blob.MemoryStore
	analyzer   *stubAnalyzer
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	return newTestAppWithMedia(t, "")
}

func newTestAppWithMedia(t *testing.T, mediaDir string) *testApp {
	t.Helper()
	logger := testutil.DiscardLogger()
	clk := testutil.FixedClock()

	db, err := sqliteRepo.New(sqliteRepo.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	tokens, err := auth.NewTokenService("server-test-secret-0123456789", 30*24*time.Hour, clk)
	require.NoError(t, err)
	authService := service.NewAuthService(db.Users(), tokens, auth.NewPasswordService(bcrypt.MinCost), logger)

	reg := prometheus.NewRegistry()
	recorder := metrics.NewCollector(reg)

	blobs := blob.NewMemoryStore("https://blobs.example.com")
	analyzer := &stubAnalyzer{}
	workspaces := workspace.NewManager(workspace.Deps{
		Cuttings: db.Cuttings(),
		Blobs:    blobs,
		Analyzer: analyzer,
		Clock:    clk,
		Metrics:  recorder,
		Logger:   logger,
	})
	t.Cleanup(workspaces.Close)

	limiter := middleware.NewRateLimiter(middleware.PerMinute(30), recorder, logger)
	t.Cleanup(limiter.Stop)

	router := NewRouter(Deps{
		Auth:       authService,
		Tokens:     tokens,
		Workspaces: workspaces,
		Limiter:    limiter,
		Gatherer:   reg,
		MediaDir:   mediaDir,
		Logger:     logger,
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &testApp{server: srv, clock: clk, workspaces: workspaces, blobs: blobs, analyzer: analyzer}
}

// do sends a request with the given session cookie (if any).
func (a *testApp) do(t *testing.T, method, path string, body io.Reader, contentType string, cookie *http.Cookie) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, a.server.URL+path, body)
	require.NoError(t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}

	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}
	resp, err := client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (a *testApp) signUp(t *testing.T, email string) *http.Cookie {
	t.Helper()
	body := fmt.Sprintf(`{"email":%q,"password":"secret123","displayName":"Ivy Green"}`, email)
	resp := a.do(t, http.MethodPost, "/auth/signup", strings.NewReader(body), "application/json", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	for _, c := range resp.Cookies() {
		if c.Name == auth.CookieName {
			return c
		}
	}
	t.Fatal("sign-up did not set a session cookie")
	return nil
}

// photoForm builds a multipart body with a JPEG declared as image/jpeg.
func photoForm(t *testing.T, size int, extra map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="pothos.jpg"`)
	h.Set("Content-Type", "image/jpeg")
	part, err := mw.CreatePart(h)
	require.NoError(t, err)

	data := make([]byte, size)
	copy(data, []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F'})
	_, err = part.Write(data)
	require.NoError(t, err)

	for k, v := range extra {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

type cuttingJSON struct {
	ID          string `json:"id"`
	Nickname    string `json:"nickname"`
	ImageURL    string `json:"imageUrl"`
	SuccessRate int    `json:"successRate"`
	Species     string `json:"species"`
	DaysActive  int    `json:"daysActive"`
	SuccessBand string `json:"successBand"`
	CheckIn     struct {
		Eligible bool `json:"eligible"`
	} `json:"checkIn"`
}

type submissionJSON struct {
	Job struct {
		Stage          string `json:"stage"`
		StatusMessage  string `json:"statusMessage"`
		RemoteImageRef string `json:"remoteImageRef"`
		Failure        *struct {
			Stage string `json:"stage"`
		} `json:"failure"`
	} `json:"job"`
	Cutting *cuttingJSON `json:"cutting"`
}

type listJSON struct {
	Cuttings []cuttingJSON `json:"cuttings"`
	Count    int           `json:"count"`
}

// =========================================================================
// END-TO-END TESTS
// =========================================================================

func TestHealth(t *testing.T) {
	app := newTestApp(t)

	resp := app.do(t, http.MethodGet, "/api/health", nil, "", nil)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string]string](t, resp)
	assert.Equal(t, "online", body["status"])
	assert.Equal(t, "Prop-a-bility", body["project"])
	assert.NotEmpty(t, body["host"])
}

func TestMediaServesPhotosButNotListings(t *testing.T) {
	dir := t.TempDir()
	store, err := blob.NewFileSystemStore(dir, "http://localhost/media")
	require.NoError(t, err)
	url, err := store.Put(context.Background(), "owner-1/1700000000000-abc.jpg", strings.NewReader("jpeg-bytes"), 10, "image/jpeg")
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(url, "/media/owner-1/1700000000000-abc.jpg"))

	app := newTestAppWithMedia(t, dir)

	resp := app.do(t, http.MethodGet, "/media/owner-1/1700000000000-abc.jpg", nil, "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "jpeg-bytes", string(data))

	for _, path := range []string{"/media/", "/media/owner-1/", "/media/owner-1"} {
		resp := app.do(t, http.MethodGet, path, nil, "", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.NotContains(t, string(body), "owner-1", path)
		assert.NotContains(t, string(body), "abc.jpg", path)
	}
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	app := newTestApp(t)

	for _, path := range []string{"/api/me", "/api/cuttings", "/api/submission"} {
		resp := app.do(t, http.MethodGet, path, nil, "", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)
	}
	assert.Equal(t, 0, app.workspaces.Len())
}

func TestSubmitThenManageCutting(t *testing.T) {
	app := newTestApp(t)
	cookie := app.signUp(t, "ivy@example.com")

	me := decode[map[string]any](t, app.do(t, http.MethodGet, "/api/me", nil, "", cookie))
	assert.Equal(t, "Ivy", me["firstName"])

	// Submit: select + run in one request.
	form, ct := photoForm(t, 2048, nil)
	resp := app.do(t, http.MethodPost, "/api/submissions", form, ct, cookie)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	sub := decode[submissionJSON](t, resp)

	assert.Equal(t, "succeeded", sub.Job.Stage)
	assert.Equal(t, service.StatusSucceeded, sub.Job.StatusMessage)
	require.NotNil(t, sub.Cutting)
	assert.Equal(t, 82, sub.Cutting.SuccessRate)
	assert.Equal(t, "Pothos", sub.Cutting.Species)
	assert.Equal(t, "high", sub.Cutting.SuccessBand)
	assert.True(t, strings.HasPrefix(sub.Cutting.ImageURL, "https://blobs.example.com/"))
	assert.Equal(t, 1, app.blobs.Len())
	requests := app.analyzer.seen()
	require.Len(t, requests, 1)
	assert.Equal(t, 0, requests[0].DaysPropagating)

	id := sub.Cutting.ID

	// Load.
	list := decode[listJSON](t, app.do(t, http.MethodGet, "/api/cuttings", nil, "", cookie))
	require.Equal(t, 1, list.Count)
	assert.Equal(t, id, list.Cuttings[0].ID)
	assert.False(t, list.Cuttings[0].CheckIn.Eligible)

	// Rename.
	resp = app.do(t, http.MethodPatch, "/api/cuttings/"+id, strings.NewReader(`{"nickname":"Window Pothos"}`), "application/json", cookie)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Window Pothos", decode[cuttingJSON](t, resp).Nickname)

	resp = app.do(t, http.MethodPatch, "/api/cuttings/"+id, strings.NewReader(`{"nickname":"   "}`), "application/json", cookie)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "nickname", decode[map[string]string](t, resp)["field"])

	// Check-in is closed on day 0 and open a week later.
	resp = app.do(t, http.MethodPost, "/api/cuttings/"+id+"/feedback", strings.NewReader(`{"rooted":true}`), "application/json", cookie)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	app.clock.Advance(7 * 24 * time.Hour)
	resp = app.do(t, http.MethodPost, "/api/cuttings/"+id+"/feedback", strings.NewReader(`{"rooted":true}`), "application/json", cookie)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, service.FeedbackRootedMessage, decode[map[string]string](t, resp)["message"])

	got := decode[cuttingJSON](t, app.do(t, http.MethodGet, "/api/cuttings/"+id, nil, "", cookie))
	assert.Equal(t, 82, got.SuccessRate, "feedback never changes the stored rate")
	assert.Equal(t, 7, got.DaysActive)

	// Delete needs confirmation.
	resp = app.do(t, http.MethodDelete, "/api/cuttings/"+id, nil, "", cookie)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = app.do(t, http.MethodDelete, "/api/cuttings/"+id+"?confirm=true", nil, "", cookie)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = app.do(t, http.MethodGet, "/api/cuttings/"+id, nil, "", cookie)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSelectRunReset(t *testing.T) {
	app := newTestApp(t)
	cookie := app.signUp(t, "fern@example.com")

	resp := app.do(t, http.MethodPost, "/api/submission/run", nil, "", cookie)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "nothing selected yet")

	form, ct := photoForm(t, 512, nil)
	resp = app.do(t, http.MethodPut, "/api/submission/file", form, ct, cookie)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "file_selected", decode[submissionJSON](t, resp).Job.Stage)

	resp = app.do(t, http.MethodDelete, "/api/submission", nil, "", cookie)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "idle", decode[submissionJSON](t, resp).Job.Stage)

	form, ct = photoForm(t, 512, nil)
	app.do(t, http.MethodPut, "/api/submission/file", form, ct, cookie)
	resp = app.do(t, http.MethodPost, "/api/submission/run", nil, "", cookie)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	job := decode[submissionJSON](t, app.do(t, http.MethodGet, "/api/submission", nil, "", cookie))
	assert.Equal(t, "succeeded", job.Job.Stage)
	assert.NotEmpty(t, job.Job.RemoteImageRef)
}

func TestSelectRejectsOversizedPhoto(t *testing.T) {
	app := newTestApp(t)
	cookie := app.signUp(t, "moss@example.com")

	form, ct := photoForm(t, model.MaxImageBytes+1, nil)
	resp := app.do(t, http.MethodPut, "/api/submission/file", form, ct, cookie)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, decode[map[string]string](t, resp)["message"], "under 5MB")
	assert.Equal(t, 0, app.blobs.Len())
}

func TestSubmitForSomeoneElseIsForbidden(t *testing.T) {
	app := newTestApp(t)
	cookie := app.signUp(t, "ivy@example.com")

	form, ct := photoForm(t, 512, map[string]string{"ownerId": "someone-else"})
	resp := app.do(t, http.MethodPost, "/api/submissions", form, ct, cookie)

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, 0, app.blobs.Len())
}

func TestUsersSeeOnlyTheirOwnCuttings(t *testing.T) {
	app := newTestApp(t)
	ivy := app.signUp(t, "ivy@example.com")
	fern := app.signUp(t, "fern@example.com")

	form, ct := photoForm(t, 512, nil)
	resp := app.do(t, http.MethodPost, "/api/submissions", form, ct, ivy)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := decode[submissionJSON](t, resp).Cutting.ID

	list := decode[listJSON](t, app.do(t, http.MethodGet, "/api/cuttings", nil, "", fern))
	assert.Equal(t, 0, list.Count)

	resp = app.do(t, http.MethodDelete, "/api/cuttings/"+id+"?confirm=true", nil, "", fern)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "another owner's row does not exist for fern")

	list = decode[listJSON](t, app.do(t, http.MethodGet, "/api/cuttings", nil, "", ivy))
	assert.Equal(t, 1, list.Count)
}

func TestSignOutReleasesWorkspace(t *testing.T) {
	app := newTestApp(t)
	cookie := app.signUp(t, "ivy@example.com")
	require.Equal(t, 1, app.workspaces.Len())

	resp := app.do(t, http.MethodPost, "/auth/signout", nil, "", cookie)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, 0, app.workspaces.Len())
	var cleared bool
	for _, c := range resp.Cookies() {
		if c.Name == auth.CookieName && c.MaxAge < 0 {
			cleared = true
		}
	}
	assert.True(t, cleared)
}

func TestSignInWrongPassword(t *testing.T) {
	app := newTestApp(t)
	app.signUp(t, "ivy@example.com")

	resp := app.do(t, http.MethodPost, "/auth/signin",
		strings.NewReader(`{"email":"ivy@example.com","password":"wrong-one"}`), "application/json", nil)

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Invalid login credentials", decode[map[string]string](t, resp)["message"])
}

func TestUnknownProviderLogin(t *testing.T) {
	app := newTestApp(t)

	resp := app.do(t, http.MethodGet, "/auth/myspace/login", nil, "", nil)

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	app := newTestApp(t)
	cookie := app.signUp(t, "ivy@example.com")
	form, ct := photoForm(t, 512, nil)
	app.do(t, http.MethodPost, "/api/submissions", form, ct, cookie)

	resp := app.do(t, http.MethodGet, "/metrics", nil, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `propability_submissions_total{outcome="ok"} 1`)
}
