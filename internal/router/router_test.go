package router

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image/color"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"

	"flowerpod/internal/auth"
	"flowerpod/internal/config"
	"flowerpod/internal/database"
	"flowerpod/internal/handler"
	"flowerpod/internal/repository"
	"flowerpod/internal/service"
	"flowerpod/internal/speech"
	"flowerpod/internal/storage"
)

// performRequest sends one request through the engine, with a bearer token when set.
func performRequest(r http.Handler, method, path string, body io.Reader, token string, contentType string) *httptest.ResponseRecorder {
	req, _ := http.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

type testServer struct {
	engine *gin.Engine
	root   string
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Server.Mode = gin.TestMode
	cfg.Database.DSN = filepath.Join(dir, "flowerpod.db") + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	cfg.Storage.PublicRoot = filepath.Join(dir, "static")
	cfg.Admin = config.AdminConfig{Username: "admin", Password: "admin-pass"}
	cfg.Auth.LoginRateLimit = 0

	db, err := database.Open(cfg.Database)
	require.NoError(t, err)
	db.Logger = logger.Default.LogMode(logger.Silent)
	t.Cleanup(func() { _ = database.Close(db) })
	require.NoError(t, database.Migrate(db))
	require.NoError(t, database.Seed(db, cfg.Admin))

	files, err := storage.NewLocal(cfg.Storage.PublicRoot, cfg.Storage.ImagePrefix)
	require.NoError(t, err)

	users := service.NewAuthService(repository.NewUserRepository(db))
	guides := service.NewGuideService(repository.NewGuideStore(db), files, cfg.MaxUploadBytes()).
		WithMaxPixels(cfg.MaxImagePixels())
	tokens := auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	sessions := auth.NewSessions(cfg.Auth.SessionSecret, cfg.Auth.SessionMaxAge, false)

	engine := Setup(cfg, Deps{
		Tokens:   tokens,
		Sessions: sessions,
		Home:     handler.NewHomeHandler(speech.Nop{}),
		Auth:     handler.NewAuthHandler(users, tokens, sessions),
		Guides:   handler.NewGuideHandler(guides, cfg.MaxUploadBytes(), "/static"),
		Admin:    handler.NewAdminHandler(users, guides),
	})
	return &testServer{engine: engine, root: files.Root()}
}

func jsonBody(t *testing.T, v any) io.Reader {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(b)
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func login(t *testing.T, s *testServer, username, password string) string {
	t.Helper()
	resp := performRequest(s.engine, http.MethodPost, "/login",
		jsonBody(t, map[string]string{"username": username, "password": password}), "", "application/json")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	token, _ := decode(t, resp)["token"].(string)
	require.NotEmpty(t, token)
	return token
}

func register(t *testing.T, s *testServer, username, password string) string {
	t.Helper()
	resp := performRequest(s.engine, http.MethodPost, "/register",
		jsonBody(t, map[string]string{"username": username, "password": password}), "", "application/json")
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	return login(t, s, username, password)
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, imaging.New(4, 4, color.NRGBA{G: 200, A: 255}), imaging.PNG))
	return buf.Bytes()
}

type part struct {
	field, name string
	data        []byte
}

func multipartBody(t *testing.T, fields map[string]string, files ...part) (io.Reader, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for _, f := range files {
		w, err := mw.CreateFormFile(f.field, f.name)
		require.NoError(t, err)
		_, err = w.Write(f.data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return buf, mw.FormDataContentType()
}

type guideResp struct {
	ID     uint   `json:"id"`
	Title  string `json:"title"`
	Images []struct {
		ID          uint   `json:"id"`
		Image       string `json:"image"`
		Caption     string `json:"caption"`
		URL         string `json:"url"`
		CaptionHTML string `json:"caption_html"`
	} `json:"images"`
}

func TestFullFlow(t *testing.T) {
	s := setupTestServer(t)
	token := register(t, s, "gardener1", "secret-pass")

	// landing page is public
	resp := performRequest(s.engine, http.MethodGet, "/", nil, "", "")
	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, speech.WelcomeText, decode(t, resp)["message"])

	// create
	body, ct := multipartBody(t, map[string]string{"title": "Growing Tomatoes Fast"},
		part{"images", "a.png", pngBytes(t)}, part{"images", "b.png", pngBytes(t)})
	resp = performRequest(s.engine, http.MethodPost, "/guides", body, token, ct)
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	var g guideResp
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &g))
	require.Len(t, g.Images, 2)
	require.Equal(t, "guides/images/Growing_Tomatoes_Fast/1.png", g.Images[0].Image)
	require.Equal(t, "/static/guides/images/Growing_Tomatoes_Fast/1.png", g.Images[0].URL)

	// stored files are served from the public root
	resp = performRequest(s.engine, http.MethodGet, g.Images[0].URL, nil, "", "")
	require.Equal(t, http.StatusOK, resp.Code)

	// caption, ordered form fields
	form := url.Values{"caption": {"Plant **seeds**", "Water daily"}}
	resp = performRequest(s.engine, http.MethodPost, fmt.Sprintf("/guides/%d/captions", g.ID),
		strings.NewReader(form.Encode()), token, "application/x-www-form-urlencoded")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &g))
	require.Equal(t, "Plant **seeds**", g.Images[0].Caption)
	require.Contains(t, g.Images[0].CaptionHTML, "<strong>seeds</strong>")

	// caption by image id, JSON
	resp = performRequest(s.engine, http.MethodPost, fmt.Sprintf("/guides/%d/captions", g.ID),
		jsonBody(t, map[string]any{"captions": map[string]string{fmt.Sprint(g.Images[1].ID): "Water twice"}}), token, "application/json")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &g))
	require.Equal(t, "Water twice", g.Images[1].Caption)

	// edit with rename cascade
	fields := map[string]string{"title": "Tomatoes In Pots"}
	fields[fmt.Sprintf("caption_%d", g.Images[0].ID)] = "Plant deep"
	body, ct = multipartBody(t, fields)
	resp = performRequest(s.engine, http.MethodPut, fmt.Sprintf("/guides/%d", g.ID), body, token, ct)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var edited struct {
		Guide   guideResp `json:"guide"`
		Warning string    `json:"warning"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &edited))
	require.Empty(t, edited.Warning)
	require.Equal(t, "Tomatoes In Pots", edited.Guide.Title)
	require.Equal(t, "guides/images/Tomatoes_In_Pots/1.png", edited.Guide.Images[0].Image)
	require.Equal(t, "Plant deep", edited.Guide.Images[0].Caption)
	_, err := os.Stat(filepath.Join(s.root, "Tomatoes_In_Pots", "2.png"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(s.root, "Growing_Tomatoes_Fast"))
	require.True(t, os.IsNotExist(err))

	// search
	resp = performRequest(s.engine, http.MethodGet, "/search?q=pots", nil, token, "")
	require.Equal(t, http.StatusOK, resp.Code)
	require.EqualValues(t, 1, decode(t, resp)["count"])

	// another user cannot delete it
	other := register(t, s, "gardener2", "secret-pass")
	resp = performRequest(s.engine, http.MethodDelete, fmt.Sprintf("/guides/%d", g.ID), nil, other, "")
	require.Equal(t, http.StatusForbidden, resp.Code)

	// delete
	resp = performRequest(s.engine, http.MethodDelete, fmt.Sprintf("/guides/%d", g.ID), nil, token, "")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	resp = performRequest(s.engine, http.MethodGet, fmt.Sprintf("/guides/%d", g.ID), nil, token, "")
	require.Equal(t, http.StatusNotFound, resp.Code)
	_, err = os.Stat(filepath.Join(s.root, "Tomatoes_In_Pots"))
	require.True(t, os.IsNotExist(err))

	// protected endpoints need a principal
	resp = performRequest(s.engine, http.MethodGet, "/guides", nil, "", "")
	require.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestErrorStatuses(t *testing.T) {
	s := setupTestServer(t)
	token := register(t, s, "gardener1", "secret-pass")

	resp := performRequest(s.engine, http.MethodPost, "/register",
		jsonBody(t, map[string]string{"username": "gardener1", "password": "secret-pass"}), "", "application/json")
	require.Equal(t, http.StatusConflict, resp.Code)

	resp = performRequest(s.engine, http.MethodPost, "/login",
		jsonBody(t, map[string]string{"username": "gardener1", "password": "wrong-pass"}), "", "application/json")
	require.Equal(t, http.StatusUnauthorized, resp.Code)

	body, ct := multipartBody(t, map[string]string{"title": "tiny"}, part{"images", "a.png", pngBytes(t)})
	resp = performRequest(s.engine, http.MethodPost, "/guides", body, token, ct)
	require.Equal(t, http.StatusBadRequest, resp.Code)

	body, ct = multipartBody(t, map[string]string{"title": "Rose Pruning"}, part{"images", "notes.txt", []byte("text")})
	resp = performRequest(s.engine, http.MethodPost, "/guides", body, token, ct)
	require.Equal(t, http.StatusBadRequest, resp.Code)

	body, ct = multipartBody(t, map[string]string{"title": "Rose Pruning"}, part{"images", "a.png", pngBytes(t)})
	resp = performRequest(s.engine, http.MethodPost, "/guides", body, token, ct)
	require.Equal(t, http.StatusCreated, resp.Code)
	body, ct = multipartBody(t, map[string]string{"title": "Rose Pruning"}, part{"images", "a.png", pngBytes(t)})
	resp = performRequest(s.engine, http.MethodPost, "/guides", body, token, ct)
	require.Equal(t, http.StatusConflict, resp.Code)

	resp = performRequest(s.engine, http.MethodGet, "/guides/abc", nil, token, "")
	require.Equal(t, http.StatusBadRequest, resp.Code)
	resp = performRequest(s.engine, http.MethodGet, "/guides/999", nil, token, "")
	require.Equal(t, http.StatusNotFound, resp.Code)
	resp = performRequest(s.engine, http.MethodGet, "/search?q=", nil, token, "")
	require.Equal(t, http.StatusBadRequest, resp.Code)

	resp = performRequest(s.engine, http.MethodGet, "/me", nil, "not-a-jwt", "")
	require.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestAdminRoutes(t *testing.T) {
	s := setupTestServer(t)
	userToken := register(t, s, "gardener1", "secret-pass")
	adminToken := login(t, s, "admin", "admin-pass")

	resp := performRequest(s.engine, http.MethodGet, "/admin/users", nil, userToken, "")
	require.Equal(t, http.StatusForbidden, resp.Code)

	resp = performRequest(s.engine, http.MethodGet, "/admin/users", nil, adminToken, "")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var users []map[string]any
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &users))
	require.Len(t, users, 2)

	body, ct := multipartBody(t, map[string]string{"title": "Rose Pruning"}, part{"images", "a.png", pngBytes(t)})
	resp = performRequest(s.engine, http.MethodPost, "/guides", body, userToken, ct)
	require.Equal(t, http.StatusCreated, resp.Code)

	resp = performRequest(s.engine, http.MethodGet, "/admin/guides", nil, adminToken, "")
	require.Equal(t, http.StatusOK, resp.Code)
	var sums []map[string]any
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &sums))
	require.Len(t, sums, 1)
	require.EqualValues(t, 1, sums[0]["image_count"])

	resp = performRequest(s.engine, http.MethodGet, "/admin/audit", nil, adminToken, "")
	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, true, decode(t, resp)["clean"])
}

func TestSessionLogin(t *testing.T) {
	s := setupTestServer(t)
	register(t, s, "gardener1", "secret-pass")

	form := url.Values{"username": {"gardener1"}, "password": {"secret-pass"}}
	resp := performRequest(s.engine, http.MethodPost, "/login", strings.NewReader(form.Encode()), "", "application/x-www-form-urlencoded")
	require.Equal(t, http.StatusOK, resp.Code)
	cookies := resp.Result().Cookies()
	require.NotEmpty(t, cookies)

	req, _ := http.NewRequest(http.MethodGet, "/me", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "gardener1", decode(t, rec)["username"])
}

func TestRateLimitedLogin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/login", handler.RateLimit(2, time.Minute), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	for i := 0; i < 2; i++ {
		resp := performRequest(r, http.MethodPost, "/login", nil, "", "")
		require.Equal(t, http.StatusNoContent, resp.Code)
	}
	resp := performRequest(r, http.MethodPost, "/login", nil, "", "")
	require.Equal(t, http.StatusTooManyRequests, resp.Code)
}
