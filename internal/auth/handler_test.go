package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/expedio-erp/expedio/internal/shared"
)

type stubRepo struct {
	user *User
}

func (s *stubRepo) FindByEmail(context.Context, string) (*User, error) {
	if s.user == nil {
		return nil, shared.ErrInvalidCredentials
	}
	return s.user, nil
}

func (s *stubRepo) CreateSession(context.Context, string, int64, time.Time, string, string) error {
	return nil
}

func (s *stubRepo) DeleteSession(context.Context, string) error {
	return nil
}

func newTestHandler(t *testing.T, repo Repository) (*Handler, *shared.SessionManager) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	sessionManager := shared.NewSessionManager(client, "test_session", "secret", time.Hour, false)
	csrfManager := shared.NewCSRFManager("csrfsecret")
	handler := NewHandler(slog.Default(), NewService(repo), sessionManager, csrfManager)
	return handler, sessionManager
}

func requestWithSession(t *testing.T, sm *shared.SessionManager, method, target, body string) (*http.Request, *shared.Session) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	sess, err := sm.Load(context.Background(), req)
	require.NoError(t, err)
	return req.WithContext(shared.ContextWithSession(req.Context(), sess)), sess
}

func seededUser(t *testing.T, password string) *User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return &User{ID: 42, OrgID: 7, Email: "admin@expedio.com.br", PasswordHash: string(hash), IsActive: true}
}

func TestLoginSuccess(t *testing.T) {
	handler, sm := newTestHandler(t, &stubRepo{user: seededUser(t, "admin123")})

	req, sess := requestWithSession(t, sm, http.MethodPost, "/auth/login",
		`{"email":"admin@expedio.com.br","password":"admin123"}`)
	res := httptest.NewRecorder()
	handler.login(res, req)

	require.Equal(t, http.StatusOK, res.Code)
	var body struct {
		UserID    int64  `json:"user_id"`
		OrgID     int64  `json:"org_id"`
		CSRFToken string `json:"csrf_token"`
	}
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &body))
	require.Equal(t, int64(42), body.UserID)
	require.Equal(t, int64(7), body.OrgID)
	require.NotEmpty(t, body.CSRFToken)
	require.Equal(t, "42", sess.User())
}

func TestLoginWrongPassword(t *testing.T) {
	handler, sm := newTestHandler(t, &stubRepo{user: seededUser(t, "admin123")})

	req, sess := requestWithSession(t, sm, http.MethodPost, "/auth/login",
		`{"email":"admin@expedio.com.br","password":"wrong-password"}`)
	res := httptest.NewRecorder()
	handler.login(res, req)

	require.Equal(t, http.StatusUnauthorized, res.Code)
	require.Empty(t, sess.User())
}

func TestLoginUnknownUser(t *testing.T) {
	handler, sm := newTestHandler(t, &stubRepo{})

	req, _ := requestWithSession(t, sm, http.MethodPost, "/auth/login",
		`{"email":"ghost@expedio.com.br","password":"whatever1"}`)
	res := httptest.NewRecorder()
	handler.login(res, req)

	require.Equal(t, http.StatusUnauthorized, res.Code)
}

func TestLoginValidation(t *testing.T) {
	handler, sm := newTestHandler(t, &stubRepo{})

	req, _ := requestWithSession(t, sm, http.MethodPost, "/auth/login",
		`{"email":"not-an-email","password":"x"}`)
	res := httptest.NewRecorder()
	handler.login(res, req)

	require.Equal(t, http.StatusBadRequest, res.Code)
}

func TestLogoutDestroysSession(t *testing.T) {
	handler, sm := newTestHandler(t, &stubRepo{user: seededUser(t, "admin123")})

	req, sess := requestWithSession(t, sm, http.MethodPost, "/auth/logout", "")
	sess.SetUser("42")
	res := httptest.NewRecorder()
	handler.logout(res, req)

	require.Equal(t, http.StatusNoContent, res.Code)

	// Committing a destroyed session must expire the cookie. res already
	// snapshotted its headers on the 204 write, so commit into a fresh
	// recorder to observe the Set-Cookie.
	commitRes := httptest.NewRecorder()
	require.NoError(t, sm.Commit(req.Context(), commitRes, req, sess))
	cookies := commitRes.Result().Cookies()
	require.NotEmpty(t, cookies)
	require.Equal(t, sm.CookieName(), cookies[0].Name)
	require.Negative(t, cookies[0].MaxAge)
}
