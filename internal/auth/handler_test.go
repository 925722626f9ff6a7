package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/fleetdesk/fleetdesk/internal/authz"
	"github.com/fleetdesk/fleetdesk/internal/docstore"
	"github.com/fleetdesk/fleetdesk/internal/shared"
)

type stubRepository struct {
	users    map[string]*User
	sessions map[string]string
}

func newStubRepository() *stubRepository {
	return &stubRepository{users: make(map[string]*User), sessions: make(map[string]string)}
}

func (s *stubRepository) FindByEmail(ctx context.Context, email string) (*User, error) {
	u, ok := s.users[email]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return u, nil
}

func (s *stubRepository) CreateSession(ctx context.Context, id, userID string, expiresAt time.Time, ip, ua string) error {
	s.sessions[id] = userID
	return nil
}

func (s *stubRepository) DeleteSession(ctx context.Context, id string) error {
	delete(s.sessions, id)
	return nil
}

func (s *stubRepository) DeleteExpiredSessions(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

// testCommitWriter commits the session just before the first byte of the
// response, matching the server's middleware ordering.
type testCommitWriter struct {
	http.ResponseWriter
	commit    func()
	committed bool
}

func (w *testCommitWriter) ensureCommitted() {
	if !w.committed {
		w.committed = true
		w.commit()
	}
}

func (w *testCommitWriter) WriteHeader(code int) {
	w.ensureCommitted()
	w.ResponseWriter.WriteHeader(code)
}

func (w *testCommitWriter) Write(b []byte) (int, error) {
	w.ensureCommitted()
	return w.ResponseWriter.Write(b)
}

type authFixture struct {
	handler   *Handler
	sessions  *shared.SessionManager
	resolvers *authz.Registry
	repo      *stubRepository
	router    chi.Router
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	sessions := shared.NewSessionManager(client, "fleetdesk_session", time.Hour, false)
	csrf := shared.NewCSRFManager("test-secret")
	resolvers := authz.NewRegistry(authz.NewPermissionStore(docstore.NewMemStore()), slog.Default(), time.Hour)

	repo := newStubRepository()
	hash, err := bcrypt.GenerateFromPassword([]byte("correct-horse"), bcrypt.MinCost)
	require.NoError(t, err)
	repo.users["manager@fleetdesk.test"] = &User{
		ID:           "user-1",
		Email:        "manager@fleetdesk.test",
		Name:         "Sam Manager",
		PasswordHash: string(hash),
		Role:         authz.RoleManager,
		IsActive:     true,
	}

	handler := NewHandler(slog.Default(), NewService(repo), sessions, csrf, resolvers)

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, err := sessions.Load(r.Context(), r)
			require.NoError(t, err)
			r = r.WithContext(shared.ContextWithSession(r.Context(), sess))
			cw := &testCommitWriter{ResponseWriter: w, commit: func() {
				require.NoError(t, sessions.Commit(r.Context(), w, sess))
			}}
			next.ServeHTTP(cw, r)
			cw.ensureCommitted()
		})
	})
	router.Use(resolvers.Middleware)
	handler.MountRoutes(router)

	return &authFixture{handler: handler, sessions: sessions, resolvers: resolvers, repo: repo, router: router}
}

func (f *authFixture) login(t *testing.T, email, password string) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(map[string]string{"email": email, "password": password})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestLoginResolvesPermissions(t *testing.T) {
	f := newAuthFixture(t)

	w := f.login(t, "manager@fleetdesk.test", "correct-horse")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		UserID    string   `json:"userId"`
		Role      string   `json:"role"`
		Features  []string `json:"features"`
		CSRFToken string   `json:"csrfToken"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "user-1", resp.UserID)
	assert.Equal(t, "manager", resp.Role)
	assert.Contains(t, resp.Features, "FEATURE_ORDERS_VIEW")
	assert.NotContains(t, resp.Features, "FEATURE_ADMIN_PANEL")
	assert.NotEmpty(t, resp.CSRFToken)

	// Cookie issued and a resolver bound to that session.
	cookies := w.Result().Cookies()
	require.NotEmpty(t, cookies)
	resolver := f.resolvers.Lookup(f.boundSessionID(t, cookies))
	require.NotNil(t, resolver)
	assert.Equal(t, authz.StateResolved, resolver.State())
}

func (f *authFixture) boundSessionID(t *testing.T, cookies []*http.Cookie) string {
	t.Helper()
	for _, c := range cookies {
		if c.Name == f.sessions.CookieName() && c.Value != "" {
			return c.Value
		}
	}
	t.Fatal("session cookie not set")
	return ""
}

func TestLoginRejectsBadPassword(t *testing.T) {
	f := newAuthFixture(t)

	w := f.login(t, "manager@fleetdesk.test", "wrong-password")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, f.repo.sessions)
}

func TestLoginRejectsUnknownUser(t *testing.T) {
	f := newAuthFixture(t)

	// Unknown accounts get the same answer as bad passwords.
	w := f.login(t, "nobody@fleetdesk.test", "correct-horse")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLoginRejectsInactiveUser(t *testing.T) {
	f := newAuthFixture(t)
	f.repo.users["manager@fleetdesk.test"].IsActive = false

	w := f.login(t, "manager@fleetdesk.test", "correct-horse")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLoginValidatesPayload(t *testing.T) {
	f := newAuthFixture(t)

	w := f.login(t, "not-an-email", "correct-horse")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.login(t, "manager@fleetdesk.test", "short")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLogoutDropsResolverBeforeSessionTeardown(t *testing.T) {
	f := newAuthFixture(t)

	w := f.login(t, "manager@fleetdesk.test", "correct-horse")
	require.Equal(t, http.StatusOK, w.Code)
	sessionID := f.boundSessionID(t, w.Result().Cookies())
	resolver := f.resolvers.Lookup(sessionID)
	require.NotNil(t, resolver)

	req := httptest.NewRequest(http.MethodPost, "/logout", nil)
	for _, c := range w.Result().Cookies() {
		req.AddCookie(c)
	}
	lw := httptest.NewRecorder()
	f.router.ServeHTTP(lw, req)

	assert.Equal(t, http.StatusNoContent, lw.Code)
	assert.Nil(t, f.resolvers.Lookup(sessionID))
	assert.False(t, resolver.Can(authz.FeatureOrdersView))
	assert.Empty(t, f.repo.sessions)
}

func TestMeRequiresAuthentication(t *testing.T) {
	f := newAuthFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMeReturnsIdentityForLiveSession(t *testing.T) {
	f := newAuthFixture(t)

	lw := f.login(t, "manager@fleetdesk.test", "correct-horse")
	require.Equal(t, http.StatusOK, lw.Code)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	for _, c := range lw.Result().Cookies() {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		UserID   string   `json:"userId"`
		Role     string   `json:"role"`
		Features []string `json:"features"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "user-1", resp.UserID)
	assert.Equal(t, "manager", resp.Role)
	// The me endpoint is where clients read the settled feature list.
	assert.Contains(t, resp.Features, string(authz.FeatureOrdersView))
}
