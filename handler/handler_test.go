package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/everstory/authcore/auth/events"
	"github.com/everstory/authcore/auth/repository"
	"github.com/everstory/authcore/auth/service"
	"github.com/everstory/authcore/auth/session"
	"github.com/everstory/authcore/auth/structs"
	"github.com/everstory/authcore/crypto"
	"github.com/everstory/authcore/logging/logger"
	"github.com/everstory/authcore/security/jwt"
)

func init() {
	gin.SetMode(gin.TestMode)
	logger.StandardLogger().SetOutput(io.Discard)
	if err := RegisterValidations(); err != nil {
		panic(err)
	}
}

type memUserRepo struct {
	mu     sync.Mutex
	users  map[string]*structs.User
	nextID int64
}

func (r *memUserRepo) FindByEmail(_ context.Context, email string) (*structs.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[email]; ok {
		return u, nil
	}
	return nil, repository.ErrNotFound
}

func (r *memUserRepo) FindByID(_ context.Context, id int64) (*structs.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *memUserRepo) Promote(_ context.Context, p *structs.PendingUser) (*structs.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[p.Email]; ok {
		return nil, repository.ErrDuplicate
	}
	u := &structs.User{ID: r.nextID, Name: p.Name, Email: p.Email, PasswordHash: p.PasswordHash, Role: structs.RoleUser}
	r.nextID++
	r.users[p.Email] = u
	return u, nil
}

type memPendingRepo struct {
	mu      sync.Mutex
	pending map[string]*structs.PendingUser
}

func (r *memPendingRepo) Create(_ context.Context, p *structs.PendingUser) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pending[p.Email]; ok {
		return repository.ErrDuplicate
	}
	r.pending[p.Email] = p
	return nil
}

func (r *memPendingRepo) FindByEmail(_ context.Context, email string) (*structs.PendingUser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.pending[email]; ok {
		return p, nil
	}
	return nil, repository.ErrNotFound
}

type memLive struct {
	mu   sync.Mutex
	data map[string]*structs.Session
}

func (c *memLive) Get(_ context.Context, f string) (*structs.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data[f], nil
}

func (c *memLive) Set(_ context.Context, f string, s *structs.Session, _ ...time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[f] = s
	return nil
}

func (c *memLive) SetIfAbsent(_ context.Context, f string, s *structs.Session, _ time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.data[f]; ok {
		return false, nil
	}
	c.data[f] = s
	return true, nil
}

func (c *memLive) Delete(_ context.Context, f string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, f)
	return nil
}

type testApp struct {
	engine *gin.Engine
	users  *memUserRepo
}

func newTestApp() *testApp {
	log := logger.StandardLogger()

	users := &memUserRepo{users: make(map[string]*structs.User), nextID: 1}
	pending := &memPendingRepo{pending: make(map[string]*structs.PendingUser)}
	live := &memLive{data: make(map[string]*structs.Session)}
	store := session.NewStore(live, session.NewReplacementPolicy(live), jwt.NewTokenManager("test-secret"), time.Hour, log)
	svc := service.NewService(users, pending, store, events.Noop{}, log)

	engine := gin.New()
	New(svc).RegisterRoutes(engine)
	return &testApp{engine: engine, users: users}
}

func newTestEngine() *gin.Engine {
	return newTestApp().engine
}

func doJSON(t *testing.T, engine *gin.Engine, method, path string, body any, headers map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	var decoded map[string]any
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("decode response %q: %v", w.Body.String(), err)
		}
	}
	return w, decoded
}

func signupAndLogin(t *testing.T, engine *gin.Engine) string {
	t.Helper()

	w, _ := doJSON(t, engine, http.MethodPost, "/auth/signup", gin.H{
		"name": "Alice", "email": "alice@example.com", "password": "s3cretpass1",
	}, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("signup: expected 201, got %d: %s", w.Code, w.Body.String())
	}

	w, body := doJSON(t, engine, http.MethodPost, "/auth/login", gin.H{
		"email": "alice@example.com", "password": "s3cretpass1",
	}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	token, _ := body["access_token"].(string)
	if token == "" {
		t.Fatalf("login response missing access_token: %v", body)
	}
	if tt, _ := body["token_type"].(string); tt != "Bearer" {
		t.Fatalf("expected token_type Bearer, got %q", tt)
	}
	return token
}

func TestSignupLoginMeFlow(t *testing.T) {
	engine := newTestEngine()
	token := signupAndLogin(t, engine)

	w, body := doJSON(t, engine, http.MethodGet, "/auth/me", nil, map[string]string{
		"Authorization": "Bearer " + token,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("me: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if body["email"] != "alice@example.com" || body["role"] != "USER" {
		t.Fatalf("unexpected identity %v", body)
	}
}

func TestSignupValidation(t *testing.T) {
	engine := newTestEngine()

	cases := []gin.H{
		{"name": "Alice", "email": "not-an-email", "password": "s3cretpass1"},
		{"name": "Alice", "email": "alice@example.com", "password": "short1"},
		{"name": "Alice", "email": "alice@example.com", "password": "nodigitshere"},
		{"name": "A", "email": "alice@example.com", "password": "s3cretpass1"},
	}
	for i, body := range cases {
		w, _ := doJSON(t, engine, http.MethodPost, "/auth/signup", body, nil)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("case %d: expected 400, got %d", i, w.Code)
		}
	}
}

func TestSignupDuplicate(t *testing.T) {
	engine := newTestEngine()
	signupAndLogin(t, engine)

	w, _ := doJSON(t, engine, http.MethodPost, "/auth/signup", gin.H{
		"name": "Alice Again", "email": "alice@example.com", "password": "otherpass2",
	}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for duplicate signup, got %d", w.Code)
	}
}

func TestLoginInvalidCredentials(t *testing.T) {
	engine := newTestEngine()
	signupAndLogin(t, engine)

	w, _ := doJSON(t, engine, http.MethodPost, "/auth/login", gin.H{
		"email": "alice@example.com", "password": "wrongpass99",
	}, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestLogoutIsIdempotent(t *testing.T) {
	engine := newTestEngine()
	token := signupAndLogin(t, engine)
	auth := map[string]string{"Authorization": "Bearer " + token}

	w, body := doJSON(t, engine, http.MethodPost, "/auth/logout", nil, auth)
	if w.Code != http.StatusOK {
		t.Fatalf("logout: expected 200, got %d", w.Code)
	}
	if body["message"] != "Logged out" {
		t.Fatalf("unexpected logout message %v", body)
	}

	w, body = doJSON(t, engine, http.MethodPost, "/auth/logout", nil, auth)
	if w.Code != http.StatusOK {
		t.Fatalf("second logout: expected 200, got %d", w.Code)
	}
	if body["message"] != "Already logged out" {
		t.Fatalf("unexpected second logout message %v", body)
	}

	w, _ = doJSON(t, engine, http.MethodGet, "/auth/me", nil, auth)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", w.Code)
	}
}

func TestVerifyAlwaysAnswers200(t *testing.T) {
	engine := newTestEngine()
	token := signupAndLogin(t, engine)

	w, body := doJSON(t, engine, http.MethodGet, "/auth/verify", nil, map[string]string{
		"Authorization": "Bearer " + token,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if body["valid"] != true {
		t.Fatalf("expected valid verdict, got %v", body)
	}

	w, body = doJSON(t, engine, http.MethodGet, "/auth/verify", nil, map[string]string{
		"Authorization": "Bearer garbage",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for invalid token, got %d", w.Code)
	}
	if body["valid"] != false {
		t.Fatalf("expected invalid verdict, got %v", body)
	}

	w, body = doJSON(t, engine, http.MethodGet, "/auth/verify", nil, nil)
	if w.Code != http.StatusOK || body["valid"] != false {
		t.Fatalf("expected 200 invalid for missing header, got %d %v", w.Code, body)
	}
}

func TestMeWithoutToken(t *testing.T) {
	engine := newTestEngine()
	w, _ := doJSON(t, engine, http.MethodGet, "/auth/me", nil, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestStaffUserLookup(t *testing.T) {
	app := newTestApp()
	engine := app.engine

	hash, err := crypto.HashPassword(context.Background(), "adminpass99")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	app.users.mu.Lock()
	app.users.users["root@example.com"] = &structs.User{
		ID: 99, Name: "Root", Email: "root@example.com", PasswordHash: hash, Role: structs.RoleAdmin,
	}
	app.users.mu.Unlock()

	userToken := signupAndLogin(t, engine)

	w, body := doJSON(t, engine, http.MethodPost, "/auth/login", gin.H{
		"email": "root@example.com", "password": "adminpass99",
	}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("admin login: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	adminToken, _ := body["access_token"].(string)
	adminAuth := map[string]string{"Authorization": "Bearer " + adminToken}

	w, body = doJSON(t, engine, http.MethodGet, "/auth/users/1", nil, adminAuth)
	if w.Code != http.StatusOK {
		t.Fatalf("lookup as admin: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if body["email"] != "alice@example.com" {
		t.Fatalf("unexpected user %v", body)
	}

	w, _ = doJSON(t, engine, http.MethodGet, "/auth/users/1", nil, map[string]string{
		"Authorization": "Bearer " + userToken,
	})
	if w.Code != http.StatusForbidden {
		t.Fatalf("lookup as user: expected 403, got %d", w.Code)
	}

	w, _ = doJSON(t, engine, http.MethodGet, "/auth/users/1", nil, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated lookup: expected 401, got %d", w.Code)
	}

	w, _ = doJSON(t, engine, http.MethodGet, "/auth/users/404", nil, adminAuth)
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown id: expected 404, got %d", w.Code)
	}

	w, _ = doJSON(t, engine, http.MethodGet, "/auth/users/not-a-number", nil, adminAuth)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad id: expected 400, got %d", w.Code)
	}
}

func TestTraceStampsRequest(t *testing.T) {
	engine := gin.New()
	engine.Use(Trace())
	engine.GET("/ping", func(c *gin.Context) {
		if logger.GetTraceID(c.Request.Context()) == "" {
			t.Errorf("expected a trace id on the request context")
		}
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Header().Get(HeaderTraceID) == "" {
		t.Fatalf("expected %s header on the response", HeaderTraceID)
	}
}

func TestRequireRole(t *testing.T) {
	admin := &structs.Identity{ID: 1, Email: "root@example.com", Role: structs.RoleAdmin}
	user := &structs.Identity{ID: 2, Email: "user@example.com", Role: structs.RoleUser}

	engine := gin.New()
	engine.GET("/admin", func(c *gin.Context) {
		// Inject identity the way Authenticated would.
		switch c.Query("as") {
		case "admin":
			c.Set(identityKey, admin)
		case "user":
			c.Set(identityKey, user)
		}
	}, RequireRole(structs.RoleAdmin), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	cases := []struct {
		as   string
		want int
	}{
		{"admin", http.StatusOK},
		{"user", http.StatusForbidden},
		{"", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/admin?as="+tc.as, nil)
		engine.ServeHTTP(w, req)
		if w.Code != tc.want {
			t.Fatalf("as=%q: expected %d, got %d", tc.as, tc.want, w.Code)
		}
	}
}
