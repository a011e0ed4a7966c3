package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"crewflow/internal/auth"
	"crewflow/internal/store"

	"github.com/google/uuid"
)

type mockUserStore struct {
	users map[string]*store.User // key hash -> user
}

func (m *mockUserStore) CreateUser(ctx context.Context, user *store.User, hashedKey string) error {
	return nil
}

func (m *mockUserStore) GetUserByID(ctx context.Context, id uuid.UUID) (*store.User, error) {
	return nil, store.ErrNotFound
}

func (m *mockUserStore) GetUserByAPIKeyHash(ctx context.Context, hash string) (*store.User, error) {
	if user, ok := m.users[hash]; ok {
		return user, nil
	}
	return nil, store.ErrNotFound
}

func okHandler(t *testing.T, wantUser uuid.UUID) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := UserFromContext(r.Context())
		if !ok {
			t.Error("user missing from context")
		} else if user.ID != wantUser {
			t.Errorf("wrong user in context: %s", user.ID)
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthMiddlewareValidKey(t *testing.T) {
	user := &store.User{ID: uuid.New(), Name: "acme"}
	ms := &mockUserStore{users: map[string]*store.User{
		auth.HashKey("cf_secret"): user,
	}}

	handler := AuthMiddleware(ms)(okHandler(t, user.ID))

	req := httptest.NewRequest(http.MethodGet, "/actions", nil)
	req.Header.Set("Authorization", "Bearer cf_secret")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}
}

func TestAuthMiddlewareMissingHeader(t *testing.T) {
	handler := AuthMiddleware(&mockUserStore{})(okHandler(t, uuid.Nil))

	req := httptest.NewRequest(http.MethodGet, "/actions", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rr.Code)
	}
}

func TestAuthMiddlewareMalformedHeader(t *testing.T) {
	handler := AuthMiddleware(&mockUserStore{})(okHandler(t, uuid.Nil))

	req := httptest.NewRequest(http.MethodGet, "/actions", nil)
	req.Header.Set("Authorization", "Basic abc")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rr.Code)
	}
}

func TestAuthMiddlewareUnknownKey(t *testing.T) {
	ms := &mockUserStore{users: map[string]*store.User{}}
	handler := AuthMiddleware(ms)(okHandler(t, uuid.Nil))

	req := httptest.NewRequest(http.MethodGet, "/actions", nil)
	req.Header.Set("Authorization", "Bearer nope")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rr.Code)
	}
}

func TestRateLimitMiddlewareThrottles(t *testing.T) {
	user := &store.User{ID: uuid.New(), RateLimit: 1, RateLimitBurst: 1}
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := RateLimitMiddleware()(inner)

	ctx := context.WithValue(context.Background(), userKey{}, user)

	first := httptest.NewRequest(http.MethodGet, "/actions", nil).WithContext(ctx)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, first)
	if rr.Code != http.StatusOK {
		t.Fatalf("first request should pass, got %d", rr.Code)
	}

	second := httptest.NewRequest(http.MethodGet, "/actions", nil).WithContext(ctx)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, second)
	if rr.Code != http.StatusTooManyRequests {
		t.Errorf("second request should throttle, got %d", rr.Code)
	}
}

func TestRateLimitMiddlewareUnlimited(t *testing.T) {
	user := &store.User{ID: uuid.New(), RateLimit: 0}
	handler := RateLimitMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	ctx := context.WithValue(context.Background(), userKey{}, user)

	for i := 0; i < 10; i++ {
		req := httptest.NewRequest(http.MethodGet, "/actions", nil).WithContext(ctx)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("unlimited user throttled on request %d", i)
		}
	}
}
