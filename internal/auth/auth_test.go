package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sparkgate/sparkgate/internal/account"
)

// --- mock store ---

type mockAccountLookup struct {
	accounts map[string]*account.Account
}

func (m *mockAccountLookup) GetByKeyHash(ctx context.Context, hash string) (*account.Account, error) {
	a, ok := m.accounts[hash]
	if !ok {
		return nil, errors.New("not found")
	}
	return a, nil
}

// --- GenerateAPIKey tests ---

func TestGenerateAPIKey_PrefixAndLength(t *testing.T) {
	key, plaintext, err := GenerateAPIKey()
	if err != nil {
		t.Fatalf("GenerateAPIKey() error: %v", err)
	}

	if !strings.HasPrefix(plaintext, "sg_") {
		t.Errorf("plaintext key should start with 'sg_', got %q", plaintext)
	}

	// "sg_" (3) + 32 random chars = 35
	if len(plaintext) != 35 {
		t.Errorf("expected plaintext length 35, got %d", len(plaintext))
	}

	if key.Prefix != plaintext[:14] {
		t.Errorf("expected prefix %q, got %q", plaintext[:14], key.Prefix)
	}

	if key.Hash == "" {
		t.Error("expected non-empty hash")
	}
}

func TestGenerateAPIKey_Uniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		_, plaintext, err := GenerateAPIKey()
		if err != nil {
			t.Fatalf("GenerateAPIKey() error: %v", err)
		}
		if seen[plaintext] {
			t.Fatalf("duplicate key generated: %s", plaintext)
		}
		seen[plaintext] = true
	}
}

// --- HashKey tests ---

func TestHashKey_Deterministic(t *testing.T) {
	key := "sg_testkey1234567890abcdefghij"
	h1 := HashKey(key)
	h2 := HashKey(key)
	if h1 != h2 {
		t.Errorf("HashKey should be deterministic: %q != %q", h1, h2)
	}
}

func TestHashKey_DifferentInputs(t *testing.T) {
	h1 := HashKey("sg_key_aaa")
	h2 := HashKey("sg_key_bbb")
	if h1 == h2 {
		t.Error("different keys should produce different hashes")
	}
}

// --- middleware tests ---

func newAuthedRequest(key string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/api/v1/balance", nil)
	if key != "" {
		r.Header.Set("Authorization", "Bearer "+key)
	}
	return r
}

func TestMiddleware_ValidKey(t *testing.T) {
	key, plaintext, err := GenerateAPIKey()
	if err != nil {
		t.Fatal(err)
	}
	store := &mockAccountLookup{accounts: map[string]*account.Account{
		key.Hash: {ID: "acct-1", Email: "demo@example.com"},
	}}

	var gotAccount *account.Account
	handler := Middleware(NewService(store))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAccount = AccountFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, newAuthedRequest(plaintext))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if gotAccount == nil || gotAccount.ID != "acct-1" {
		t.Errorf("account in context = %+v", gotAccount)
	}
}

func TestMiddleware_Rejections(t *testing.T) {
	store := &mockAccountLookup{accounts: map[string]*account.Account{}}
	handler := Middleware(NewService(store))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be reached")
	}))

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"malformed header", "NotBearer something"},
		{"unknown key", "Bearer sg_unknownkey"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/v1/balance", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, r)

			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", rec.Code)
			}
			var body errorResponse
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decoding error body: %v", err)
			}
			if body.Error.Code != "unauthorized" {
				t.Errorf("error code = %q", body.Error.Code)
			}
		})
	}
}
