package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dalemusser/coedit/internal/app/system/auth"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// TestSecret signs tokens in handler tests.
const TestSecret = "coedit-test-secret-0123456789abcdef"

// TestUser represents user data for testing HTTP handlers.
type TestUser struct {
	ID   string
	Name string
}

// NewUser returns a TestUser with a fresh id.
func NewUser(name string) TestUser {
	return TestUser{ID: primitive.NewObjectID().Hex(), Name: name}
}

// WithUser adds a user to the request context for testing authenticated handlers.
// This bypasses the bearer middleware and injects the user directly.
func WithUser(r *http.Request, user TestUser) *http.Request {
	return auth.WithTestUser(r, &auth.User{ID: user.ID, Name: user.Name})
}

// Token issues a bearer token for user signed with TestSecret.
func Token(t *testing.T, user TestUser) string {
	t.Helper()
	tok, err := auth.Issue(TestSecret, "", user.ID, user.Name, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return tok
}

// NewRequest creates an HTTP request for testing.
func NewRequest(method, target string) *http.Request {
	return httptest.NewRequest(method, target, nil)
}

// JSONRequest creates a request with v encoded as its JSON body.
func JSONRequest(t *testing.T, method, target string, v any) *http.Request {
	t.Helper()
	var body io.Reader
	if v != nil {
		b, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		body = bytes.NewReader(b)
	}
	r := httptest.NewRequest(method, target, body)
	r.Header.Set("Content-Type", "application/json")
	return r
}

// DecodeJSON decodes a recorder's body into v.
func DecodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}
