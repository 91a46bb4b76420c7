package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func newTestRouter(t *testing.T, f *fixture, baseURL string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	h := NewHandler(f.svc, baseURL, slog.New(slog.NewTextHandler(io.Discard, nil)))
	r := gin.New()
	h.Register(r.Group("/api/auth"))
	return r
}

func doJSON(r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		payload, _ := json.Marshal(body)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", w.Body.String(), err)
	}
	return out
}

func TestHandler_SignupFlow(t *testing.T) {
	f := newFixture(t, Options{})
	r := newTestRouter(t, f, "")

	w := doJSON(r, http.MethodPost, "/api/auth/signup", gin.H{"email": "a@x.com", "password": "secret1"})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	if body["email"] != "a@x.com" || body["id"] == nil {
		t.Fatalf("unexpected body %v", body)
	}
	if v, ok := body["avatar_url"]; !ok || v != nil {
		t.Fatalf("expected avatar_url null, got %v", body)
	}
	if _, leaked := body["password_hash"]; leaked {
		t.Fatalf("password hash must not be returned")
	}
	if got := f.mailer.last().baseURL; got != "http://example.com" {
		t.Fatalf("expected base url derived from request, got %q", got)
	}

	w = doJSON(r, http.MethodPost, "/api/auth/signup", gin.H{"email": "a@x.com", "password": "secret2"})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

func TestHandler_SignupValidation(t *testing.T) {
	f := newFixture(t, Options{})
	r := newTestRouter(t, f, "")

	cases := []gin.H{
		{"email": "not-an-email", "password": "secret1"},
		{"email": "a@x.com", "password": "123"},
		{"email": "a@x.com", "password": strings.Repeat("p", 73)},
		{"password": "secret1"},
	}
	for _, c := range cases {
		if w := doJSON(r, http.MethodPost, "/api/auth/signup", c); w.Code != http.StatusBadRequest {
			t.Fatalf("expected 400 for %v, got %d", c, w.Code)
		}
	}
}

func TestHandler_SignupMultibytePasswordOverByteLimit(t *testing.T) {
	f := newFixture(t, Options{})
	r := newTestRouter(t, f, "")

	// 40 个字符，80 字节：通过字符数校验，但超出 bcrypt 的 72 字节上限。
	w := doJSON(r, http.MethodPost, "/api/auth/signup", gin.H{"email": "a@x.com", "password": strings.Repeat("é", 40)})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
	if decode(t, w)["error"] != "password must not exceed 72 bytes" {
		t.Fatalf("unexpected error body %s", w.Body.String())
	}
	if _, err := f.users.FindByEmail(context.Background(), "a@x.com"); err == nil {
		t.Fatalf("user must not be created")
	}

	w = doJSON(r, http.MethodPost, "/api/auth/signup", gin.H{"email": "b@x.com", "password": strings.Repeat("é", 36)})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201 at exactly 72 bytes, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandler_SigninLifecycle(t *testing.T) {
	f := newFixture(t, Options{})
	r := newTestRouter(t, f, "https://cb.example.com")

	doJSON(r, http.MethodPost, "/api/auth/signup", gin.H{"email": "a@x.com", "password": "secret1"})
	if got := f.mailer.last().baseURL; got != "https://cb.example.com" {
		t.Fatalf("expected configured base url, got %q", got)
	}

	w := doJSON(r, http.MethodPost, "/api/auth/signin", gin.H{"email": "a@x.com", "password": "secret1"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 before confirmation, got %d", w.Code)
	}
	if decode(t, w)["error"] != "Email is not verified" {
		t.Fatalf("unexpected error body %s", w.Body.String())
	}
	if w.Header().Get("WWW-Authenticate") != "Bearer" {
		t.Fatalf("expected WWW-Authenticate header on unverified signin")
	}

	w = doJSON(r, http.MethodGet, "/api/auth/confirm-email/"+f.mailer.last().token, nil)
	if w.Code != http.StatusOK || decode(t, w)["message"] != "Email confirmed" {
		t.Fatalf("expected confirmation, got %d %s", w.Code, w.Body.String())
	}

	w = doJSON(r, http.MethodPost, "/api/auth/signin", gin.H{"email": "a@x.com", "password": "secret1"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	tokens := decode(t, w)
	access, _ := tokens["access_token"].(string)
	refresh, _ := tokens["refresh_token"].(string)
	if access == "" || refresh == "" || access == refresh || tokens["token_type"] != "bearer" {
		t.Fatalf("unexpected token body %v", tokens)
	}

	w = doJSON(r, http.MethodPost, "/api/auth/refresh", gin.H{"refresh_token": refresh})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 from refresh, got %d", w.Code)
	}
	refreshed := decode(t, w)
	if refreshed["refresh_token"] != refresh || refreshed["access_token"] == access {
		t.Fatalf("unexpected refresh body %v", refreshed)
	}
}

func TestHandler_SigninOAuth2Form(t *testing.T) {
	f := newFixture(t, Options{})
	f.signupVerified(t, "a@x.com", "secret1")
	r := newTestRouter(t, f, "")

	form := url.Values{"username": {"a@x.com"}, "password": {"secret1"}}
	req := httptest.NewRequest(http.MethodPost, "/api/auth/signin", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandler_SigninWrongPassword(t *testing.T) {
	f := newFixture(t, Options{})
	f.signupVerified(t, "a@x.com", "secret1")
	r := newTestRouter(t, f, "")

	for _, body := range []gin.H{
		{"email": "a@x.com", "password": "nope"},
		{"email": "ghost@x.com", "password": "secret1"},
	} {
		w := doJSON(r, http.MethodPost, "/api/auth/signin", body)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", w.Code)
		}
		if w.Header().Get("WWW-Authenticate") != "Bearer" {
			t.Fatalf("expected WWW-Authenticate header")
		}
		if decode(t, w)["error"] != "Incorrect email or password" {
			t.Fatalf("unexpected error body %s", w.Body.String())
		}
	}
}

func TestHandler_InvalidTokens(t *testing.T) {
	f := newFixture(t, Options{})
	r := newTestRouter(t, f, "")

	w := doJSON(r, http.MethodPost, "/api/auth/refresh", gin.H{"refresh_token": "garbage_string"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 from refresh, got %d", w.Code)
	}

	w = doJSON(r, http.MethodGet, "/api/auth/confirm-email/garbage", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 from confirm, got %d", w.Code)
	}
}

func TestHandler_RequestConfirmationEmailIsGeneric(t *testing.T) {
	f := newFixture(t, Options{})
	r := newTestRouter(t, f, "")
	doJSON(r, http.MethodPost, "/api/auth/signup", gin.H{"email": "a@x.com", "password": "secret1"})

	known := doJSON(r, http.MethodPost, "/api/auth/request-confirmation-email", gin.H{"email": "a@x.com"})
	unknown := doJSON(r, http.MethodPost, "/api/auth/request-confirmation-email", gin.H{"email": "ghost@x.com"})
	if known.Code != http.StatusOK || unknown.Code != http.StatusOK {
		t.Fatalf("expected 200 for both, got %d / %d", known.Code, unknown.Code)
	}
	if known.Body.String() != unknown.Body.String() {
		t.Fatalf("expected identical responses, got %s / %s", known.Body.String(), unknown.Body.String())
	}
}
