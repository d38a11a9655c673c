package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func hash(t *testing.T, password string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("GenerateFromPassword() error: %v", err)
	}
	return string(h)
}

func testVerifier(t *testing.T) *FileVerifier {
	t.Helper()
	content := "# dnsgate users\n" +
		"alice:" + hash(t, "wonderland") + "\n" +
		"\n" +
		"bob:" + hash(t, "builder") + "\n"
	v, err := Parse(strings.NewReader(content))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	return v
}

func TestParse(t *testing.T) {
	v := testVerifier(t)
	if got := v.Users(); !slices.Equal(got, []string{"alice", "bob"}) {
		t.Errorf("Users() = %v", got)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing colon", "alice\n"},
		{"empty hash", "alice:\n"},
		{"plain text password", "alice:wonderland\n"},
		{"empty user", ":$2a$04$abcdefghijklmnopqrstuu\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.content))
			if !errors.Is(err, ErrInvalidUsersFile) {
				t.Errorf("Parse() error = %v, want ErrInvalidUsersFile", err)
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users")
	if err := os.WriteFile(path, []byte("carol:"+hash(t, "secret")+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	v, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error: %v", err)
	}
	if !v.Verify(context.Background(), "carol", "secret") {
		t.Error("Verify() = false for valid credentials")
	}

	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestVerify(t *testing.T) {
	v := testVerifier(t)
	ctx := context.Background()

	tests := []struct {
		user, password string
		want           bool
	}{
		{"alice", "wonderland", true},
		{"bob", "builder", true},
		{"alice", "builder", false},
		{"mallory", "wonderland", false},
		{"alice", "", false},
	}
	for _, tt := range tests {
		if got := v.Verify(ctx, tt.user, tt.password); got != tt.want {
			t.Errorf("Verify(%q, %q) = %v, want %v", tt.user, tt.password, got, tt.want)
		}
	}
}

func TestUserFrom(t *testing.T) {
	if _, ok := UserFrom(context.Background()); ok {
		t.Error("UserFrom() on empty context reported a user")
	}
	user, ok := UserFrom(WithUser(context.Background(), "alice"))
	if !ok || user != "alice" {
		t.Errorf("UserFrom() = %q, %v", user, ok)
	}
}

func echoUser() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, _ := UserFrom(r.Context())
		_, _ = w.Write([]byte(user))
	})
}

func TestRequire(t *testing.T) {
	m := NewMiddleware(testVerifier(t))
	h := m.Require(echoUser())

	tests := []struct {
		name     string
		user     string
		password string
		setAuth  bool
		wantCode int
		wantBody string
	}{
		{"valid", "alice", "wonderland", true, http.StatusOK, "alice"},
		{"wrong password", "alice", "nope", true, http.StatusUnauthorized, ""},
		{"no credentials", "", "", false, http.StatusUnauthorized, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/add", nil)
			if tt.setAuth {
				req.SetBasicAuth(tt.user, tt.password)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if tt.wantCode == http.StatusUnauthorized {
				if got := rec.Header().Get("WWW-Authenticate"); got != `Basic realm="dnsgate"` {
					t.Errorf("WWW-Authenticate = %q", got)
				}
				return
			}
			if rec.Body.String() != tt.wantBody {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestIdentify(t *testing.T) {
	m := NewMiddleware(testVerifier(t), WithRealm("dns"))
	h := m.Identify(echoUser())

	req := httptest.NewRequest(http.MethodGet, "/search", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "" {
		t.Errorf("anonymous: status %d body %q", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/search", nil)
	req.SetBasicAuth("bob", "builder")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Body.String() != "bob" {
		t.Errorf("identified: body %q, want bob", rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/search", nil)
	req.SetBasicAuth("bob", "wrong")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "" {
		t.Errorf("bad credentials: status %d body %q", rec.Code, rec.Body.String())
	}
}
