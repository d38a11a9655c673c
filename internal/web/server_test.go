package web

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"regexp"
	"slices"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"gitlab.bluewillows.net/root/dnsgate/internal/auth"
	"gitlab.bluewillows.net/root/dnsgate/internal/orchestrator"
	"gitlab.bluewillows.net/root/dnsgate/internal/policy"
	"gitlab.bluewillows.net/root/dnsgate/internal/session"
	"gitlab.bluewillows.net/root/dnsgate/pkg/history"
	"gitlab.bluewillows.net/root/dnsgate/providers/memory"
)

const (
	testUser     = "alice"
	testPassword = "wonderland"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	guard, err := policy.New(policy.Config{
		ForwardZone: "example.com",
		Domains:     []string{"example.com"},
		Subnets:     []string{"10.0.0.0/24"},
	})
	if err != nil {
		t.Fatalf("policy.New() error: %v", err)
	}

	zone := memory.NewZone(nil)
	registry := session.New(zone.Factory(history.NewMemory(0)))
	t.Cleanup(func() { _ = registry.Close() })
	orch := orchestrator.New(guard, registry, orchestrator.WithResolver(zone))

	h, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	verifier, err := auth.Parse(strings.NewReader(testUser + ":" + string(h) + "\n"))
	if err != nil {
		t.Fatalf("auth.Parse() error: %v", err)
	}

	s, err := New(orch, auth.NewMiddleware(verifier))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func do(t *testing.T, ts *httptest.Server, method, path, body string, authed bool) (int, Response) {
	t.Helper()
	req, err := http.NewRequest(method, ts.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		req.SetBasicAuth(testUser, testPassword)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var out Response
	if resp.StatusCode != http.StatusUnauthorized {
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatalf("%s %s: decoding response: %v", method, path, err)
		}
	}
	return resp.StatusCode, out
}

func messages(t *testing.T, r Response) []string {
	t.Helper()
	raw, ok := r.Message.([]any)
	if !ok {
		t.Fatalf("message = %#v, want a list", r.Message)
	}
	out := make([]string, len(raw))
	for i, v := range raw {
		out[i], _ = v.(string)
	}
	return out
}

func TestAPI_AddSearchDelete(t *testing.T) {
	ts := newTestServer(t)

	code, resp := do(t, ts, http.MethodPost, "/api/add", `{"name":"web1","address":"10.0.0.5"}`, true)
	if code != http.StatusOK {
		t.Fatalf("add: code = %d, message = %v", code, resp.Message)
	}
	if got := messages(t, resp); !slices.Contains(got, "Added web1.example.com -> 10.0.0.5") {
		t.Errorf("add changes = %v", got)
	}

	code, resp = do(t, ts, http.MethodGet, "/api/search/web1", "", false)
	if code != http.StatusOK {
		t.Fatalf("search: code = %d", code)
	}
	answers, ok := resp.Message.(map[string]any)
	if !ok {
		t.Fatalf("search message = %#v", resp.Message)
	}
	if got, _ := answers["web1"].([]any); len(got) != 1 || got[0] != "10.0.0.5" {
		t.Errorf("search answers = %v", answers["web1"])
	}

	code, resp = do(t, ts, http.MethodDelete, "/api/delete/web1", "", true)
	if code != http.StatusOK {
		t.Fatalf("delete: code = %d, message = %v", code, resp.Message)
	}
	if got := messages(t, resp); !slices.Contains(got, "Deleted web1.example.com -> 10.0.0.5") {
		t.Errorf("delete changes = %v", got)
	}
}

func TestAPI_Errors(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   string
	}{
		{"domain denied", http.MethodPost, "/api/add", `{"name":"web1.other.com","address":"10.0.0.5"}`, "Error: web1.other.com is not in an allowed domain"},
		{"subnet denied", http.MethodPost, "/api/add", `{"name":"web1","address":"192.168.1.5"}`, "Error: 192.168.1.5 is not in an allowed subnet"},
		{"bad body", http.MethodPost, "/api/add", `{"name":`, "Error: request body is not valid JSON"},
		{"bad count", http.MethodDelete, "/api/range-delete/web1?count=many", "", "Error: count must be a whole number"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, resp := do(t, ts, tt.method, tt.path, tt.body, true)
			if code != http.StatusBadRequest {
				t.Errorf("code = %d, want 400", code)
			}
			if resp.Message != tt.want {
				t.Errorf("message = %v, want %q", resp.Message, tt.want)
			}
		})
	}
}

func TestAPI_RequiresAuth(t *testing.T) {
	ts := newTestServer(t)

	for _, path := range []string{"/api/add", "/api/alias", "/api/range-add"} {
		code, _ := do(t, ts, http.MethodPost, path, `{}`, false)
		if code != http.StatusUnauthorized {
			t.Errorf("POST %s without credentials: code = %d, want 401", path, code)
		}
	}
	if code, _ := do(t, ts, http.MethodGet, "/api/history", "", false); code != http.StatusUnauthorized {
		t.Errorf("GET /api/history without credentials: code = %d, want 401", code)
	}
}

func TestAPI_AliasAndForce(t *testing.T) {
	ts := newTestServer(t)

	do(t, ts, http.MethodPost, "/api/add", `{"name":"web1","addresses":["10.0.0.5"]}`, true)

	code, resp := do(t, ts, http.MethodPost, "/api/alias", `{"alias":"www","target":"web1"}`, true)
	if code != http.StatusOK {
		t.Fatalf("alias: code = %d, message = %v", code, resp.Message)
	}
	if got := messages(t, resp); !slices.Contains(got, "Aliased www.example.com -> web1.example.com") {
		t.Errorf("alias changes = %v", got)
	}

	// Adding different data without force conflicts; replace succeeds.
	if code, _ := do(t, ts, http.MethodPost, "/api/add", `{"name":"web1","address":"10.0.0.6"}`, true); code != http.StatusBadRequest {
		t.Errorf("conflicting add: code = %d, want 400", code)
	}
	code, resp = do(t, ts, http.MethodPut, "/api/replace", `{"name":"web1","address":"10.0.0.6"}`, true)
	if code != http.StatusOK {
		t.Fatalf("replace: code = %d, message = %v", code, resp.Message)
	}
	if got := messages(t, resp); !slices.Contains(got, "Added web1.example.com -> 10.0.0.6") {
		t.Errorf("replace changes = %v", got)
	}
}

func TestAPI_RangeAndHistory(t *testing.T) {
	ts := newTestServer(t)

	code, resp := do(t, ts, http.MethodPost, "/api/range-add", `{"name":"node","address":"10.0.0.10","count":3,"start_index":"01"}`, true)
	if code != http.StatusOK {
		t.Fatalf("range-add: code = %d, message = %v", code, resp.Message)
	}
	if got := messages(t, resp); len(got) != 3 {
		t.Errorf("range-add changes = %v, want 3", got)
	}

	code, resp = do(t, ts, http.MethodDelete, "/api/range-delete/node01?count=3", "", true)
	if code != http.StatusOK {
		t.Fatalf("range-delete: code = %d, message = %v", code, resp.Message)
	}

	code, resp = do(t, ts, http.MethodGet, "/api/history", "", true)
	if code != http.StatusOK {
		t.Fatalf("history: code = %d", code)
	}
	entries, ok := resp.Message.([]any)
	if !ok || len(entries) != 2 {
		t.Fatalf("history = %#v, want 2 entries", resp.Message)
	}
	latest, _ := entries[0].(map[string]any)
	if latest["operation"] != "range-delete" {
		t.Errorf("latest operation = %v, want range-delete", latest["operation"])
	}

	if code, _ := do(t, ts, http.MethodDelete, "/api/history", "", true); code != http.StatusOK {
		t.Errorf("clear history: code = %d", code)
	}
	_, resp = do(t, ts, http.MethodGet, "/api/history", "", true)
	if entries, _ := resp.Message.([]any); len(entries) != 0 {
		t.Errorf("history after clear = %v", entries)
	}
}

func TestAPI_RequestID(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/search/web1")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.Header.Get(RequestIDHeader) == "" {
		t.Error("response has no request id")
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/search/web1", nil)
	req.Header.Set(RequestIDHeader, "abc123")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if got := resp.Header.Get(RequestIDHeader); got != "abc123" {
		t.Errorf("request id = %q, want the caller's id", got)
	}
}

var csrfInput = regexp.MustCompile(`name="gorilla.csrf.Token" value="([^"]+)"`)

// formSession loads a form page the way a browser would and returns a
// client holding the token cookie along with the token to submit.
func formSession(t *testing.T, ts *httptest.Server) (*http.Client, string) {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatal(err)
	}
	client := &http.Client{Jar: jar}

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/search", nil)
	if err != nil {
		t.Fatal(err)
	}
	code, body := sendWith(t, client, req)
	if code != http.StatusOK {
		t.Fatalf("GET /search: code = %d", code)
	}
	m := csrfInput.FindStringSubmatch(body)
	if m == nil {
		t.Fatalf("form page has no csrf field:\n%s", body)
	}
	return client, m[1]
}

func postForm(t *testing.T, ts *httptest.Server, path string, values url.Values, authed bool) (int, string) {
	t.Helper()
	client, token := formSession(t, ts)

	form := url.Values{}
	for k, v := range values {
		form[k] = v
	}
	form.Set("gorilla.csrf.Token", token)

	req, err := http.NewRequest(http.MethodPost, ts.URL+path, strings.NewReader(form.Encode()))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Origin", ts.URL)
	if authed {
		req.SetBasicAuth(testUser, testPassword)
	}
	return sendWith(t, client, req)
}

func get(t *testing.T, ts *httptest.Server, path string, authed bool) (int, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, ts.URL+path, nil)
	if err != nil {
		t.Fatal(err)
	}
	if authed {
		req.SetBasicAuth(testUser, testPassword)
	}
	return send(t, req)
}

func send(t *testing.T, req *http.Request) (int, string) {
	t.Helper()
	return sendWith(t, http.DefaultClient, req)
}

func sendWith(t *testing.T, client *http.Client, req *http.Request) (int, string) {
	t.Helper()
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp.StatusCode, string(body)
}

func TestUI_Pages(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		path   string
		authed bool
		want   int
	}{
		{"/", false, http.StatusOK},
		{"/index", false, http.StatusOK},
		{"/search", false, http.StatusOK},
		{"/search/web1", false, http.StatusOK},
		{"/add", false, http.StatusUnauthorized},
		{"/add", true, http.StatusOK},
		{"/replace", true, http.StatusOK},
		{"/alias", true, http.StatusOK},
		{"/replace-alias", true, http.StatusOK},
		{"/range-add", true, http.StatusOK},
		{"/range-replace", true, http.StatusOK},
		{"/delete", true, http.StatusOK},
		{"/range-delete", true, http.StatusOK},
		{"/history", false, http.StatusUnauthorized},
		{"/history", true, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if code, body := get(t, ts, tt.path, tt.authed); code != tt.want {
				t.Errorf("GET %s: code = %d, want %d\n%s", tt.path, code, tt.want, body)
			}
		})
	}
}

func TestUI_AddAndSearch(t *testing.T) {
	ts := newTestServer(t)

	code, body := postForm(t, ts, "/add", url.Values{"name": {"web1"}, "address": {"10.0.0.5 10.0.0.6"}}, true)
	if code != http.StatusOK {
		t.Fatalf("add: code = %d\n%s", code, body)
	}
	if !strings.Contains(body, "Added web1.example.com -&gt; 10.0.0.6") {
		t.Errorf("add page does not list the change:\n%s", body)
	}

	code, body = postForm(t, ts, "/search", url.Values{"search_terms": {"web1 10.0.0.5"}}, false)
	if code != http.StatusOK {
		t.Fatalf("search: code = %d", code)
	}
	if !strings.Contains(body, "10.0.0.6") || !strings.Contains(body, "web1.example.com") {
		t.Errorf("search page missing answers:\n%s", body)
	}

	code, body = get(t, ts, "/history", true)
	if code != http.StatusOK || !strings.Contains(body, "Added web1.example.com -&gt; 10.0.0.5") {
		t.Errorf("history page: code = %d\n%s", code, body)
	}

	code, body = postForm(t, ts, "/clear-history", url.Values{}, true)
	if code != http.StatusOK || !strings.Contains(body, "No history.") {
		t.Errorf("clear-history: code = %d\n%s", code, body)
	}
}

func TestUI_Errors(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name   string
		path   string
		values url.Values
		want   string
	}{
		{"missing field", "/add", url.Values{"name": {"web1"}}, "Error: address is required"},
		{"policy denial", "/add", url.Values{"name": {"web1.other.com"}, "address": {"10.0.0.5"}}, "Error: web1.other.com is not in an allowed domain"},
		{"bad count", "/range-delete", url.Values{"entry": {"web1"}, "count": {"x"}}, "Error: number of entries must be a whole number"},
		{"nothing to delete", "/delete", url.Values{"entry": {"ghost"}}, "Error: "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := postForm(t, ts, tt.path, tt.values, true)
			if code != http.StatusBadRequest {
				t.Errorf("code = %d, want 400", code)
			}
			if !strings.Contains(body, tt.want) {
				t.Errorf("body does not contain %q:\n%s", tt.want, body)
			}
		})
	}
}

func TestUI_RejectsCrossSiteForms(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name   string
		path   string
		values url.Values
	}{
		{"add", "/add", url.Values{"name": {"evil"}, "address": {"10.0.0.66"}}},
		{"delete", "/delete", url.Values{"entry": {"web1"}}},
		{"range delete", "/range-delete", url.Values{"entry": {"web1"}, "count": {"3"}}},
		{"clear history", "/clear-history", url.Values{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodPost, ts.URL+tt.path, strings.NewReader(tt.values.Encode()))
			if err != nil {
				t.Fatal(err)
			}
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			req.Header.Set("Origin", "https://attacker.example.net")
			req.Header.Set("Sec-Fetch-Site", "cross-site")
			req.SetBasicAuth(testUser, testPassword)

			code, body := send(t, req)
			if code != http.StatusForbidden {
				t.Errorf("code = %d, want 403\n%s", code, body)
			}
		})
	}

	if code, body := get(t, ts, "/search/evil", false); code != http.StatusOK || strings.Contains(body, "10.0.0.66") {
		t.Errorf("rejected add was applied: code = %d\n%s", code, body)
	}
}

func TestUI_RejectsMissingToken(t *testing.T) {
	ts := newTestServer(t)
	client, _ := formSession(t, ts)

	values := url.Values{"name": {"web1"}, "address": {"10.0.0.5"}}
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/add", strings.NewReader(values.Encode()))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(testUser, testPassword)

	code, body := sendWith(t, client, req)
	if code != http.StatusForbidden {
		t.Fatalf("code = %d, want 403", code)
	}
	if !strings.Contains(body, "Error: the form was not submitted from this site") {
		t.Errorf("error page missing message:\n%s", body)
	}
}

func TestAPI_RequiresJSONContentType(t *testing.T) {
	ts := newTestServer(t)

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/add", strings.NewReader(`{"name":"evil","address":"10.0.0.66"}`))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "text/plain")
	req.SetBasicAuth(testUser, testPassword)

	code, body := send(t, req)
	if code != http.StatusBadRequest || !strings.Contains(body, "application/json") {
		t.Errorf("code = %d, body = %s", code, body)
	}
	_, resp := do(t, ts, http.MethodGet, "/api/search/evil", "", false)
	answers, _ := resp.Message.(map[string]any)
	if got, _ := answers["evil"].([]any); len(got) != 0 {
		t.Errorf("text/plain add was applied: %v", got)
	}
}
