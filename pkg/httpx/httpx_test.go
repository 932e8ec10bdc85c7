package httpx

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeadersMiddleware(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	for header, want := range map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Cache-Control":          "no-store",
	} {
		if got := rec.Header().Get(header); got != want {
			t.Fatalf("%s = %q, want %q", header, got, want)
		}
	}
}

func TestCORSAllowsListedOrigin(t *testing.T) {
	h := CORSMiddleware("https://app.example.com,https://admin.example.com")(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/v1/policies", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Fatalf("allow-origin = %q", got)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestCORSRejectsPreflightFromUnknownOrigin(t *testing.T) {
	h := CORSMiddleware("https://app.example.com")(okHandler())

	req := httptest.NewRequest(http.MethodOptions, "/v1/validate", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("refusal body must be JSON: %v", err)
	}
	if body["error"] != "origin not allowed" {
		t.Fatalf("body = %v", body)
	}
}

func TestCORSUnknownOriginPlainRequestPassesWithoutHeaders(t *testing.T) {
	h := CORSMiddleware("https://app.example.com")(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("allow-origin leaked: %q", got)
	}
}

func TestCORSPreflightFromAllowedOrigin(t *testing.T) {
	h := CORSMiddleware("https://app.example.com")(okHandler())

	req := httptest.NewRequest(http.MethodOptions, "/v1/validate", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Methods"); got == "" {
		t.Fatal("allow-methods missing on preflight")
	}
}

func TestWriteJSONAndError(t *testing.T) {
	rec := httptest.NewRecorder()
	Error(rec, http.StatusBadRequest, "bad datum")

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content type = %q", ct)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["error"] != "bad datum" {
		t.Fatalf("body = %v", body)
	}
}

func TestErrorKindCarriesBoth(t *testing.T) {
	rec := httptest.NewRecorder()
	ErrorKind(rec, http.StatusBadRequest, "malformed datum", "WRONG_FIELD_COUNT")

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["error"] != "malformed datum" || body["kind"] != "WRONG_FIELD_COUNT" {
		t.Fatalf("body = %v", body)
	}
}

func TestParseCORSPolicy(t *testing.T) {
	p := parseCORSPolicy(" https://a.example.com ,, https://b.example.com ")
	if p.allowAll {
		t.Fatal("allowAll without wildcard")
	}
	if !p.allows("https://a.example.com") || !p.allows("https://b.example.com") {
		t.Fatal("listed origins must be allowed")
	}
	if p.allows("https://c.example.com") {
		t.Fatal("unlisted origin allowed")
	}
	if !parseCORSPolicy("*").allows("https://anything.example.com") {
		t.Fatal("wildcard must allow any origin")
	}
}
