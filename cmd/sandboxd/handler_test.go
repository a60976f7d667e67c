package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	sandbox "github.com/jerewy/codejoin-sandbox"
)

// fakeEngine satisfies observer.Executor for handler tests.
type fakeEngine struct {
	result sandbox.Result
	err    error
	langs  []sandbox.LanguageInfo
	health sandbox.HealthSnapshot
}

func (f *fakeEngine) Execute(_ context.Context, _ sandbox.Request) (sandbox.Result, error) {
	return f.result, f.err
}
func (f *fakeEngine) Languages() []sandbox.LanguageInfo { return f.langs }
func (f *fakeEngine) Health() sandbox.HealthSnapshot    { return f.health }

func TestExecuteSuccess(t *testing.T) {
	code := 0
	h := newHandler(&fakeEngine{result: sandbox.Result{Success: true, Stdout: "42\n", ExitCode: &code}})

	req := httptest.NewRequest(http.MethodPost, "/execute",
		strings.NewReader(`{"language":"python","code":"print(42)"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", rec.Code, rec.Body)
	}
	var result sandbox.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if !result.Success || result.Stdout != "42\n" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestExecuteCompileErrorIsStillOK(t *testing.T) {
	code := 1
	h := newHandler(&fakeEngine{result: sandbox.Result{
		Stderr:   "main.go:3: undefined: x",
		ExitCode: &code,
		Phase:    sandbox.PhaseCompile,
	}})

	req := httptest.NewRequest(http.MethodPost, "/execute",
		strings.NewReader(`{"language":"go","code":"package main"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("compile errors are results, not errors: status = %d", rec.Code)
	}
	var result sandbox.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if result.Success || result.Phase != sandbox.PhaseCompile {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestExecuteValidationErrorIs400(t *testing.T) {
	h := newHandler(&fakeEngine{err: &sandbox.ValidationError{Field: "code", Reason: "required"}})

	req := httptest.NewRequest(http.MethodPost, "/execute",
		strings.NewReader(`{"language":"python"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var resp errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if !strings.Contains(resp.Error, "code") {
		t.Fatalf("error body should name the field: %q", resp.Error)
	}
}

func TestExecuteProvisioningErrorIs503(t *testing.T) {
	h := newHandler(&fakeEngine{err: &sandbox.ProvisioningError{Reason: "daemon unavailable, backing off"}})

	req := httptest.NewRequest(http.MethodPost, "/execute",
		strings.NewReader(`{"language":"python","code":"print(1)"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestExecuteInvalidJSON(t *testing.T) {
	h := newHandler(&fakeEngine{})

	req := httptest.NewRequest(http.MethodPost, "/execute", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestExecuteMethodNotAllowed(t *testing.T) {
	h := newHandler(&fakeEngine{})

	req := httptest.NewRequest(http.MethodGet, "/execute", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}

func TestLanguages(t *testing.T) {
	h := newHandler(&fakeEngine{langs: []sandbox.LanguageInfo{
		{ID: "python", DisplayName: "Python 3", FileExtension: ".py"},
		{ID: "rust", DisplayName: "Rust", FileExtension: ".rs"},
	}})

	req := httptest.NewRequest(http.MethodGet, "/languages", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var langs []sandbox.LanguageInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &langs); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if len(langs) != 2 || langs[0].ID != "python" {
		t.Fatalf("unexpected catalog: %+v", langs)
	}
}

func TestHealthAvailable(t *testing.T) {
	h := newHandler(&fakeEngine{health: sandbox.HealthSnapshot{Available: true}})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestHealthUnavailable(t *testing.T) {
	h := newHandler(&fakeEngine{health: sandbox.HealthSnapshot{ConsecutiveFailures: 5}})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	var snap sandbox.HealthSnapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if snap.ConsecutiveFailures != 5 {
		t.Fatalf("snapshot not passed through: %+v", snap)
	}
}
