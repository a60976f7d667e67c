package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	sandbox "github.com/jerewy/codejoin-sandbox"
	"github.com/jerewy/codejoin-sandbox/observer"
)

// maxRequestBodyBytes bounds the JSON envelope; the engine's validator
// applies the real per-field limits.
const maxRequestBodyBytes = 1 << 20 // 1MB

// errorResponse is the JSON body for every non-2xx answer.
type errorResponse struct {
	Error string `json:"error"`
}

func newHandler(engine observer.Executor) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/execute", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		handleExecute(engine, w, r)
	})
	mux.HandleFunc("/languages", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		writeJSON(w, http.StatusOK, engine.Languages())
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		handleHealth(engine, w)
	})
	return mux
}

// handleExecute runs one request. Compile errors, runtime errors, and
// timeouts come back 200 with the result body describing the failure;
// only infrastructure trouble maps to an error status.
func handleExecute(engine observer.Executor, w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var req sandbox.Request
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	result, err := engine.Execute(r.Context(), req)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func handleHealth(engine observer.Executor, w http.ResponseWriter) {
	snap := engine.Health()
	status := http.StatusOK
	if !snap.Available {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, snap)
}

// statusFor maps engine errors onto HTTP statuses: caller mistakes are
// 4xx, infrastructure trouble is 503.
func statusFor(err error) int {
	switch {
	case sandbox.IsValidation(err), errors.Is(err, sandbox.ErrUnsupportedLanguage):
		return http.StatusBadRequest
	case sandbox.IsProvisioning(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "marshal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(data)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{Error: msg})
}
