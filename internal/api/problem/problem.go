package problem

import (
	"encoding/json"
	"net/http"

	"github.com/dalepay/wallet-movements/internal/domain"
)

const contentType = "application/problem+json"
const baseTypeURL = "https://errors.dalepay.dev/"

// Details represents RFC 7807 Problem Details. Violations is an extension
// member listing every field problem of a rejected input.
type Details struct {
	Type       string            `json:"type"`
	Title      string            `json:"title"`
	Status     int               `json:"status"`
	Detail     string            `json:"detail"`
	Instance   string            `json:"instance"`
	RequestID  string            `json:"request_id"`
	Violations domain.Violations `json:"violations,omitempty"`
}

func Type(slug string) string {
	return baseTypeURL + slug
}

// Write sends RFC 7807-compliant errors.
func Write(w http.ResponseWriter, r *http.Request, status int, problemType, title, detail string) {
	write(w, r, Details{Type: problemType, Title: title, Status: status, Detail: detail})
}

// WriteViolations sends a 422 listing each field problem.
func WriteViolations(w http.ResponseWriter, r *http.Request, detail string, violations domain.Violations) {
	write(w, r, Details{
		Type:       Type("validation/invalid-input"),
		Status:     http.StatusUnprocessableEntity,
		Detail:     detail,
		Violations: violations,
	})
}

func write(w http.ResponseWriter, r *http.Request, d Details) {
	if d.Title == "" {
		d.Title = http.StatusText(d.Status)
	}
	if d.Type == "" {
		d.Type = "about:blank"
	}
	if r != nil {
		d.Instance = r.URL.Path
		d.RequestID = r.Header.Get("X-Trace-ID")
	}
	if d.RequestID == "" {
		d.RequestID = w.Header().Get("X-Trace-ID")
	}

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(d.Status)
	_ = json.NewEncoder(w).Encode(d)
}
