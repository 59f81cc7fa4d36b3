// Package web serves the status dashboard and the JSON attempt surface.
package web

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/csrf"
	"github.com/rs/zerolog"

	"github.com/mailsweep/mailsweep/internal/ledger"
)

// Enqueuer submits unsubscribe jobs. Satisfied by *worker.Runner.
type Enqueuer interface {
	Enqueue(messageID string) (string, error)
}

type Server struct {
	ledger   *ledger.Store
	enqueuer Enqueuer
	logger   zerolog.Logger
	tmpl     *template.Template
	csrfKey  []byte
}

func NewServer(led *ledger.Store, enqueuer Enqueuer, logger zerolog.Logger) (*Server, error) {
	csrfKey := make([]byte, 32)
	if _, err := rand.Read(csrfKey); err != nil {
		return nil, fmt.Errorf("failed to generate CSRF key: %w", err)
	}

	tmpl, err := template.New("dashboard").Funcs(template.FuncMap{
		"formatTime": func(t time.Time) string {
			if t.IsZero() {
				return "-"
			}
			return t.Format("Jan 2, 2006 3:04 PM")
		},
	}).Parse(dashboardTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse dashboard template: %w", err)
	}

	return &Server{
		ledger:   led,
		enqueuer: enqueuer,
		logger:   logger,
		tmpl:     tmpl,
		csrfKey:  csrfKey,
	}, nil
}

// Router builds the HTTP routing table. The HTML surface is CSRF-protected;
// the read-only JSON API and health check are not.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	csrfMiddleware := csrf.Protect(
		s.csrfKey,
		csrf.Secure(false), // localhost tool, no TLS
		csrf.Path("/"),
		csrf.HttpOnly(true),
		csrf.SameSite(csrf.SameSiteLaxMode),
	)

	r.Group(func(r chi.Router) {
		r.Use(csrfMiddleware)
		r.Get("/", s.handleDashboard)
		r.Post("/unsubscribe", s.handleUnsubscribe)
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/attempts", s.handleAPIAttempts)
		r.Get("/attempts/{messageID}", s.handleAPIAttemptLatest)
	})

	r.Get("/healthz", s.handleHealthz)

	return r
}

// ListenAndServe blocks serving HTTP on addr.
func (s *Server) ListenAndServe(addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	s.logger.Info().Str("addr", addr).Msg("web server listening")
	return srv.ListenAndServe()
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	attempts, err := s.ledger.Recent(50)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to load attempts")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	total, succeeded, failed, err := s.ledger.Stats()
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	data := map[string]any{
		"Attempts":  attempts,
		"Total":     total,
		"Succeeded": succeeded,
		"Failed":    failed,
		"CSRFField": csrf.TemplateField(r),
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.tmpl.Execute(w, data); err != nil {
		s.logger.Error().Err(err).Msg("failed to render dashboard")
	}
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	messageID := r.PostFormValue("message_id")
	if messageID == "" {
		http.Error(w, "message_id is required", http.StatusBadRequest)
		return
	}

	jobID, err := s.enqueuer.Enqueue(messageID)
	if err != nil {
		s.logger.Warn().Err(err).Str("message", messageID).Msg("enqueue failed")
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	s.logger.Info().Str("job", jobID).Str("message", messageID).Msg("unsubscribe enqueued")
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

type attemptJSON struct {
	JobID       string `json:"job_id"`
	MessageID   string `json:"message_id"`
	TargetURL   string `json:"url,omitempty"`
	Status      string `json:"status"`
	Method      string `json:"method,omitempty"`
	Detail      string `json:"error,omitempty"`
	AttemptedAt string `json:"attempted_at,omitempty"`
	CompletedAt string `json:"completed_at,omitempty"`
}

func toAttemptJSON(a ledger.Attempt) attemptJSON {
	out := attemptJSON{
		JobID:     a.JobID,
		MessageID: a.MessageID,
		TargetURL: a.TargetURL,
		Status:    string(a.Status),
		Method:    a.Method,
		Detail:    a.Detail,
	}
	if !a.AttemptedAt.IsZero() {
		out.AttemptedAt = a.AttemptedAt.Format(time.RFC3339)
	}
	if !a.CompletedAt.IsZero() {
		out.CompletedAt = a.CompletedAt.Format(time.RFC3339)
	}
	return out
}

func (s *Server) handleAPIAttempts(w http.ResponseWriter, r *http.Request) {
	attempts, err := s.ledger.Recent(100)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to load attempts")
		return
	}

	out := make([]attemptJSON, 0, len(attempts))
	for _, a := range attempts {
		out = append(out, toAttemptJSON(a))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAPIAttemptLatest(w http.ResponseWriter, r *http.Request) {
	messageID := chi.URLParam(r, "messageID")

	attempt, err := s.ledger.LatestFor(messageID)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to load attempt")
		return
	}
	if attempt == nil {
		writeJSONError(w, http.StatusNotFound, "no attempts for message")
		return
	}
	writeJSON(w, http.StatusOK, toAttemptJSON(*attempt))
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

const dashboardTemplate = `<!DOCTYPE html>
<html>
<head>
<title>mailsweep</title>
<style>
body { font-family: -apple-system, sans-serif; max-width: 960px; margin: 2rem auto; padding: 0 1rem; color: #222; }
table { border-collapse: collapse; width: 100%; }
th, td { text-align: left; padding: 0.4rem 0.6rem; border-bottom: 1px solid #ddd; font-size: 0.9rem; }
.status-success { color: #1a7f37; }
.status-failed { color: #cf222e; }
.stats { display: flex; gap: 2rem; margin: 1rem 0; }
form { margin: 1rem 0; }
input[type=text] { padding: 0.3rem; width: 20rem; }
</style>
</head>
<body>
<h1>mailsweep</h1>
<div class="stats">
	<div><strong>{{.Total}}</strong> attempts</div>
	<div class="status-success"><strong>{{.Succeeded}}</strong> succeeded</div>
	<div class="status-failed"><strong>{{.Failed}}</strong> failed</div>
</div>
<form method="post" action="/unsubscribe">
	{{.CSRFField}}
	<input type="text" name="message_id" placeholder="Message ID">
	<button type="submit">Unsubscribe</button>
</form>
<table>
<tr><th>Message</th><th>Status</th><th>Method</th><th>Detail</th><th>When</th></tr>
{{range .Attempts}}
<tr>
	<td>{{.MessageID}}</td>
	<td class="status-{{.Status}}">{{.Status}}</td>
	<td>{{.Method}}</td>
	<td>{{.Detail}}</td>
	<td>{{formatTime .CompletedAt}}</td>
</tr>
{{end}}
</table>
</body>
</html>`
