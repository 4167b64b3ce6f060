package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"calimport/internal/config"
	"calimport/internal/ics"
	"calimport/internal/importer"
	appLog "calimport/internal/log"
	"calimport/internal/model"
	"calimport/internal/store"
	"calimport/internal/subscribe"
	"calimport/internal/validate"
)

// Server exposes the import pipeline over HTTP.
type Server struct {
	cfg      *config.Config
	importer *importer.Importer
	store    *store.Store
	// watcher is optional; without it /api/refresh answers 404.
	watcher *subscribe.Watcher
	mux     *http.ServeMux
}

// NewServer constructs a new Server. watcher may be nil.
func NewServer(cfg *config.Config, im *importer.Importer, st *store.Store, watcher *subscribe.Watcher) *Server {
	s := &Server{
		cfg:      cfg,
		importer: im,
		store:    st,
		watcher:  watcher,
		mux:      http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured. An empty
// username or password disables it.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="calimport", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Serve runs the HTTP server on cfg.Listen until ctx is canceled, then
// shuts it down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	appLog.Info("HTTP server stopped")
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("POST /api/import", s.handleImport)
	s.mux.HandleFunc("GET /api/objects", s.handleObjects)
	s.mux.HandleFunc("GET /api/objects/{uri}", s.handleObject)
	s.mux.HandleFunc("POST /api/refresh", s.handleRefresh)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// importResponse is the JSON response shape for /api/import.
type importResponse struct {
	Calendar string               `json:"calendar"`
	Format   model.Format         `json:"format"`
	Created  int                  `json:"created"`
	Updated  int                  `json:"updated"`
	Exists   int                  `json:"exists"`
	Invalid  int                  `json:"invalid"`
	Failed   int                  `json:"failed"`
	Objects  []model.ObjectResult `json:"objects"`
	Error    string               `json:"error,omitempty"`
}

// handleImport imports the request body.
//
// POST /api/import?format=ical&calendar=work&supersede=1
//   - format:    ical, xcal or jcal; falls back to the Content-Type, then
//     the configured default
//   - calendar:  destination calendar (default from config)
//   - supersede: replace objects whose UID already exists
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	format := q.Get("format")
	if format == "" {
		// Content types that name no calendar format are ignored.
		if _, err := model.ParseFormat(mediaType(r.Header.Get("Content-Type"))); err == nil {
			format = mediaType(r.Header.Get("Content-Type"))
		}
	}

	opts, err := s.cfg.ImportOptions(format, q.Get("calendar"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if v := q.Get("supersede"); v != "" {
		opts.Supersede = parseBool(v)
	}

	appLog.Info("api import request", "format", opts.Format, "calendar", opts.Calendar, "supersede", opts.Supersede)

	res, err := s.importer.Import(r.Context(), r.Body, s.store, opts)
	resp := importResponse{Calendar: opts.Calendar, Format: opts.Format, Objects: []model.ObjectResult{}}
	if res != nil {
		resp.Objects = res.Objects
		resp.Created = res.Count(model.OutcomeCreated)
		resp.Updated = res.Count(model.OutcomeUpdated)
		resp.Exists = res.Count(model.OutcomeExists)
		resp.Invalid = res.Count(model.OutcomeInvalid)
		resp.Failed = res.Count(model.OutcomeError)
	}
	if err != nil {
		appLog.Error("api import failed", err, "calendar", opts.Calendar)
		resp.Error = err.Error()
		writeJSON(w, statusFor(err), resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleObjects lists stored objects.
//
// GET /api/objects?calendar=work
func (s *Server) handleObjects(w http.ResponseWriter, r *http.Request) {
	calendar := r.URL.Query().Get("calendar")
	if calendar == "" {
		calendar = s.cfg.Calendar
	}
	objs, err := s.store.Backend.List(r.Context(), calendar)
	if err != nil {
		appLog.Error("api objects: list failed", err, "calendar", calendar)
		writeError(w, http.StatusInternalServerError, "failed to list objects")
		return
	}
	writeJSON(w, http.StatusOK, objs)
}

// handleObject returns one stored object as iCalendar text.
//
// GET /api/objects/{uri}?calendar=work
func (s *Server) handleObject(w http.ResponseWriter, r *http.Request) {
	calendar := r.URL.Query().Get("calendar")
	if calendar == "" {
		calendar = s.cfg.Calendar
	}
	obj, found, err := s.store.Backend.Get(r.Context(), calendar, r.PathValue("uri"))
	if err != nil {
		appLog.Error("api object: get failed", err, "calendar", calendar)
		writeError(w, http.StatusInternalServerError, "failed to load object")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "object not found")
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("ETag", obj.ETag)
	w.Header().Set("Last-Modified", obj.LastModified.Format(http.TimeFormat))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(obj.Data))
}

// handleRefresh re-imports all subscriptions now.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.watcher == nil {
		writeError(w, http.StatusNotFound, "no subscriptions configured")
		return
	}
	if err := s.watcher.RunOnce(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusFor maps import failures to HTTP status codes.
func statusFor(err error) int {
	var verr *validate.Error
	switch {
	case errors.Is(err, ics.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, ics.ErrStructure), errors.As(err, &verr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

// mediaType strips parameters from a Content-Type value.
func mediaType(ct string) string {
	mt, _, _ := strings.Cut(ct, ";")
	return strings.TrimSpace(mt)
}

func parseBool(s string) bool {
	b, err := strconv.ParseBool(s)
	if err != nil {
		return strings.EqualFold(s, "yes") || strings.EqualFold(s, "on")
	}
	return b
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
