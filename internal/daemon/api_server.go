package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"framewise/internal/api"
	"framewise/internal/history"
	"framewise/internal/logging"
	"framewise/internal/queue"
	"framewise/internal/services"
)

const maxRequestBytes = 1 << 20

// backend is the daemon surface the API needs.
type backend interface {
	Status(ctx context.Context) api.DaemonStatus
	Submit(ctx context.Context, req api.SubmitRequest) (string, error)
	Job(id string) (queue.Job, error)
	Jobs(filter queue.Filter) []queue.Job
	History(ctx context.Context, q history.Query) ([]history.Entry, error)
	HistoryEntry(ctx context.Context, id string) (history.Entry, error)
}

type apiServer struct {
	bind    string
	logger  *slog.Logger
	backend backend
	router  *mux.Router

	listener net.Listener
	server   *http.Server
}

func newAPIServer(bind, token string, b backend, logger *slog.Logger) *apiServer {
	bind = strings.TrimSpace(bind)
	if bind == "" {
		return nil
	}
	s := &apiServer{
		bind:    bind,
		logger:  logging.NewComponentLogger(logger, "api"),
		backend: b,
	}
	s.router = s.routes(token)
	s.server = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *apiServer) routes(token string) *mux.Router {
	r := mux.NewRouter()
	r.Use(s.requestIDMiddleware, authMiddleware(token))
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody("route not found", string(services.KindNotFound)))
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody("method not allowed", ""))
	})

	sub := r.PathPrefix("/api").Subrouter()
	sub.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	sub.HandleFunc("/jobs", s.handleSubmit).Methods(http.MethodPost)
	sub.HandleFunc("/jobs", s.handleJobs).Methods(http.MethodGet)
	sub.HandleFunc("/jobs/{id}", s.handleJob).Methods(http.MethodGet)
	sub.HandleFunc("/history", s.handleHistory).Methods(http.MethodGet)
	sub.HandleFunc("/history/{id}", s.handleHistoryEntry).Methods(http.MethodGet)
	return r
}

func (s *apiServer) start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.ErrorWithContext(s.logger, "api server error", "api_serve_failed", logging.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		s.stop()
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
}

func (s *apiServer) address() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.bind
}

func (s *apiServer) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := services.WithRequestID(r.Context(), id)
		logging.WithContext(ctx, s.logger).Debug("api request",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
		)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.backend.Status(r.Context()))
}

func (s *apiServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req api.SubmitRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.writeError(w, r, services.Wrap(services.ErrValidation, "api", "decode", "invalid request body", err))
		return
	}
	if len(req.Payload) == 0 {
		req.Payload = json.RawMessage("{}")
	}
	id, err := s.backend.Submit(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, api.SubmitResponse{ID: id})
}

func (s *apiServer) handleJobs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := queue.Filter{
		Kind:  strings.TrimSpace(query.Get("kind")),
		Class: strings.TrimSpace(query.Get("class")),
	}
	for _, value := range query["status"] {
		status, ok := queue.ParseStatus(value)
		if !ok {
			s.writeError(w, r, services.Wrap(services.ErrValidation, "api", "jobs", fmt.Sprintf("unknown status %q", value), nil))
			return
		}
		filter.Statuses = append(filter.Statuses, status)
	}
	limit, err := parseLimit(query.Get("limit"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	filter.Limit = limit
	jobs := s.backend.Jobs(filter)
	if jobs == nil {
		jobs = []queue.Job{}
	}
	writeJSON(w, http.StatusOK, api.JobListResponse{Jobs: jobs})
}

func (s *apiServer) handleJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.backend.Job(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.JobResponse{Job: job})
}

func (s *apiServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	q := history.Query{Kind: strings.TrimSpace(query.Get("kind"))}
	if raw := strings.TrimSpace(query.Get("status")); raw != "" {
		status, ok := queue.ParseStatus(raw)
		if !ok || !status.IsTerminal() {
			s.writeError(w, r, services.Wrap(services.ErrValidation, "api", "history", fmt.Sprintf("status %q is not terminal", raw), nil))
			return
		}
		q.Status = status
	}
	limit, err := parseLimit(query.Get("limit"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	q.Limit = limit
	entries, err := s.backend.History(r.Context(), q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	writeJSON(w, http.StatusOK, api.HistoryListResponse{Entries: entries})
}

func (s *apiServer) handleHistoryEntry(w http.ResponseWriter, r *http.Request) {
	entry, err := s.backend.HistoryEntry(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.HistoryEntryResponse{Entry: entry})
}

func (s *apiServer) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForError(err)
	if status >= http.StatusInternalServerError {
		logging.ErrorWithContext(logging.WithContext(r.Context(), s.logger), "api request failed", "api_request_failed",
			logging.ErrorAttrs(err)...)
	}
	writeJSON(w, status, errorBody(err.Error(), string(services.KindOf(err))))
}

func statusForError(err error) int {
	switch services.KindOf(err) {
	case services.KindValidation:
		return http.StatusBadRequest
	case services.KindNotFound:
		return http.StatusNotFound
	case services.KindRegistry:
		return http.StatusConflict
	case services.KindConfiguration, services.KindDispatch:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func parseLimit(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, services.Wrap(services.ErrValidation, "api", "limit", fmt.Sprintf("invalid limit %q", raw), err)
	}
	return n, nil
}

func errorBody(message, kind string) api.ErrorResponse {
	return api.ErrorResponse{Error: message, Kind: kind}
}

// writeJSON encodes before writing the header so an unencodable payload
// becomes a 500 instead of a truncated 200.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		buf.Reset()
		status = http.StatusInternalServerError
		_ = json.NewEncoder(&buf).Encode(errorBody("encode response: "+err.Error(), string(services.KindUnknown)))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}
