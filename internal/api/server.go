// Package api exposes HTTP endpoints for photo submission, request status,
// and ledger reports.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Jekudy/nutrition-bot/internal/config"
	"github.com/Jekudy/nutrition-bot/internal/ingest"
	"github.com/Jekudy/nutrition-bot/internal/model"
	"github.com/Jekudy/nutrition-bot/internal/pipeline"
	"github.com/Jekudy/nutrition-bot/internal/report"
)

// Dispatcher hands an accepted request to whichever worker backend is
// configured: the asynq queue or the in-process pool.
type Dispatcher interface {
	Dispatch(ctx context.Context, requestID string) error
}

// ProfileStore is the thin write surface the user-configuration collaborator
// calls.
type ProfileStore interface {
	UpsertProfile(ctx context.Context, profile model.UserProfile) error
}

// Server wires HTTP routes to the pipeline components.
type Server struct {
	cfg        *config.Config
	gateway    *ingest.Gateway
	dispatcher Dispatcher
	requests   pipeline.RequestStore
	reports    *report.Generator
	profiles   ProfileStore
	server     *http.Server
}

// New constructs a Server.
func New(cfg *config.Config, gateway *ingest.Gateway, dispatcher Dispatcher, requests pipeline.RequestStore, reports *report.Generator, profiles ProfileStore) *Server {
	return &Server{
		cfg:        cfg,
		gateway:    gateway,
		dispatcher: dispatcher,
		requests:   requests,
		reports:    reports,
		profiles:   profiles,
	}
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/photos", s.handlePhotos)
	mux.HandleFunc("/photos/", s.handlePhotoRoute)
	mux.HandleFunc("/reports/daily", s.handleDailyReport)
	mux.HandleFunc("/reports/range", s.handleRangeReport)
	mux.HandleFunc("/profiles/", s.handleProfile)
	s.server = &http.Server{
		Addr:    s.cfg.Address,
		Handler: loggingMiddleware(mux),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()
	log.Printf("api listening on %s", s.cfg.Address)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePhotos(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxImageBytes+4096)
	if err := r.ParseMultipartForm(s.cfg.MaxImageBytes); err != nil {
		http.Error(w, "expecting multipart form within size limit", http.StatusBadRequest)
		return
	}
	userID, err := strconv.ParseInt(r.FormValue("user_id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid user_id", http.StatusBadRequest)
		return
	}
	var capturedAt time.Time
	if raw := r.FormValue("captured_at"); raw != "" {
		capturedAt, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, "captured_at must be RFC3339", http.StatusBadRequest)
			return
		}
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "missing file field", http.StatusBadRequest)
		return
	}
	defer file.Close()
	image, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "read file", http.StatusBadRequest)
		return
	}

	req, _, err := s.gateway.Submit(ctx, userID, image, capturedAt)
	if err != nil {
		var validationErr *ingest.ValidationError
		if errors.As(err, &validationErr) {
			http.Error(w, validationErr.Error(), http.StatusBadRequest)
			return
		}
		log.Printf("submit failed: %v", err)
		http.Error(w, "failed to accept submission", http.StatusInternalServerError)
		return
	}
	// Dispatch whenever the request is still PENDING, not only on first
	// insert: a resubmission that dedupes onto a request whose earlier
	// dispatch was lost re-enqueues it instead of acknowledging dead work.
	if req.Status == model.StatusPending {
		if err := s.dispatcher.Dispatch(ctx, req.ID); err != nil {
			log.Printf("dispatch %s failed: %v", req.ID, err)
			if _, terr := s.requests.TransitionRequest(ctx, req.ID,
				[]model.RequestStatus{model.StatusPending}, model.StatusFailed,
				"analysis is temporarily unavailable, please try again later"); terr != nil {
				log.Printf("mark failed for %s: %v", req.ID, terr)
			}
			http.Error(w, "failed to queue analysis", http.StatusInternalServerError)
			return
		}
	}
	respondJSON(w, http.StatusAccepted, map[string]string{
		"request_id": req.ID,
		"status":     string(req.Status),
	})
}

func (s *Server) handlePhotoRoute(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/photos/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}
	switch r.Method {
	case http.MethodGet:
		s.handlePhotoStatus(w, r, id)
	case http.MethodDelete:
		s.handlePhotoCancel(w, r, id)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handlePhotoStatus(w http.ResponseWriter, r *http.Request, id string) {
	req, err := s.requests.GetRequest(r.Context(), id)
	if err != nil {
		http.Error(w, "request not found", http.StatusNotFound)
		return
	}
	respondJSON(w, http.StatusOK, req)
}

func (s *Server) handlePhotoCancel(w http.ResponseWriter, r *http.Request, id string) {
	cancelled, err := s.requests.TransitionRequest(r.Context(), id,
		[]model.RequestStatus{model.StatusPending, model.StatusAnalyzing},
		model.StatusFailed, "cancelled by user")
	if err != nil {
		http.Error(w, "request not found", http.StatusNotFound)
		return
	}
	if !cancelled {
		http.Error(w, "request already finished", http.StatusConflict)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": string(model.StatusFailed)})
}

func (s *Server) handleDailyReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid user_id", http.StatusBadRequest)
		return
	}
	day := model.Day(r.URL.Query().Get("date"))
	if _, err := day.Time(); err != nil {
		http.Error(w, "date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	rep, err := s.reports.Daily(r.Context(), userID, day)
	if err != nil {
		log.Printf("daily report failed: %v", err)
		http.Error(w, "failed to build report", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, rep)
}

func (s *Server) handleRangeReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid user_id", http.StatusBadRequest)
		return
	}
	from := model.Day(r.URL.Query().Get("from"))
	to := model.Day(r.URL.Query().Get("to"))
	rep, err := s.reports.Range(r.Context(), userID, from, to)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to build report: %v", err), http.StatusBadRequest)
		return
	}
	respondJSON(w, http.StatusOK, rep)
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, err := strconv.ParseInt(strings.TrimPrefix(r.URL.Path, "/profiles/"), 10, 64)
	if err != nil || userID <= 0 {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return
	}
	var body struct {
		Timezone           string `json:"timezone"`
		DailyCalorieTarget *int   `json:"dailyCalorieTarget"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if body.Timezone != "" {
		if _, err := time.LoadLocation(body.Timezone); err != nil {
			http.Error(w, "unknown timezone", http.StatusBadRequest)
			return
		}
	}
	profile := model.UserProfile{
		UserID:             userID,
		Timezone:           body.Timezone,
		DailyCalorieTarget: body.DailyCalorieTarget,
	}
	if err := s.profiles.UpsertProfile(r.Context(), profile); err != nil {
		log.Printf("upsert profile %d failed: %v", userID, err)
		http.Error(w, "failed to store profile", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, profile)
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode response: %v", err)
	}
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get("X-Trace-Id")
		if traceID == "" {
			traceID = uuid.NewString()
		}
		w.Header().Set("X-Trace-Id", traceID)
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s trace=%s (%s)", r.Method, r.URL.Path, traceID, time.Since(start))
	})
}
