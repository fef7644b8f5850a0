package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/phrazzld/pomo-api/internal/api/shared"
	"github.com/phrazzld/pomo-api/internal/domain"
	"github.com/phrazzld/pomo-api/internal/platform/logger"
	"github.com/phrazzld/pomo-api/internal/session"
)

// SessionEngine is the part of the session engine the handlers drive.
type SessionEngine interface {
	Start(ctx context.Context, req session.StartRequest) (domain.SessionSnapshot, error)
	Pause(ctx context.Context, userID, sessionID uuid.UUID) (domain.SessionSnapshot, error)
	Resume(ctx context.Context, userID, sessionID uuid.UUID) (domain.SessionSnapshot, error)
	Complete(ctx context.Context, userID, sessionID uuid.UUID) (domain.SessionSnapshot, error)
	Abort(ctx context.Context, userID, sessionID uuid.UUID) (domain.SessionSnapshot, error)
	LogInterruption(
		ctx context.Context,
		userID, sessionID uuid.UUID,
		kind domain.InterruptionType,
		duration time.Duration,
		notes string,
	) (domain.SessionSnapshot, error)
	Snapshot(ctx context.Context, userID, sessionID uuid.UUID) (domain.SessionSnapshot, error)
}

var _ SessionEngine = (*session.Engine)(nil)

// SessionHandler handles session commands and queries.
type SessionHandler struct {
	engine SessionEngine
	logger *slog.Logger
}

// NewSessionHandler creates a SessionHandler.
func NewSessionHandler(engine SessionEngine, logger *slog.Logger) *SessionHandler {
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for SessionHandler")
	}
	return &SessionHandler{
		engine: engine,
		logger: logger.With(slog.String("component", "session_handler")),
	}
}

// Mount registers the session routes on r.
func (h *SessionHandler) Mount(r chi.Router) {
	r.Post("/sessions", h.StartSession)
	r.Route("/sessions/{id}", func(r chi.Router) {
		r.Get("/", h.GetSession)
		r.Post("/pause", h.PauseSession)
		r.Post("/resume", h.ResumeSession)
		r.Post("/complete", h.CompleteSession)
		r.Post("/abort", h.AbortSession)
		r.Post("/interruptions", h.LogInterruption)
	})
}

// StartSession handles POST /api/sessions.
func (h *SessionHandler) StartSession(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	userID, ok := shared.UserIDFromContext(r.Context())
	if !ok {
		HandleAPIError(w, r, ErrUnauthenticated, "")
		return
	}

	var req StartSessionRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}
	if err := shared.ValidateRequest(&req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, SanitizeValidationError(err))
		return
	}

	start := session.StartRequest{
		UserID:   userID,
		TaskID:   uuid.MustParse(req.TaskID),
		Duration: time.Duration(req.DurationMs) * time.Millisecond,
	}
	if req.SessionID != "" {
		start.SessionID = uuid.MustParse(req.SessionID)
	}

	snap, err := h.engine.Start(r.Context(), start)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to start session")
		return
	}

	log.Debug("session started via API",
		slog.String("session_id", snap.SessionID.String()),
		slog.String("user_id", userID.String()))
	shared.RespondWithJSON(w, r, http.StatusCreated, sessionToResponse(snap))
}

// GetSession handles GET /api/sessions/{id}.
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	userID, sessionID, ok := handleUserIDAndPathUUID(w, r, "id", log)
	if !ok {
		return
	}

	snap, err := h.engine.Snapshot(r.Context(), userID, sessionID)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to get session")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, sessionToResponse(snap))
}

// PauseSession handles POST /api/sessions/{id}/pause.
func (h *SessionHandler) PauseSession(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, "pause", h.engine.Pause)
}

// ResumeSession handles POST /api/sessions/{id}/resume.
func (h *SessionHandler) ResumeSession(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, "resume", h.engine.Resume)
}

// CompleteSession handles POST /api/sessions/{id}/complete.
func (h *SessionHandler) CompleteSession(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, "complete", h.engine.Complete)
}

// AbortSession handles POST /api/sessions/{id}/abort.
func (h *SessionHandler) AbortSession(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, "abort", h.engine.Abort)
}

// LogInterruption handles POST /api/sessions/{id}/interruptions.
func (h *SessionHandler) LogInterruption(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	userID, sessionID, ok := handleUserIDAndPathUUID(w, r, "id", log)
	if !ok {
		return
	}

	var req LogInterruptionRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}
	if err := shared.ValidateRequest(&req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, SanitizeValidationError(err))
		return
	}

	snap, err := h.engine.LogInterruption(r.Context(), userID, sessionID,
		domain.InterruptionType(req.Type),
		time.Duration(req.DurationMs)*time.Millisecond,
		req.Notes)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to log interruption")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusCreated, sessionToResponse(snap))
}

type commandFunc func(ctx context.Context, userID, sessionID uuid.UUID) (domain.SessionSnapshot, error)

func (h *SessionHandler) command(w http.ResponseWriter, r *http.Request, name string, run commandFunc) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	userID, sessionID, ok := handleUserIDAndPathUUID(w, r, "id", log)
	if !ok {
		return
	}

	snap, err := run(r.Context(), userID, sessionID)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to "+name+" session")
		return
	}

	log.Debug("session command applied",
		slog.String("command", name),
		slog.String("session_id", sessionID.String()),
		slog.String("status", string(snap.Status)))
	shared.RespondWithJSON(w, r, http.StatusOK, sessionToResponse(snap))
}
