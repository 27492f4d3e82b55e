package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/ai-interview/internal/application/session"
	"github.com/garyjia/ai-interview/internal/application/turntaking"
	"github.com/garyjia/ai-interview/internal/domain/conversation"
	"github.com/garyjia/ai-interview/internal/domain/entity"
	"github.com/garyjia/ai-interview/internal/domain/event"
	"github.com/garyjia/ai-interview/pkg/utils"
)

const (
	defaultHistoryLimit = conversation.DefaultHistoryLimit
	xlsxContentType     = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// SessionManager is the part of the session manager the handlers use
type SessionManager interface {
	Create(ctx context.Context, req session.CreateRequest) (*session.Session, error)
	Get(id string) (*session.Session, error)
	List() []*session.Session
	Close(ctx context.Context, id string) error
	Policy() *conversation.Policy
}

// TransitionLog reads the persisted transition log
type TransitionLog interface {
	ListBySession(ctx context.Context, sessionID string) ([]*entity.TransitionRecord, error)
}

// ReportWriter renders a session's transitions as a workbook
type ReportWriter interface {
	Write(w io.Writer, sessionID string, transitions []conversation.Transition, until time.Time) error
}

// Handlers contains all HTTP request handlers
type Handlers struct {
	sessions    SessionManager
	transitions TransitionLog
	reports     ReportWriter
	logger      Logger
}

// NewHandlers creates a new Handlers instance. transitions and reports may
// be nil; the routes that need them then answer 503.
func NewHandlers(sessions SessionManager, transitions TransitionLog, reports ReportWriter, logger Logger) *Handlers {
	return &Handlers{
		sessions:    sessions,
		transitions: transitions,
		reports:     reports,
		logger:      logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	Sessions  int    `json:"sessions"`
}

// StatesResponse describes the state enumeration and the policy in force
type StatesResponse struct {
	States           []conversation.State                        `json:"states"`
	Edges            map[conversation.State][]conversation.State `json:"edges"`
	MicrophoneActive []conversation.State                        `json:"microphone_active"`
	Interruptible    []conversation.State                        `json:"interruptible"`
	InterruptTarget  conversation.State                          `json:"interrupt_target"`
	Inactive         []conversation.State                        `json:"inactive"`
}

// SessionResponse represents a live session in API responses
type SessionResponse struct {
	ID               string               `json:"id"`
	CandidateRef     string               `json:"candidate_ref,omitempty"`
	CreatedAt        string               `json:"created_at"`
	State            conversation.State   `json:"state"`
	MicrophoneActive bool                 `json:"microphone_active"`
	Interruptible    bool                 `json:"interruptible"`
	Active           bool                 `json:"active"`
	ValidNextStates  []conversation.State `json:"valid_next_states"`
	Seq              uint64               `json:"seq"`
}

// TransitionResult is returned by the transition, force and reset routes
type TransitionResult struct {
	Applied    bool                     `json:"applied"`
	Transition *conversation.Transition `json:"transition,omitempty"`
	Session    SessionResponse          `json:"session"`
}

// EventResult is returned by the events route
type EventResult struct {
	Outcome turntaking.Outcome `json:"outcome"`
	Session SessionResponse    `json:"session"`
}

// RecordResponse represents a persisted transition
type RecordResponse struct {
	Seq        uint64 `json:"seq"`
	From       string `json:"from"`
	To         string `json:"to"`
	Forced     bool   `json:"forced"`
	Source     string `json:"source,omitempty"`
	Reason     string `json:"reason,omitempty"`
	OccurredAt string `json:"occurred_at"`
}

// CreateSessionRequest is the body of POST /api/sessions
type CreateSessionRequest struct {
	CandidateRef string `json:"candidate_ref"`
}

// TransitionRequest is the body of the transition and force routes
type TransitionRequest struct {
	State    string                 `json:"state" binding:"required"`
	Metadata map[string]interface{} `json:"metadata"`
}

// EventRequest is the body of POST /api/sessions/:id/events
type EventRequest struct {
	Type    string                 `json:"type" binding:"required"`
	Payload map[string]interface{} `json:"payload"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data: HealthResponse{
			Status:    "healthy",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Version:   "1.0.0",
			Sessions:  len(h.sessions.List()),
		},
	})
}

// ListStates handles GET /api/states
func (h *Handlers) ListStates(c *gin.Context) {
	policy := h.sessions.Policy()

	var inactive []conversation.State
	for _, s := range conversation.States() {
		if !policy.Active(s) {
			inactive = append(inactive, s)
		}
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data: StatesResponse{
			States:           conversation.States(),
			Edges:            policy.Edges(),
			MicrophoneActive: policy.MicrophoneStates(),
			Interruptible:    policy.InterruptibleStates(),
			InterruptTarget:  policy.InterruptTarget(),
			Inactive:         inactive,
		},
	})
}

// CreateSession handles POST /api/sessions
func (h *Handlers) CreateSession(c *gin.Context) {
	var req CreateSessionRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.badRequest(c, "invalid request body", err)
			return
		}
	}

	ref := utils.SanitizeString(strings.TrimSpace(req.CandidateRef))
	if err := utils.ValidateCandidateRef(ref); err != nil {
		h.badRequest(c, err.Error(), err)
		return
	}

	s, err := h.sessions.Create(c.Request.Context(), session.CreateRequest{CandidateRef: ref})
	if err != nil {
		h.logger.Error("Failed to create session", "error", err)
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, Response{
		Success: true,
		Data:    toSessionResponse(s),
	})
}

// ListSessions handles GET /api/sessions
func (h *Handlers) ListSessions(c *gin.Context) {
	sessions := h.sessions.List()
	out := make([]SessionResponse, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, toSessionResponse(s))
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    out,
	})
}

// GetSession handles GET /api/sessions/:id
func (h *Handlers) GetSession(c *gin.Context) {
	s, ok := h.lookup(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    toSessionResponse(s),
	})
}

// CloseSession handles DELETE /api/sessions/:id
func (h *Handlers) CloseSession(c *gin.Context) {
	id := c.Param("id")
	if err := h.sessions.Close(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    gin.H{"id": id, "closed": true},
	})
}

// Transition handles POST /api/sessions/:id/transition
func (h *Handlers) Transition(c *gin.Context) {
	s, target, md, ok := h.bindTransition(c)
	if !ok {
		return
	}

	from := s.State()
	t, applied, err := s.Transition(target, md)
	if err != nil {
		h.fail(c, err)
		return
	}

	result := TransitionResult{Applied: applied, Session: toSessionResponse(s)}
	if !applied {
		c.JSON(http.StatusConflict, Response{
			Success: false,
			Data:    result,
			Error:   fmt.Sprintf("transition %s -> %s not allowed", from, target),
		})
		return
	}

	result.Transition = &t
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    result,
	})
}

// ForceState handles POST /api/sessions/:id/force
func (h *Handlers) ForceState(c *gin.Context) {
	s, target, md, ok := h.bindTransition(c)
	if !ok {
		return
	}

	t, err := s.ForceState(target, md)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    TransitionResult{Applied: true, Transition: &t, Session: toSessionResponse(s)},
	})
}

// Reset handles POST /api/sessions/:id/reset
func (h *Handlers) Reset(c *gin.Context) {
	s, ok := h.lookup(c)
	if !ok {
		return
	}

	t, err := s.Reset()
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    TransitionResult{Applied: true, Transition: &t, Session: toSessionResponse(s)},
	})
}

// HandleEvent handles POST /api/sessions/:id/events
func (h *Handlers) HandleEvent(c *gin.Context) {
	s, ok := h.lookup(c)
	if !ok {
		return
	}

	var req EventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body", err)
		return
	}

	eventType, known := event.ParseType(req.Type)
	if !known || !eventType.IsSignal() {
		h.badRequest(c, "unsupported event type: "+req.Type, turntaking.ErrUnsupportedEvent)
		return
	}

	outcome, err := s.HandleEvent(c.Request.Context(), event.NewEvent(eventType, s.ID(), req.Payload))
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    EventResult{Outcome: outcome, Session: toSessionResponse(s)},
	})
}

// History handles GET /api/sessions/:id/history
func (h *Handlers) History(c *gin.Context) {
	s, ok := h.lookup(c)
	if !ok {
		return
	}

	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.badRequest(c, "limit must be a positive integer", err)
			return
		}
		limit = n
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    s.History(limit),
	})
}

// Transitions handles GET /api/sessions/:id/transitions
func (h *Handlers) Transitions(c *gin.Context) {
	if h.transitions == nil {
		h.unavailable(c, "transition log is not configured")
		return
	}

	id := c.Param("id")
	records, err := h.transitions.ListBySession(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("Failed to list transitions", "session_id", id, "error", err)
		h.fail(c, err)
		return
	}

	out := make([]RecordResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, toRecordResponse(rec))
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    out,
	})
}

// Report handles GET /api/sessions/:id/report.xlsx
func (h *Handlers) Report(c *gin.Context) {
	if h.reports == nil {
		h.unavailable(c, "report generator is not configured")
		return
	}

	id := c.Param("id")
	transitions, err := h.reportTransitions(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}

	var buf bytes.Buffer
	if err := h.reports.Write(&buf, id, transitions, time.Now().UTC()); err != nil {
		h.logger.Error("Failed to render report", "session_id", id, "error", err)
		h.fail(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="session-%s.xlsx"`, id))
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}

// reportTransitions prefers the persisted log and falls back to the live
// session's history
func (h *Handlers) reportTransitions(ctx context.Context, id string) ([]conversation.Transition, error) {
	if h.transitions != nil {
		records, err := h.transitions.ListBySession(ctx, id)
		if err != nil {
			return nil, err
		}
		if len(records) > 0 {
			out := make([]conversation.Transition, 0, len(records))
			for _, rec := range records {
				t, err := session.TransitionFromRecord(rec)
				if err != nil {
					h.logger.Error("Persisted transition metadata unreadable",
						"session_id", id,
						"seq", rec.Seq,
						"error", err,
					)
				}
				out = append(out, t)
			}
			return out, nil
		}
	}

	s, err := h.sessions.Get(id)
	if err != nil {
		return nil, err
	}
	return s.History(s.HistoryCapacity()), nil
}

// bindTransition resolves the session and decodes a TransitionRequest
func (h *Handlers) bindTransition(c *gin.Context) (*session.Session, conversation.State, conversation.Metadata, bool) {
	s, ok := h.lookup(c)
	if !ok {
		return nil, "", nil, false
	}

	var req TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body", err)
		return nil, "", nil, false
	}

	target, err := conversation.ParseState(req.State)
	if err != nil {
		h.badRequest(c, err.Error(), err)
		return nil, "", nil, false
	}

	return s, target, conversation.Metadata(req.Metadata), true
}

func (h *Handlers) lookup(c *gin.Context) (*session.Session, bool) {
	s, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return nil, false
	}
	return s, true
}

func (h *Handlers) badRequest(c *gin.Context, msg string, err error) {
	h.logger.Error("Bad request", "path", c.Request.URL.Path, "message", msg, "error", err)
	c.JSON(http.StatusBadRequest, Response{
		Success: false,
		Error:   msg,
	})
}

func (h *Handlers) unavailable(c *gin.Context, msg string) {
	c.JSON(http.StatusServiceUnavailable, Response{
		Success: false,
		Error:   msg,
	})
}

// fail maps application errors onto status codes
func (h *Handlers) fail(c *gin.Context, err error) {
	c.JSON(statusFor(err), Response{
		Success: false,
		Error:   err.Error(),
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrSessionClosed):
		return http.StatusConflict
	case errors.Is(err, session.ErrTooManySessions):
		return http.StatusTooManyRequests
	case errors.Is(err, conversation.ErrInvalidState),
		errors.Is(err, turntaking.ErrUnsupportedEvent),
		errors.Is(err, turntaking.ErrNilEvent):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func toSessionResponse(s *session.Session) SessionResponse {
	view := s.Snapshot()
	return SessionResponse{
		ID:               s.ID(),
		CandidateRef:     s.CandidateRef(),
		CreatedAt:        s.CreatedAt().Format(time.RFC3339),
		State:            view.State,
		MicrophoneActive: view.MicrophoneActive,
		Interruptible:    view.Interruptible,
		Active:           view.Active,
		ValidNextStates:  view.ValidNextStates,
		Seq:              view.Seq,
	}
}

func toRecordResponse(rec *entity.TransitionRecord) RecordResponse {
	return RecordResponse{
		Seq:        rec.Seq,
		From:       rec.FromState,
		To:         rec.ToState,
		Forced:     rec.Forced,
		Source:     rec.Source,
		Reason:     rec.Reason,
		OccurredAt: rec.OccurredAt.UTC().Format(time.RFC3339Nano),
	}
}
