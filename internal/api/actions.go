package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/grail/internal/store"
)

const (
	defaultActionLimit = 50
	maxActionLimit     = 500
	actionsTimeout     = 3 * time.Second
)

// ActionHandler exposes the read-only recent-actions log.
type ActionHandler struct {
	repo    store.ActionRepository
	timeout time.Duration
	logger  *zap.Logger
}

// NewActionHandler wires the repository and logger.
func NewActionHandler(repo store.ActionRepository, logger *zap.Logger) *ActionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ActionHandler{
		repo:    repo,
		timeout: actionsTimeout,
		logger:  logger,
	}
}

// ListActions handles GET /actions?status=&limit=&offset=. It returns
// {"actions": [...]} newest first, 400 for invalid filters, 503 when no
// repository is configured, or 500 if the repository call fails.
func (h *ActionHandler) ListActions(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "action log unavailable")
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultActionLimit, maxActionLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var status *store.ActionStatus
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		parsed, parseErr := parseStatus(raw)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, parseErr.Error())
			return
		}
		status = &parsed
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	runs, err := h.repo.List(ctx, status, limit, offset)
	if err != nil {
		h.logger.Error("list actions failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list actions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"actions": toActionDTOs(runs)})
}

// GetAction handles GET /actions/{action_id}. It returns {"action": {...}},
// 400 for malformed ids, 404 when the action is unknown or evicted, 503
// without a repository, or 500 otherwise.
func (h *ActionHandler) GetAction(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "action log unavailable")
		return
	}
	id, err := parseActionID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	run, err := h.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "action not found")
			return
		}
		h.logger.Error("get action failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load action")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"action": toActionDTO(run)})
}

func parseActionID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "action_id")
	if raw == "" {
		return uuid.UUID{}, errors.New("action_id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.UUID{}, errors.New("invalid action_id")
	}
	return id, nil
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func parseStatus(input string) (store.ActionStatus, error) {
	switch strings.ToLower(input) {
	case "running":
		return store.ActionRunning, nil
	case "success", "ok":
		return store.ActionSuccess, nil
	case "error", "failed", "failure":
		return store.ActionError, nil
	default:
		return "", errors.New("invalid status")
	}
}

type artifactDTO struct {
	Name  string `json:"name"`
	Bytes int64  `json:"bytes"`
}

type actionDTO struct {
	ID             string        `json:"id"`
	Op             string        `json:"op"`
	URL            string        `json:"url,omitempty"`
	StartedAt      time.Time     `json:"started_at"`
	FinishedAt     *time.Time    `json:"finished_at,omitempty"`
	Status         string        `json:"status"`
	FailedAttempts int           `json:"failed_attempts"`
	Artifacts      []artifactDTO `json:"artifacts"`
	Error          *string       `json:"error,omitempty"`
}

func toActionDTOs(in []store.ActionRun) []actionDTO {
	out := make([]actionDTO, 0, len(in))
	for _, run := range in {
		out = append(out, toActionDTO(run))
	}
	return out
}

func toActionDTO(run store.ActionRun) actionDTO {
	artifacts := make([]artifactDTO, 0, len(run.Artifacts))
	for _, a := range run.Artifacts {
		artifacts = append(artifacts, artifactDTO{Name: a.Name, Bytes: a.Bytes})
	}
	return actionDTO{
		ID:             run.ID.String(),
		Op:             run.Op,
		URL:            run.URL,
		StartedAt:      run.StartedAt,
		FinishedAt:     run.FinishedAt,
		Status:         string(run.Status),
		FailedAttempts: run.FailedAttempts,
		Artifacts:      artifacts,
		Error:          run.ErrorMessage,
	}
}
