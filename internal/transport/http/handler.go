// Package http exposes the session engine and credit ledger over a JSON REST
// surface plus a websocket watch endpoint.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"prep-session-service/internal/app"
	"prep-session-service/internal/domain"
	"prep-session-service/internal/ledger"
)

type Handler struct {
	engine  *app.Engine
	credits *ledger.Service
}

func NewHandler(engine *app.Engine, credits *ledger.Service) *Handler {
	return &Handler{engine: engine, credits: credits}
}

// Register mounts all routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /sessions/practice", h.startPractice)
	mux.HandleFunc("POST /sessions/interview", h.startInterview)
	mux.HandleFunc("GET /sessions/{id}", h.getSession)
	mux.HandleFunc("POST /sessions/{id}/answers", h.submitAnswer)
	mux.HandleFunc("POST /sessions/{id}/pause", h.pause)
	mux.HandleFunc("POST /sessions/{id}/resume", h.resume)
	mux.HandleFunc("POST /sessions/{id}/finish", h.finish)
	mux.HandleFunc("POST /sessions/{id}/retake", h.retake)
	mux.HandleFunc("GET /sessions/{id}/watch", h.watch)
	mux.HandleFunc("GET /users/{id}/credits", h.creditBalance)
	mux.HandleFunc("POST /users/{id}/credits", h.grantCredits)
}

type startRequest struct {
	UserID       string                    `json:"userId"`
	AssignmentID string                    `json:"assignmentId,omitempty"`
	Criteria     *domain.SelectionCriteria `json:"criteria,omitempty"`
}

type startResponse struct {
	Session      domain.Session `json:"session"`
	Resumed      bool           `json:"resumed,omitempty"`
	ShortSingle  int            `json:"shortSingle,omitempty"`
	ShortMulti   int            `json:"shortMulti,omitempty"`
	ShortWritten int            `json:"shortWritten,omitempty"`
}

type answerRequest struct {
	QuestionID        string   `json:"questionId"`
	SelectedOptionIDs []string `json:"selectedOptionIds,omitempty"`
	GivenText         string   `json:"givenText,omitempty"`
	TimeSpentSec      int      `json:"timeSpentSec,omitempty"`
}

type answerResponse struct {
	Answer  domain.Answer  `json:"answer"`
	Session domain.Session `json:"session"`
}

type grantRequest struct {
	Type        string     `json:"type,omitempty"`
	Credits     int        `json:"credits"`
	Description string     `json:"description,omitempty"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
}

type balanceResponse struct {
	UserID    string               `json:"userId"`
	Available int                  `json:"available"`
	History   []domain.LedgerEntry `json:"history"`
}

type errorResponse struct {
	Error   string          `json:"error"`
	Reason  string          `json:"reason,omitempty"`
	Details json.RawMessage `json:"details,omitempty"`
}

func (h *Handler) startPractice(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeError(w, http.StatusBadRequest, errors.New("userId is required"))
		return
	}
	var (
		result app.StartResult
		err    error
	)
	switch {
	case req.AssignmentID != "":
		result, err = h.engine.StartPractice(r.Context(), req.UserID, req.AssignmentID)
	case req.Criteria != nil:
		result, err = h.engine.StartAdHocPractice(r.Context(), req.UserID, *req.Criteria)
	default:
		writeError(w, http.StatusBadRequest, errors.New("assignmentId or criteria is required"))
		return
	}
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, startStatus(result), toStartResponse(result))
}

func (h *Handler) startInterview(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" || req.AssignmentID == "" {
		writeError(w, http.StatusBadRequest, errors.New("userId and assignmentId are required"))
		return
	}
	result, err := h.engine.StartInterview(r.Context(), req.UserID, req.AssignmentID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, startStatus(result), toStartResponse(result))
}

func startStatus(result app.StartResult) int {
	if result.Resumed {
		return http.StatusOK
	}
	return http.StatusCreated
}

func toStartResponse(result app.StartResult) startResponse {
	return startResponse{
		Session:      result.Session,
		Resumed:      result.Resumed,
		ShortSingle:  result.ShortSingle,
		ShortMulti:   result.ShortMulti,
		ShortWritten: result.ShortWritten,
	}
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.engine.Get(r.Context(), r.PathValue("id"))
	if err != nil && !errors.Is(err, domain.ErrSessionExpired) {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (h *Handler) submitAnswer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.QuestionID == "" {
		writeError(w, http.StatusBadRequest, errors.New("questionId is required"))
		return
	}
	answer, session, err := h.engine.SubmitAnswer(r.Context(), r.PathValue("id"), req.QuestionID, app.AnswerPayload{
		SelectedOptionIDs: req.SelectedOptionIDs,
		GivenText:         req.GivenText,
	}, req.TimeSpentSec)
	if errors.Is(err, domain.ErrSessionExpired) {
		// The session was finalized by the lazy expiry check; return the
		// terminal state so the client can render the result screen.
		writeJSON(w, http.StatusGone, errorResponse{Error: err.Error(), Details: mustJSON(session)})
		return
	}
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, answerResponse{Answer: answer, Session: session})
}

func (h *Handler) pause(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.engine.Pause)
}

func (h *Handler) resume(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.engine.Resume)
}

func (h *Handler) finish(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.engine.Finish)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, sessionID string) (domain.Session, error)) {
	session, err := op(r.Context(), r.PathValue("id"))
	if errors.Is(err, domain.ErrSessionExpired) {
		writeJSON(w, http.StatusGone, errorResponse{Error: err.Error(), Details: mustJSON(session)})
		return
	}
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *Handler) retake(w http.ResponseWriter, r *http.Request) {
	result, err := h.engine.Retake(r.Context(), r.PathValue("id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toStartResponse(result))
}

func (h *Handler) creditBalance(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	available, err := h.credits.Available(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	history, err := h.credits.History(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{UserID: userID, Available: available, History: history})
}

func (h *Handler) grantCredits(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Credits <= 0 {
		writeError(w, http.StatusBadRequest, errors.New("credits must be positive"))
		return
	}
	txType := domain.TransactionType(req.Type)
	switch txType {
	case domain.TxPurchase, domain.TxBonus:
	case "":
		txType = domain.TxPurchase
	default:
		writeError(w, http.StatusBadRequest, errors.New("type must be purchase or bonus"))
		return
	}
	entry, err := h.credits.Add(r.Context(), r.PathValue("id"), txType, req.Credits, req.Description, "", req.ExpiresAt)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// writeEngineError maps domain errors onto HTTP statuses. Typed errors keep
// their detail: the eligibility reason and the per-bucket pool shortfall.
func writeEngineError(w http.ResponseWriter, err error) {
	var notEligible *domain.NotEligibleError
	if errors.As(err, &notEligible) {
		writeJSON(w, http.StatusForbidden, errorResponse{Error: domain.ErrNotEligible.Error(), Reason: string(notEligible.Reason)})
		return
	}
	var shortfall *domain.PoolShortfallError
	if errors.As(err, &shortfall) {
		writeJSON(w, http.StatusConflict, errorResponse{Error: domain.ErrInsufficientQuestionPool.Error(), Details: mustJSON(shortfall)})
		return
	}
	switch {
	case errors.Is(err, domain.ErrSessionNotFound),
		errors.Is(err, domain.ErrAssignmentNotFound),
		errors.Is(err, domain.ErrTemplateNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, domain.ErrInsufficientCredits):
		writeError(w, http.StatusPaymentRequired, err)
	case errors.Is(err, domain.ErrNotEligible):
		writeError(w, http.StatusForbidden, err)
	case errors.Is(err, domain.ErrInvalidStateTransition),
		errors.Is(err, domain.ErrAnswerAlreadyRecorded):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, domain.ErrQuestionNotFound):
		writeError(w, http.StatusUnprocessableEntity, err)
	case errors.Is(err, domain.ErrInvalidCriteria),
		errors.Is(err, domain.ErrInvalidAssignment):
		writeError(w, http.StatusUnprocessableEntity, err)
	default:
		log.Printf("internal error: %v", err)
		writeError(w, http.StatusInternalServerError, errors.New("internal error"))
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("write response: %v", err)
	}
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
