// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/workcoordinator

package adminapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/tomtom215/workcoordinator/internal/logging"
	"github.com/tomtom215/workcoordinator/internal/store"
)

// DeadLetterEntry is the API-facing shape of a store.DeadLetterRow.
type DeadLetterEntry struct {
	MessageId      string `json:"message_id"`
	CorrelationId  string `json:"correlation_id"`
	MessageType    string `json:"message_type"`
	StreamId       string `json:"stream_id"`
	Topic          string `json:"topic"`
	RetryCount     int    `json:"retry_count"`
	LastError      string `json:"last_error,omitempty"`
	CreatedAt      string `json:"created_at"`
	// DeadLetteredAt is empty for a row dead-lettered under
	// config.DeadLetterMarkTerminal, which has no dedicated
	// dead-lettered-at column; populated for a row moved to the
	// dedicated dead-letter table under config.DeadLetterMoveTable.
	DeadLetteredAt string `json:"dead_lettered_at,omitempty"`
}

func toDeadLetterEntry(r store.DeadLetterRow) DeadLetterEntry {
	e := DeadLetterEntry{
		MessageId:     r.MessageId,
		CorrelationId: r.CorrelationId,
		MessageType:   r.MessageType,
		StreamId:      r.StreamId,
		Topic:         r.Topic,
		RetryCount:    r.RetryCount,
		LastError:     r.LastError,
		CreatedAt:     r.CreatedAt.Format(timeLayout),
	}
	if !r.DeadLetteredAt.IsZero() {
		e.DeadLetteredAt = r.DeadLetteredAt.Format(timeLayout)
	}
	return e
}

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error().Err(err).Msg("adminapi: encode response failed")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func pagingParams(r *http.Request) (limit, offset int) {
	limit = 100
	offset = 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

// handleListDeadLetterOutbox godoc
//
//	@Summary	List dead-lettered outbox rows
//	@Tags		dead-letter
//	@Produce	json
//	@Param		limit	query	int	false	"max rows"
//	@Param		offset	query	int	false	"row offset"
//	@Success	200	{array}	DeadLetterEntry
//	@Router		/api/v1/dead-letter/outbox [get]
func (s *Server) handleListDeadLetterOutbox(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagingParams(r)
	rows, err := s.store.ListDeadLetterOutbox(r.Context(), limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	entries := make([]DeadLetterEntry, len(rows))
	for i, row := range rows {
		entries[i] = toDeadLetterEntry(row)
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleListDeadLetterInbox godoc
//
//	@Summary	List dead-lettered inbox rows
//	@Tags		dead-letter
//	@Produce	json
//	@Success	200	{array}	DeadLetterEntry
//	@Router		/api/v1/dead-letter/inbox [get]
func (s *Server) handleListDeadLetterInbox(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagingParams(r)
	rows, err := s.store.ListDeadLetterInbox(r.Context(), limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	entries := make([]DeadLetterEntry, len(rows))
	for i, row := range rows {
		entries[i] = toDeadLetterEntry(row)
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleRetryDeadLetterOutbox godoc
//
//	@Summary	Retry a dead-lettered outbox message
//	@Tags		dead-letter
//	@Param		messageId	path	string	true	"message id"
//	@Success	204
//	@Router		/api/v1/dead-letter/outbox/{messageId}/retry [post]
func (s *Server) handleRetryDeadLetterOutbox(w http.ResponseWriter, r *http.Request) {
	messageId := chi.URLParam(r, "messageId")
	if err := s.store.RetryDeadLetterOutbox(r.Context(), messageId); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRetryDeadLetterInbox godoc
//
//	@Summary	Retry a dead-lettered inbox message
//	@Tags		dead-letter
//	@Param		messageId	path	string	true	"message id"
//	@Success	204
//	@Router		/api/v1/dead-letter/inbox/{messageId}/retry [post]
func (s *Server) handleRetryDeadLetterInbox(w http.ResponseWriter, r *http.Request) {
	messageId := chi.URLParam(r, "messageId")
	if err := s.store.RetryDeadLetterInbox(r.Context(), messageId); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CheckpointEntry is the API-facing shape of a store.CheckpointRow.
type CheckpointEntry struct {
	StreamId           string `json:"stream_id"`
	PerspectiveName    string `json:"perspective_name"`
	LastEventId        string `json:"last_event_id"`
	LastSequenceNumber int64  `json:"last_sequence_number"`
	Status             string `json:"status"`
	UpdatedAt          string `json:"updated_at"`
}

func toCheckpointEntry(c store.CheckpointRow) CheckpointEntry {
	return CheckpointEntry{
		StreamId:           c.StreamId,
		PerspectiveName:    c.PerspectiveName,
		LastEventId:        c.LastEventId,
		LastSequenceNumber: c.LastSequenceNumber,
		Status:             string(c.Status),
		UpdatedAt:          c.UpdatedAt.Format(timeLayout),
	}
}

// handleListCheckpoints godoc
//
//	@Summary	List perspective checkpoints
//	@Tags		checkpoints
//	@Produce	json
//	@Param		streamId	query	string	false	"filter to one stream"
//	@Success	200	{array}	CheckpointEntry
//	@Router		/api/v1/checkpoints [get]
func (s *Server) handleListCheckpoints(w http.ResponseWriter, r *http.Request) {
	streamId := r.URL.Query().Get("streamId")
	rows, err := s.store.ListCheckpoints(r.Context(), streamId)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	entries := make([]CheckpointEntry, len(rows))
	for i, row := range rows {
		entries[i] = toCheckpointEntry(row)
	}
	writeJSON(w, http.StatusOK, entries)
}

// forceAdvanceRequest is the body of handleForceAdvanceCheckpoint.
type forceAdvanceRequest struct {
	LastEventId        string `json:"last_event_id"`
	LastSequenceNumber int64  `json:"last_sequence_number"`
}

// handleForceAdvanceCheckpoint godoc
//
//	@Summary	Force-advance a stuck perspective checkpoint
//	@Tags		checkpoints
//	@Param		streamId	path	string	true	"stream id"
//	@Param		perspective	path	string	true	"perspective name"
//	@Param		body	body	forceAdvanceRequest	true	"new checkpoint position"
//	@Success	204
//	@Router		/api/v1/checkpoints/{streamId}/{perspective}/advance [post]
func (s *Server) handleForceAdvanceCheckpoint(w http.ResponseWriter, r *http.Request) {
	streamId := chi.URLParam(r, "streamId")
	perspective := chi.URLParam(r, "perspective")

	var req forceAdvanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := s.store.ForceAdvanceCheckpoint(r.Context(), streamId, perspective, req.LastEventId, req.LastSequenceNumber); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleLogin godoc
//
//	@Summary	Exchange an operator API key for a bearer token
//	@Tags		auth
//	@Accept		json
//	@Produce	json
//	@Success	200	{object}	loginResponse
//	@Router		/api/v1/login [post]
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	roles, err := s.apiKeys.Verify(req.Operator, req.APIKey)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	token, err := s.jwtManager.IssueToken(req.Operator, roles)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: token})
}

type loginRequest struct {
	Operator string `json:"operator"`
	APIKey   string `json:"api_key"`
}

type loginResponse struct {
	Token string `json:"token"`
}
