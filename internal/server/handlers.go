package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/szaher/voxgate/internal/conversation"
	"github.com/szaher/voxgate/internal/session"
	"github.com/szaher/voxgate/internal/telemetry"
	"github.com/szaher/voxgate/internal/transcribe"
)

type llmRequest struct {
	Prompt    json.RawMessage `json:"prompt"`
	SessionID string          `json:"session_id"`
}

type sessionRequest struct {
	SessionID string `json:"session_id"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"message": "voice assistant service is running",
		"uptime":  time.Since(s.startTime).Round(time.Second).String(),
	})
}

func (s *Server) handleLLM(w http.ResponseWriter, r *http.Request) {
	logger := telemetry.Logger(r.Context(), s.logger)

	var req llmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	prompt, err := conversation.ParsePrompt(req.Prompt)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid prompt")
		return
	}
	if prompt.IsEmpty() {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	ctx, span := s.tracer.StartSpan(r.Context(), "converse", telemetry.ConverseTags(s.gateway.Model()))
	reply, err := s.gateway.Converse(ctx, prompt, req.SessionID)
	if reply != nil {
		span.SetTag("session_id", reply.SessionID)
	}
	s.tracer.EndSpan(span, err)
	if err != nil {
		if errors.Is(err, conversation.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		logger.Error("llm request failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	logger.Info("llm reply generated", "session_id", reply.SessionID, "reply_len", len(reply.Text))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"response":       reply.Text,
		"session_id":     reply.SessionID,
		"messages_count": reply.MessageCount,
	})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	// The body is optional; an absent or malformed body creates a new session.
	_ = json.NewDecoder(r.Body).Decode(&req)

	sess := s.sessions.ResolveOrCreate(req.SessionID)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id":    sess.ID,
		"message_count": sess.Len(),
	})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	if !s.sessions.Delete(req.SessionID) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "session deleted",
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessions.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	history := sess.History()
	if history == nil {
		history = []session.Turn{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id":    sess.ID,
		"message_count": len(history),
		"messages":      history,
	})
}

// handleClearHistory drops a session's turns but keeps its ID usable.
func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessions.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	sess.Clear()
	telemetry.Logger(r.Context(), s.logger).Info("session history cleared", "session_id", sess.ID)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":        "success",
		"message":       "history cleared",
		"session_id":    sess.ID,
		"message_count": sess.Len(),
	})
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	logger := telemetry.Logger(r.Context(), s.logger)

	if s.transcriber == nil {
		writeError(w, http.StatusServiceUnavailable, "transcription is not configured")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "audio file too large")
			return
		}
		writeError(w, http.StatusBadRequest, "no audio file provided")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("audio")
	if err != nil {
		writeError(w, http.StatusBadRequest, "no audio file provided")
		return
	}
	defer file.Close()
	if header.Filename == "" {
		writeError(w, http.StatusBadRequest, "no file selected")
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read audio file")
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "audio file is empty")
		return
	}

	format := strings.ToLower(strings.TrimPrefix(filepath.Ext(header.Filename), "."))
	if format == "" {
		format = transcribe.DefaultMediaFormat
	}
	audio := transcribe.Audio{Format: format, Data: data}
	if s.audio != nil {
		path, err := s.audio.Save(bytes.NewReader(data), format)
		if err != nil {
			logger.Error("saving audio failed", "error", err)
			s.recordTranscription(false)
			writeError(w, http.StatusInternalServerError, "could not store audio")
			return
		}
		audio.Name = filepath.Base(path)
		audio.Format = strings.TrimPrefix(filepath.Ext(path), ".")
	}

	ctx, span := s.tracer.StartSpan(r.Context(), "transcribe", telemetry.TranscribeTags(s.provider, audio.Format, len(data)))
	text, err := s.transcriber.Transcribe(ctx, audio)
	s.tracer.EndSpan(span, err)
	if err != nil && !errors.Is(err, transcribe.ErrNoSpeech) {
		logger.Error("transcription failed", "error", err)
		s.recordTranscription(false)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.recordTranscription(true)
	logger.Info("transcription complete", "file", audio.Name, "text_len", len(text))
	writeJSON(w, http.StatusOK, map[string]string{"text": text})
}

func (s *Server) recordTranscription(ok bool) {
	if s.metrics != nil {
		s.metrics.RecordTranscription(ok)
	}
}
