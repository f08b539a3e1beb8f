package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rafaelmv/wacrm/internal/syncer"
	"github.com/rafaelmv/wacrm/internal/wa"
)

var (
	errNotReady       = errors.New("session not ready")
	errChatIDRequired = errors.New("chatId is required")
	errSendParams     = errors.New("to and body are required")
	errUnknownEvent   = errors.New("unknown event")
)

func timeNowMillis() int64 {
	return time.Now().UnixMilli()
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeAPIError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func queryInt(r *http.Request, key, alt string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" && alt != "" {
		v = r.URL.Query().Get(alt)
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return n
	}
	return fallback
}

// handleReminders serves POST (create) and GET (list) on /api/reminders.
func (s *Server) handleReminders(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		writeAPIError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	switch r.Method {
	case http.MethodPost:
		var p struct {
			Body        string   `json:"body"`
			Recipients  []string `json:"recipients"`
			ScheduledAt int64    `json:"scheduledAt"`
			RepeatRule  string   `json:"repeatRule"`
		}
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			writeAPIError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if strings.TrimSpace(p.Body) == "" {
			writeAPIError(w, http.StatusBadRequest, "body is required")
			return
		}
		if len(p.Recipients) == 0 {
			writeAPIError(w, http.StatusBadRequest, "at least one recipient is required")
			return
		}
		if p.ScheduledAt <= 0 {
			writeAPIError(w, http.StatusBadRequest, "scheduledAt must be a positive unix timestamp")
			return
		}
		recipients := make([]string, len(p.Recipients))
		for i, to := range p.Recipients {
			recipients[i] = wa.CanonicalChatID(to)
		}

		id, err := s.cfg.DB.CreateReminder(p.Body, recipients, p.ScheduledAt, p.RepeatRule)
		if err != nil {
			writeAPIError(w, http.StatusInternalServerError, err.Error())
			return
		}
		reminder, err := s.cfg.DB.GetReminder(id)
		if err != nil || reminder == nil {
			writeAPIError(w, http.StatusInternalServerError, "reminder created but not readable")
			return
		}
		s.cfg.Logger.Info("reminder created",
			zap.Int64("id", id), zap.Int("recipients", len(recipients)))
		writeJSON(w, http.StatusCreated, reminder)

	case http.MethodGet:
		page := queryInt(r, "page", "", 1)
		limit := queryInt(r, "limit", "", 50)
		if limit > 200 {
			limit = 200
		}
		reminders, err := s.cfg.DB.ListReminders(limit, (page-1)*limit)
		if err != nil {
			writeAPIError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"reminders": reminders})

	default:
		writeAPIError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleReminderByID serves GET and DELETE on /api/reminders/{id}.
func (s *Server) handleReminderByID(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		writeAPIError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	idStr := strings.TrimPrefix(r.URL.Path, "/api/reminders/")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		writeAPIError(w, http.StatusBadRequest, "invalid reminder id")
		return
	}

	switch r.Method {
	case http.MethodGet:
		reminder, err := s.cfg.DB.GetReminder(id)
		if err != nil {
			writeAPIError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if reminder == nil {
			writeAPIError(w, http.StatusNotFound, "reminder not found")
			return
		}
		writeJSON(w, http.StatusOK, reminder)

	case http.MethodDelete:
		// Deleting an absent reminder is a no-op, same terminal state.
		if err := s.cfg.DB.DeleteReminder(id); err != nil {
			writeAPIError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		writeAPIError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleSyncChat triggers an async history backfill for one chat.
func (s *Server) handleSyncChat(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		writeAPIError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if r.Method != http.MethodPost {
		writeAPIError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var p struct {
		ChatID string `json:"chatId"`
		Limit  int    `json:"limit"`
	}
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil || p.ChatID == "" {
		writeAPIError(w, http.StatusBadRequest, "chatId is required")
		return
	}

	err := s.cfg.Sync.RequestFullSync(r.Context(), p.ChatID, p.Limit)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]any{
			"status": "started",
			"chatId": wa.CanonicalChatID(p.ChatID),
		})
	case errors.Is(err, syncer.ErrNotReady), errors.Is(err, syncer.ErrSyncInFlight):
		writeAPIError(w, http.StatusConflict, err.Error())
	default:
		writeAPIError(w, http.StatusBadRequest, err.Error())
	}
}

// handleMedia serves materialized attachments at /media/{chatId}/{filename}.
func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		writeAPIError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if r.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.cfg.Media == nil {
		writeAPIError(w, http.StatusNotFound, "media storage disabled")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/media/")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		writeAPIError(w, http.StatusBadRequest, "expected /media/{chatId}/{filename}")
		return
	}

	path := s.cfg.Media.Path(parts[0], parts[1])
	if _, err := os.Stat(path); err != nil {
		writeAPIError(w, http.StatusNotFound, "media not found")
		return
	}
	http.ServeFile(w, r, path)
}
