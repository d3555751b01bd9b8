package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/calvin1011/watchtower/internal/digest"
	"github.com/calvin1011/watchtower/internal/intel"
)

const (
	defaultSinceDays    = 7
	maxSinceDays        = 90
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// sendDigest handles POST /v1/digest/send?recipient=&since_days=. It returns
// 503 when no mailer is configured and 502 when the provider rejects the send.
func (s *Server) sendDigest(w http.ResponseWriter, r *http.Request) {
	if s.deps.Digests == nil || !s.deps.Digests.MailerConfigured() {
		writeError(w, http.StatusServiceUnavailable, "RESEND_API_KEY not configured. Cannot send digest.")
		return
	}
	sinceDays, err := parseSinceDays(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sent, err := s.deps.Digests.Send(r.Context(), strings.TrimSpace(r.URL.Query().Get("recipient")), sinceDays)
	switch {
	case errors.Is(err, digest.ErrMailerNotConfigured):
		writeError(w, http.StatusServiceUnavailable, "RESEND_API_KEY not configured. Cannot send digest.")
		return
	case errors.Is(err, digest.ErrNoRecipient):
		writeError(w, http.StatusBadRequest, "recipient is required")
		return
	case err != nil:
		s.logger.Error("send digest failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "failed to send email via Resend")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Digest sent", "digest": toDigestDTO(sent)})
}

// digestHistory handles GET /v1/digest/history?limit=.
func (s *Server) digestHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.Digests == nil {
		writeError(w, http.StatusServiceUnavailable, "digest service unavailable")
		return
	}
	limit, err := parseLimit(r, defaultHistoryLimit, maxHistoryLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	digests, err := s.deps.Digests.History(r.Context(), limit)
	if err != nil {
		s.logger.Error("digest history failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list digests")
		return
	}
	out := make([]digestDTO, 0, len(digests))
	for _, d := range digests {
		out = append(out, toDigestDTO(d))
	}
	writeJSON(w, http.StatusOK, map[string]any{"digests": out, "count": len(out)})
}

// digestPreview handles GET /v1/digest/preview?since_days=. It renders HTML
// unless the client asks for JSON.
func (s *Server) digestPreview(w http.ResponseWriter, r *http.Request) {
	if s.deps.Digests == nil {
		writeError(w, http.StatusServiceUnavailable, "digest service unavailable")
		return
	}
	sinceDays, err := parseSinceDays(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	preview, err := s.deps.Digests.Preview(r.Context(), sinceDays)
	if err != nil {
		s.logger.Error("digest preview failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to build digest")
		return
	}
	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		writeJSON(w, http.StatusOK, preview)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(preview.HTML)); err != nil {
		s.logger.Warn("write preview failed", zap.Error(err))
	}
}

func parseSinceDays(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("since_days")
	if raw == "" {
		return defaultSinceDays, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val < 1 || val > maxSinceDays {
		return 0, errors.New("since_days must be between 1 and " + strconv.Itoa(maxSinceDays))
	}
	return val, nil
}

type digestDTO struct {
	ID         string              `json:"id"`
	WeekOf     string              `json:"week_of"`
	Content    intel.DigestContent `json:"content"`
	SentAt     time.Time           `json:"sent_at"`
	Recipient  string              `json:"recipient"`
	ArchiveURI string              `json:"archive_uri,omitempty"`
}

func toDigestDTO(d intel.Digest) digestDTO {
	return digestDTO{
		ID:         d.ID,
		WeekOf:     d.WeekOf.Format("2006-01-02"),
		Content:    d.Content,
		SentAt:     d.SentAt,
		Recipient:  d.Recipient,
		ArchiveURI: d.ArchiveURI,
	}
}
