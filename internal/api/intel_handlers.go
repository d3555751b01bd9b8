package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/calvin1011/watchtower/internal/intel"
)

const (
	defaultIntelLimit  = 100
	maxIntelLimit      = 500
	defaultSearchLimit = 20
	maxSearchLimit     = 100
)

// listIntel handles GET /v1/intel?competitor=&signal_type=&limit=.
func (s *Server) listIntel(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	s.writeIntelList(w, r, intel.Filter{
		Competitor: s.canonicalCompetitor(q.Get("competitor")),
		SignalType: strings.TrimSpace(q.Get("signal_type")),
	})
}

// listIntelBySignal handles GET /v1/intel/signals/{signal_type}.
func (s *Server) listIntelBySignal(w http.ResponseWriter, r *http.Request) {
	s.writeIntelList(w, r, intel.Filter{SignalType: chi.URLParam(r, "signal_type")})
}

// listIntelByCompetitor handles GET /v1/intel/{competitor}. Names resolve
// through the registry so "appfolio" and "AppFolio" return the same rows.
func (s *Server) listIntelByCompetitor(w http.ResponseWriter, r *http.Request) {
	s.writeIntelList(w, r, intel.Filter{Competitor: s.canonicalCompetitor(chi.URLParam(r, "competitor"))})
}

func (s *Server) writeIntelList(w http.ResponseWriter, r *http.Request, filter intel.Filter) {
	limit, err := parseLimit(r, defaultIntelLimit, maxIntelLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter.Limit = limit
	records, err := s.deps.Store.ListIntel(r.Context(), filter)
	if err != nil {
		s.logger.Error("list intel failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list intel")
		return
	}
	writeIntelItems(w, records)
}

// searchIntel handles GET /v1/intel/search?q=&limit=. An empty result is
// returned when the query cannot be embedded.
func (s *Server) searchIntel(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	limit, err := parseLimit(r, defaultSearchLimit, maxSearchLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if s.deps.Embedder == nil {
		writeIntelItems(w, nil)
		return
	}
	vec, err := s.deps.Embedder.Embed(r.Context(), query)
	if err != nil {
		s.logger.Warn("embed search query failed", zap.Error(err))
		writeIntelItems(w, nil)
		return
	}
	if len(vec) == 0 {
		writeIntelItems(w, nil)
		return
	}
	records, err := s.deps.Store.SearchSimilar(r.Context(), vec, limit)
	if err != nil {
		s.logger.Error("search intel failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to search intel")
		return
	}
	writeIntelItems(w, records)
}

// getIntel handles GET /v1/intel/item/{id}.
func (s *Server) getIntel(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	record, err := s.deps.Store.GetIntel(r.Context(), id)
	if err != nil {
		if errors.Is(err, intel.ErrNotFound) {
			writeError(w, http.StatusNotFound, "intel item not found")
			return
		}
		s.logger.Error("get intel failed", zap.String("id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load intel item")
		return
	}
	writeJSON(w, http.StatusOK, toIntelDTO(record))
}

// runPipeline handles POST /v1/intel/run?competitor=. Omitting competitor
// runs every tracked competitor.
func (s *Server) runPipeline(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runner == nil {
		writeError(w, http.StatusServiceUnavailable, "pipeline unavailable")
		return
	}
	competitors := s.deps.Registry.All()
	if name := strings.TrimSpace(r.URL.Query().Get("competitor")); name != "" {
		c, ok := s.deps.Registry.Lookup(name)
		if !ok {
			writeError(w, http.StatusBadRequest,
				"unknown competitor: "+name+". Tracked: "+strings.Join(s.deps.Registry.Names(), ", "))
			return
		}
		competitors = []intel.Competitor{c}
	}
	if len(competitors) == 0 {
		writeJSON(w, http.StatusOK, map[string]any{"created": 0, "message": "no competitors configured"})
		return
	}
	summary, err := s.deps.Runner.RunAll(r.Context(), competitors)
	if err != nil {
		s.logger.Error("pipeline run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "pipeline run failed")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) canonicalCompetitor(name string) string {
	name = strings.TrimSpace(name)
	if name == "" || s.deps.Registry == nil {
		return name
	}
	if c, ok := s.deps.Registry.Lookup(name); ok {
		return c.Name
	}
	return name
}

func parseLimit(r *http.Request, def, maxLimit int) (int, error) {
	limStr := r.URL.Query().Get("limit")
	if limStr == "" {
		return def, nil
	}
	val, err := strconv.Atoi(limStr)
	if err != nil || val < 1 || val > maxLimit {
		return 0, errors.New("limit must be between 1 and " + strconv.Itoa(maxLimit))
	}
	return val, nil
}

func writeIntelItems(w http.ResponseWriter, records []intel.Record) {
	items := make([]intelDTO, 0, len(records))
	for _, rec := range records {
		items = append(items, toIntelDTO(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

type intelDTO struct {
	ID                  string    `json:"id"`
	Competitor          string    `json:"competitor"`
	SignalType          string    `json:"signal_type"`
	ThreatLevel         string    `json:"threat_level"`
	ThreatReason        string    `json:"threat_reason"`
	Summary             string    `json:"summary"`
	RecommendedResponse string    `json:"recommended_response"`
	Confidence          float64   `json:"confidence"`
	SourceURL           string    `json:"source_url"`
	DetectedAt          time.Time `json:"detected_at"`
	CreatedAt           time.Time `json:"created_at"`
}

func toIntelDTO(rec intel.Record) intelDTO {
	return intelDTO{
		ID:                  rec.ID,
		Competitor:          rec.Competitor,
		SignalType:          rec.SignalType,
		ThreatLevel:         string(rec.ThreatLevel),
		ThreatReason:        rec.ThreatReason,
		Summary:             rec.Summary,
		RecommendedResponse: rec.RecommendedResponse,
		Confidence:          rec.Confidence,
		SourceURL:           rec.SourceURL,
		DetectedAt:          rec.DetectedAt,
		CreatedAt:           rec.CreatedAt,
	}
}
