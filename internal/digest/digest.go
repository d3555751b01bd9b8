// Package digest builds, renders and delivers the weekly intel email.
package digest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/calvin1011/watchtower/internal/clock/system"
	"github.com/calvin1011/watchtower/internal/id/uuid"
	"github.com/calvin1011/watchtower/internal/intel"
	"github.com/calvin1011/watchtower/internal/metrics"
)

var (
	// ErrMailerNotConfigured is returned by Send when no email provider is wired.
	ErrMailerNotConfigured = errors.New("digest: RESEND_API_KEY not configured")
	// ErrNoRecipient is returned by Send when neither the caller nor config names one.
	ErrNoRecipient = errors.New("digest: no recipient")
)

const (
	defaultScanLimit    = 100
	defaultSinceDays    = 7
	defaultHistoryLimit = 20
	weekOfLayout        = "2006-01-02"
)

// Config tunes a Service.
type Config struct {
	From        string
	Recipient   string
	CompanyName string
	ScanLimit   int
	SinceDays   int
	// Topic receives digest.sent events.
	Topic string
}

// Deps are the collaborators of a Service. Store and Digests are required.
type Deps struct {
	Store     intel.IntelStore
	Digests   intel.DigestStore
	Mailer    Mailer
	Blobs     intel.BlobStore
	Publisher intel.Publisher
	IDs       intel.IDGenerator
	Clock     intel.Clock
}

// Service builds and sends digests.
type Service struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// Preview is a rendered digest that has not been sent.
type Preview struct {
	Subject string              `json:"subject"`
	HTML    string              `json:"html"`
	Content intel.DigestContent `json:"content"`
}

// New validates deps and fills defaults.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Service, error) {
	if deps.Store == nil {
		return nil, errors.New("digest: intel store is required")
	}
	if deps.Digests == nil {
		return nil, errors.New("digest: digest store is required")
	}
	if deps.IDs == nil {
		deps.IDs = uuid.New()
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if cfg.ScanLimit <= 0 {
		cfg.ScanLimit = defaultScanLimit
	}
	if cfg.SinceDays <= 0 {
		cfg.SinceDays = defaultSinceDays
	}
	if cfg.CompanyName == "" {
		cfg.CompanyName = "HappyCo"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{deps: deps, cfg: cfg, logger: logger.Named("digest")}, nil
}

// MailerConfigured reports whether Send can deliver.
func (s *Service) MailerConfigured() bool {
	return s.deps.Mailer != nil
}

// Build groups recent intel by threat level. When nothing was detected in
// the window, every row read is used instead.
func (s *Service) Build(ctx context.Context, sinceDays int) (intel.DigestContent, time.Time, error) {
	if sinceDays <= 0 {
		sinceDays = s.cfg.SinceDays
	}
	now := s.deps.Clock.Now().UTC()
	weekOf := WeekOf(now)

	rows, err := s.deps.Store.ListIntel(ctx, intel.Filter{Limit: s.cfg.ScanLimit})
	if err != nil {
		return intel.DigestContent{}, weekOf, fmt.Errorf("list intel: %w", err)
	}

	cutoff := now.AddDate(0, 0, -sinceDays)
	recent := make([]intel.Record, 0, len(rows))
	for _, row := range rows {
		if !row.DetectedAt.Before(cutoff) {
			recent = append(recent, row)
		}
	}
	if len(recent) == 0 {
		recent = rows
	}

	grouped, total := groupByThreat(recent)
	return intel.DigestContent{
		WeekOf:     weekOf.Format(weekOfLayout),
		Grouped:    grouped,
		TotalItems: total,
	}, weekOf, nil
}

// Preview builds and renders without sending or persisting.
func (s *Service) Preview(ctx context.Context, sinceDays int) (Preview, error) {
	content, weekOf, err := s.Build(ctx, sinceDays)
	if err != nil {
		return Preview{}, err
	}
	html, err := Render(content, weekOf, s.cfg.CompanyName)
	if err != nil {
		return Preview{}, err
	}
	return Preview{Subject: Subject(weekOf), HTML: html, Content: content}, nil
}

// Send builds, emails and records a digest. Nothing is persisted when the
// email is rejected.
func (s *Service) Send(ctx context.Context, recipient string, sinceDays int) (digest intel.Digest, err error) {
	defer func() {
		metrics.ObserveDigestSend(err)
	}()
	if s.deps.Mailer == nil {
		return intel.Digest{}, ErrMailerNotConfigured
	}
	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		recipient = s.cfg.Recipient
	}
	if recipient == "" {
		return intel.Digest{}, ErrNoRecipient
	}

	content, weekOf, err := s.Build(ctx, sinceDays)
	if err != nil {
		return intel.Digest{}, err
	}
	html, err := Render(content, weekOf, s.cfg.CompanyName)
	if err != nil {
		return intel.Digest{}, err
	}

	messageID, err := s.deps.Mailer.Send(ctx, Email{
		From:    s.cfg.From,
		To:      recipient,
		Subject: Subject(weekOf),
		HTML:    html,
	})
	if err != nil {
		return intel.Digest{}, fmt.Errorf("send digest: %w", err)
	}

	id, err := s.deps.IDs.NewID()
	if err != nil {
		return intel.Digest{}, fmt.Errorf("digest id: %w", err)
	}
	digest = intel.Digest{
		ID:        id,
		WeekOf:    weekOf,
		Content:   content,
		Recipient: recipient,
		SentAt:    s.deps.Clock.Now().UTC(),
	}
	digest.ArchiveURI = s.archive(ctx, digest, html)

	if err := s.deps.Digests.InsertDigest(ctx, digest); err != nil {
		return intel.Digest{}, fmt.Errorf("store digest: %w", err)
	}
	s.logger.Info("digest sent",
		zap.String("digest_id", digest.ID),
		zap.String("message_id", messageID),
		zap.String("recipient", recipient),
		zap.Int("items", content.TotalItems),
	)
	s.publish(ctx, digest)
	return digest, nil
}

// History lists sent digests, newest first.
func (s *Service) History(ctx context.Context, limit int) ([]intel.Digest, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	digests, err := s.deps.Digests.ListDigests(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list digests: %w", err)
	}
	return digests, nil
}

// ArchivePath is where the rendered HTML of a digest is written.
func ArchivePath(d intel.Digest) string {
	return fmt.Sprintf("digests/%s/%s.html", d.WeekOf.Format(weekOfLayout), d.ID)
}

func (s *Service) archive(ctx context.Context, d intel.Digest, html string) string {
	if s.deps.Blobs == nil {
		return ""
	}
	uri, err := s.deps.Blobs.PutObject(ctx, ArchivePath(d), "text/html; charset=utf-8", strings.NewReader(html))
	if err != nil {
		s.logger.Warn("archive digest failed", zap.String("digest_id", d.ID), zap.Error(err))
		return ""
	}
	return uri
}

func (s *Service) publish(ctx context.Context, d intel.Digest) {
	if s.deps.Publisher == nil {
		return
	}
	event := intel.Event{
		Type:       intel.EventDigestSent,
		Count:      d.Content.TotalItems,
		DigestID:   d.ID,
		Recipient:  d.Recipient,
		OccurredAt: d.SentAt,
	}
	if _, err := s.deps.Publisher.Publish(ctx, s.cfg.Topic, event); err != nil {
		s.logger.Warn("publish digest event failed", zap.String("digest_id", d.ID), zap.Error(err))
	}
}

// WeekOf returns midnight UTC of the Monday starting t's week.
func WeekOf(t time.Time) time.Time {
	t = t.UTC()
	offset := (int(t.Weekday()) + 6) % 7
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return day.AddDate(0, 0, -offset)
}

func groupByThreat(rows []intel.Record) (map[intel.ThreatLevel][]intel.DigestEntry, int) {
	grouped := make(map[intel.ThreatLevel][]intel.DigestEntry, len(intel.ThreatLevels))
	total := 0
	for _, row := range rows {
		level := intel.NormalizeThreatLevel(string(row.ThreatLevel))
		if !knownLevel(level) {
			continue
		}
		grouped[level] = append(grouped[level], intel.DigestEntry{
			ID:                  row.ID,
			Competitor:          row.Competitor,
			SignalType:          row.SignalType,
			ThreatLevel:         level,
			ThreatReason:        row.ThreatReason,
			Summary:             row.Summary,
			RecommendedResponse: row.RecommendedResponse,
			SourceURL:           row.SourceURL,
			Confidence:          row.Confidence,
			DetectedAt:          row.DetectedAt,
		})
		total++
	}
	return grouped, total
}

func knownLevel(level intel.ThreatLevel) bool {
	for _, l := range intel.ThreatLevels {
		if l == level {
			return true
		}
	}
	return false
}
