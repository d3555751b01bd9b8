package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/calvin1011/watchtower/internal/intel"
)

const intelColumns = `id, competitor, signal_type, threat_level, threat_reason, summary,
	recommended_response, confidence, source_url, raw_content, detected_at, created_at`

// InsertIntel writes the batch in a single transaction.
func (s *Store) InsertIntel(ctx context.Context, records []intel.Record) (err error) {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin insert: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				err = fmt.Errorf("%w (rollback: %v)", err, rbErr)
			}
		}
	}()

	query := fmt.Sprintf(`
INSERT INTO %s (
	%s,
	embedding
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
)`, s.intelTable, intelColumns)

	for _, rec := range records {
		if rec.ID == "" {
			return fmt.Errorf("record id is required")
		}
		var embedding *pgvector.Vector
		if len(rec.Embedding) > 0 {
			v := pgvector.NewVector(rec.Embedding)
			embedding = &v
		}
		args := []any{
			rec.ID,
			rec.Competitor,
			rec.SignalType,
			string(rec.ThreatLevel),
			rec.ThreatReason,
			rec.Summary,
			rec.RecommendedResponse,
			rec.Confidence,
			rec.SourceURL,
			rec.RawContent,
			rec.DetectedAt,
			rec.CreatedAt,
			embedding,
		}
		if _, err = tx.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("insert intel %s: %w", rec.ID, err)
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit insert: %w", err)
	}
	return nil
}

// ListIntel returns rows matching the filter, newest detected first.
func (s *Store) ListIntel(ctx context.Context, filter intel.Filter) ([]intel.Record, error) {
	var (
		clauses []string
		args    []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if filter.Competitor != "" {
		add("competitor = $%d", filter.Competitor)
	}
	if filter.SignalType != "" {
		add("signal_type = $%d", strings.ToUpper(filter.SignalType))
	}
	if !filter.Since.IsZero() {
		add("detected_at >= $%d", filter.Since)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", intelColumns, s.intelTable)
	if len(clauses) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(clauses, " AND "))
	}
	args = append(args, limit)
	fmt.Fprintf(&b, " ORDER BY detected_at DESC LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list intel: %w", err)
	}
	return collectRecords(rows)
}

// GetIntel returns one row by id or intel.ErrNotFound. Ids that are not
// UUIDs cannot match the uuid column and are reported as not found.
func (s *Store) GetIntel(ctx context.Context, id string) (intel.Record, error) {
	if _, err := uuid.Parse(id); err != nil {
		return intel.Record{}, intel.ErrNotFound
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = $1", intelColumns, s.intelTable)
	rec, err := scanRecord(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return intel.Record{}, intel.ErrNotFound
	}
	if err != nil {
		return intel.Record{}, fmt.Errorf("get intel %s: %w", id, err)
	}
	return rec, nil
}

// SearchSimilar orders embedded rows by cosine distance to the vector.
func (s *Store) SearchSimilar(ctx context.Context, embedding []float32, limit int) ([]intel.Record, error) {
	if len(embedding) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	query := fmt.Sprintf(`SELECT %s FROM %s
WHERE embedding IS NOT NULL
ORDER BY embedding <=> $1
LIMIT $2`, intelColumns, s.intelTable)

	rows, err := s.pool.Query(ctx, query, pgvector.NewVector(embedding), limit)
	if err != nil {
		return nil, fmt.Errorf("search intel: %w", err)
	}
	return collectRecords(rows)
}

func collectRecords(rows pgx.Rows) ([]intel.Record, error) {
	defer rows.Close()
	var out []intel.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan intel: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate intel: %w", err)
	}
	return out, nil
}

func scanRecord(row pgx.Row) (intel.Record, error) {
	var (
		rec   intel.Record
		level string
	)
	err := row.Scan(
		&rec.ID,
		&rec.Competitor,
		&rec.SignalType,
		&level,
		&rec.ThreatReason,
		&rec.Summary,
		&rec.RecommendedResponse,
		&rec.Confidence,
		&rec.SourceURL,
		&rec.RawContent,
		&rec.DetectedAt,
		&rec.CreatedAt,
	)
	if err != nil {
		return intel.Record{}, err
	}
	rec.ThreatLevel = intel.ThreatLevel(level)
	return rec, nil
}
