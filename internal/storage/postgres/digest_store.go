package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/calvin1011/watchtower/internal/intel"
)

// InsertDigest persists a sent digest with its grouped content as jsonb.
func (s *Store) InsertDigest(ctx context.Context, digest intel.Digest) error {
	if digest.ID == "" {
		return fmt.Errorf("digest id is required")
	}
	content, err := json.Marshal(digest.Content)
	if err != nil {
		return fmt.Errorf("marshal digest content: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	week_of,
	content,
	recipient,
	sent_at,
	archive_uri
) VALUES (
	$1,$2,$3,$4,$5,$6
)`, s.digestTable)

	if _, err := s.pool.Exec(ctx, query,
		digest.ID,
		digest.WeekOf,
		content,
		digest.Recipient,
		digest.SentAt,
		digest.ArchiveURI,
	); err != nil {
		return fmt.Errorf("insert digest: %w", err)
	}
	return nil
}

// ListDigests returns the newest digests first.
func (s *Store) ListDigests(ctx context.Context, limit int) ([]intel.Digest, error) {
	if limit <= 0 {
		limit = 20
	}
	query := fmt.Sprintf(`SELECT id, week_of, content, recipient, sent_at, archive_uri
FROM %s
ORDER BY sent_at DESC
LIMIT $1`, s.digestTable)

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list digests: %w", err)
	}
	defer rows.Close()

	var out []intel.Digest
	for rows.Next() {
		var (
			d       intel.Digest
			content []byte
		)
		if err := rows.Scan(&d.ID, &d.WeekOf, &content, &d.Recipient, &d.SentAt, &d.ArchiveURI); err != nil {
			return nil, fmt.Errorf("scan digest: %w", err)
		}
		if len(content) > 0 {
			if err := json.Unmarshal(content, &d.Content); err != nil {
				return nil, fmt.Errorf("decode digest %s content: %w", d.ID, err)
			}
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate digests: %w", err)
	}
	return out, nil
}
