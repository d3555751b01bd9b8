package intel

import (
	"context"
	"io"
	"time"
)

// Source collects normalized items about one competitor.
type Source interface {
	Name() string
	Fetch(ctx context.Context, competitor Competitor) ([]Item, error)
}

// Analyzer turns collected items into structured analyses.
type Analyzer interface {
	Analyze(ctx context.Context, competitor string, items []Item) ([]Analysis, error)
}

// Embedder maps text to a vector. A nil vector with a nil error means
// no embedding could be produced.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// IntelStore persists and queries intel rows.
type IntelStore interface {
	InsertIntel(ctx context.Context, records []Record) error
	ListIntel(ctx context.Context, filter Filter) ([]Record, error)
	GetIntel(ctx context.Context, id string) (Record, error)
	SearchSimilar(ctx context.Context, embedding []float32, limit int) ([]Record, error)
}

// DigestStore persists sent digests.
type DigestStore interface {
	InsertDigest(ctx context.Context, digest Digest) error
	ListDigests(ctx context.Context, limit int) ([]Digest, error)
}

// SeenStore remembers which source URLs were already analyzed.
type SeenStore interface {
	Unseen(ctx context.Context, urls []string) ([]string, error)
	MarkSeen(ctx context.Context, urls []string) error
}

// BlobStore writes artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Publisher pushes notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// HeadlessDetector decides whether a headless fetch is warranted.
type HeadlessDetector interface {
	ShouldPromote(probe FetchResponse) bool
}

// Hasher computes digests for deduplication keys.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces row IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
