package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/calvin1011/watchtower/internal/competitor"
	"github.com/calvin1011/watchtower/internal/digest"
	"github.com/calvin1011/watchtower/internal/intel"
	"github.com/calvin1011/watchtower/internal/pipeline"
)

type fakeRunner struct {
	mu      sync.Mutex
	calls   [][]intel.Competitor
	err     error
	block   chan struct{}
	started chan struct{}
}

func (f *fakeRunner) RunAll(ctx context.Context, competitors []intel.Competitor) (pipeline.Summary, error) {
	f.mu.Lock()
	f.calls = append(f.calls, competitors)
	f.mu.Unlock()
	if f.started != nil {
		close(f.started)
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return pipeline.Summary{}, ctx.Err()
		}
	}
	if f.err != nil {
		return pipeline.Summary{}, f.err
	}
	names := make([]string, len(competitors))
	for i, c := range competitors {
		names[i] = c.Name
	}
	return pipeline.Summary{Created: 3, CompetitorsRun: names, Failures: map[string]string{}}, nil
}

type fakeSender struct {
	sinceDays []int
	err       error
}

func (f *fakeSender) Send(_ context.Context, recipient string, sinceDays int) (intel.Digest, error) {
	f.sinceDays = append(f.sinceDays, sinceDays)
	if f.err != nil {
		return intel.Digest{}, f.err
	}
	return intel.Digest{ID: "d1", Recipient: recipient}, nil
}

func registry(t *testing.T) *competitor.Registry {
	t.Helper()
	r, err := competitor.NewRegistry(competitor.Defaults())
	require.NoError(t, err)
	return r
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, nil, nil, registry(t), nil)
	require.ErrorContains(t, err, "required")

	_, err = New(Config{Spec: "not a cron"}, &fakeRunner{}, nil, registry(t), nil)
	require.ErrorContains(t, err, "parse schedule")

	_, err = New(Config{Timezone: "Mars/Olympus"}, &fakeRunner{}, nil, registry(t), nil)
	require.ErrorContains(t, err, "load timezone")
}

func TestNextFiresMondayMorning(t *testing.T) {
	t.Parallel()

	s, err := New(Config{Timezone: "America/New_York"}, &fakeRunner{}, nil, registry(t), nil)
	require.NoError(t, err)
	s.Start()
	defer func() { require.NoError(t, s.Stop(context.Background())) }()

	next := s.Next()
	require.False(t, next.IsZero())
	require.Equal(t, time.Monday, next.Weekday())
	require.Equal(t, 7, next.Hour())
	require.Equal(t, 0, next.Minute())
	require.Equal(t, "America/New_York", next.Location().String())
}

func TestRunNowRunsAllThenSendsDigest(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	sender := &fakeSender{}
	s, err := New(Config{SinceDays: 14}, runner, sender, registry(t), nil)
	require.NoError(t, err)

	report, err := s.RunNow(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, report.Summary.Created)
	require.Len(t, report.Summary.CompetitorsRun, 4)
	require.NotNil(t, report.Digest)
	require.Equal(t, "d1", report.Digest.ID)
	require.Equal(t, []int{14}, sender.sinceDays)
	require.Len(t, runner.calls, 1)
}

func TestRunNowDigestFailureIsReported(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{err: digest.ErrMailerNotConfigured}
	s, err := New(Config{}, &fakeRunner{}, sender, registry(t), nil)
	require.NoError(t, err)

	report, err := s.RunNow(context.Background())
	require.NoError(t, err)
	require.Nil(t, report.Digest)
	require.ErrorIs(t, report.DigestErr, digest.ErrMailerNotConfigured)
	require.Equal(t, []int{7}, sender.sinceDays)
}

func TestRunNowPipelineErrorSkipsDigest(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	s, err := New(Config{}, &fakeRunner{err: context.Canceled}, sender, registry(t), nil)
	require.NoError(t, err)

	_, err = s.RunNow(context.Background())
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, sender.sinceDays)
}

func TestRunNowWithoutSender(t *testing.T) {
	t.Parallel()

	s, err := New(Config{}, &fakeRunner{}, nil, registry(t), nil)
	require.NoError(t, err)
	report, err := s.RunNow(context.Background())
	require.NoError(t, err)
	require.Nil(t, report.Digest)
	require.NoError(t, report.DigestErr)
}

func TestOverlappingRunsAreSkipped(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{block: make(chan struct{}), started: make(chan struct{})}
	s, err := New(Config{}, runner, nil, registry(t), nil)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := s.RunNow(context.Background())
		done <- err
	}()
	<-runner.started

	_, err = s.RunNow(context.Background())
	require.ErrorIs(t, err, ErrAlreadyRunning)

	// The cron path skips silently.
	s.tick()

	close(runner.block)
	require.NoError(t, <-done)
	runner.mu.Lock()
	require.Len(t, runner.calls, 1)
	runner.mu.Unlock()
}

func TestStopCancelsJobContext(t *testing.T) {
	t.Parallel()

	s, err := New(Config{}, &fakeRunner{}, nil, registry(t), nil)
	require.NoError(t, err)
	s.Start()
	require.NoError(t, s.Stop(context.Background()))
	require.ErrorIs(t, s.ctx.Err(), context.Canceled)
}

func TestCronLoggerAppendsError(t *testing.T) {
	t.Parallel()

	s, err := New(Config{}, &fakeRunner{}, nil, registry(t), nil)
	require.NoError(t, err)
	l := cronLogger{log: s.logger.Sugar()}
	l.Info("tick", "entry", 1)
	l.Error(errors.New("boom"), "panic", "stack", "trace")
}
