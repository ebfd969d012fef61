// Package dispatch runs batches of frame analyses against a vision provider
// under a concurrency cap and a global pacing interval, with per-unit retry
// driven by error classification. A unit that cannot be analyzed settles as a
// fallback record rather than sinking the batch; quota exhaustion soft-aborts
// the remainder of the batch; provider unavailability fails the batch hard.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/matchlens/analysis-worker/internal/classify"
	"github.com/matchlens/analysis-worker/internal/models"
	"github.com/matchlens/analysis-worker/internal/normalize"
	"github.com/matchlens/analysis-worker/internal/provider"
)

const (
	// DefaultConcurrency bounds in-flight provider calls per batch.
	DefaultConcurrency = 10
	// DefaultMinInterval is the global pacing gap between dispatches.
	DefaultMinInterval = 4 * time.Second
	// DefaultMaxAttempts bounds retries per unit.
	DefaultMaxAttempts = 3

	maxUnavailableBackoff = 30 * time.Second
)

// Unit is one schedulable analysis: a timestamp plus the call that produces
// its record. The call is expected to return *provider.APIError for upstream
// failures and *normalize.ValidationFailure for unparseable responses.
type Unit struct {
	Timestamp float64
	Analyze   func(ctx context.Context) (models.AnalysisRecord, error)
}

// ProgressFunc is invoked after each unit settles, with the number of
// settled units and the batch total.
type ProgressFunc func(done, total int)

// Options configures a Dispatcher. Zero values take defaults.
type Options struct {
	Concurrency int
	MinInterval time.Duration
	MaxAttempts int
	Logger      *slog.Logger
}

// Dispatcher schedules units against the provider. The pacing window is
// shared across all batches on the same Dispatcher, so two concurrent jobs
// still observe the global dispatch interval.
type Dispatcher struct {
	concurrency int
	minInterval time.Duration
	maxAttempts int
	logger      *slog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu           sync.Mutex
	lastDispatch time.Time
}

// New creates a Dispatcher from opts.
func New(opts Options) *Dispatcher {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.MinInterval < 0 {
		opts.MinInterval = 0
	} else if opts.MinInterval == 0 {
		opts.MinInterval = DefaultMinInterval
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Dispatcher{
		concurrency: opts.Concurrency,
		minInterval: opts.MinInterval,
		maxAttempts: opts.MaxAttempts,
		logger:      opts.Logger,
		now:         time.Now,
		sleep:       sleepCtx,
	}
}

// batchState is shared by all units of one Dispatch call.
type batchState struct {
	mu       sync.Mutex
	done     int
	quotaMsg string // non-empty once the batch has soft-aborted
	hardErr  error  // first unrecoverable error
	onDone   ProgressFunc
	total    int
}

func (b *batchState) settled() {
	b.mu.Lock()
	b.done++
	done := b.done
	onDone := b.onDone
	b.mu.Unlock()
	if onDone != nil {
		onDone(done, b.total)
	}
}

func (b *batchState) abortForQuota(msg string) {
	b.mu.Lock()
	if b.quotaMsg == "" {
		b.quotaMsg = msg
	}
	b.mu.Unlock()
}

func (b *batchState) quotaMessage() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.quotaMsg
}

func (b *batchState) recordHardErr(err error) {
	b.mu.Lock()
	if b.hardErr == nil {
		b.hardErr = err
	}
	b.mu.Unlock()
}

func (b *batchState) hardFailure() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hardErr
}

// Dispatch runs all units and returns their records sorted by timestamp.
// Every unit settles exactly once, as a real record or a fallback, so the
// response always has len(units) frames. The returned error is non-nil only
// for unrecoverable failures (provider unavailability, context cancellation);
// quota exhaustion is reported through Status instead.
func (d *Dispatcher) Dispatch(ctx context.Context, units []Unit, onProgress ProgressFunc) (models.BatchResult, error) {
	if len(units) == 0 {
		return models.BatchResult{Records: []models.AnalysisRecord{}, Status: models.StatusCompleted}, nil
	}

	state := &batchState{onDone: onProgress, total: len(units)}
	records := make([]models.AnalysisRecord, len(units))

	sem := make(chan struct{}, d.concurrency)
	var wg sync.WaitGroup
	for i, u := range units {
		wg.Add(1)
		go func(i int, u Unit) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			records[i] = d.runUnit(ctx, u, state)
			state.settled()
		}(i, u)
	}
	wg.Wait()

	sort.SliceStable(records, func(a, b int) bool {
		return records[a].Timestamp < records[b].Timestamp
	})

	result := models.BatchResult{
		Records: records,
		Total:   len(records),
		Status:  models.StatusCompleted,
	}

	// Partial is reserved for batch-level termination. A unit that merely
	// exhausted its own retries settles as a fallback inside a completed
	// batch.
	quotaMsg := state.quotaMessage()
	hardErr := state.hardFailure()
	switch {
	case quotaMsg != "":
		result.Status = models.StatusPartial
		result.TerminatedEarly = true
		result.TerminationKind = classify.QuotaExhausted.String()
	case hardErr != nil:
		result.Status = models.StatusPartial
		result.TerminatedEarly = true
		if errors.Is(hardErr, context.Canceled) || errors.Is(hardErr, context.DeadlineExceeded) {
			result.TerminationKind = "canceled"
		} else {
			result.TerminationKind = classify.ServiceUnavailable.String()
		}
	}

	if hardErr != nil {
		return result, hardErr
	}
	return result, nil
}

// runUnit drives one unit through the retry state machine and always returns
// a record.
func (d *Dispatcher) runUnit(ctx context.Context, u Unit, state *batchState) models.AnalysisRecord {
	for attempt := 0; attempt < d.maxAttempts; attempt++ {
		if msg := state.quotaMessage(); msg != "" {
			return models.FallbackRecord(u.Timestamp, msg)
		}
		if herr := state.hardFailure(); herr != nil {
			return models.FallbackRecord(u.Timestamp, herr.Error())
		}
		if err := d.pace(ctx); err != nil {
			state.recordHardErr(err)
			return models.FallbackRecord(u.Timestamp, err.Error())
		}

		rec, err := u.Analyze(ctx)
		if err == nil {
			return rec
		}
		if ctx.Err() != nil {
			state.recordHardErr(ctx.Err())
			return models.FallbackRecord(u.Timestamp, ctx.Err().Error())
		}

		kind, delay := classifyErr(err)
		d.logger.Warn("frame analysis failed",
			"timestamp", u.Timestamp,
			"attempt", attempt+1,
			"kind", kind.String(),
			"error", err)

		switch kind {
		case classify.QuotaExhausted:
			// No point retrying or letting the rest of the batch burn
			// requests against an exhausted quota.
			state.abortForQuota(err.Error())
			return models.FallbackRecord(u.Timestamp, err.Error())

		case classify.ServiceUnavailable:
			if attempt == d.maxAttempts-1 {
				state.recordHardErr(fmt.Errorf("provider unavailable after %d attempts: %w", d.maxAttempts, err))
				return models.FallbackRecord(u.Timestamp, err.Error())
			}
			backoff := 5 * time.Second << attempt
			if backoff > maxUnavailableBackoff {
				backoff = maxUnavailableBackoff
			}
			if serr := d.sleep(ctx, backoff); serr != nil {
				state.recordHardErr(serr)
				return models.FallbackRecord(u.Timestamp, serr.Error())
			}

		case classify.RateLimited:
			if serr := d.sleep(ctx, delay); serr != nil {
				state.recordHardErr(serr)
				return models.FallbackRecord(u.Timestamp, serr.Error())
			}

		default: // Transient, ValidationFailure
			if attempt == d.maxAttempts-1 {
				return models.FallbackRecord(u.Timestamp, err.Error())
			}
			if serr := d.sleep(ctx, time.Second<<attempt); serr != nil {
				state.recordHardErr(serr)
				return models.FallbackRecord(u.Timestamp, serr.Error())
			}
		}
	}
	return models.FallbackRecord(u.Timestamp, "analysis retries exhausted")
}

// pace enforces the global minimum interval between dispatches. The mutex is
// held across the wait so concurrent units queue on it in turn, which is what
// serializes dispatch times.
func (d *Dispatcher) pace(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.lastDispatch.IsZero() {
		if wait := d.minInterval - d.now().Sub(d.lastDispatch); wait > 0 {
			if err := d.sleep(ctx, wait); err != nil {
				return err
			}
		}
	}
	d.lastDispatch = d.now()
	return nil
}

// classifyErr maps an analysis error onto a retry class. Provider API errors
// are classified by status and message; response validation failures and
// everything else (network errors, decode errors) retry as transient.
func classifyErr(err error) (classify.Kind, time.Duration) {
	var apiErr *provider.APIError
	if errors.As(err, &apiErr) {
		return classify.Classify(apiErr.StatusCode, apiErr.Message)
	}
	var vf *normalize.ValidationFailure
	if errors.As(err, &vf) {
		return classify.Transient, 0
	}
	return classify.Transient, 0
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
