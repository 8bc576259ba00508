package scoring

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"cryptoSignalBot/internal/domain"
	"cryptoSignalBot/internal/ports"
)

const (
	neutralSentiment = 0.5
	// failureRetry is how long a failed read is served as neutral before
	// the source is asked again.
	failureRetry = 30 * time.Second
)

// SentimentEvaluator caches the external reading and normalizes it per direction.
// A failing source never blocks evaluation: concurrent callers share one
// fetch and a failure is cached as neutral for failureRetry.
type SentimentEvaluator struct {
	source ports.SentimentSource
	logger ports.Logger
	ttl    time.Duration
	retry  time.Duration
	now    func() time.Time

	group     singleflight.Group
	mu        sync.Mutex
	value     float64
	expiresAt time.Time
	valid     bool
}

// NewSentimentEvaluator creates an evaluator. A nil source always yields neutral.
func NewSentimentEvaluator(source ports.SentimentSource, logger ports.Logger, ttl time.Duration) *SentimentEvaluator {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &SentimentEvaluator{source: source, logger: logger, ttl: ttl, retry: failureRetry, now: time.Now}
}

// Score returns the Layer D score in [0,1] for the direction.
func (e *SentimentEvaluator) Score(ctx context.Context, dir domain.Direction) float64 {
	s := e.current(ctx)
	switch dir {
	case domain.Long:
		return s
	case domain.Short:
		return 1 - s
	default:
		return neutralSentiment
	}
}

func (e *SentimentEvaluator) current(ctx context.Context) float64 {
	if e == nil || e.source == nil {
		return neutralSentiment
	}
	if v, ok := e.cached(); ok {
		return v
	}
	v, _, _ := e.group.Do("sentiment", func() (interface{}, error) {
		if v, ok := e.cached(); ok {
			return v, nil
		}
		return e.fetch(ctx), nil
	})
	return v.(float64)
}

func (e *SentimentEvaluator) cached() (float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.valid && e.now().Before(e.expiresAt) {
		return e.value, true
	}
	return 0, false
}

// fetch reads the source without holding mu and stores the result. A failed
// read is stored as neutral for the retry window.
func (e *SentimentEvaluator) fetch(ctx context.Context) float64 {
	op := "SentimentEvaluator.fetch"

	v, err := e.source.Current(ctx)
	if err == nil && (math.IsNaN(v) || v < 0 || v > 1) {
		err = fmt.Errorf("%w: sentiment %v outside [0,1]", ports.ErrInvalidRequest, v)
	}
	ttl := e.ttl
	if err != nil {
		if e.logger != nil {
			e.logger.Warn(ctx, op+": Sentiment unavailable, using neutral", map[string]interface{}{
				"error": err.Error(),
				"retry": e.retry.String(),
			})
		}
		v, ttl = neutralSentiment, e.retry
	}

	e.mu.Lock()
	e.value, e.expiresAt, e.valid = v, e.now().Add(ttl), true
	e.mu.Unlock()
	return v
}
