package scoring

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"cryptoSignalBot/internal/domain"
)

func TestSentimentEvaluator_Score(t *testing.T) {
	tests := []struct {
		name string
		src  *fakeSentiment
		dir  domain.Direction
		want float64
	}{
		{name: "Long uses reading", src: &fakeSentiment{value: 0.8}, dir: domain.Long, want: 0.8},
		{name: "Short inverts reading", src: &fakeSentiment{value: 0.8}, dir: domain.Short, want: 0.2},
		{name: "No direction is neutral", src: &fakeSentiment{value: 0.8}, dir: domain.DirectionNone, want: 0.5},
		{name: "Source failure is neutral", src: &fakeSentiment{err: errors.New("boom")}, dir: domain.Long, want: 0.5},
		{name: "Out of range reading is neutral", src: &fakeSentiment{value: 1.7}, dir: domain.Short, want: 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewSentimentEvaluator(tt.src, &mockLogger{}, time.Minute)
			assert.InDelta(t, tt.want, e.Score(context.Background(), tt.dir), 1e-9)
		})
	}
}

func TestSentimentEvaluator_CachesWithinTTL(t *testing.T) {
	src := &fakeSentiment{value: 0.3}
	logger := &mockLogger{}
	e := NewSentimentEvaluator(src, logger, 5*time.Minute)
	now := baseTime
	e.now = func() time.Time { return now }

	ctx := context.Background()
	assert.InDelta(t, 0.3, e.Score(ctx, domain.Long), 1e-9)
	src.value = 0.9
	now = now.Add(4 * time.Minute)
	assert.InDelta(t, 0.3, e.Score(ctx, domain.Long), 1e-9)
	assert.Equal(t, 1, src.calls)

	now = now.Add(2 * time.Minute)
	assert.InDelta(t, 0.9, e.Score(ctx, domain.Long), 1e-9)
	assert.Equal(t, 2, src.calls)

	src.err = errors.New("down")
	now = now.Add(10 * time.Minute)
	assert.InDelta(t, 0.5, e.Score(ctx, domain.Long), 1e-9)
	assert.Len(t, logger.warnings, 1)
	assert.Equal(t, 3, src.calls)

	// Failure is served as neutral until the retry window passes.
	now = now.Add(20 * time.Second)
	assert.InDelta(t, 0.5, e.Score(ctx, domain.Long), 1e-9)
	assert.Equal(t, 3, src.calls)

	src.err = nil
	src.value = 0.7
	now = now.Add(15 * time.Second)
	assert.InDelta(t, 0.7, e.Score(ctx, domain.Long), 1e-9)
	assert.Equal(t, 4, src.calls)
}

func TestSentimentEvaluator_ConcurrentFailingSource(t *testing.T) {
	src := &fakeSentiment{err: errors.New("timeout"), delay: 50 * time.Millisecond}
	logger := &mockLogger{}
	e := NewSentimentEvaluator(src, logger, time.Minute)

	const callers = 8
	var wg sync.WaitGroup
	scores := make([]float64, callers)
	start := time.Now()
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			scores[i] = e.Score(context.Background(), domain.Long)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, src.callCount())
	assert.Less(t, time.Since(start), 4*src.delay)
	for _, s := range scores {
		assert.InDelta(t, 0.5, s, 1e-9)
	}
	assert.InDelta(t, 0.5, e.Score(context.Background(), domain.Short), 1e-9)
	assert.Equal(t, 1, src.callCount())
}

func TestSentimentEvaluator_NilSource(t *testing.T) {
	var e *SentimentEvaluator
	assert.Equal(t, 0.5, e.Score(context.Background(), domain.Long))
	assert.Equal(t, 0.5, NewSentimentEvaluator(nil, nil, 0).Score(context.Background(), domain.Short))
}
