package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBreakerOpensAndRecovers(t *testing.T) {
	b := NewBreaker("redis", BreakerConfig{FailureThreshold: 2, Cooldown: time.Second})
	now := time.Unix(0, 0)
	b.now = func() time.Time { return now }

	boom := errors.New("connection refused")
	calls := 0
	fail := func() error { calls++; return boom }
	ok := func() error { calls++; return nil }

	assert.ErrorIs(t, b.Do(fail, nil), boom)
	assert.Equal(t, StateClosed, b.State())
	assert.ErrorIs(t, b.Do(fail, nil), boom)
	assert.Equal(t, StateOpen, b.State())

	assert.ErrorIs(t, b.Do(ok, nil), ErrCircuitOpen)
	assert.Equal(t, 2, calls)

	now = now.Add(2 * time.Second)
	assert.ErrorIs(t, b.Do(fail, nil), boom)
	assert.Equal(t, StateOpen, b.State(), "failed probe reopens")

	now = now.Add(2 * time.Second)
	assert.NoError(t, b.Do(ok, nil))
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 4, calls)
}

func TestBreakerIgnoredErrorsCountAsSuccess(t *testing.T) {
	b := NewBreaker("redis", BreakerConfig{FailureThreshold: 1})
	miss := errors.New("miss")
	isMiss := func(err error) bool { return errors.Is(err, miss) }

	for range 3 {
		assert.ErrorIs(t, b.Do(func() error { return miss }, isMiss), miss)
	}
	assert.Equal(t, StateClosed, b.State())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(9).String())
}
