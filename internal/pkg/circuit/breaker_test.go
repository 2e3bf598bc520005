package circuit

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b := New("ledger", 3, time.Hour)

	boom := errors.New("boom")
	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, b.Do(func() error { return boom }), boom)
	}
	assert.Equal(t, StateOpen, b.State())
	assert.ErrorIs(t, b.Do(func() error { return nil }), ErrOpen)
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	b := New("feed", 1, time.Millisecond)
	_ = b.Do(func() error { return errors.New("boom") })
	assert.Equal(t, StateOpen, b.State())

	time.Sleep(5 * time.Millisecond)

	assert.NoError(t, b.Do(func() error { return nil }))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := New("feed", 1, time.Millisecond)
	_ = b.Do(func() error { return errors.New("boom") })
	time.Sleep(5 * time.Millisecond)

	_ = b.Do(func() error { return errors.New("still down") })
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := New("rules", 2, time.Hour)
	_ = b.Do(func() error { return errors.New("boom") })
	_ = b.Do(func() error { return nil })
	_ = b.Do(func() error { return errors.New("boom") })
	assert.Equal(t, StateClosed, b.State())
}
