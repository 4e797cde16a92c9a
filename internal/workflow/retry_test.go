package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryPolicy_Defaults(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.Equal(t, time.Second, p.BaseDelay)
	assert.Equal(t, 30*time.Second, p.MaxDelay)
}

func TestRetryPolicy_CalculateDelayNoJitter(t *testing.T) {
	p := NewRetryPolicy()
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{20, 30 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.CalculateDelayNoJitter(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestRetryPolicy_JitterStaysBounded(t *testing.T) {
	p := NewRetryPolicy(WithJitter(0.5))
	for i := 0; i < 200; i++ {
		d := p.CalculateDelay(10)
		assert.LessOrEqual(t, d, 30*time.Second)
		assert.GreaterOrEqual(t, d, 15*time.Second)
	}
}

func TestRetryPolicy_Options(t *testing.T) {
	p := NewRetryPolicy(WithBaseDelay(10*time.Millisecond), WithMaxDelay(50*time.Millisecond),
		WithMultiplier(3), WithJitter(0))
	assert.Equal(t, 10*time.Millisecond, p.CalculateDelay(1))
	assert.Equal(t, 30*time.Millisecond, p.CalculateDelay(2))
	assert.Equal(t, 50*time.Millisecond, p.CalculateDelay(3))
}
