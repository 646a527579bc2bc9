package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter(t *testing.T) {
	r := NewRateLimiter(time.Hour)
	assert.True(t, r.Allow())
	assert.False(t, r.Allow())

	var nilLimiter *RateLimiter
	assert.True(t, nilLimiter.Allow())
	assert.True(t, NewRateLimiter(0).Allow())
	assert.True(t, NewRateLimiter(0).Allow())
}
