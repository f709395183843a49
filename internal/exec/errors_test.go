package exec

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyBySubstring(t *testing.T) {
	tests := []struct {
		msg  string
		want ErrorKind
	}{
		{"Insufficient balance for order", KindTerminal},
		{"insufficient margin", KindTerminal},
		{"Invalid symbol BTCXYZ", KindTerminal},
		{"invalid quantity 0", KindTerminal},
		{"Order rejected by exchange", KindTerminal},
		{"account disabled", KindTerminal},
		{"bad API key", KindTerminal},
		{"authentication failed", KindTerminal},
		{"request timeout after 30s", KindRetryable},
		{"connection reset by peer", KindRetryable},
		{"rate limit exceeded", KindRetryable},
		{"internal server error", KindRetryable},
		{"HTTP 503 Service Unavailable", KindRetryable},
		{"HTTP 502 Bad Gateway", KindRetryable},
		{"HTTP 429 Too Many Requests", KindRetryable},
		{"network unreachable", KindRetryable},
		{"something entirely new", KindRetryable}, // unmatched defaults to retryable
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(errors.New(tt.msg)))
		})
	}
}

func TestClassifyStructuredKindWins(t *testing.T) {
	// message says timeout but the adapter marked it terminal
	err := NewTerminalError("timeout while validating order")
	assert.Equal(t, KindTerminal, Classify(err))

	// and the other way round
	err = NewRetryableError("order rejected transiently by matching engine")
	assert.Equal(t, KindRetryable, Classify(err))
}

func TestClassifyWrappedKinder(t *testing.T) {
	inner := NewTerminalError("insufficient balance")
	wrapped := fmt.Errorf("submit BTCUSDT: %w", inner)
	assert.Equal(t, KindTerminal, Classify(wrapped))
}

func TestClassifyUnknownKindFallsThrough(t *testing.T) {
	err := &BrokerError{Message: "connection lost", ErrorKind: KindUnknown}
	assert.Equal(t, KindRetryable, Classify(err))

	err = &BrokerError{Message: "order rejected", ErrorKind: KindUnknown}
	assert.Equal(t, KindTerminal, Classify(err))
}

func TestTerminalBeatsRetryableSubstring(t *testing.T) {
	// both tables match; terminal wins
	assert.Equal(t, KindTerminal, Classify(errors.New("order rejected: connection ok")))
}
