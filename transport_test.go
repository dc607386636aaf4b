package smb2

import (
	"context"
	"testing"
)

func TestDialTCPWithRetryFailsFastOnNonRetryableError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	policy := DialRetryPolicy{MaxAttempts: 5, InitialDelay: 0, MaxDelay: 0, Multiplier: 1}
	_, err := DialTCPWithRetry(ctx, "127.0.0.1:0", &policy, nil)
	if err == nil {
		t.Fatal("DialTCPWithRetry() with a canceled context: expected an error, got nil")
	}
}

func TestDialTCPWithRetryUsesDefaultPolicyWhenNilGivenNilPolicy(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := DialTCPWithRetry(ctx, "127.0.0.1:0", nil, nil)
	if err == nil {
		t.Fatal("DialTCPWithRetry() with a canceled context: expected an error, got nil")
	}
}
