package remote

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOriginOf(t *testing.T) {
	assert.Equal(t, OriginContent, OriginOf(New(OriginContent, "entry %s rejected", "e1")))
	assert.Equal(t, OriginBilling, OriginOf(fmt.Errorf("step: %w", New(OriginBilling, "boom"))))
	assert.Equal(t, OriginTargeting, OriginOf(&BusyError{Origin: OriginTargeting}))
	assert.Equal(t, OriginStore, OriginOf(errors.New("deadlock")))
}

func TestWrapKeepsExistingTag(t *testing.T) {
	tagged := New(OriginBilling, "coupon missing")
	assert.Same(t, tagged, Wrap(OriginContent, tagged))

	busy := &BusyError{Origin: OriginTargeting, Message: "stale version"}
	assert.Same(t, busy, Wrap(OriginTargeting, busy))

	wrapped := Wrap(OriginCache, errors.New("timeout"))
	assert.Equal(t, OriginCache, OriginOf(wrapped))
	assert.Nil(t, Wrap(OriginCache, nil))
}

func TestRetryableClassification(t *testing.T) {
	assert.True(t, IsRetryable(&BusyError{Origin: OriginBuild}))
	assert.True(t, IsRetryable(fmt.Errorf("x: %w", &OfflineError{Origin: OriginBuild})))
	assert.False(t, IsRetryable(New(OriginTargeting, "hard failure")))
}

func TestCompensationFailureMessage(t *testing.T) {
	cf := &CompensationFailure{Cause: New(OriginContent, "publish"), Step: "deactivate-coupon", Err: errors.New("503")}
	assert.Contains(t, cf.Error(), "deactivate-coupon")
	assert.Contains(t, cf.Error(), "publish")
	assert.True(t, IsCompensationFailure(fmt.Errorf("wrapped: %w", cf)))
}
