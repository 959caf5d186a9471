package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func newTestLimiter(capacity int, refillPerHour float64) *Limiter {
	l := New(Config{Capacity: capacity, RefillPerHour: refillPerHour})
	l.Close() // no eviction sweep in tests
	return l
}

func TestAcquire_StartsFull(t *testing.T) {
	l := newTestLimiter(5, 60)
	user := uuid.New()
	now := time.Now()

	d := l.AcquireAt(user, 1, now)
	assert.True(t, d.Allowed)
	assert.InDelta(t, 4.0, d.Remaining, 0.01)
}

func TestAcquire_DeniesWithoutSpending(t *testing.T) {
	l := newTestLimiter(3, 60)
	user := uuid.New()
	now := time.Now()

	for i := 0; i < 3; i++ {
		assert.True(t, l.AcquireAt(user, 1, now).Allowed)
	}

	denied := l.AcquireAt(user, 1, now)
	assert.False(t, denied.Allowed)

	// Denial must not have consumed anything: after exactly one token's worth
	// of refill time the next acquire succeeds.
	refilled := now.Add(time.Minute)
	assert.True(t, l.AcquireAt(user, 1, refilled).Allowed)
}

func TestAcquire_CostAboveBalanceDenied(t *testing.T) {
	l := newTestLimiter(10, 60)
	user := uuid.New()
	now := time.Now()

	assert.True(t, l.AcquireAt(user, 8, now).Allowed)
	assert.False(t, l.AcquireAt(user, 5, now).Allowed)
	assert.True(t, l.AcquireAt(user, 2, now).Allowed)
}

func TestStatus_RefillsToCapacityAndNoFurther(t *testing.T) {
	l := newTestLimiter(10, 60) // full refill takes 10 minutes
	user := uuid.New()
	now := time.Now()

	for i := 0; i < 10; i++ {
		assert.True(t, l.AcquireAt(user, 1, now).Allowed)
	}
	assert.InDelta(t, 0.0, l.StatusAt(user, now).Tokens, 0.01)

	// After capacity/refill_rate elapsed the bucket is exactly full again,
	// and waiting longer never overfills it.
	full := l.StatusAt(user, now.Add(10*time.Minute))
	assert.InDelta(t, 10.0, full.Tokens, 0.01)

	later := l.StatusAt(user, now.Add(24*time.Hour))
	assert.InDelta(t, 10.0, later.Tokens, 0.01)
	assert.Equal(t, 10, later.Capacity)
	assert.Equal(t, 60.0, later.RefillPerHour)
}

func TestStatus_NewUserSeesFullBucket(t *testing.T) {
	l := newTestLimiter(7, 5)
	st := l.Status(uuid.New())
	assert.InDelta(t, 7.0, st.Tokens, 0.01)
	assert.Equal(t, 7, st.Capacity)
}

func TestAcquire_UsersAreIndependent(t *testing.T) {
	l := newTestLimiter(1, 1)
	now := time.Now()
	alice, bob := uuid.New(), uuid.New()

	assert.True(t, l.AcquireAt(alice, 1, now).Allowed)
	assert.False(t, l.AcquireAt(alice, 1, now).Allowed)
	assert.True(t, l.AcquireAt(bob, 1, now).Allowed)
}

func TestAcquire_ConcurrentNeverOverspends(t *testing.T) {
	l := newTestLimiter(50, 0.0001) // effectively no refill during the test
	user := uuid.New()
	now := time.Now()

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.AcquireAt(user, 1, now).Allowed {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, granted)
}

func TestRetryDelay(t *testing.T) {
	l := newTestLimiter(10, 4)
	assert.Equal(t, 15*time.Minute, l.RetryDelay())
}
