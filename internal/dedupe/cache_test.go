// ABOUTME: Tests for the tool-result cache used to answer replayed tool calls.
// ABOUTME: Validates claiming, completion, TTL expiration, eviction, cleanup, and concurrency safety.

package dedupe

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCache_Claim_NewKey(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	status, result := cache.Claim("call-1")
	assert.Equal(t, StatusNew, status)
	assert.Nil(t, result)
	assert.Equal(t, 1, cache.Len())
}

func TestCache_Claim_PendingThenDone(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	cache.Claim("call-1")

	status, _ := cache.Claim("call-1")
	assert.Equal(t, StatusPending, status)

	cache.Complete("call-1", []byte(`{"total":7}`))

	status, result := cache.Claim("call-1")
	assert.Equal(t, StatusDone, status)
	assert.JSONEq(t, `{"total":7}`, string(result))
}

func TestCache_Claim_Expired(t *testing.T) {
	cache := New(10*time.Millisecond, 100)
	defer cache.Close()

	cache.Claim("call-1")
	cache.Complete("call-1", []byte(`1`))

	time.Sleep(20 * time.Millisecond)

	status, result := cache.Claim("call-1")
	assert.Equal(t, StatusNew, status, "expired entries can be claimed again")
	assert.Nil(t, result)
}

func TestCache_Forget(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	cache.Claim("call-1")
	cache.Forget("call-1")
	cache.Forget("never-seen")

	status, _ := cache.Claim("call-1")
	assert.Equal(t, StatusNew, status)
}

func TestCache_CompleteAfterForgetStoresNothing(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	cache.Claim("c1\x00t1")
	cache.Forget("c1\x00t1")

	assert.False(t, cache.Complete("c1\x00t1", []byte(`{"total":3}`)))
	assert.Equal(t, 0, cache.Len())

	status, _ := cache.Claim("c1\x00t1")
	assert.Equal(t, StatusNew, status)
}

func TestCache_ForgetPrefix(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	for _, key := range []string{"c1\x00t1", "c1\x00t2", "c10\x00t1", "c2\x00t1"} {
		cache.Claim(key)
		assert.True(t, cache.Complete(key, []byte("null")))
	}

	assert.Equal(t, 2, cache.ForgetPrefix("c1\x00"))
	assert.Equal(t, 2, cache.Len())

	status, _ := cache.Claim("c10\x00t1")
	assert.Equal(t, StatusDone, status, "a longer id sharing the prefix text is kept")
	status, _ = cache.Claim("c1\x00t1")
	assert.Equal(t, StatusNew, status)
}

func TestCache_Eviction(t *testing.T) {
	cache := New(5*time.Minute, 3)
	defer cache.Close()

	for i := 1; i <= 4; i++ {
		key := fmt.Sprintf("call-%d", i)
		cache.Claim(key)
		cache.Complete(key, []byte("null"))
	}

	assert.Equal(t, 3, cache.Len())

	status, _ := cache.Claim("call-1")
	assert.Equal(t, StatusNew, status, "oldest entry should be evicted")

	status, _ = cache.Claim("call-4")
	assert.Equal(t, StatusDone, status)
}

func TestCache_Complete_RefreshesOrder(t *testing.T) {
	cache := New(5*time.Minute, 2)
	defer cache.Close()

	cache.Claim("a")
	cache.Claim("b")
	cache.Complete("a", []byte("1")) // a moves to the back
	cache.Claim("c")                 // evicts b

	status, _ := cache.Claim("a")
	assert.Equal(t, StatusDone, status)

	status, _ = cache.Claim("b")
	assert.Equal(t, StatusNew, status)
}

func TestCache_Cleanup(t *testing.T) {
	cache := New(10*time.Millisecond, 100)
	defer cache.Close()

	cache.Claim("a")
	cache.Claim("b")
	time.Sleep(20 * time.Millisecond)

	cache.runCleanup()
	assert.Equal(t, 0, cache.Len())
}

func TestCache_ConcurrentClaimHasOneWinner(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	var winners atomic.Int32
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if status, _ := cache.Claim("call-1"); status == StatusNew {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())
}

func TestCache_Close(t *testing.T) {
	cache := New(5*time.Minute, 100)
	cache.Close()
	assert.NotPanics(t, cache.Close)
}
