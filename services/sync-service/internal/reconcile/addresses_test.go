package reconcile

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stoik/mailroom/internal/models"
)

func TestMergeAddresses(t *testing.T) {
	alice := "Alice"
	raw := "Alice <a@x.com>"

	emails := []models.EmailMessage{
		{
			From: models.EmailAddress{Address: "A@X.com", Name: &alice},
			To:   []models.EmailAddress{{Address: "b@x.com"}},
		},
		{
			From: models.EmailAddress{Address: "a@x.com", Raw: &raw},
			To:   []models.EmailAddress{{Address: "b@x.com"}},
			Cc:   []models.EmailAddress{{Address: "c@x.com"}, {Address: ""}},
		},
	}

	merged := MergeAddresses(emails)
	require.Len(t, merged, 3)

	assert.Equal(t, "a@x.com", merged[0].Address)
	require.NotNil(t, merged[0].Name)
	assert.Equal(t, "Alice", *merged[0].Name)
	require.NotNil(t, merged[0].Raw)
	assert.Equal(t, raw, *merged[0].Raw)

	assert.Equal(t, "b@x.com", merged[1].Address)
	assert.Equal(t, "c@x.com", merged[2].Address)
}

func TestMergeAddressesLaterNameWins(t *testing.T) {
	bob, robert := "Bob", "Robert"
	emails := []models.EmailMessage{
		{From: models.EmailAddress{Address: "bob@x.com", Name: &bob}},
		{From: models.EmailAddress{Address: "bob@x.com", Name: &robert}},
	}

	merged := MergeAddresses(emails)
	require.Len(t, merged, 1)
	assert.Equal(t, "Robert", *merged[0].Name)
}

func TestKeyedMutexSerializesPerKey(t *testing.T) {
	k := newKeyedMutex()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("t1")
			defer unlock()

			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
	assert.Zero(t, k.size())
}

func TestKeyedMutexIndependentKeys(t *testing.T) {
	k := newKeyedMutex()

	unlockA := k.Lock("a")
	done := make(chan struct{})
	go func() {
		unlock := k.Lock("b")
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on b blocked behind a")
	}
	unlockA()
}
