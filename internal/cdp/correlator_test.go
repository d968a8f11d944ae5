package cdp

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func responseMsg(t *testing.T, id int64) *Message {
	t.Helper()
	m, err := Decode([]byte(fmt.Sprintf(`{"id":%d,"result":{}}`, id)))
	require.NoError(t, err)
	return m
}

func TestNextIDDisjointAndMonotonic(t *testing.T) {
	c := NewCorrelator()

	var clientIDs, targetIDs []int64
	for i := 0; i < 10; i++ {
		clientIDs = append(clientIDs, c.NextID(ClientToTarget))
		targetIDs = append(targetIDs, c.NextID(TargetToClient))
	}

	seen := make(map[int64]bool)
	for i := range clientIDs {
		assert.False(t, seen[clientIDs[i]], "id collision")
		assert.False(t, seen[targetIDs[i]], "id collision")
		seen[clientIDs[i]] = true
		seen[targetIDs[i]] = true
		if i > 0 {
			assert.Greater(t, clientIDs[i], clientIDs[i-1])
			assert.Greater(t, targetIDs[i], targetIDs[i-1])
		}
	}
}

func TestCorrelationArbitraryOrder(t *testing.T) {
	// N concurrent requests, responses arriving in arbitrary order: each
	// continuation fires exactly once with its own response.
	c := NewCorrelator()

	const n = 50
	fired := make(map[int64]int)
	for i := int64(1); i <= n; i++ {
		id := i
		ok := c.Track(ClientToTarget, &Pending{ClientID: id, TargetID: id, Method: "m"}, func(p *Pending, m *Message) {
			require.Equal(t, id, *m.ID)
			fired[id]++
		})
		require.True(t, ok)
	}

	order := rand.Perm(n)
	// Only respond to the first 30: the rest stay pending.
	for _, idx := range order[:30] {
		id := int64(idx + 1)
		assert.True(t, c.Resolve(ClientToTarget, responseMsg(t, id)))
	}

	assert.Len(t, fired, 30)
	for id, count := range fired {
		assert.Equal(t, 1, count, "continuation for id %d fired %d times", id, count)
	}
	assert.Equal(t, n-30, c.PendingCount())
}

func TestUnmatchedResponseDropped(t *testing.T) {
	c := NewCorrelator()

	ok := c.Track(ClientToTarget, &Pending{ClientID: 1, TargetID: 1, Method: "m"}, nil)
	require.True(t, ok)

	// A response with no pending record is dropped without touching others.
	assert.False(t, c.Resolve(ClientToTarget, responseMsg(t, 99)))
	assert.Equal(t, 1, c.PendingCount())

	// Resolving twice fires once.
	assert.True(t, c.Resolve(ClientToTarget, responseMsg(t, 1)))
	assert.False(t, c.Resolve(ClientToTarget, responseMsg(t, 1)))
}

func TestDuplicatePendingRejected(t *testing.T) {
	c := NewCorrelator()

	require.True(t, c.Track(ClientToTarget, &Pending{ClientID: 1, TargetID: 1}, nil))
	assert.False(t, c.Track(ClientToTarget, &Pending{ClientID: 1, TargetID: 1}, nil))

	// The same id on the other direction is a separate numbering space.
	assert.True(t, c.Track(TargetToClient, &Pending{ClientID: 1, TargetID: 1}, nil))
}

func TestClearDropsPending(t *testing.T) {
	c := NewCorrelator()

	fired := false
	c.Track(ClientToTarget, &Pending{ClientID: 1, TargetID: 1}, func(*Pending, *Message) { fired = true })
	c.Clear()

	assert.False(t, c.Resolve(ClientToTarget, responseMsg(t, 1)))
	assert.False(t, fired, "stale continuation fired after clear")
	assert.Equal(t, 0, c.PendingCount())
}
