package agentmgr

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentcoord/internal/domain"
)

func TestAllocatorCapacityExhaustionIsNotAnError(t *testing.T) {
	alloc := NewAllocator()
	_, err := alloc.Register("gpu-1", "gpu", 1.0)
	require.NoError(t, err)

	ok, err := alloc.Allocate("A", "gpu-1", 1.0)
	require.NoError(t, err)
	require.True(t, ok)

	before, _ := alloc.Get("gpu-1")
	ok, err = alloc.Allocate("B", "gpu-1", 0.1)
	require.NoError(t, err)
	assert.False(t, ok)

	after, _ := alloc.Get("gpu-1")
	assert.Equal(t, before, after)
	assert.Equal(t, "A", after.AgentID)
	assert.Empty(t, alloc.ListForAgent("B"))
}

func TestAllocatorAllocateReleaseRoundTrip(t *testing.T) {
	alloc := NewAllocator()
	_, err := alloc.Register("mem", "memory", 8)
	require.NoError(t, err)

	ok, err := alloc.Allocate("A", "mem", 3)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, alloc.ListForAgent("A"), 1)

	util, err := alloc.Utilization("mem")
	require.NoError(t, err)
	assert.InDelta(t, 0.375, util, 1e-9)

	require.NoError(t, alloc.Release("A", "mem", 3))
	res, _ := alloc.Get("mem")
	assert.Zero(t, res.Allocated)
	assert.Empty(t, res.AgentID)
	assert.Empty(t, alloc.ListForAgent("A"))
}

func TestAllocatorReleaseRules(t *testing.T) {
	alloc := NewAllocator()
	_, err := alloc.Register("disk", "storage", 10)
	require.NoError(t, err)

	_, err = alloc.Register("disk", "storage", 10)
	require.ErrorIs(t, err, domain.ErrDuplicate)

	ok, err := alloc.Allocate("A", "disk", 4)
	require.NoError(t, err)
	require.True(t, ok)

	require.ErrorIs(t, alloc.Release("B", "disk", 1), domain.ErrOwnershipMismatch)
	require.ErrorIs(t, alloc.Release("A", "ghost", 1), domain.ErrNotFound)

	require.ErrorIs(t, alloc.Release("A", "disk", -5), domain.ErrInvalidArgument)
	require.ErrorIs(t, alloc.Release("A", "disk", math.NaN()), domain.ErrInvalidArgument)
	res, _ := alloc.Get("disk")
	assert.Equal(t, 4.0, res.Allocated, "a rejected release leaves the ledger untouched")
	assert.LessOrEqual(t, res.Allocated, res.Capacity)

	require.NoError(t, alloc.Release("A", "disk", 1))
	res, _ = alloc.Get("disk")
	assert.Equal(t, 3.0, res.Allocated)
	assert.Equal(t, "A", res.AgentID)

	require.NoError(t, alloc.Release("A", "disk", 100))
	res, _ = alloc.Get("disk")
	assert.Zero(t, res.Allocated, "release floors at zero")
	assert.Empty(t, res.AgentID)
}

func TestAllocatorLastAllocatorBecomesHolder(t *testing.T) {
	alloc := NewAllocator()
	_, err := alloc.Register("cpu", "compute", 4)
	require.NoError(t, err)

	for _, agent := range []string{"A", "B"} {
		ok, err := alloc.Allocate(agent, "cpu", 1)
		require.NoError(t, err)
		require.True(t, ok)
	}
	res, _ := alloc.Get("cpu")
	assert.Equal(t, "B", res.AgentID)
	require.ErrorIs(t, alloc.Release("A", "cpu", 1), domain.ErrOwnershipMismatch)
}

func TestAllocatorListAvailableAndValidation(t *testing.T) {
	alloc := NewAllocator()
	_, err := alloc.Register("gpu-1", "gpu", 1)
	require.NoError(t, err)
	_, err = alloc.Register("gpu-2", "gpu", 1)
	require.NoError(t, err)
	_, err = alloc.Register("cpu-1", "cpu", 2)
	require.NoError(t, err)
	_, err = alloc.Register("empty", "cpu", 0)
	require.NoError(t, err)

	ok, err := alloc.Allocate("A", "gpu-1", 1)
	require.NoError(t, err)
	require.True(t, ok)

	gpus := alloc.ListAvailable("gpu")
	require.Len(t, gpus, 1)
	assert.Equal(t, "gpu-2", gpus[0].ID)
	assert.Len(t, alloc.ListAvailable(""), 2)

	util, err := alloc.Utilization("empty")
	require.NoError(t, err)
	assert.Zero(t, util)

	_, err = alloc.Utilization("ghost")
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, err = alloc.Allocate("A", "ghost", 1)
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, err = alloc.Allocate("A", "cpu-1", -1)
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
	_, err = alloc.Register("neg", "cpu", -1)
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestAllocatorConcurrentAllocationNeverExceedsCapacity(t *testing.T) {
	alloc := NewAllocator()
	_, err := alloc.Register("pool", "slots", 10)
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := alloc.Allocate("worker", "pool", 1)
			if err == nil && ok {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	res, _ := alloc.Get("pool")
	assert.Equal(t, 10, granted)
	assert.Equal(t, 10.0, res.Allocated)
	assert.LessOrEqual(t, res.Allocated, res.Capacity)
}
