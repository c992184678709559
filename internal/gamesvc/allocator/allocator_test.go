package allocator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sequence replays fixed offsets from MinPort.
func sequence(offsets ...int) func(int) int {
	i := 0
	return func(n int) int {
		v := offsets[i%len(offsets)]
		i++
		return v % n
	}
}

func TestAllocateSkipsPortsInUse(t *testing.T) {
	a := NewPortAllocator(10).WithSource(sequence(0, 1, 2))

	ports, err := a.Allocate([]int{MinPort, MinPort + 1}, 1)
	require.NoError(t, err)
	assert.Equal(t, []int{MinPort + 2}, ports)
}

func TestAllocateReturnsDistinctPorts(t *testing.T) {
	a := NewPortAllocator(10).WithSource(sequence(5, 5, 5, 6))

	ports, err := a.Allocate(nil, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{MinPort + 5, MinPort + 6}, ports)
}

func TestAllocateGivesUpAfterAttempts(t *testing.T) {
	calls := 0
	a := NewPortAllocator(3).WithSource(func(int) int {
		calls++
		return 0
	})

	_, err := a.Allocate([]int{MinPort}, 1)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, 3, calls)
}

func TestAllocateStaysInRange(t *testing.T) {
	a := NewPortAllocator(0)
	used := []int{}
	for i := 0; i < 200; i++ {
		ports, err := a.Allocate(used, 2)
		require.NoError(t, err)
		for _, p := range ports {
			assert.True(t, InRange(p), "port %d out of range", p)
			assert.NotContains(t, used, p)
		}
		used = append(used, ports...)
	}
}

func TestNamerRoundTrip(t *testing.T) {
	n := NewNamer("fma-test")

	container := n.ContainerName("demo")
	assert.Equal(t, "fma-test_demo", container)

	name, ok := n.GameName(container)
	require.True(t, ok)
	assert.Equal(t, "demo", name)

	name, ok = n.GameName("/fma-test_with_underscores")
	require.True(t, ok)
	assert.Equal(t, "with_underscores", name)

	_, ok = n.GameName("other_demo")
	assert.False(t, ok)
	_, ok = n.GameName("fma-test_")
	assert.False(t, ok)
}

func TestNamerSetAside(t *testing.T) {
	n := NewNamer("fma-test")

	previous := n.PreviousContainerName("demo")
	assert.Equal(t, "fma-test_demo.previous", previous)

	name, ok := n.GameName(previous)
	require.True(t, ok)
	game, ok := n.SetAside(name)
	require.True(t, ok)
	assert.Equal(t, "demo", game)

	_, ok = n.SetAside("demo")
	assert.False(t, ok)
}
