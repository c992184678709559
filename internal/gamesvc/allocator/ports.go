package allocator

import (
	"errors"
	"math/rand/v2"
)

const (
	MinPort = 1024
	MaxPort = 65535

	DefaultAttempts = 1000
)

var ErrExhausted = errors.New("allocator: no free port found")

// PortAllocator picks ports uniformly at random from [MinPort, MaxPort]
// and rejects candidates that are already reserved.
type PortAllocator struct {
	attempts int
	intn     func(n int) int
}

func NewPortAllocator(attempts int) *PortAllocator {
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	return &PortAllocator{attempts: attempts, intn: rand.IntN}
}

// WithSource replaces the random source, intn must return a value in [0, n).
func (a *PortAllocator) WithSource(intn func(n int) int) *PortAllocator {
	a.intn = intn
	return a
}

// Allocate returns n distinct ports, none of which is in inUse.
func (a *PortAllocator) Allocate(inUse []int, n int) ([]int, error) {
	taken := make(map[int]struct{}, len(inUse)+n)
	for _, p := range inUse {
		taken[p] = struct{}{}
	}

	ports := make([]int, 0, n)
	for len(ports) < n {
		port, err := a.pick(taken)
		if err != nil {
			return nil, err
		}
		taken[port] = struct{}{}
		ports = append(ports, port)
	}
	return ports, nil
}

func (a *PortAllocator) pick(taken map[int]struct{}) (int, error) {
	for i := 0; i < a.attempts; i++ {
		candidate := MinPort + a.intn(MaxPort-MinPort+1)
		if _, ok := taken[candidate]; !ok {
			return candidate, nil
		}
	}
	return 0, ErrExhausted
}

// InRange reports whether port may be handed to a game.
func InRange(port int) bool {
	return port >= MinPort && port <= MaxPort
}
