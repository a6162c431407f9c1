package discovery

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cuemby/burrow/pkg/types"
)

// ErrNoEndpoints is returned when a service has no live endpoints to
// dispatch to.
var ErrNoEndpoints = errors.New("no live endpoints")

// Dispatcher distributes calls across a service's endpoints round-robin.
// The endpoint set is re-fetched on every dispatch so membership changes
// are picked up without sticky state; the only thing carried across calls
// is the rotation cursor per service.
type Dispatcher struct {
	resolver *Resolver

	mu   sync.Mutex
	next map[string]int
}

// NewDispatcher creates a dispatcher over the given resolver
func NewDispatcher(resolver *Resolver) *Dispatcher {
	return &Dispatcher{
		resolver: resolver,
		next:     make(map[string]int),
	}
}

// Dispatch resolves the service's current endpoints and invokes fn against
// them in round-robin order, advancing to the next endpoint whenever fn
// reports a connection-level failure. The endpoint fn succeeded against is
// returned; if every endpoint fails, the last error is.
func (d *Dispatcher) Dispatch(ctx context.Context, serviceName string, fn func(context.Context, *types.Endpoint) error) (*types.Endpoint, error) {
	endpoints, err := d.resolver.Resolve(serviceName)
	if err != nil {
		return nil, err
	}
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("%w for service %s", ErrNoEndpoints, serviceName)
	}

	start := d.advance(serviceName, len(endpoints))

	var lastErr error
	for i := 0; i < len(endpoints); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		ep := endpoints[(start+i)%len(endpoints)]
		if err := fn(ctx, ep); err != nil {
			lastErr = err
			continue
		}
		return ep, nil
	}
	return nil, fmt.Errorf("all %d endpoints failed for service %s: %w", len(endpoints), serviceName, lastErr)
}

// advance returns the current cursor for a service and moves it forward
func (d *Dispatcher) advance(serviceName string, n int) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	cur := d.next[serviceName] % n
	d.next[serviceName] = (cur + 1) % n
	return cur
}
