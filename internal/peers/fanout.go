package peers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// QueryResult is one peer's outcome from a FanOut call.
type QueryResult struct {
	NodeID string
	Value  interface{}
	Err    error
}

// FanOut calls query against every known peer concurrently, bounded by
// timeout, and returns one QueryResult per peer regardless of individual
// failures — mirroring discover_global_rooms's nodes_available /
// nodes_unavailable split, generalized to any RPC method. A peer that
// errors or times out contributes a QueryResult with Err set; it never
// aborts the other in-flight queries.
func (r *Registry) FanOut(ctx context.Context, timeout time.Duration, query func(ctx context.Context, nodeID, address string) (interface{}, error)) []QueryResult {
	peerAddrs := r.All()

	results := make([]QueryResult, len(peerAddrs))
	if len(peerAddrs) == 0 {
		return results[:0]
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var wg sync.WaitGroup
	i := 0
	for nodeID, addr := range peerAddrs {
		idx := i
		i++
		wg.Add(1)
		go func(nodeID, addr string, idx int) {
			defer wg.Done()
			value, err := query(ctx, nodeID, addr)
			results[idx] = QueryResult{NodeID: nodeID, Value: value, Err: err}
		}(nodeID, addr, idx)
	}
	wg.Wait()

	return results
}

// Broadcast is FanOut's errgroup-based sibling for calls whose only
// interesting outcome is success/failure, run against every known peer.
func (r *Registry) Broadcast(ctx context.Context, timeout time.Duration, call func(ctx context.Context, nodeID, address string) error) map[string]error {
	return r.BroadcastTo(ctx, r.IDs(), timeout, call)
}

// BroadcastTo runs call against exactly the given peer node IDs, bounded
// by one shared deadline — used by 2PC, where only a room's actual
// participants (not every node this registry knows about) must vote.
// Unknown node IDs report an error without being called.
func (r *Registry) BroadcastTo(ctx context.Context, nodeIDs []string, timeout time.Duration, call func(ctx context.Context, nodeID, address string) error) map[string]error {
	outcomes := make(map[string]error, len(nodeIDs))
	if len(nodeIDs) == 0 {
		return outcomes
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, nodeID := range nodeIDs {
		nodeID := nodeID
		addr := r.Address(nodeID)
		if addr == "" {
			mu.Lock()
			outcomes[nodeID] = fmt.Errorf("unknown peer %q", nodeID)
			mu.Unlock()
			continue
		}
		g.Go(func() error {
			err := call(gctx, nodeID, addr)
			mu.Lock()
			outcomes[nodeID] = err
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}
