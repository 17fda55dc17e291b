package peers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFanOut_AggregatesAllPeersIndependently(t *testing.T) {
	r := New("node-a", map[string]string{
		"node-b": "http://node-b:9090",
		"node-c": "http://node-c:9090",
	})

	results := r.FanOut(context.Background(), time.Second, func(ctx context.Context, nodeID, address string) (interface{}, error) {
		if nodeID == "node-c" {
			return nil, errors.New("unreachable")
		}
		return "rooms-from-" + nodeID, nil
	})

	byNode := make(map[string]QueryResult, len(results))
	for _, res := range results {
		byNode[res.NodeID] = res
	}

	assert.NoError(t, byNode["node-b"].Err)
	assert.Equal(t, "rooms-from-node-b", byNode["node-b"].Value)
	assert.Error(t, byNode["node-c"].Err)
}

func TestFanOut_NoPeersReturnsEmpty(t *testing.T) {
	r := New("node-a", nil)
	results := r.FanOut(context.Background(), time.Second, func(ctx context.Context, nodeID, address string) (interface{}, error) {
		t.Fatal("query should never be called with no peers")
		return nil, nil
	})
	assert.Empty(t, results)
}

func TestBroadcast_ReportsPerPeerOutcome(t *testing.T) {
	r := New("node-a", map[string]string{
		"node-b": "http://node-b:9090",
		"node-c": "http://node-c:9090",
	})

	outcomes := r.Broadcast(context.Background(), time.Second, func(ctx context.Context, nodeID, address string) error {
		if nodeID == "node-b" {
			return errors.New("vote aborted")
		}
		return nil
	})

	assert.Error(t, outcomes["node-b"])
	assert.NoError(t, outcomes["node-c"])
}
