// Package config loads this node's configuration from the environment.
// No CLI flag parsing lives here — argument parsing is explicitly out of
// scope for this system; every knob is environment-driven, matching the
// teacher's config package.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every environment-driven setting for a node.
type Config struct {
	Environment string
	LogLevel    string

	// NodeID uniquely identifies this node among its peers.
	NodeID string

	// ClientAddr is the bind address for the client-facing WebSocket
	// listener (component D).
	ClientAddr string

	// RPCAddr is the bind address for the inter-node RPC listener
	// (component C).
	RPCAddr string

	// RPCAdvertiseAddr is the address other nodes should use to reach
	// this node's RPC listener. It is loaded but not read by any package;
	// get_hosted_rooms responses carry the node ID, not this address.
	RPCAdvertiseAddr string

	// Peers maps node_id -> RPC address, supplied at startup. No dynamic
	// peer discovery is performed (explicit non-goal).
	Peers map[string]string

	// Room runtime tunables (spec.md §3 / §5).
	MessageBufferCap int
	MaxContentLength int

	// Client ordering buffer tunables (spec.md §4.G). Loaded but not read
	// by any package: orderingbuffer.New and chatclient.Dial take their
	// caps as arguments.
	OrderingBufferCap int
	DisplayedIDCap    int

	// 2PC tunables (spec.md §4.E).
	PrepareTimeout time.Duration
	CommitTimeout  time.Duration

	// Failure detector tunables (spec.md §4.F).
	HeartbeatInterval    time.Duration
	HeartbeatTimeout     time.Duration
	MaxHeartbeatFailures int
	InactivityTimeout    time.Duration
	CleanupInterval      time.Duration

	// DiscoverTimeout bounds discover_rooms fan-out per peer (spec.md §5).
	DiscoverTimeout time.Duration

	// BroadcastTimeout bounds the member/message event fan-out a node
	// issues to peers after a local mutation (spec.md §4.D "Broadcast
	// fan-out" — unreachable peers must not fail the originating call).
	BroadcastTimeout time.Duration

	// RPCWorkerPoolSize bounds concurrent outbound RPC calls (spec.md §5,
	// §9 "blocking RPC calls in an async context").
	RPCWorkerPoolSize int64

	// RPCCallTimeout bounds a single outbound inter-node RPC call's HTTP
	// round trip, independent of the higher-level deadlines (T_prepare,
	// T_commit, discover's 3s) applied around groups of such calls.
	RPCCallTimeout time.Duration
}

// Load reads configuration from the environment, optionally seeded from a
// .env file in the working directory if present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		NodeID:           getEnv("NODE_ID", "node-1"),
		ClientAddr:       getEnv("CLIENT_ADDR", ":8080"),
		RPCAddr:          getEnv("RPC_ADDR", ":9090"),
		RPCAdvertiseAddr: getEnv("RPC_ADVERTISE_ADDR", "http://localhost:9090"),
		Peers:            parsePeers(getEnv("PEERS", "")),

		MessageBufferCap: getEnvAsInt("MESSAGE_BUFFER_CAP", 100),
		MaxContentLength: getEnvAsInt("MAX_CONTENT_LENGTH", 5000),

		OrderingBufferCap: getEnvAsInt("ORDERING_BUFFER_CAP", 1000),
		DisplayedIDCap:    getEnvAsInt("DISPLAYED_ID_CAP", 5000),

		PrepareTimeout: getEnvAsDuration("PREPARE_TIMEOUT", 5*time.Second),
		CommitTimeout:  getEnvAsDuration("COMMIT_TIMEOUT", 5*time.Second),

		HeartbeatInterval:    getEnvAsDuration("HEARTBEAT_INTERVAL", 30*time.Second),
		HeartbeatTimeout:     getEnvAsDuration("HEARTBEAT_TIMEOUT", 2*time.Second),
		MaxHeartbeatFailures: getEnvAsInt("MAX_HEARTBEAT_FAILURES", 2),
		InactivityTimeout:    getEnvAsDuration("INACTIVITY_TIMEOUT", 900*time.Second),
		CleanupInterval:      getEnvAsDuration("CLEANUP_INTERVAL", 60*time.Second),

		DiscoverTimeout:  getEnvAsDuration("DISCOVER_TIMEOUT", 3*time.Second),
		BroadcastTimeout: getEnvAsDuration("BROADCAST_TIMEOUT", 3*time.Second),

		RPCWorkerPoolSize: int64(getEnvAsInt("RPC_WORKER_POOL_SIZE", 32)),
		RPCCallTimeout:    getEnvAsDuration("RPC_CALL_TIMEOUT", 5*time.Second),
	}
}

// parsePeers parses a PEERS env var shaped like
// "node-2=http://node2:9090,node-3=http://node3:9090" into a map.
func parsePeers(raw string) map[string]string {
	peers := make(map[string]string)
	if raw == "" {
		return peers
	}
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		nodeID := strings.TrimSpace(parts[0])
		addr := strings.TrimSpace(parts[1])
		if nodeID == "" || addr == "" {
			continue
		}
		peers[nodeID] = addr
	}
	return peers
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
