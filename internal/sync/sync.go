// Package sync provides peer-to-peer synchronization for catalogd.
//
// It uses libp2p for networking and mDNS for local peer discovery, with an
// optional Kademlia DHT for peers that are not on the same LAN. The wire
// protocol is the two-message SYNC/UPDATE exchange of internal/crdt's wire
// helpers: a peer's announce carries its state vector, the other diffs and
// replies with whatever the sender is missing, and every subsequent local
// commit is pushed onward as a standalone UPDATE.
package sync

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/libp2p/go-libp2p/core/crypto"
)

// Config configures an Engine.
type Config struct {
	// ListenAddrs are the multiaddrs to listen on.
	// Default: /ip4/0.0.0.0/tcp/0 (random port)
	ListenAddrs []string

	// ReconcileInterval is how often a self-healing full state-vector
	// exchange runs against every already-synced peer, covering for an
	// UPDATE dropped by a flaky link. The CRDT substrate makes this
	// redundant but harmless: DiffSince only ever returns what the peer
	// is actually missing.
	// Default: 30 seconds
	ReconcileInterval time.Duration

	// EnableMDNS enables mDNS for LAN peer discovery.
	// Default: true
	EnableMDNS bool

	// EnableDHT enables Kademlia DHT for global peer discovery.
	// Default: false (uses IPFS bootstrap nodes)
	EnableDHT bool

	// AllowlistPath is the directory holding the trusted-peers file.
	// Default: "" (no persistence)
	AllowlistPath string

	// StrictAllowlist rejects peers not in the allowlist.
	// Default: false (accept all)
	StrictAllowlist bool

	// Logger receives sync event diagnostics (optional).
	Logger Logger

	// PrivateKey is the identity key for the host.
	// Optional (generated if nil).
	PrivateKey crypto.PrivKey
}

// Logger is the diagnostic sink for sync events.
type Logger interface {
	Printf(format string, v ...interface{})
}

type noopLogger struct{}

func (noopLogger) Printf(string, ...interface{}) {}

// DefaultConfig returns the default sync configuration.
func DefaultConfig() Config {
	return Config{
		ListenAddrs:       []string{"/ip4/0.0.0.0/tcp/0"},
		ReconcileInterval: 30 * time.Second,
		EnableMDNS:        true,
	}
}

// ProtocolID is the libp2p stream protocol catalogd speaks SYNC/UPDATE over.
const ProtocolID = "/catalogd/sync/1.0.0"

// ServiceName is the mDNS service tag for LAN discovery.
const ServiceName = "_catalogd-discovery._udp"

// Metrics reports cumulative sync activity.
type Metrics struct {
	SyncAttempts  int64
	SyncSuccesses int64
	SyncFailures  int64
}

// GenerateSessionID creates a unique, human-debuggable identifier for one
// pairwise sync round. Nothing in this package calls it, and it is not
// load-bearing (the wire protocol itself carries no session concept;
// convergence does not depend on message ordering).
func GenerateSessionID() string {
	ts := time.Now().UnixNano()
	b := make([]byte, 4)
	rand.Read(b)
	return fmt.Sprintf("%d-%s", ts, hex.EncodeToString(b))
}

// maxFrameSize bounds a single SYNC/UPDATE frame to guard against a
// corrupt or hostile length prefix forcing an unbounded allocation.
const maxFrameSize = 64 * 1024 * 1024

// writeFrame writes a length-prefixed message to the stream. Framing is
// needed because a libp2p stream, unlike the self-delimited SYNC envelope
// written to a single file frame, is a continuous byte pipe that can carry
// several exchanges back to back.
func writeFrame(w io.Writer, payload []byte) error {
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(payload)))
	if _, err := w.Write(length[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func readFrame(r io.Reader) ([]byte, error) {
	var length [4]byte
	if _, err := io.ReadFull(r, length[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(length[:])
	if n > maxFrameSize {
		return nil, fmt.Errorf("sync: frame too large: %d bytes", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
