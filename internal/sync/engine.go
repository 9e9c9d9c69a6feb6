package sync

import (
	"context"
	"fmt"
	gosync "sync"
	"sync/atomic"
	"time"

	"github.com/catalogd/catalogd/internal/crdt"
	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/multiformats/go-multiaddr"
)

// Engine is a libp2p-backed sync service binding one crdt.Document to the
// network: it accepts SYNC/UPDATE streams from peers, drives the pairwise
// handshake, and forwards every local commit onward to
// every peer it has paired with.
type Engine struct {
	host   host.Host
	doc    *crdt.Document
	config Config
	logger Logger

	allowlist    *Allowlist
	mdnsService  mdns.Service
	dhtDiscovery *DHTDiscovery

	peers   map[peer.ID]struct{}
	peersMu gosync.RWMutex

	// syncedPeers tracks step 1 of pairing: once paired, a peer is
	// never re-paired, and the commit-forwarding hook only ever pushes to
	// entries in this set.
	syncedPeers   map[peer.ID]struct{}
	syncedPeersMu gosync.Mutex

	syncAttempts  int64
	syncSuccesses int64
	syncFailures  int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     gosync.WaitGroup
}

// New creates a libp2p-backed sync Engine for doc.
func New(doc *crdt.Document, cfg Config) (*Engine, error) {
	listenAddrs := make([]multiaddr.Multiaddr, len(cfg.ListenAddrs))
	for i, addr := range cfg.ListenAddrs {
		ma, err := multiaddr.NewMultiaddr(addr)
		if err != nil {
			return nil, fmt.Errorf("invalid listen address %s: %w", addr, err)
		}
		listenAddrs[i] = ma
	}

	opts := []libp2p.Option{libp2p.ListenAddrs(listenAddrs...)}
	if cfg.PrivateKey != nil {
		opts = append(opts, libp2p.Identity(cfg.PrivateKey))
	}
	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create libp2p host: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	var allowlist *Allowlist
	if cfg.AllowlistPath != "" {
		al, err := NewAllowlist(cfg.AllowlistPath, cfg.StrictAllowlist)
		if err != nil {
			return nil, fmt.Errorf("failed to load allowlist: %w", err)
		}
		allowlist = al
		logger.Printf("allowlist enabled (strict=%v): %d peers loaded", cfg.StrictAllowlist, al.Count())
	}

	return &Engine{
		host:        h,
		doc:         doc,
		config:      cfg,
		logger:      logger,
		allowlist:   allowlist,
		peers:       make(map[peer.ID]struct{}),
		syncedPeers: make(map[peer.ID]struct{}),
	}, nil
}

// Start begins listening, installs the stream handler and commit-forward
// hook, and launches discovery and reconciliation.
func (e *Engine) Start(ctx context.Context) error {
	e.ctx, e.cancel = context.WithCancel(ctx)

	e.host.SetStreamHandler(protocolID(), e.handleStream)
	e.doc.OnCommit(e.onLocalCommit)

	if e.config.EnableMDNS {
		svc := mdns.NewMdnsService(e.host, ServiceName, mdnsNotifee{e})
		if err := svc.Start(); err != nil {
			return fmt.Errorf("failed to start mDNS: %w", err)
		}
		e.mdnsService = svc
		e.logger.Printf("mDNS discovery enabled")
	}

	if e.config.EnableDHT {
		bootstrapPeers := GetDefaultBootstrapPeers()
		dhtDiscovery, err := NewDHTDiscovery(e.host, bootstrapPeers, e.logger)
		if err != nil {
			return fmt.Errorf("failed to create DHT: %w", err)
		}
		if err := dhtDiscovery.Start(e.handlePeerFound); err != nil {
			return fmt.Errorf("failed to start DHT: %w", err)
		}
		e.dhtDiscovery = dhtDiscovery
		e.logger.Printf("DHT discovery enabled (global)")
	}

	interval := e.config.ReconcileInterval
	if interval <= 0 {
		interval = DefaultConfig().ReconcileInterval
	}
	e.wg.Add(1)
	go e.reconcileLoop(interval)

	e.logger.Printf("sync engine started, listening on %v", e.host.Addrs())
	return nil
}

// Stop gracefully shuts the engine down.
func (e *Engine) Stop() error {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
	if e.mdnsService != nil {
		e.mdnsService.Close()
	}
	if e.dhtDiscovery != nil {
		e.dhtDiscovery.Stop()
	}
	return e.host.Close()
}

// Peers returns every peer discovered or connected so far.
func (e *Engine) Peers() []peer.ID {
	e.peersMu.RLock()
	defer e.peersMu.RUnlock()
	out := make([]peer.ID, 0, len(e.peers))
	for p := range e.peers {
		out = append(out, p)
	}
	return out
}

// Metrics returns cumulative sync statistics.
func (e *Engine) Metrics() Metrics {
	return Metrics{
		SyncAttempts:  atomic.LoadInt64(&e.syncAttempts),
		SyncSuccesses: atomic.LoadInt64(&e.syncSuccesses),
		SyncFailures:  atomic.LoadInt64(&e.syncFailures),
	}
}

// GetHost returns the underlying libp2p host.
func (e *Engine) GetHost() host.Host { return e.host }

// ConnectPeer dials a peer from a parsed invite, optionally allowlisting it,
// and triggers an immediate sync.
func (e *Engine) ConnectPeer(invite *PeerInvite) error {
	peerID, err := peer.Decode(invite.PeerID)
	if err != nil {
		return fmt.Errorf("invalid peer ID: %w", err)
	}
	if e.allowlist != nil {
		if err := e.allowlist.Add(peerID, "", invite.Addresses); err != nil {
			return fmt.Errorf("failed to add peer to allowlist: %w", err)
		}
	}

	info := peer.AddrInfo{ID: peerID}
	for _, addrStr := range invite.Addresses {
		ma, err := multiaddr.NewMultiaddr(addrStr)
		if err != nil {
			continue
		}
		info.Addrs = append(info.Addrs, ma)
	}
	if len(info.Addrs) == 0 {
		return fmt.Errorf("no valid addresses in invite")
	}

	ctx, cancel := context.WithTimeout(e.ctx, 10*time.Second)
	defer cancel()
	if err := e.host.Connect(ctx, info); err != nil {
		return fmt.Errorf("failed to connect to peer: %w", err)
	}

	go func() {
		if err := e.Sync(e.ctx, peerID); err != nil {
			e.logger.Printf("sync with %s failed: %v", peerID, err)
		}
	}()
	return nil
}

func (e *Engine) checkAllowlist(p peer.ID) bool {
	if e.allowlist == nil {
		return true
	}
	return e.allowlist.IsAllowed(p)
}

// Sync performs the pairwise handshake with peerID: step 1,
// record peerID in the synced-peers set (idempotent — a peer already
// paired is a no-op); steps 2-3, send this engine's SYNC announce over a
// stream and apply peerID's diff reply, so this side learns what peerID
// has that it lacks. The exchange is one-way: peerID sends no announce of
// its own and learns nothing of this side's state from it. Once the handshake
// completes, peerID becomes a standing recipient of this document's
// future commits via onLocalCommit (step 4).
func (e *Engine) Sync(ctx context.Context, peerID peer.ID) error {
	e.syncedPeersMu.Lock()
	if _, already := e.syncedPeers[peerID]; already {
		e.syncedPeersMu.Unlock()
		return nil
	}
	e.syncedPeers[peerID] = struct{}{}
	e.syncedPeersMu.Unlock()

	atomic.AddInt64(&e.syncAttempts, 1)

	stream, err := e.host.NewStream(ctx, peerID, protocolID())
	if err != nil {
		atomic.AddInt64(&e.syncFailures, 1)
		return fmt.Errorf("failed to open stream: %w", err)
	}
	defer stream.Close()
	stream.SetDeadline(time.Now().Add(30 * time.Second))

	announce := crdt.CreateSyncMessage(e.doc)
	if err := writeFrame(stream, announce); err != nil {
		atomic.AddInt64(&e.syncFailures, 1)
		return fmt.Errorf("failed to send sync announce: %w", err)
	}

	reply, err := readFrame(stream)
	if err != nil {
		atomic.AddInt64(&e.syncFailures, 1)
		return fmt.Errorf("failed to read sync reply: %w", err)
	}
	if err := e.applyIncoming(reply); err != nil {
		atomic.AddInt64(&e.syncFailures, 1)
		return err
	}

	atomic.AddInt64(&e.syncSuccesses, 1)
	e.logger.Printf("synced with peer %s", shortID(peerID))
	return nil
}

// applyIncoming dispatches a received SYNC/UPDATE frame through
// crdt.HandleSyncMessage, swallowing the one benign substrate race,
// crdt.ErrAlreadyInTransaction; everything else propagates.
func (e *Engine) applyIncoming(frame []byte) error {
	if _, err := crdt.HandleSyncMessage(frame, e.doc); err != nil {
		if err == crdt.ErrAlreadyInTransaction {
			return nil
		}
		return err
	}
	return nil
}

// onLocalCommit is the document's commit hook installed in Start: every
// local (non-remote) commit is pushed to every synced peer as a standalone
// UPDATE, opening a fresh stream per delivery.
func (e *Engine) onLocalCommit(ops []crdt.Op, remote bool) {
	if remote || len(ops) == 0 {
		return
	}
	msg := crdt.CreateUpdateMessage(ops)
	for _, peerID := range e.syncedPeerIDs() {
		go e.deliverUpdate(peerID, msg)
	}
}

func (e *Engine) deliverUpdate(peerID peer.ID, msg []byte) {
	ctx, cancel := context.WithTimeout(e.ctx, 10*time.Second)
	defer cancel()

	stream, err := e.host.NewStream(ctx, peerID, protocolID())
	if err != nil {
		e.logger.Printf("forward update to %s failed: %v", shortID(peerID), err)
		return
	}
	defer stream.Close()
	stream.SetDeadline(time.Now().Add(10 * time.Second))

	if err := writeFrame(stream, msg); err != nil {
		e.logger.Printf("forward update to %s failed: %v", shortID(peerID), err)
	}
}

func (e *Engine) syncedPeerIDs() []peer.ID {
	e.syncedPeersMu.Lock()
	defer e.syncedPeersMu.Unlock()
	out := make([]peer.ID, 0, len(e.syncedPeers))
	for p := range e.syncedPeers {
		out = append(out, p)
	}
	return out
}

// handleStream answers an incoming SYNC/UPDATE frame. An announce gets a
// diff reply (possibly empty); an UPDATE is applied and produces no reply
// — both cases routed through the same handler
// crdt.HandleSyncMessage entry point.
func (e *Engine) handleStream(stream network.Stream) {
	defer stream.Close()
	stream.SetDeadline(time.Now().Add(30 * time.Second))

	remote := stream.Conn().RemotePeer()
	if !e.checkAllowlist(remote) {
		e.logger.Printf("rejected connection from unauthorized peer %s", remote)
		return
	}

	// Receiving either message type from remote is evidence of a live
	// pairing from its side; register it symmetrically so this engine's
	// own future commits also forward to it, matching the handshake contract
	// "two peers synchronize" (pairing is a property of the pair, not of
	// whichever side dialed first).
	e.syncedPeersMu.Lock()
	e.syncedPeers[remote] = struct{}{}
	e.syncedPeersMu.Unlock()

	frame, err := readFrame(stream)
	if err != nil {
		return
	}
	reply, err := crdt.HandleSyncMessage(frame, e.doc)
	if err != nil && err != crdt.ErrAlreadyInTransaction {
		e.logger.Printf("sync handler error from %s: %v", shortID(stream.Conn().RemotePeer()), err)
		return
	}
	if reply != nil {
		if err := writeFrame(stream, reply); err != nil {
			e.logger.Printf("sync reply write failed: %v", err)
		}
	}
}

// handlePeerFound records a newly discovered peer, connects to it, and
// triggers the pairwise handshake. Shared by mDNS (via mdnsNotifee) and DHT
// discovery.
func (e *Engine) handlePeerFound(pi peer.AddrInfo) {
	if pi.ID == e.host.ID() {
		return
	}

	e.peersMu.Lock()
	_, exists := e.peers[pi.ID]
	e.peers[pi.ID] = struct{}{}
	e.peersMu.Unlock()

	if !exists {
		e.logger.Printf("discovered peer %s", shortID(pi.ID))
	}

	if err := e.host.Connect(e.ctx, pi); err != nil {
		e.peersMu.Lock()
		delete(e.peers, pi.ID)
		e.peersMu.Unlock()
		return
	}

	go func() {
		if err := e.Sync(e.ctx, pi.ID); err != nil {
			e.logger.Printf("sync with %s failed: %v", shortID(pi.ID), err)
		}
	}()
}

// reconcileLoop periodically re-runs the full SYNC handshake against every
// already-paired peer, self-healing a dropped UPDATE without requiring a
// fresh pairing (Sync itself is a no-op once paired, so this bypasses the
// syncedPeers guard and re-exchanges state vectors directly).
func (e *Engine) reconcileLoop(interval time.Duration) {
	defer e.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			for _, peerID := range e.syncedPeerIDs() {
				peerID := peerID
				go e.reconcileWith(peerID)
			}
		}
	}
}

func (e *Engine) reconcileWith(peerID peer.ID) {
	ctx, cancel := context.WithTimeout(e.ctx, 15*time.Second)
	defer cancel()

	stream, err := e.host.NewStream(ctx, peerID, protocolID())
	if err != nil {
		return
	}
	defer stream.Close()
	stream.SetDeadline(time.Now().Add(15 * time.Second))

	announce := crdt.CreateSyncMessage(e.doc)
	if err := writeFrame(stream, announce); err != nil {
		return
	}
	reply, err := readFrame(stream)
	if err != nil {
		return
	}
	if err := e.applyIncoming(reply); err != nil {
		e.logger.Printf("reconcile with %s failed: %v", shortID(peerID), err)
	}
}

// mdnsNotifee adapts Engine to the mdns.Notifee interface expected by
// go-libp2p's mDNS service.
type mdnsNotifee struct{ engine *Engine }

func (n mdnsNotifee) HandlePeerFound(pi peer.AddrInfo) { n.engine.handlePeerFound(pi) }

func protocolID() protocol.ID { return protocol.ID(ProtocolID) }

func shortID(p peer.ID) string {
	s := p.String()
	if len(s) > 8 {
		return s[:8]
	}
	return s
}
