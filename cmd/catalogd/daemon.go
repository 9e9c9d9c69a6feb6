package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/catalogd/catalogd/internal/sync"
)

func cmdDaemon(args []string) {
	fs := flag.NewFlagSet("daemon", flag.ExitOnError)
	port := fs.Int("port", 0, "Port to listen on (0 = random)")
	enableDHT := fs.Bool("dht", false, "Enable DHT for global peer discovery")
	strict := fs.Bool("strict-allowlist", false, "Reject any peer not already on the allowlist")
	m, o, roomName := openRoomFromFlags(fs, args)
	defer m.Shutdown()

	cfg := sync.DefaultConfig()
	if *port > 0 {
		cfg.ListenAddrs = []string{fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", *port)}
	}
	cfg.Logger = newStdLogger()
	cfg.EnableDHT = *enableDHT
	cfg.AllowlistPath = o.Info.Path + ".peers.json"
	cfg.StrictAllowlist = *strict

	engine, err := sync.New(o.DB.Document(), cfg)
	if err != nil {
		fatalf("create sync engine: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := engine.Start(ctx); err != nil {
		fatalf("start sync engine: %v", err)
	}

	log := newStdLogger()
	log.Printf("daemon started for room %q, discovering peers on LAN...", roomName)

	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			peers := engine.Peers()
			metrics := engine.Metrics()
			if len(peers) > 0 {
				log.Printf("peers: %d connected | syncs: %d ok, %d failed",
					len(peers), metrics.SyncSuccesses, metrics.SyncFailures)
			}
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Printf("shutting down...")
	cancel()
	engine.Stop()
}

func cmdInvite(args []string) {
	fs := flag.NewFlagSet("invite", flag.ExitOnError)
	expiry := fs.Duration("expiry", sync.DefaultInviteExpiry, "Invite expiry duration")
	m, o, _ := openRoomFromFlags(fs, args)
	defer m.Shutdown()

	cfg := sync.DefaultConfig()
	cfg.EnableMDNS = false
	cfg.Logger = newStdLogger()
	engine, err := sync.New(o.DB.Document(), cfg)
	if err != nil {
		fatalf("create sync engine: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := engine.Start(ctx); err != nil {
		fatalf("start sync engine: %v", err)
	}
	defer engine.Stop()

	invite, err := sync.CreateInvite(engine.GetHost(), *expiry)
	if err != nil {
		fatalf("create invite: %v", err)
	}

	if qr, err := invite.ToQRString(); err == nil {
		fmt.Println(qr)
	}
	fmt.Printf("\ninvite code: %s\n", invite.ToMinimalCode())
	fmt.Printf("expires in: %s\n", invite.ExpiresIn().Round(time.Minute))

	full, _ := invite.Encode()
	fmt.Printf("\nfull code (for pair): %s\n", full)
}

func cmdPair(args []string) {
	if len(args) < 1 {
		fatalf("usage: catalogd pair <invite-code> [options]")
	}
	inviteCode := args[0]
	fs := flag.NewFlagSet("pair", flag.ExitOnError)
	m, o, _ := openRoomFromFlags(fs, args[1:])
	defer m.Shutdown()

	cfg := sync.DefaultConfig()
	cfg.AllowlistPath = o.Info.Path + ".peers.json"
	cfg.Logger = newStdLogger()

	engine, err := sync.New(o.DB.Document(), cfg)
	if err != nil {
		fatalf("create sync engine: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := engine.Start(ctx); err != nil {
		fatalf("start sync engine: %v", err)
	}
	defer engine.Stop()

	invite, err := sync.ParseInvite(inviteCode)
	if err != nil {
		fatalf("invalid invite: %v", err)
	}

	fmt.Printf("connecting to peer %s...\n", invite.PeerID)
	if err := engine.ConnectPeer(invite); err != nil {
		fatalf("pair: %v", err)
	}
	fmt.Println("paired and syncing. Run 'catalogd daemon' to keep syncing in the background.")
}
