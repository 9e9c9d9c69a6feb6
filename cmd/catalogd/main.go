// Command catalogd is the CLI entry point and room server for the
// catalogue/event database: local mutation commands against a room on
// disk, a P2P sync daemon, invite/pair peer pairing, and a WebSocket room
// server for browser and other remote clients.
package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "serve":
		cmdServe(args)
	case "daemon":
		cmdDaemon(args)
	case "invite":
		cmdInvite(args)
	case "pair":
		cmdPair(args)
	case "create-catalogue":
		cmdCreateCatalogue(args)
	case "create-event":
		cmdCreateEvent(args)
	case "list":
		cmdList(args)
	case "get":
		cmdGet(args)
	case "tag":
		cmdTag(args)
	case "rooms":
		cmdRooms(args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`catalogd - replicated catalogue/event database with P2P sync

Usage: catalogd <command> [options]

Commands:
  serve             Start the WebSocket room server (--host --port --data)
  daemon            Start the P2P sync daemon for one room (--room --data --port --dht)
  invite            Print a signed peer invite for this node (--data --expiry)
  pair <code>       Pair with a peer from an invite code (--data)
  rooms             List known rooms (--data)
  create-catalogue  Create a catalogue in a room (--room --name --author --tags)
  create-event      Create an event in a room (--room --author --start --stop --products --tags --rating)
  list              List catalogues and events in a room (--room --data)
  get <uuid>        Print one catalogue or event (--room --data)
  tag <uuid>        Add/remove tags on a catalogue or event (--room --add --remove)
  help              Show this help`)
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".catalogd"
	}
	return filepath.Join(home, ".catalogd")
}

func newStdLogger() *log.Logger {
	return log.New(os.Stderr, "", log.LstdFlags)
}
