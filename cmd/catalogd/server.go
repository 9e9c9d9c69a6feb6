package main

import (
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/catalogd/catalogd/internal/crdt"
	"github.com/catalogd/catalogd/internal/room"
)

// roomServer attaches each WebSocket client to the room named by its
// `room` query parameter (opening or creating it on demand), relaying
// the same SYNC/UPDATE envelopes internal/sync exchanges over libp2p
// streams — gorilla/websocket supplies the framing a browser client needs
// in place of length-prefixed stream reads.
type roomServer struct {
	manager  *room.Manager
	logger   *log.Logger
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*websocket.Conn]bool
}

func newRoomServer(m *room.Manager, logger *log.Logger) *roomServer {
	return &roomServer{
		manager: m,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		conns: make(map[*websocket.Conn]bool),
	}
}

func (s *roomServer) handleWS(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("room")
	if roomID == "" {
		roomID = "default"
	}
	passphrase := r.URL.Query().Get("passphrase")

	o, err := s.manager.Open(roomID, passphrase)
	if err != nil {
		o, err = s.manager.Create(roomID, passphrase)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	s.mu.Lock()
	s.conns[conn] = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()

	doc := o.DB.Document()
	s.logger.Printf("client connected to room %q", roomID)

	var writeMu sync.Mutex
	writeFrame := func(msg []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteMessage(websocket.BinaryMessage, msg)
	}

	unsubscribe := doc.OnCommit(func(ops []crdt.Op, remote bool) {
		if remote || len(ops) == 0 {
			return
		}
		if err := writeFrame(crdt.CreateUpdateMessage(ops)); err != nil {
			s.logger.Printf("forward update to client failed: %v", err)
		}
	})
	defer unsubscribe()

	if err := writeFrame(crdt.CreateSyncMessage(doc)); err != nil {
		s.logger.Printf("send initial sync failed: %v", err)
		return
	}

	for {
		kind, msg, err := conn.ReadMessage()
		if err != nil {
			s.logger.Printf("client disconnected from room %q: %v", roomID, err)
			return
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		reply, err := crdt.HandleSyncMessage(msg, doc)
		if err != nil {
			s.logger.Printf("sync message from client rejected: %v", err)
			continue
		}
		if reply != nil {
			if err := writeFrame(reply); err != nil {
				s.logger.Printf("reply to client failed: %v", err)
				return
			}
		}
	}
}

func cmdServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	host := fs.String("host", "0.0.0.0", "Host to bind")
	port := fs.String("port", "8080", "Port to listen on")
	dataDir := fs.String("data", defaultDataDir(), "Data directory")
	fs.Parse(args)

	logger := newStdLogger()
	m, err := room.NewManager(*dataDir, logger)
	if err != nil {
		fatalf("open room manager: %v", err)
	}
	defer m.Shutdown()

	srv := newRoomServer(m, logger)
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", srv.handleWS)
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		rooms, _ := m.Registry().List()
		srv.mu.Lock()
		conns := len(srv.conns)
		srv.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":      "ok",
			"room_count":  len(rooms),
			"connections": conns,
		})
	})

	addr := *host + ":" + *port
	logger.Printf("catalogd server listening on ws://%s/ws?room=<name>", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		fatalf("server: %v", err)
	}
}
