// Package persist is a load-and-follow binary log that replays a
// document's history on open and appends every subsequent commit, local
// or remote-applied, as a length-prefixed frame.
//
// The on-disk layout is a fixed ASCII header, `"0.0.1\x00"`, followed by a
// sequence of 4-byte-big-endian-length-prefixed frames, each one a
// gob-encoded crdt UPDATE message. This mirrors davidbrochart/tscat-crdt's
// cocat.file.File adapter: the header is written the instant the file is
// created, before any mutation has happened, so a reader can always tell a
// brand new empty log from a missing one.
package persist

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/catalogd/catalogd/internal/crdt"
	"github.com/catalogd/catalogd/pkg/crypto"
)

// Header is the fixed ASCII magic written as the first 6 bytes of every
// persisted file.
var Header = [6]byte{'0', '.', '0', '.', '1', 0}

// Config controls one file adapter.
type Config struct {
	// Path is the log file's location on disk. It is created if absent.
	Path string

	// WriteDelay coalesces bursts of commits into a single flush: a new
	// commit resets the pending-write timer, so a 10ms-interval burst
	// followed by WriteDelay of quiet produces exactly one physical
	// write. Zero disables coalescing — every commit is flushed inline.
	WriteDelay time.Duration

	// Passphrase, if non-empty, enables at-rest AEAD encryption of every
	// frame via Argon2id-derived XChaCha20-Poly1305 (pkg/crypto). A file
	// created with a passphrase cannot be opened without it, and vice
	// versa — the presence of a salt record in the file is what decides
	// which mode a reader expects.
	Passphrase string
}

// PersistenceIO is returned for any adapter-local read/write/encoding
// failure. It is surfaced to the adapter's owner, not the core — it
// never reaches the crdt.Document's own error paths.
type PersistenceIO struct {
	Op  string
	Err error
}

func (e *PersistenceIO) Error() string { return fmt.Sprintf("persist: %s: %v", e.Op, e.Err) }
func (e *PersistenceIO) Unwrap() error { return e.Err }

func ioErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceIO{Op: op, Err: err}
}

// saltRecordTag is written as its own frame, once, immediately after the
// header, only when a passphrase is configured — it carries the salt
// DeriveKey needs and lets a reader distinguish an encrypted log from a
// plaintext one without trying to decode a frame as gob first.
const saltRecordTag = "catalogd:salt:v1"

// Adapter owns one open log file and keeps it synchronized with a
// crdt.Document: on Open it replays every frame already on disk into the
// document, then installs a commit hook that appends every subsequent
// commit, including remote-applied ones.
type Adapter struct {
	cfg  Config
	doc  *crdt.Document
	file *os.File
	key  *crypto.Key // nil unless cfg.Passphrase is set

	mu      sync.Mutex
	pending [][]byte
	timer   *time.Timer
	flushWg sync.WaitGroup
	closed  bool
}

// Open loads path (replaying its contents into doc if it already exists, or
// creating it with a fresh header otherwise) and starts following doc's
// commits. The caller owns doc's lifecycle; Close only releases the file.
func Open(doc *crdt.Document, cfg Config) (*Adapter, error) {
	a := &Adapter{cfg: cfg, doc: doc}

	existing, err := os.ReadFile(cfg.Path)
	switch {
	case err == nil:
		if err := a.replay(existing); err != nil {
			return nil, err
		}
		f, err := os.OpenFile(cfg.Path, os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, ioErr("open", err)
		}
		a.file = f

	case os.IsNotExist(err):
		f, err := os.OpenFile(cfg.Path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
		if err != nil {
			return nil, ioErr("create", err)
		}
		a.file = f
		// The header (and, if encrypting, the salt record) is written
		// synchronously at creation time, separate from the coalesced
		// update path, so the file holds only the header during a
		// coalescing burst rather than a partially-written frame.
		if _, err := f.Write(Header[:]); err != nil {
			f.Close()
			return nil, ioErr("write header", err)
		}
		if cfg.Passphrase != "" {
			salt, err := crypto.GenerateSalt()
			if err != nil {
				f.Close()
				return nil, ioErr("generate salt", err)
			}
			key := crypto.DeriveKey([]byte(cfg.Passphrase), salt)
			a.key = &key
			frame := writeFrame(nil, append([]byte(saltRecordTag), salt...))
			if _, err := f.Write(frame); err != nil {
				f.Close()
				return nil, ioErr("write salt record", err)
			}
		}
		if err := f.Sync(); err != nil {
			f.Close()
			return nil, ioErr("sync", err)
		}

	default:
		return nil, ioErr("stat", err)
	}

	doc.OnCommit(func(ops []crdt.Op, remote bool) {
		// Every commit is appended, including remote-applied ones: the
		// log is a record of this replica's state, not just of writes
		// it originated, so a reopen after a sync must reproduce what
		// was learned from peers too.
		_ = remote
		a.enqueue(crdt.CreateUpdateMessage(ops))
	})

	return a, nil
}

// replay reads an existing file's header, recovers the encryption key if
// the file has a salt record, and applies every update frame to doc.
// Truncation exactly at a frame boundary is tolerated (decoding simply
// stops); a short read in the middle of a frame is a PersistenceIO error.
func (a *Adapter) replay(data []byte) error {
	if len(data) < len(Header) {
		return ioErr("replay", fmt.Errorf("file too short for header (%d bytes)", len(data)))
	}
	var got [6]byte
	copy(got[:], data[:6])
	if got != Header {
		return ioErr("replay", fmt.Errorf("unrecognized header %q", got[:]))
	}

	r := bufio.NewReader(&byteReader{data[6:]})
	first := true
	for {
		frame, err := readFrame(r)
		if err == io.EOF {
			return nil
		}
		if err == errShortFrame {
			// Unlike a clean io.EOF at a frame boundary, a short read
			// partway into a frame's length prefix or body is never
			// tolerated, first frame or not.
			return ioErr("replay", fmt.Errorf("truncated mid-frame"))
		}
		if err != nil {
			return ioErr("replay", err)
		}

		if first {
			first = false
			if len(frame) >= len(saltRecordTag) && string(frame[:len(saltRecordTag)]) == saltRecordTag {
				if a.cfg.Passphrase == "" {
					return ioErr("replay", fmt.Errorf("file is encrypted but no passphrase was configured"))
				}
				salt := frame[len(saltRecordTag):]
				key := crypto.DeriveKey([]byte(a.cfg.Passphrase), salt)
				a.key = &key
				continue
			}
			if a.cfg.Passphrase != "" {
				return ioErr("replay", fmt.Errorf("passphrase configured but file is not encrypted"))
			}
		}

		if a.key != nil {
			plain, err := crypto.Decrypt(*a.key, frame, nil)
			if err != nil {
				return ioErr("replay", fmt.Errorf("decrypt frame: %w", err))
			}
			frame = plain
		}

		if _, err := crdt.HandleSyncMessage(frame, a.doc); err != nil && err != crdt.ErrAlreadyInTransaction {
			return ioErr("replay", fmt.Errorf("apply frame: %w", err))
		}
	}
}

// enqueue buffers msg and (re)starts the coalescing timer. A concurrent
// flush already in flight is never interrupted: it holds a.mu for its whole
// duration, so a new enqueue during a flush simply waits its turn and joins
// the next batch — achieved here by serializing through the mutex rather
// than by cancelling an in-progress write.
func (a *Adapter) enqueue(msg []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.pending = append(a.pending, msg)

	if a.cfg.WriteDelay <= 0 {
		a.flushLocked()
		return
	}

	if a.timer != nil && a.timer.Stop() {
		a.flushWg.Done() // the stopped callback will never run its Done
	}
	a.flushWg.Add(1)
	a.timer = time.AfterFunc(a.cfg.WriteDelay, func() {
		defer a.flushWg.Done()
		a.mu.Lock()
		defer a.mu.Unlock()
		a.flushLocked()
	})
}

// flushLocked writes every pending message as one or more frames and clears
// the buffer. Caller holds a.mu.
func (a *Adapter) flushLocked() {
	if len(a.pending) == 0 || a.file == nil {
		return
	}
	var out []byte
	for _, msg := range a.pending {
		if a.key != nil {
			ct, err := crypto.Encrypt(*a.key, msg, nil)
			if err != nil {
				continue // best-effort; a write error surfaces on the next explicit Flush/Close
			}
			msg = ct
		}
		out = append(out, writeFrame(nil, msg)...)
	}
	a.pending = a.pending[:0]
	if _, err := a.file.Write(out); err != nil {
		return
	}
	a.file.Sync()
}

// Flush forces any pending coalesced write out immediately, bypassing the
// remaining WriteDelay.
func (a *Adapter) Flush() error {
	a.mu.Lock()
	if a.timer != nil && a.timer.Stop() {
		a.flushWg.Done()
	}
	a.flushLocked()
	a.mu.Unlock()
	return nil
}

// Close stops accepting new writes, flushes anything pending, and closes
// the underlying file.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	if a.timer != nil && a.timer.Stop() {
		a.flushWg.Done()
	}
	a.closed = true
	a.mu.Unlock()

	a.flushWg.Wait()

	a.mu.Lock()
	a.flushLocked()
	f := a.file
	a.mu.Unlock()

	if f == nil {
		return nil
	}
	return ioErr("close", f.Close())
}

// writeFrame appends payload to dst as a 4-byte-big-endian-length-prefixed
// frame.
func writeFrame(dst []byte, payload []byte) []byte {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	dst = append(dst, lenBuf[:]...)
	dst = append(dst, payload...)
	return dst
}

var errShortFrame = fmt.Errorf("persist: truncated frame")

// readFrame reads one length-prefixed frame from r. io.EOF means a clean
// stop at a frame boundary; errShortFrame means the length prefix or the
// body was cut short — mid-frame corruption, which replay must not
// silently paper over.
func readFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, errShortFrame
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, errShortFrame
	}
	return buf, nil
}

// byteReader adapts a byte slice to io.Reader without pulling in
// bytes.Reader's Seek/ReadAt surface this package never uses.
type byteReader struct{ b []byte }

func (r *byteReader) Read(p []byte) (int, error) {
	if len(r.b) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.b)
	r.b = r.b[n:]
	return n, nil
}
