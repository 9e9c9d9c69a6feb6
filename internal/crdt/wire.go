package crdt

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/catalogd/catalogd/internal/core"
)

// opKind distinguishes the eight mutations the oplog can carry: depth-0
// create/delete, depth-1 scalar set/unset, and depth-2 set add/remove and
// attribute set/unset.
type opKind uint8

const (
	opCreate opKind = iota
	opDelete
	opScalar
	opScalarDelete
	opSetAdd
	opSetRemove
	opAttrSet
	opAttrDelete
)

// Op is one CRDT mutation tagged with the causal Tag that produced it. The
// oplog (Document.oplog) is an append-only sequence of Ops; a sync delta is
// computed by filtering it against a peer's state vector (DiffSince) and
// applying an Op is always safe to repeat, since every apply routes back
// through the same LWW/OR-Set merge rules local writes use.
type Op struct {
	Kind  opKind
	Root  RootKind
	ID    core.ID
	Field string // set/attr key, or collection field name
	Value any    // opScalar, opScalarDelete (nil), opAttrSet

	Elem   string       // opSetAdd, opSetRemove
	Token  core.Token   // opSetAdd: the token minted for Elem
	Tokens []core.Token // opSetRemove: exactly the tokens observed live at remove time

	Tag core.Tag
}

func init() {
	// Attribute values decode from JSON documents, so every JSON scalar and
	// container kind that can land in an `any` field must be registered for
	// gob to encode/decode it across the Value interface. The rating scalar
	// is stored as a native int rather than a JSON-decoded value, so it
	// needs its own registration too.
	gob.Register("")
	gob.Register(float64(0))
	gob.Register(false)
	gob.Register(int(0))
	gob.Register([]interface{}{})
	gob.Register(map[string]interface{}{})
}

// messageKind discriminates the two sync envelope shapes: a state-vector
// announce and an ops diff, per the two-message pairwise
// protocol (create_sync_message / handle_sync_message).
type messageKind uint8

const (
	msgAnnounce messageKind = 1
	msgUpdate   messageKind = 2
)

// SYNC is the single leading discriminator byte every wire message starts
// with, reserving room for future non-CRDT message kinds on the same
// stream without a breaking change.
const SYNC byte = 0

type envelope struct {
	Kind   messageKind
	Vector map[core.ReplicaID]uint64 // msgAnnounce
	Ops    []Op                      // msgUpdate
}

func encodeEnvelope(env envelope) []byte {
	var buf bytes.Buffer
	buf.WriteByte(SYNC)
	if err := gob.NewEncoder(&buf).Encode(env); err != nil {
		panic(fmt.Sprintf("crdt: encode sync envelope: %v", err))
	}
	return buf.Bytes()
}

func decodeEnvelope(msg []byte) (envelope, error) {
	if len(msg) == 0 || msg[0] != SYNC {
		return envelope{}, fmt.Errorf("crdt: not a sync message")
	}
	var env envelope
	if err := gob.NewDecoder(bytes.NewReader(msg[1:])).Decode(&env); err != nil {
		return envelope{}, fmt.Errorf("crdt: decode sync envelope: %w", err)
	}
	return env, nil
}

// StateVector returns the document's current per-replica watermark, the
// payload of a SYNC announce message.
func (d *Document) StateVector() map[core.ReplicaID]uint64 {
	return d.clock.StateVector()
}

// DiffSince returns every oplog entry not yet reflected in peerVector: the
// minimal set of ops a peer needs to catch up.
func (d *Document) DiffSince(peerVector map[core.ReplicaID]uint64) []Op {
	d.mu.Lock()
	defer d.mu.Unlock()
	var diff []Op
	for _, op := range d.oplog {
		if op.Tag.Counter > peerVector[op.Tag.Replica] {
			diff = append(diff, op)
		}
	}
	return diff
}

// CreateSyncMessage builds the opening SYNC announce: "here is everything
// I've seen", for a peer to diff against.
func CreateSyncMessage(doc *Document) []byte {
	return encodeEnvelope(envelope{Kind: msgAnnounce, Vector: doc.StateVector()})
}

// CreateUpdateMessage wraps a pre-computed op diff as a standalone UPDATE
// message, used by the sync engine to push a local transaction's ops to
// peers outside of the request/reply announce cycle.
func CreateUpdateMessage(ops []Op) []byte {
	return encodeEnvelope(envelope{Kind: msgUpdate, Ops: ops})
}

// HandleSyncMessage dispatches an incoming wire message against doc and
// returns the reply to send back, if any. An announce gets a diff reply
// carrying exactly what the sender is missing; an update is applied and
// produces no reply of its own (the sync engine decides separately whether
// to relay it onward).
func HandleSyncMessage(msg []byte, doc *Document) ([]byte, error) {
	env, err := decodeEnvelope(msg)
	if err != nil {
		return nil, err
	}
	switch env.Kind {
	case msgAnnounce:
		diff := doc.DiffSince(env.Vector)
		if len(diff) == 0 {
			return nil, nil
		}
		return encodeEnvelope(envelope{Kind: msgUpdate, Ops: diff}), nil
	case msgUpdate:
		if err := doc.ApplyOps(env.Ops); err != nil {
			return nil, err
		}
		return nil, nil
	default:
		return nil, fmt.Errorf("crdt: unknown sync message kind %d", env.Kind)
	}
}

// ApplyOps merges a sequence of remote ops into the document, delivering
// exactly one deep-observe batch for the whole sequence: a local
// transaction's all-writes-are-atomic guarantee applies equally to a
// batch of ops absorbed from a peer.
func (d *Document) ApplyOps(ops []Op) error {
	if len(ops) == 0 {
		return nil
	}
	return d.withTxn(true, func(t *Txn) error {
		for _, op := range ops {
			t.applyRemote(op)
		}
		return nil
	})
}

// applyRemote replays one op from a peer's oplog. It always observes the
// op's tag (advancing the vector clock's watermark for that replica) and
// always re-appends the op to the local oplog so it can be relayed to a
// third peer, even when the merge rule underneath discards the write as
// stale — relaying a superseded write still lets a downstream peer learn
// the sender's progress without re-requesting it later.
func (t *Txn) applyRemote(op Op) {
	t.doc.clock.Observe(op.Tag)
	t.appendOp(op)

	switch op.Kind {
	case opCreate:
		if _, ok := t.doc.root(op.Root)[op.ID]; !ok {
			t.doc.root(op.Root)[op.ID] = newObjectMap()
			t.records = append(t.records, ChangeRecord{Kind: ChangeCreated, Root: op.Root, ID: op.ID})
		}

	case opDelete:
		if _, ok := t.doc.root(op.Root)[op.ID]; ok {
			delete(t.doc.root(op.Root), op.ID)
			t.records = append(t.records, ChangeRecord{Kind: ChangeDeleted, Root: op.Root, ID: op.ID})
		}

	case opScalar:
		obj, ok := t.doc.root(op.Root)[op.ID]
		if ok && obj.Scalars.Set(op.Field, op.Value, op.Tag) {
			t.records = append(t.records, ChangeRecord{Kind: ChangeScalar, Root: op.Root, ID: op.ID, Field: op.Field, Value: op.Value})
		}

	case opScalarDelete:
		obj, ok := t.doc.root(op.Root)[op.ID]
		if ok && obj.Scalars.Delete(op.Field, op.Tag) {
			t.records = append(t.records, ChangeRecord{Kind: ChangeScalar, Root: op.Root, ID: op.ID, Field: op.Field, Value: nil})
		}

	case opSetAdd:
		obj, ok := t.doc.root(op.Root)[op.ID]
		if !ok {
			return
		}
		if obj.setOf(op.Field).addIfNew(op.Elem, op.Token) {
			if n := len(t.records); n > 0 && t.records[n-1].Kind == ChangeSetAdded && t.records[n-1].Root == op.Root && t.records[n-1].ID == op.ID && t.records[n-1].Field == op.Field {
				t.records[n-1].Added = append(t.records[n-1].Added, op.Elem)
			} else {
				t.records = append(t.records, ChangeRecord{Kind: ChangeSetAdded, Root: op.Root, ID: op.ID, Field: op.Field, Added: []string{op.Elem}})
			}
		}

	case opSetRemove:
		obj, ok := t.doc.root(op.Root)[op.ID]
		if !ok {
			return
		}
		set := obj.setOf(op.Field)
		wasPresent := set.Contains(op.Elem)
		set.RemoveTokens(op.Tokens)
		if wasPresent && !set.Contains(op.Elem) {
			if n := len(t.records); n > 0 && t.records[n-1].Kind == ChangeSetRemoved && t.records[n-1].Root == op.Root && t.records[n-1].ID == op.ID && t.records[n-1].Field == op.Field {
				t.records[n-1].Removed = append(t.records[n-1].Removed, op.Elem)
			} else {
				t.records = append(t.records, ChangeRecord{Kind: ChangeSetRemoved, Root: op.Root, ID: op.ID, Field: op.Field, Removed: []string{op.Elem}})
			}
		}

	case opAttrSet:
		obj, ok := t.doc.root(op.Root)[op.ID]
		if ok && obj.Attrs.Set(op.Field, op.Value, op.Tag) {
			t.records = append(t.records, ChangeRecord{Kind: ChangeAttrsAdded, Root: op.Root, ID: op.ID, AddedValues: map[string]any{op.Field: op.Value}})
		}

	case opAttrDelete:
		obj, ok := t.doc.root(op.Root)[op.ID]
		if ok && obj.Attrs.Delete(op.Field, op.Tag) {
			t.records = append(t.records, ChangeRecord{Kind: ChangeAttrsRemoved, Root: op.Root, ID: op.ID, Removed: []string{op.Field}})
		}
	}
}
