package crdt

import "github.com/catalogd/catalogd/internal/core"

// elementToken pairs a set element with the add-token that introduced it.
// The element type is a bare string so the same set implementation serves
// tags, products, and event-reference collections (uuids are carried as
// their string form).
type elementToken struct {
	Elem  string
	Token core.Token
}

// ORSet is an Observed-Remove Set. Every Add mints a fresh token; Remove
// tombstones every token currently observed for that element. Concurrent
// adds of the same element from different replicas each get their own
// token, so a remove that only observed one of them leaves the element
// present — add-wins under concurrency.
type ORSet struct {
	adds    map[elementToken]struct{}
	removes map[elementToken]struct{}
}

// NewORSet creates an empty OR-Set.
func NewORSet() *ORSet {
	return &ORSet{
		adds:    make(map[elementToken]struct{}),
		removes: make(map[elementToken]struct{}),
	}
}

// Add inserts elem with a fresh token and returns the token.
func (s *ORSet) Add(elem string) core.Token {
	token := core.NewToken()
	s.AddWithToken(elem, token)
	return token
}

// AddWithToken inserts elem with an explicit token, used when replaying a
// remote add during merge.
func (s *ORSet) AddWithToken(elem string, token core.Token) {
	s.adds[elementToken{Elem: elem, Token: token}] = struct{}{}
}

// addIfNew is AddWithToken's idempotent-replay variant: it reports whether
// the token was new, so a sync message applied twice (e.g. after a dropped
// ack and a retry) only emits one change record.
func (s *ORSet) addIfNew(elem string, token core.Token) bool {
	et := elementToken{Elem: elem, Token: token}
	if _, exists := s.adds[et]; exists {
		return false
	}
	s.adds[et] = struct{}{}
	return true
}

// LiveTokens returns every add-token currently live (not yet tombstoned)
// for elem. A remove must tombstone exactly the tokens it observed at the
// time it ran — not tokens added later by a concurrent writer — so callers
// capture this snapshot before removing and ship it to peers as part of
// the remove operation (see crdt.Op's Tokens field in wire.go).
func (s *ORSet) LiveTokens(elem string) []core.Token {
	var tokens []core.Token
	for et := range s.adds {
		if et.Elem != elem {
			continue
		}
		if _, removed := s.removes[et]; !removed {
			tokens = append(tokens, et.Token)
		}
	}
	return tokens
}

// Remove tombstones every token currently observed for elem and returns
// them, for local removes where the caller wants to ship the exact tokens
// tombstoned to peers.
func (s *ORSet) Remove(elem string) []core.Token {
	tokens := s.LiveTokens(elem)
	s.RemoveTokens(tokens)
	return tokens
}

// RemoveTokens tombstones exactly the given tokens, used when replaying a
// remote remove during merge/delta-apply: it must not tombstone any token
// added after the remote remove ran.
func (s *ORSet) RemoveTokens(tokens []core.Token) {
	want := make(map[core.Token]struct{}, len(tokens))
	for _, tok := range tokens {
		want[tok] = struct{}{}
	}
	for et := range s.adds {
		if _, ok := want[et.Token]; ok {
			s.removes[et] = struct{}{}
		}
	}
}

// Contains reports whether elem has at least one live (non-removed) token.
func (s *ORSet) Contains(elem string) bool {
	for et := range s.adds {
		if et.Elem != elem {
			continue
		}
		if _, removed := s.removes[et]; !removed {
			return true
		}
	}
	return false
}

// Elements returns every element with at least one live token. Order is
// unspecified; callers that need a stable order (e.g. repr output) sort it.
func (s *ORSet) Elements() []string {
	seen := make(map[string]struct{})
	for et := range s.adds {
		if _, removed := s.removes[et]; !removed {
			seen[et.Elem] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for e := range seen {
		out = append(out, e)
	}
	return out
}

// Merge unions the add and remove token sets of other into s. Union is
// commutative, associative, and idempotent, so Merge is too.
func (s *ORSet) Merge(other *ORSet) {
	for et := range other.adds {
		s.adds[et] = struct{}{}
	}
	for et := range other.removes {
		s.removes[et] = struct{}{}
	}
}

// Clone returns a deep copy.
func (s *ORSet) Clone() *ORSet {
	clone := NewORSet()
	for et := range s.adds {
		clone.adds[et] = struct{}{}
	}
	for et := range s.removes {
		clone.removes[et] = struct{}{}
	}
	return clone
}
