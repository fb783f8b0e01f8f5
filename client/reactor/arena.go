package reactor

import "github.com/adamwoolhether/rxhttp/client/engine"

// arena stores pending entries in reusable slots. A token carries the
// slot index in its low 32 bits and the slot generation in its high 32
// bits, so a token issued for an earlier occupant of a slot never
// resolves to the current one.
type arena struct {
	slots []slot
	free  []uint32
	live  int
}

type slot struct {
	gen   uint32
	entry *entry
}

func makeToken(idx, gen uint32) engine.Token {
	return engine.Token(uint64(gen)<<32 | uint64(idx))
}

func splitToken(tok engine.Token) (idx, gen uint32) {
	return uint32(tok), uint32(tok >> 32)
}

// insert stores e and returns its token. Tokens are never zero.
func (a *arena) insert(e *entry) engine.Token {
	var idx uint32
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		idx = uint32(len(a.slots))
		a.slots = append(a.slots, slot{})
	}

	s := &a.slots[idx]
	s.gen++
	s.entry = e
	a.live++

	return makeToken(idx, s.gen)
}

func (a *arena) get(tok engine.Token) (*entry, bool) {
	idx, gen := splitToken(tok)
	if int(idx) >= len(a.slots) {
		return nil, false
	}

	s := a.slots[idx]
	if s.entry == nil || s.gen != gen {
		return nil, false
	}

	return s.entry, true
}

func (a *arena) remove(tok engine.Token) (*entry, bool) {
	e, ok := a.get(tok)
	if !ok {
		return nil, false
	}

	idx, _ := splitToken(tok)
	a.slots[idx].entry = nil
	a.free = append(a.free, idx)
	a.live--

	return e, true
}

// tokens lists every live token.
func (a *arena) tokens() []engine.Token {
	out := make([]engine.Token, 0, a.live)
	for i, s := range a.slots {
		if s.entry != nil {
			out = append(out, makeToken(uint32(i), s.gen))
		}
	}
	return out
}
