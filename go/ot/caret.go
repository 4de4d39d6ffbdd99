package ot

import (
	"fmt"
	"strings"
)

// CaretField names one mutable field of a Caret.
type CaretField string

const (
	CaretIndex      CaretField = "index"
	CaretLength     CaretField = "length"
	CaretColor      CaretField = "color"
	CaretRevNum     CaretField = "revNum"
	CaretLastActive CaretField = "lastActive"
)

// caretFields is the deterministic field ordering used by Diff.
var caretFields = []CaretField{CaretIndex, CaretLength, CaretColor, CaretRevNum, CaretLastActive}

// Caret is the cursor/selection state of one editing session: the
// selection start index and length, the session's assigned color, the
// body revision the selection was made against, and the session's
// last-active time. All fields are mandatory; DefaultCaret supplies the
// defaults for fields not set at construction.
type Caret struct {
	sessionID  SessionID
	index      int
	length     int
	color      string
	revNum     int
	lastActive Timestamp
}

// DefaultCaret holds the default field values of a newly begun caret.
var DefaultCaret = Caret{color: "#000000"}

// NewCaret builds a caret for the given session with default fields.
func NewCaret(sessionID SessionID) (Caret, error) {
	if err := CheckID(string(sessionID)); err != nil {
		return Caret{}, fmt.Errorf("session id: %w", err)
	}
	var c = DefaultCaret
	c.sessionID = sessionID
	return c, nil
}

// SessionID of this caret.
func (c Caret) SessionID() SessionID { return c.sessionID }

// Index of the selection start.
func (c Caret) Index() int { return c.index }

// Length of the selection; zero for a bare cursor.
func (c Caret) Length() int { return c.length }

// Color assigned to the session, as a lowercase #rrggbb string.
func (c Caret) Color() string { return c.color }

// RevNum of the body revision the selection applies to.
func (c Caret) RevNum() int { return c.revNum }

// LastActive time of the session.
func (c Caret) LastActive() Timestamp { return c.lastActive }

// Field returns the named field's value: int for index, length and
// revNum; string for color; Timestamp for lastActive.
func (c Caret) Field(f CaretField) (any, error) {
	switch f {
	case CaretIndex:
		return c.index, nil
	case CaretLength:
		return c.length, nil
	case CaretColor:
		return c.color, nil
	case CaretRevNum:
		return c.revNum, nil
	case CaretLastActive:
		return c.lastActive, nil
	default:
		return nil, BadValuef("unknown caret field %q", string(f))
	}
}

// WithField returns a copy of the caret with the named field replaced.
func (c Caret) WithField(f CaretField, value any) (Caret, error) {
	var v, err = checkCaretFieldValue(f, value)
	if err != nil {
		return Caret{}, err
	}
	switch f {
	case CaretIndex:
		c.index = v.(int)
	case CaretLength:
		c.length = v.(int)
	case CaretColor:
		c.color = v.(string)
	case CaretRevNum:
		c.revNum = v.(int)
	case CaretLastActive:
		c.lastActive = v.(Timestamp)
	}
	return c, nil
}

// Equals is structural equality.
func (c Caret) Equals(o Caret) bool { return c == o }

// checkCaretFieldValue validates and normalizes a field value.
func checkCaretFieldValue(f CaretField, value any) (any, error) {
	switch f {
	case CaretIndex, CaretLength, CaretRevNum:
		var n int
		switch x := value.(type) {
		case int:
			n = x
		case float64:
			n = int(x)
			if float64(n) != x {
				return nil, BadValuef("caret %s is not an integer", string(f))
			}
		default:
			return nil, BadValuef("caret %s has type %T, want integer", string(f), value)
		}
		if n < 0 {
			return nil, BadValuef("caret %s %d < 0", string(f), n)
		}
		return n, nil
	case CaretColor:
		var s, ok = value.(string)
		if !ok {
			return nil, BadValuef("caret color has type %T, want string", value)
		}
		s = strings.ToLower(s)
		if !isCSSHex(s) {
			return nil, BadValuef("caret color %q is not #rrggbb", s)
		}
		return s, nil
	case CaretLastActive:
		switch x := value.(type) {
		case Timestamp:
			if x < 0 {
				return nil, BadValuef("caret lastActive %d < 0", int64(x))
			}
			return x, nil
		case int64:
			return checkCaretFieldValue(f, Timestamp(x))
		case float64:
			return checkCaretFieldValue(f, Timestamp(int64(x)))
		default:
			return nil, BadValuef("caret lastActive has type %T, want timestamp", value)
		}
	default:
		return nil, BadValuef("unknown caret field %q", string(f))
	}
}

func isCSSHex(s string) bool {
	if len(s) != 7 || s[0] != '#' {
		return false
	}
	for i := 1; i < 7; i++ {
		var c = s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// CaretOpName is the closed set of caret op names.
type CaretOpName string

const (
	// CaretBeginSession adds or replaces a session's caret.
	CaretBeginSession CaretOpName = "beginSession"
	// CaretEndSession removes a session's caret.
	CaretEndSession CaretOpName = "endSession"
	// CaretSetField updates one field of an existing session's caret.
	CaretSetField CaretOpName = "setField"
)

// CaretOp is one operation of a caret delta.
type CaretOp struct {
	name      CaretOpName
	caret     Caret // beginSession
	sessionID SessionID
	field     CaretField // setField
	value     any        // setField; normalized per field
}

// NewBeginSessionOp builds a beginSession op.
func NewBeginSessionOp(c Caret) (CaretOp, error) {
	if c.sessionID == "" {
		return CaretOp{}, BadValuef("caret has no session id")
	}
	return CaretOp{name: CaretBeginSession, caret: c, sessionID: c.sessionID}, nil
}

// NewEndSessionOp builds an endSession op.
func NewEndSessionOp(sessionID SessionID) (CaretOp, error) {
	if err := CheckID(string(sessionID)); err != nil {
		return CaretOp{}, fmt.Errorf("session id: %w", err)
	}
	return CaretOp{name: CaretEndSession, sessionID: sessionID}, nil
}

// NewSetFieldOp builds a setField op.
func NewSetFieldOp(sessionID SessionID, field CaretField, value any) (CaretOp, error) {
	if err := CheckID(string(sessionID)); err != nil {
		return CaretOp{}, fmt.Errorf("session id: %w", err)
	}
	var v, err = checkCaretFieldValue(field, value)
	if err != nil {
		return CaretOp{}, err
	}
	return CaretOp{name: CaretSetField, sessionID: sessionID, field: field, value: v}, nil
}

// Name of the op.
func (op CaretOp) Name() CaretOpName { return op.name }

// SessionID targeted by the op.
func (op CaretOp) SessionID() SessionID { return op.sessionID }

// Caret of a beginSession op.
func (op CaretOp) Caret() Caret { return op.caret }

// Field of a setField op.
func (op CaretOp) Field() CaretField { return op.field }

// Value of a setField op.
func (op CaretOp) Value() any { return op.value }

// Equals is structural equality.
func (op CaretOp) Equals(o CaretOp) bool {
	return op.name == o.name && op.sessionID == o.sessionID &&
		op.caret == o.caret && op.field == o.field && op.value == o.value
}

func (op CaretOp) String() string {
	switch op.name {
	case CaretBeginSession:
		return fmt.Sprintf("beginSession(%s)", op.sessionID)
	case CaretEndSession:
		return fmt.Sprintf("endSession(%s)", op.sessionID)
	default:
		return fmt.Sprintf("setField(%s, %s, %v)", op.sessionID, op.field, op.value)
	}
}

// CaretDelta is an ordered sequence of caret ops. The zero value is the
// empty delta.
type CaretDelta struct {
	ops []CaretOp
}

// EmptyCaretDelta is the empty caret delta.
var EmptyCaretDelta = CaretDelta{}

// NewCaretDelta builds a delta from the given ops. The slice is copied.
func NewCaretDelta(ops ...CaretOp) CaretDelta {
	if len(ops) == 0 {
		return CaretDelta{}
	}
	var copied = make([]CaretOp, len(ops))
	copy(copied, ops)
	return CaretDelta{ops: copied}
}

// Ops returns a copy of the delta's ops.
func (d CaretDelta) Ops() []CaretOp {
	var out = make([]CaretOp, len(d.ops))
	copy(out, d.ops)
	return out
}

// Len is the number of ops.
func (d CaretDelta) Len() int { return len(d.ops) }

// At returns the i'th op.
func (d CaretDelta) At(i int) CaretOp { return d.ops[i] }

// IsEmpty reports whether the delta has no ops.
func (d CaretDelta) IsEmpty() bool { return len(d.ops) == 0 }

// IsDocument reports whether the delta is all beginSession ops with
// pairwise-distinct session ids.
func (d CaretDelta) IsDocument() bool {
	var seen = make(map[SessionID]struct{}, len(d.ops))
	for _, op := range d.ops {
		if op.name != CaretBeginSession {
			return false
		}
		if _, dup := seen[op.sessionID]; dup {
			return false
		}
		seen[op.sessionID] = struct{}{}
	}
	return true
}

// Equals is structural, op-by-op equality.
func (d CaretDelta) Equals(other CaretDelta) bool {
	if len(d.ops) != len(other.ops) {
		return false
	}
	for i := range d.ops {
		if !d.ops[i].Equals(other.ops[i]) {
			return false
		}
	}
	return true
}

// Compose concatenates this delta's ops with other's. Caret semantics
// (add-or-replace, field update, removal) are evaluated against a
// document by ComposeDocument; plain composition stays total so that
// change streams can be squashed.
func (d CaretDelta) Compose(other CaretDelta) CaretDelta {
	if other.IsEmpty() {
		return d
	}
	if d.IsEmpty() {
		return other
	}
	var ops = make([]CaretOp, 0, len(d.ops)+len(other.ops))
	ops = append(ops, d.ops...)
	ops = append(ops, other.ops...)
	return CaretDelta{ops: ops}
}

// ComposeDocument applies other to this document delta: beginSession
// adds or replaces, setField updates an existing session (badUse when
// the session is unknown), endSession removes. Removal of an unknown
// session is tolerated, since session ends race with idle sweeps.
func (d CaretDelta) ComposeDocument(other CaretDelta) (CaretDelta, error) {
	if !d.IsDocument() {
		return CaretDelta{}, BadValuef("compose target is not a caret document")
	}

	var order = make([]SessionID, 0, len(d.ops))
	var carets = make(map[SessionID]Caret, len(d.ops))
	for _, op := range d.ops {
		order = append(order, op.sessionID)
		carets[op.sessionID] = op.caret
	}

	for _, op := range other.ops {
		switch op.name {
		case CaretBeginSession:
			if _, ok := carets[op.sessionID]; !ok {
				order = append(order, op.sessionID)
			}
			carets[op.sessionID] = op.caret
		case CaretSetField:
			var c, ok = carets[op.sessionID]
			if !ok {
				return CaretDelta{}, BadUsef("setField of unknown session %q", string(op.sessionID))
			}
			var updated, err = c.WithField(op.field, op.value)
			if err != nil {
				return CaretDelta{}, err
			}
			carets[op.sessionID] = updated
		case CaretEndSession:
			if _, ok := carets[op.sessionID]; ok {
				delete(carets, op.sessionID)
				for i, id := range order {
					if id == op.sessionID {
						order = append(order[:i], order[i+1:]...)
						break
					}
				}
			}
		}
	}

	var ops = make([]CaretOp, 0, len(order))
	for _, id := range order {
		ops = append(ops, CaretOp{name: CaretBeginSession, caret: carets[id], sessionID: id})
	}
	return CaretDelta{ops: ops}, nil
}

// Diff returns the minimal delta transforming this caret document into
// newer: endSession for removed sessions, setField per changed field of
// persisting sessions, and beginSession for added ones.
func (d CaretDelta) Diff(newer CaretDelta) (CaretDelta, error) {
	if !d.IsDocument() || !newer.IsDocument() {
		return CaretDelta{}, BadValuef("diff requires caret documents")
	}

	var oldCarets = make(map[SessionID]Caret, len(d.ops))
	for _, op := range d.ops {
		oldCarets[op.sessionID] = op.caret
	}
	var newCarets = make(map[SessionID]Caret, len(newer.ops))
	for _, op := range newer.ops {
		newCarets[op.sessionID] = op.caret
	}

	var ops []CaretOp
	for _, op := range d.ops {
		var id = op.sessionID
		var after, ok = newCarets[id]
		if !ok {
			ops = append(ops, CaretOp{name: CaretEndSession, sessionID: id})
			continue
		}
		var before = op.caret
		for _, f := range caretFields {
			var bv, _ = before.Field(f)
			var av, _ = after.Field(f)
			if bv != av {
				ops = append(ops, CaretOp{name: CaretSetField, sessionID: id, field: f, value: av})
			}
		}
	}
	for _, op := range newer.ops {
		if _, ok := oldCarets[op.sessionID]; !ok {
			ops = append(ops, CaretOp{name: CaretBeginSession, caret: op.caret, sessionID: op.sessionID})
		}
	}
	return CaretDelta{ops: ops}, nil
}

// Transform rebases this delta over other. Caret ops on distinct
// sessions commute, and ops on the same session resolve last-writer-
// wins at snapshot composition, so the rebased delta is this delta
// unchanged. thisIsFirst is accepted for interface symmetry.
func (d CaretDelta) Transform(other CaretDelta, thisIsFirst bool) CaretDelta {
	_ = other
	_ = thisIsFirst
	return d
}

func (d CaretDelta) String() string {
	var parts = make([]string, len(d.ops))
	for i, op := range d.ops {
		parts[i] = op.String()
	}
	return "CaretDelta[" + strings.Join(parts, ", ") + "]"
}
