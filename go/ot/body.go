package ot

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// BodyOpName is the closed set of body op names.
type BodyOpName string

const (
	// BodyDelete removes a run of content.
	BodyDelete BodyOpName = "delete"
	// BodyText inserts a run of text.
	BodyText BodyOpName = "text"
	// BodyEmbed inserts a single non-text element.
	BodyEmbed BodyOpName = "embed"
	// BodyRetain keeps a run of content, optionally restyling it.
	BodyRetain BodyOpName = "retain"
)

// BodyOp is one operation of a body (rich text) delta. Ops are
// immutable values; construct them with the New*Op functions.
type BodyOp struct {
	name       BodyOpName
	count      int
	text       string
	embedType  string
	embedValue any
	attrs      Attributes
}

// NewDeleteOp builds a delete op covering count elements.
func NewDeleteOp(count int) (BodyOp, error) {
	if count < 1 {
		return BodyOp{}, BadValuef("delete count %d < 1", count)
	}
	return BodyOp{name: BodyDelete, count: count}, nil
}

// NewRetainOp builds a retain op covering count elements, restyled by
// attrs (which may be nil).
func NewRetainOp(count int, attrs Attributes) (BodyOp, error) {
	if count < 1 {
		return BodyOp{}, BadValuef("retain count %d < 1", count)
	}
	var frozen, err = FreezeAttributes(attrs)
	if err != nil {
		return BodyOp{}, err
	}
	return BodyOp{name: BodyRetain, count: count, attrs: frozen}, nil
}

// NewTextOp builds a text-insert op.
func NewTextOp(text string, attrs Attributes) (BodyOp, error) {
	if text == "" {
		return BodyOp{}, BadValuef("empty text insert")
	}
	var frozen, err = FreezeAttributes(attrs)
	if err != nil {
		return BodyOp{}, err
	}
	for k, v := range frozen {
		if v == nil {
			delete(frozen, k) // Inserts carry no removal marks.
		}
	}
	if len(frozen) == 0 {
		frozen = nil
	}
	return BodyOp{name: BodyText, text: text, attrs: frozen}, nil
}

// NewEmbedOp builds an embed-insert op of the given type and value.
func NewEmbedOp(embedType string, value any, attrs Attributes) (BodyOp, error) {
	if err := CheckID(embedType); err != nil {
		return BodyOp{}, fmt.Errorf("embed type: %w", err)
	}
	var frozen, err = Freeze(value)
	if err != nil {
		return BodyOp{}, fmt.Errorf("embed value: %w", err)
	}
	attrsFrozen, err := FreezeAttributes(attrs)
	if err != nil {
		return BodyOp{}, err
	}
	return BodyOp{name: BodyEmbed, embedType: embedType, embedValue: frozen, attrs: attrsFrozen}, nil
}

// Name of the op.
func (op BodyOp) Name() BodyOpName { return op.name }

// Count of a delete or retain op; zero otherwise.
func (op BodyOp) Count() int { return op.count }

// Text of a text op; empty otherwise.
func (op BodyOp) Text() string { return op.text }

// EmbedType of an embed op; empty otherwise.
func (op BodyOp) EmbedType() string { return op.embedType }

// EmbedValue of an embed op. The value is frozen data; don't mutate it.
func (op BodyOp) EmbedValue() any { return op.embedValue }

// Attrs of the op. The map is frozen; don't mutate it.
func (op BodyOp) Attrs() Attributes { return op.attrs }

// IsInsert reports whether this is a text or embed op.
func (op BodyOp) IsInsert() bool { return op.name == BodyText || op.name == BodyEmbed }

// length is the op's extent in document elements: runes for text,
// one for an embed, count for retain and delete.
func (op BodyOp) length() int {
	switch op.name {
	case BodyText:
		return utf8.RuneCountInString(op.text)
	case BodyEmbed:
		return 1
	default:
		return op.count
	}
}

// Equals is structural equality.
func (op BodyOp) Equals(other BodyOp) bool {
	if op.name != other.name || op.count != other.count ||
		op.text != other.text || op.embedType != other.embedType {
		return false
	}
	return ValueEquals(op.embedValue, other.embedValue) && op.attrs.Equals(other.attrs)
}

func (op BodyOp) String() string {
	switch op.name {
	case BodyDelete:
		return fmt.Sprintf("delete(%d)", op.count)
	case BodyRetain:
		if op.attrs == nil {
			return fmt.Sprintf("retain(%d)", op.count)
		}
		return fmt.Sprintf("retain(%d, %v)", op.count, map[string]any(op.attrs))
	case BodyText:
		if op.attrs == nil {
			return fmt.Sprintf("text(%q)", op.text)
		}
		return fmt.Sprintf("text(%q, %v)", op.text, map[string]any(op.attrs))
	case BodyEmbed:
		return fmt.Sprintf("embed(%s, %v)", op.embedType, op.embedValue)
	default:
		return "op(?)"
	}
}

// BodyDelta is an ordered sequence of body ops. The zero value is the
// empty delta.
type BodyDelta struct {
	ops []BodyOp
}

// EmptyBodyDelta is the empty body delta.
var EmptyBodyDelta = BodyDelta{}

// NewBodyDelta builds a delta from the given ops. The slice is copied.
func NewBodyDelta(ops ...BodyOp) BodyDelta {
	if len(ops) == 0 {
		return BodyDelta{}
	}
	var copied = make([]BodyOp, len(ops))
	copy(copied, ops)
	return BodyDelta{ops: copied}
}

// Ops returns a copy of the delta's ops.
func (d BodyDelta) Ops() []BodyOp {
	var out = make([]BodyOp, len(d.ops))
	copy(out, d.ops)
	return out
}

// Len is the number of ops.
func (d BodyDelta) Len() int { return len(d.ops) }

// At returns the i'th op.
func (d BodyDelta) At(i int) BodyOp { return d.ops[i] }

// IsEmpty reports whether the delta has no ops.
func (d BodyDelta) IsEmpty() bool { return len(d.ops) == 0 }

// IsDocument reports whether every op is an insert, which makes this
// delta a valid document body.
func (d BodyDelta) IsDocument() bool {
	for _, op := range d.ops {
		if !op.IsInsert() {
			return false
		}
	}
	return true
}

// Equals is structural, op-by-op equality.
func (d BodyDelta) Equals(other BodyDelta) bool {
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

// DocLength is the total element length of a document delta.
func (d BodyDelta) DocLength() int {
	var n int
	for _, op := range d.ops {
		if op.IsInsert() {
			n += op.length()
		}
	}
	return n
}

// PlainText flattens a document delta to text, rendering each embed as
// U+FFFC (the object replacement character).
func (d BodyDelta) PlainText() string {
	var b strings.Builder
	for _, op := range d.ops {
		switch op.name {
		case BodyText:
			b.WriteString(op.text)
		case BodyEmbed:
			b.WriteRune('￼')
		}
	}
	return b.String()
}

func (d BodyDelta) String() string {
	var parts = make([]string, len(d.ops))
	for i, op := range d.ops {
		parts[i] = op.String()
	}
	return "BodyDelta[" + strings.Join(parts, ", ") + "]"
}
