package codec

import (
	"encoding/json"

	"github.com/marginalia/quill/go/ot"
)

// ChangeCodec binds one delta flavor's change encoding, so flavor
// generic code (the change-log coordinator, notably) can persist and
// recover changes without a type switch.
type ChangeCodec[D ot.DeltaFlavor[D]] struct {
	tag    string
	encode func(D) map[string]any
	decode func(map[string]any) (D, error)
}

var (
	// BodyChanges encodes and decodes body changes.
	BodyChanges = ChangeCodec[ot.BodyDelta]{TagBodyChange, encodeBodyDelta, decodeBodyDelta}
	// CaretChanges encodes and decodes caret changes.
	CaretChanges = ChangeCodec[ot.CaretDelta]{TagCaretChange, encodeCaretDelta, decodeCaretDelta}
	// PropertyChanges encodes and decodes property changes.
	PropertyChanges = ChangeCodec[ot.PropertyDelta]{TagPropertyChange, encodePropertyDelta, decodePropertyDelta}
)

// Tag is the codec's flavor tag.
func (c ChangeCodec[D]) Tag() string { return c.tag }

// EncodeChange renders a change as JSON.
func (c ChangeCodec[D]) EncodeChange(ch ot.Change[D]) ([]byte, error) {
	return json.Marshal(encodeChange(c.tag, ch.RevNum, c.encode(ch.Delta), ch.Timestamp, ch.AuthorID))
}

// DecodeChange parses a change, verifying the flavor tag and running
// the payload back through validating constructors.
func (c ChangeCodec[D]) DecodeChange(data []byte) (ot.Change[D], error) {
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return ot.Change[D]{}, ot.BadDataf("malformed change json: %v", err)
	}
	if tag, _ := obj["type"].(string); tag != c.tag {
		return ot.Change[D]{}, ot.BadDataf("change has type %q, want %q", tag, c.tag)
	}
	return decodeChange(obj, c.decode)
}
