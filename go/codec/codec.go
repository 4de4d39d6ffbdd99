// Package codec maps editing values to and from their JSON wire form.
// Every structured value carries a "type" tag so a decoded value is
// rebuilt as the same flavor it was encoded from, and decoding runs
// each op back through its validating constructor. The same encoding is
// used on the wire and in the change logs.
package codec

import (
	"encoding/json"
	"fmt"

	"github.com/marginalia/quill/go/ot"
)

// Type tags of the structured values this codec understands.
const (
	TagBodyDelta        = "bodyDelta"
	TagCaretDelta       = "caretDelta"
	TagPropertyDelta    = "propertyDelta"
	TagBodyChange       = "bodyChange"
	TagCaretChange      = "caretChange"
	TagPropertyChange   = "propertyChange"
	TagBodySnapshot     = "bodySnapshot"
	TagCaretSnapshot    = "caretSnapshot"
	TagPropertySnapshot = "propertySnapshot"
	TagCaret            = "caret"
)

// Encode renders a recognized editing value, or plain frozen data, as
// JSON.
func Encode(v any) ([]byte, error) {
	var tree, err = encodeTree(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(tree)
}

// Decode parses JSON produced by Encode. Objects bearing a known
// "type" tag come back as their editing value; everything else comes
// back as frozen plain data.
func Decode(data []byte) (any, error) {
	var tree any
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil, ot.BadDataf("malformed json: %v", err)
	}
	return decodeTree(tree)
}

func encodeTree(v any) (any, error) {
	switch x := v.(type) {
	case ot.BodyDelta:
		return encodeBodyDelta(x), nil
	case ot.CaretDelta:
		return encodeCaretDelta(x), nil
	case ot.PropertyDelta:
		return encodePropertyDelta(x), nil
	case ot.BodyChange:
		return encodeChange(TagBodyChange, x.RevNum, encodeBodyDelta(x.Delta), x.Timestamp, x.AuthorID), nil
	case ot.CaretChange:
		return encodeChange(TagCaretChange, x.RevNum, encodeCaretDelta(x.Delta), x.Timestamp, x.AuthorID), nil
	case ot.PropertyChange:
		return encodeChange(TagPropertyChange, x.RevNum, encodePropertyDelta(x.Delta), x.Timestamp, x.AuthorID), nil
	case ot.BodySnapshot:
		return encodeSnapshot(TagBodySnapshot, x.RevNum(), encodeBodyDelta(x.Contents())), nil
	case ot.CaretSnapshot:
		return encodeSnapshot(TagCaretSnapshot, x.RevNum(), encodeCaretDelta(x.Contents())), nil
	case ot.PropertySnapshot:
		return encodeSnapshot(TagPropertySnapshot, x.RevNum(), encodePropertyDelta(x.Contents())), nil
	case ot.Caret:
		return encodeCaret(x), nil
	default:
		// Plain data is normalized by the usual freeze; values with
		// their own JSON form (result structs, booleans) pass through
		// to the marshaller.
		if frozen, err := ot.Freeze(v); err == nil {
			return frozen, nil
		}
		return v, nil
	}
}

func decodeTree(tree any) (any, error) {
	var obj, ok = tree.(map[string]any)
	if !ok {
		return ot.Freeze(tree)
	}
	tag, _ := obj["type"].(string)
	switch tag {
	case TagBodyDelta:
		return decodeBodyDelta(obj)
	case TagCaretDelta:
		return decodeCaretDelta(obj)
	case TagPropertyDelta:
		return decodePropertyDelta(obj)
	case TagBodyChange:
		return decodeChange(obj, decodeBodyDelta)
	case TagCaretChange:
		return decodeChange(obj, decodeCaretDelta)
	case TagPropertyChange:
		return decodeChange(obj, decodePropertyDelta)
	case TagBodySnapshot:
		return decodeSnapshot(obj, decodeBodyDelta)
	case TagCaretSnapshot:
		return decodeSnapshot(obj, decodeCaretDelta)
	case TagPropertySnapshot:
		return decodeSnapshot(obj, decodePropertyDelta)
	case TagCaret:
		return decodeCaret(obj)
	default:
		return ot.Freeze(tree)
	}
}

func encodeChange(tag string, revNum int, delta any, ts ot.Timestamp, author ot.AuthorID) map[string]any {
	var out = map[string]any{"type": tag, "revNum": revNum, "delta": delta}
	if !ts.IsZero() {
		out["timestamp"] = int64(ts)
	}
	if author != "" {
		out["authorId"] = string(author)
	}
	return out
}

func encodeSnapshot(tag string, revNum int, contents any) map[string]any {
	return map[string]any{"type": tag, "revNum": revNum, "contents": contents}
}

// decodeChange rebuilds a change, validating through ot.NewChange.
func decodeChange[D ot.DeltaFlavor[D]](obj map[string]any, delta func(map[string]any) (D, error)) (ot.Change[D], error) {
	var revNum, err = intField(obj, "revNum")
	if err != nil {
		return ot.Change[D]{}, err
	}
	deltaObj, ok := obj["delta"].(map[string]any)
	if !ok {
		return ot.Change[D]{}, ot.BadDataf("change has no delta object")
	}
	d, err := delta(deltaObj)
	if err != nil {
		return ot.Change[D]{}, err
	}
	var ts ot.Timestamp
	if raw, ok := obj["timestamp"]; ok {
		n, err := asInt64(raw)
		if err != nil {
			return ot.Change[D]{}, ot.BadDataf("change timestamp: %v", err)
		}
		ts = ot.Timestamp(n)
	}
	var author ot.AuthorID
	if raw, ok := obj["authorId"]; ok {
		s, ok := raw.(string)
		if !ok {
			return ot.Change[D]{}, ot.BadDataf("change authorId is not a string")
		}
		author = ot.AuthorID(s)
	}
	return ot.NewChange(revNum, d, ts, author)
}

func decodeSnapshot[D ot.DeltaFlavor[D]](obj map[string]any, delta func(map[string]any) (D, error)) (ot.Snapshot[D], error) {
	var revNum, err = intField(obj, "revNum")
	if err != nil {
		return ot.Snapshot[D]{}, err
	}
	contents, ok := obj["contents"].(map[string]any)
	if !ok {
		return ot.Snapshot[D]{}, ot.BadDataf("snapshot has no contents object")
	}
	d, err := delta(contents)
	if err != nil {
		return ot.Snapshot[D]{}, err
	}
	return ot.NewSnapshot(revNum, d)
}

func intField(obj map[string]any, key string) (int, error) {
	var raw, ok = obj[key]
	if !ok {
		return 0, ot.BadDataf("missing field %q", key)
	}
	n, err := asInt64(raw)
	if err != nil {
		return 0, ot.BadDataf("field %q: %v", key, err)
	}
	return int(n), nil
}

func asInt64(raw any) (int64, error) {
	switch x := raw.(type) {
	case int:
		return int64(x), nil
	case int64:
		return x, nil
	case float64:
		if float64(int64(x)) != x {
			return 0, fmt.Errorf("%v is not an integer", x)
		}
		return int64(x), nil
	default:
		return 0, fmt.Errorf("%T is not a number", raw)
	}
}
