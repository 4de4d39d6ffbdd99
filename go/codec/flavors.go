package codec

import (
	"github.com/marginalia/quill/go/ot"
)

// Body deltas encode each op as a single-key object (plus optional
// attributes), in the style of quill's wire deltas:
//
//	{"delete": 3}
//	{"retain": 3, "attributes": {"bold": true}}
//	{"text": "abc", "attributes": {"bold": null}}
//	{"embed": {"kind": "image", "value": {...}}}

func encodeBodyDelta(d ot.BodyDelta) map[string]any {
	var ops = make([]any, 0, d.Len())
	for _, op := range d.Ops() {
		var one = map[string]any{}
		switch op.Name() {
		case ot.BodyDelete:
			one["delete"] = op.Count()
		case ot.BodyRetain:
			one["retain"] = op.Count()
		case ot.BodyText:
			one["text"] = op.Text()
		case ot.BodyEmbed:
			one["embed"] = map[string]any{"kind": op.EmbedType(), "value": op.EmbedValue()}
		}
		if len(op.Attrs()) != 0 {
			one["attributes"] = map[string]any(op.Attrs())
		}
		ops = append(ops, one)
	}
	return map[string]any{"type": TagBodyDelta, "ops": ops}
}

func decodeBodyDelta(obj map[string]any) (ot.BodyDelta, error) {
	var rawOps, err = opList(obj)
	if err != nil {
		return ot.BodyDelta{}, err
	}
	var ops = make([]ot.BodyOp, 0, len(rawOps))
	for _, raw := range rawOps {
		var attrs ot.Attributes
		if rawAttrs, ok := raw["attributes"]; ok {
			m, ok := rawAttrs.(map[string]any)
			if !ok {
				return ot.BodyDelta{}, ot.BadDataf("op attributes is not an object")
			}
			if attrs, err = ot.FreezeAttributes(ot.Attributes(m)); err != nil {
				return ot.BodyDelta{}, err
			}
		}

		var op ot.BodyOp
		switch {
		case raw["delete"] != nil:
			var count int
			if count, err = intField(raw, "delete"); err == nil {
				op, err = ot.NewDeleteOp(count)
			}
		case raw["retain"] != nil:
			var count int
			if count, err = intField(raw, "retain"); err == nil {
				op, err = ot.NewRetainOp(count, attrs)
			}
		case raw["text"] != nil:
			var text, ok = raw["text"].(string)
			if !ok {
				return ot.BodyDelta{}, ot.BadDataf("text op payload is not a string")
			}
			op, err = ot.NewTextOp(text, attrs)
		case raw["embed"] != nil:
			var embed, ok = raw["embed"].(map[string]any)
			if !ok {
				return ot.BodyDelta{}, ot.BadDataf("embed op payload is not an object")
			}
			kind, ok := embed["kind"].(string)
			if !ok {
				return ot.BodyDelta{}, ot.BadDataf("embed op has no kind")
			}
			op, err = ot.NewEmbedOp(kind, embed["value"], attrs)
		default:
			return ot.BodyDelta{}, ot.BadDataf("body op %v has no recognized key", raw)
		}
		if err != nil {
			return ot.BodyDelta{}, err
		}
		ops = append(ops, op)
	}
	return ot.NewBodyDelta(ops...), nil
}

// Caret deltas: {"beginSession": {caret}}, {"endSession": "sid"},
// {"setField": {"sessionId": "sid", "field": "index", "value": 3}}.

func encodeCaretDelta(d ot.CaretDelta) map[string]any {
	var ops = make([]any, 0, d.Len())
	for _, op := range d.Ops() {
		switch op.Name() {
		case ot.CaretBeginSession:
			ops = append(ops, map[string]any{"beginSession": encodeCaretFields(op.Caret())})
		case ot.CaretEndSession:
			ops = append(ops, map[string]any{"endSession": string(op.SessionID())})
		case ot.CaretSetField:
			ops = append(ops, map[string]any{"setField": map[string]any{
				"sessionId": string(op.SessionID()),
				"field":     string(op.Field()),
				"value":     encodeCaretValue(op.Value()),
			}})
		}
	}
	return map[string]any{"type": TagCaretDelta, "ops": ops}
}

func encodeCaret(c ot.Caret) map[string]any {
	var out = encodeCaretFields(c)
	out["type"] = TagCaret
	return out
}

func encodeCaretFields(c ot.Caret) map[string]any {
	return map[string]any{
		"sessionId":  string(c.SessionID()),
		"index":      c.Index(),
		"length":     c.Length(),
		"color":      c.Color(),
		"revNum":     c.RevNum(),
		"lastActive": int64(c.LastActive()),
	}
}

func encodeCaretValue(v any) any {
	if ts, ok := v.(ot.Timestamp); ok {
		return int64(ts)
	}
	return v
}

func decodeCaretDelta(obj map[string]any) (ot.CaretDelta, error) {
	var rawOps, err = opList(obj)
	if err != nil {
		return ot.CaretDelta{}, err
	}
	var ops = make([]ot.CaretOp, 0, len(rawOps))
	for _, raw := range rawOps {
		var op ot.CaretOp
		switch {
		case raw["beginSession"] != nil:
			var fields, ok = raw["beginSession"].(map[string]any)
			if !ok {
				return ot.CaretDelta{}, ot.BadDataf("beginSession payload is not an object")
			}
			caret, err := decodeCaret(fields)
			if err != nil {
				return ot.CaretDelta{}, err
			}
			if op, err = ot.NewBeginSessionOp(caret); err != nil {
				return ot.CaretDelta{}, err
			}
		case raw["endSession"] != nil:
			var sid, ok = raw["endSession"].(string)
			if !ok {
				return ot.CaretDelta{}, ot.BadDataf("endSession payload is not a string")
			}
			if op, err = ot.NewEndSessionOp(ot.SessionID(sid)); err != nil {
				return ot.CaretDelta{}, err
			}
		case raw["setField"] != nil:
			var args, ok = raw["setField"].(map[string]any)
			if !ok {
				return ot.CaretDelta{}, ot.BadDataf("setField payload is not an object")
			}
			sid, _ := args["sessionId"].(string)
			field, _ := args["field"].(string)
			if op, err = ot.NewSetFieldOp(ot.SessionID(sid), ot.CaretField(field), args["value"]); err != nil {
				return ot.CaretDelta{}, err
			}
		default:
			return ot.CaretDelta{}, ot.BadDataf("caret op %v has no recognized key", raw)
		}
		ops = append(ops, op)
	}
	return ot.NewCaretDelta(ops...), nil
}

func decodeCaret(fields map[string]any) (ot.Caret, error) {
	var sid, ok = fields["sessionId"].(string)
	if !ok {
		return ot.Caret{}, ot.BadDataf("caret has no sessionId")
	}
	caret, err := ot.NewCaret(ot.SessionID(sid))
	if err != nil {
		return ot.Caret{}, err
	}
	for _, f := range []ot.CaretField{ot.CaretIndex, ot.CaretLength, ot.CaretColor, ot.CaretRevNum, ot.CaretLastActive} {
		var raw, ok = fields[string(f)]
		if !ok {
			continue // Absent fields keep their defaults.
		}
		if caret, err = caret.WithField(f, raw); err != nil {
			return ot.Caret{}, err
		}
	}
	return caret, nil
}

// Property deltas: {"setProperty": {"name": "n", "value": v}},
// {"deleteProperty": "n"}.

func encodePropertyDelta(d ot.PropertyDelta) map[string]any {
	var ops = make([]any, 0, d.Len())
	for _, op := range d.Ops() {
		switch op.Name() {
		case ot.PropertySet:
			ops = append(ops, map[string]any{"setProperty": map[string]any{
				"name": op.PropertyName(), "value": op.Value(),
			}})
		case ot.PropertyDelete:
			ops = append(ops, map[string]any{"deleteProperty": op.PropertyName()})
		}
	}
	return map[string]any{"type": TagPropertyDelta, "ops": ops}
}

func decodePropertyDelta(obj map[string]any) (ot.PropertyDelta, error) {
	var rawOps, err = opList(obj)
	if err != nil {
		return ot.PropertyDelta{}, err
	}
	var ops = make([]ot.PropertyOp, 0, len(rawOps))
	for _, raw := range rawOps {
		var op ot.PropertyOp
		switch {
		case raw["setProperty"] != nil:
			var args, ok = raw["setProperty"].(map[string]any)
			if !ok {
				return ot.PropertyDelta{}, ot.BadDataf("setProperty payload is not an object")
			}
			name, _ := args["name"].(string)
			if op, err = ot.NewSetPropertyOp(name, args["value"]); err != nil {
				return ot.PropertyDelta{}, err
			}
		case raw["deleteProperty"] != nil:
			var name, ok = raw["deleteProperty"].(string)
			if !ok {
				return ot.PropertyDelta{}, ot.BadDataf("deleteProperty payload is not a string")
			}
			if op, err = ot.NewDeletePropertyOp(name); err != nil {
				return ot.PropertyDelta{}, err
			}
		default:
			return ot.PropertyDelta{}, ot.BadDataf("property op %v has no recognized key", raw)
		}
		ops = append(ops, op)
	}
	return ot.NewPropertyDelta(ops...), nil
}

func opList(obj map[string]any) ([]map[string]any, error) {
	var raw, ok = obj["ops"]
	if !ok {
		return nil, ot.BadDataf("delta has no ops")
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, ot.BadDataf("delta ops is not an array")
	}
	var out = make([]map[string]any, 0, len(list))
	for _, item := range list {
		var one, ok = item.(map[string]any)
		if !ok {
			return nil, ot.BadDataf("delta op is not an object")
		}
		out = append(out, one)
	}
	return out, nil
}
