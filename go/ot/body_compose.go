package ot

// bodyIter steps through a delta's ops in element-sized slices.
type bodyIter struct {
	ops    []BodyOp
	idx    int
	offset int // Elements already consumed of ops[idx].
}

func newBodyIter(ops []BodyOp) *bodyIter { return &bodyIter{ops: ops} }

func (it *bodyIter) hasNext() bool { return it.idx < len(it.ops) }

// peekName is the name of the head op; callers must check hasNext first.
func (it *bodyIter) peekName() BodyOpName { return it.ops[it.idx].name }

func (it *bodyIter) peekIsInsert() bool {
	return it.hasNext() && it.ops[it.idx].IsInsert()
}

// peekLength is the remaining element length of the head op.
func (it *bodyIter) peekLength() int {
	return it.ops[it.idx].length() - it.offset
}

// next consumes up to n elements of the head op and returns the
// corresponding sliced op.
func (it *bodyIter) next(n int) BodyOp {
	var op = it.ops[it.idx]
	var remain = op.length() - it.offset
	if n >= remain {
		n = remain
		defer func() { it.idx++; it.offset = 0 }()
	} else {
		defer func() { it.offset += n }()
	}

	switch op.name {
	case BodyText:
		return BodyOp{name: BodyText, text: runeSlice(op.text, it.offset, it.offset+n), attrs: op.attrs}
	case BodyEmbed:
		return op // Embeds are indivisible.
	case BodyRetain:
		return BodyOp{name: BodyRetain, count: n, attrs: op.attrs}
	default: // BodyDelete
		return BodyOp{name: BodyDelete, count: n}
	}
}

// runeSlice returns s[from:to] measured in runes.
func runeSlice(s string, from, to int) string {
	if from == 0 && to >= len(s) {
		return s
	}
	var start, end = -1, len(s)
	var i int
	for bi := range s {
		if i == from {
			start = bi
		}
		if i == to {
			end = bi
			break
		}
		i++
	}
	if start < 0 {
		if i == from {
			start = len(s)
		} else {
			return ""
		}
	}
	return s[start:end]
}

// bodyBuilder accumulates ops, merging adjacent runs of the same kind
// and equal attributes, and producing canonical deltas.
type bodyBuilder struct {
	ops []BodyOp
}

func (b *bodyBuilder) push(op BodyOp) {
	if op.length() == 0 && op.name != BodyEmbed {
		return
	}
	if n := len(b.ops); n > 0 {
		var last = &b.ops[n-1]
		switch {
		case op.name == BodyText && last.name == BodyText && last.attrs.Equals(op.attrs):
			last.text += op.text
			return
		case op.name == BodyRetain && last.name == BodyRetain && last.attrs.Equals(op.attrs):
			last.count += op.count
			return
		case op.name == BodyDelete && last.name == BodyDelete:
			last.count += op.count
			return
		}
	}
	b.ops = append(b.ops, op)
}

// delta finalizes the builder, chopping trailing attribute-less retains.
func (b *bodyBuilder) delta() BodyDelta {
	var ops = b.ops
	for len(ops) > 0 {
		var last = ops[len(ops)-1]
		if last.name == BodyRetain && last.attrs == nil {
			ops = ops[:len(ops)-1]
		} else {
			break
		}
	}
	if len(ops) == 0 {
		return BodyDelta{}
	}
	return BodyDelta{ops: ops}
}

// Compose returns the delta equivalent to applying this delta and then
// other. It is total: ops of other which reach beyond this delta's
// extent are carried through, so composition over successive changes
// can be squashed without reference to a document.
func (d BodyDelta) Compose(other BodyDelta) BodyDelta {
	if other.IsEmpty() {
		return d
	}
	if d.IsEmpty() {
		return other
	}

	var itA = newBodyIter(d.ops)
	var itB = newBodyIter(other.ops)
	var out bodyBuilder

	for itA.hasNext() || itB.hasNext() {
		if itB.peekIsInsert() {
			out.push(itB.next(itB.peekLength()))
			continue
		}
		if itA.hasNext() && itA.peekName() == BodyDelete {
			out.push(itA.next(itA.peekLength()))
			continue
		}
		if !itB.hasNext() {
			out.push(itA.next(itA.peekLength()))
			continue
		}
		if !itA.hasNext() {
			// Other runs past this delta's extent; carry it through.
			out.push(itB.next(itB.peekLength()))
			continue
		}

		var n = itA.peekLength()
		if m := itB.peekLength(); m < n {
			n = m
		}
		var aOp = itA.next(n)
		var bOp = itB.next(n)

		if bOp.name == BodyRetain {
			var keepNil = aOp.name == BodyRetain
			var merged = composeAttributes(aOp.attrs, bOp.attrs, keepNil)
			aOp.attrs = merged
			out.push(aOp)
		} else if aOp.name == BodyRetain {
			// bOp deletes retained content.
			out.push(BodyOp{name: BodyDelete, count: n})
		}
		// Else bOp deletes content inserted by aOp: they cancel.
	}
	return out.delta()
}

// ComposeDocument applies other to this document delta, producing the
// resulting document. It returns a badValue error when the receiver is
// not a document or when other does not fit it (for example a retain or
// delete running past the document's end).
func (d BodyDelta) ComposeDocument(other BodyDelta) (BodyDelta, error) {
	if !d.IsDocument() {
		return BodyDelta{}, BadValuef("compose target is not a document delta")
	}
	var out = d.Compose(other)
	if !out.IsDocument() {
		return BodyDelta{}, BadValuef("delta does not apply within the document")
	}
	return out, nil
}
