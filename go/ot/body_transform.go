package ot

// Transform rebases this delta over other, where both were produced
// against the same base document. thisIsFirst breaks ties: when both
// sides insert at the same position, the first-priority side's
// insertions land first. The result satisfies
//
//	a.Compose(b.Transform(a, false)) == b.Compose(a.Transform(b, true))
//
// for any two deltas a and b over a common base.
func (d BodyDelta) Transform(other BodyDelta, thisIsFirst bool) BodyDelta {
	if other.IsEmpty() || d.IsEmpty() {
		return d
	}

	var itO = newBodyIter(other.ops) // The delta we rebase over.
	var itD = newBodyIter(d.ops)     // The delta being rebased.
	var out bodyBuilder

	for itO.hasNext() || itD.hasNext() {
		if itO.peekIsInsert() && (!thisIsFirst || !itD.peekIsInsert()) {
			// Skip over content inserted by other.
			out.push(BodyOp{name: BodyRetain, count: itO.peekLength()})
			itO.next(itO.peekLength())
			continue
		}
		if itD.peekIsInsert() {
			out.push(itD.next(itD.peekLength()))
			continue
		}
		if !itD.hasNext() {
			break // Nothing left to rebase.
		}
		if !itO.hasNext() {
			out.push(itD.next(itD.peekLength()))
			continue
		}

		var n = itO.peekLength()
		if m := itD.peekLength(); m < n {
			n = m
		}
		var oOp = itO.next(n)
		var dOp = itD.next(n)

		if oOp.name == BodyDelete {
			// Other already deleted this region. Our delete becomes a
			// no-op here, and our retain has nothing left to keep.
			continue
		}
		if dOp.name == BodyDelete {
			// Delete wins over retain-with-attributes.
			out.push(BodyOp{name: BodyDelete, count: n})
			continue
		}
		out.push(BodyOp{
			name:  BodyRetain,
			count: n,
			attrs: transformAttributes(oOp.attrs, dOp.attrs, thisIsFirst),
		})
	}
	return out.delta()
}
