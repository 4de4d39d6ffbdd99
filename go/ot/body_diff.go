package ot

// bodyCell is one element of a flattened document: a styled rune or an
// embed.
type bodyCell struct {
	r          rune
	isEmbed    bool
	embedType  string
	embedValue any
	attrs      Attributes
}

func (c bodyCell) equals(o bodyCell) bool {
	if c.isEmbed != o.isEmbed || !c.attrs.Equals(o.attrs) {
		return false
	}
	if c.isEmbed {
		return c.embedType == o.embedType && ValueEquals(c.embedValue, o.embedValue)
	}
	return c.r == o.r
}

func flattenBody(d BodyDelta) []bodyCell {
	var cells = make([]bodyCell, 0, d.DocLength())
	for _, op := range d.ops {
		switch op.name {
		case BodyText:
			for _, r := range op.text {
				cells = append(cells, bodyCell{r: r, attrs: op.attrs})
			}
		case BodyEmbed:
			cells = append(cells, bodyCell{
				isEmbed:    true,
				embedType:  op.embedType,
				embedValue: op.embedValue,
				attrs:      op.attrs,
			})
		}
	}
	return cells
}

// Diff returns a delta which transforms this document into newer, such
// that d.Compose(d.Diff(newer)) equals newer. Both deltas must be
// documents; otherwise a badValue error is returned. The result is
// empty exactly when the documents are equal.
func (d BodyDelta) Diff(newer BodyDelta) (BodyDelta, error) {
	if !d.IsDocument() || !newer.IsDocument() {
		return BodyDelta{}, BadValuef("diff requires document deltas")
	}

	var a = flattenBody(d)
	var b = flattenBody(newer)

	// Trim the common prefix, then the common suffix of what remains.
	var prefix int
	for prefix < len(a) && prefix < len(b) && a[prefix].equals(b[prefix]) {
		prefix++
	}
	var suffix int
	for suffix < len(a)-prefix && suffix < len(b)-prefix &&
		a[len(a)-1-suffix].equals(b[len(b)-1-suffix]) {
		suffix++
	}

	var out bodyBuilder
	if prefix > 0 {
		out.push(BodyOp{name: BodyRetain, count: prefix})
	}
	if del := len(a) - prefix - suffix; del > 0 {
		out.push(BodyOp{name: BodyDelete, count: del})
	}
	for _, c := range b[prefix : len(b)-suffix] {
		if c.isEmbed {
			out.push(BodyOp{name: BodyEmbed, embedType: c.embedType, embedValue: c.embedValue, attrs: c.attrs})
		} else {
			out.push(BodyOp{name: BodyText, text: string(c.r), attrs: c.attrs})
		}
	}
	return out.delta(), nil
}
