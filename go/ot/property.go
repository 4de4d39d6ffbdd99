package ot

import (
	"fmt"
	"strings"
)

// PropertyOpName is the closed set of property op names.
type PropertyOpName string

const (
	// PropertySet sets a named document property to a value.
	PropertySet PropertyOpName = "setProperty"
	// PropertyDelete removes a named document property.
	PropertyDelete PropertyOpName = "deleteProperty"
)

// PropertyOp is one operation of a property (document metadata) delta.
type PropertyOp struct {
	name     PropertyOpName
	propName string
	value    any // setProperty; frozen data
}

// NewSetPropertyOp builds a setProperty op. The value is deep-frozen.
func NewSetPropertyOp(propName string, value any) (PropertyOp, error) {
	if err := CheckID(propName); err != nil {
		return PropertyOp{}, fmt.Errorf("property name: %w", err)
	}
	var frozen, err = Freeze(value)
	if err != nil {
		return PropertyOp{}, fmt.Errorf("property %q: %w", propName, err)
	}
	return PropertyOp{name: PropertySet, propName: propName, value: frozen}, nil
}

// NewDeletePropertyOp builds a deleteProperty op.
func NewDeletePropertyOp(propName string) (PropertyOp, error) {
	if err := CheckID(propName); err != nil {
		return PropertyOp{}, fmt.Errorf("property name: %w", err)
	}
	return PropertyOp{name: PropertyDelete, propName: propName}, nil
}

// Name of the op.
func (op PropertyOp) Name() PropertyOpName { return op.name }

// PropertyName targeted by the op.
func (op PropertyOp) PropertyName() string { return op.propName }

// Value of a setProperty op. The value is frozen data; don't mutate it.
func (op PropertyOp) Value() any { return op.value }

// Equals is structural equality.
func (op PropertyOp) Equals(o PropertyOp) bool {
	return op.name == o.name && op.propName == o.propName && ValueEquals(op.value, o.value)
}

func (op PropertyOp) String() string {
	if op.name == PropertySet {
		return fmt.Sprintf("setProperty(%s, %v)", op.propName, op.value)
	}
	return fmt.Sprintf("deleteProperty(%s)", op.propName)
}

// PropertyDelta is an ordered sequence of property ops. The zero value
// is the empty delta.
type PropertyDelta struct {
	ops []PropertyOp
}

// EmptyPropertyDelta is the empty property delta.
var EmptyPropertyDelta = PropertyDelta{}

// NewPropertyDelta builds a delta from the given ops. The slice is copied.
func NewPropertyDelta(ops ...PropertyOp) PropertyDelta {
	if len(ops) == 0 {
		return PropertyDelta{}
	}
	var copied = make([]PropertyOp, len(ops))
	copy(copied, ops)
	return PropertyDelta{ops: copied}
}

// Ops returns a copy of the delta's ops.
func (d PropertyDelta) Ops() []PropertyOp {
	var out = make([]PropertyOp, len(d.ops))
	copy(out, d.ops)
	return out
}

// Len is the number of ops.
func (d PropertyDelta) Len() int { return len(d.ops) }

// At returns the i'th op.
func (d PropertyDelta) At(i int) PropertyOp { return d.ops[i] }

// IsEmpty reports whether the delta has no ops.
func (d PropertyDelta) IsEmpty() bool { return len(d.ops) == 0 }

// IsDocument reports whether the delta is all setProperty ops with
// pairwise-distinct names.
func (d PropertyDelta) IsDocument() bool {
	var seen = make(map[string]struct{}, len(d.ops))
	for _, op := range d.ops {
		if op.name != PropertySet {
			return false
		}
		if _, dup := seen[op.propName]; dup {
			return false
		}
		seen[op.propName] = struct{}{}
	}
	return true
}

// Equals is structural, op-by-op equality.
func (d PropertyDelta) Equals(other PropertyDelta) bool {
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

// Compose merges other onto this delta, last writer wins per property
// name. Deletes are preserved as ops, since they must carry through to
// eventual snapshot composition.
func (d PropertyDelta) Compose(other PropertyDelta) PropertyDelta {
	if other.IsEmpty() {
		return d
	}
	if d.IsEmpty() {
		return other
	}

	var order = make([]string, 0, len(d.ops)+len(other.ops))
	var last = make(map[string]PropertyOp, len(d.ops)+len(other.ops))
	for _, op := range d.ops {
		if _, ok := last[op.propName]; !ok {
			order = append(order, op.propName)
		}
		last[op.propName] = op
	}
	for _, op := range other.ops {
		if _, ok := last[op.propName]; !ok {
			order = append(order, op.propName)
		}
		last[op.propName] = op
	}

	var ops = make([]PropertyOp, 0, len(order))
	for _, name := range order {
		ops = append(ops, last[name])
	}
	return PropertyDelta{ops: ops}
}

// ComposeDocument applies other to this document delta, dropping any
// properties it deletes. Deleting an absent property is a no-op.
func (d PropertyDelta) ComposeDocument(other PropertyDelta) (PropertyDelta, error) {
	if !d.IsDocument() {
		return PropertyDelta{}, BadValuef("compose target is not a property document")
	}
	var merged = d.Compose(other)
	var ops = make([]PropertyOp, 0, merged.Len())
	for _, op := range merged.ops {
		if op.name == PropertySet {
			ops = append(ops, op)
		}
	}
	if len(ops) == 0 {
		return PropertyDelta{}, nil
	}
	return PropertyDelta{ops: ops}, nil
}

// Diff returns the minimal delta transforming this property document
// into newer: setProperty for added or changed properties, and
// deleteProperty for removed ones.
func (d PropertyDelta) Diff(newer PropertyDelta) (PropertyDelta, error) {
	if !d.IsDocument() || !newer.IsDocument() {
		return PropertyDelta{}, BadValuef("diff requires property documents")
	}

	var oldProps = make(map[string]PropertyOp, len(d.ops))
	for _, op := range d.ops {
		oldProps[op.propName] = op
	}
	var newProps = make(map[string]PropertyOp, len(newer.ops))
	for _, op := range newer.ops {
		newProps[op.propName] = op
	}

	var ops []PropertyOp
	for _, op := range d.ops {
		var after, ok = newProps[op.propName]
		if !ok {
			ops = append(ops, PropertyOp{name: PropertyDelete, propName: op.propName})
		} else if !ValueEquals(op.value, after.value) {
			ops = append(ops, after)
		}
	}
	for _, op := range newer.ops {
		if _, ok := oldProps[op.propName]; !ok {
			ops = append(ops, op)
		}
	}
	return PropertyDelta{ops: ops}, nil
}

// Transform rebases this delta over other. Property composition is
// last-writer-wins per name, and the server applies rebased client work
// after its own, so the rebased delta is this delta unchanged.
func (d PropertyDelta) Transform(other PropertyDelta, thisIsFirst bool) PropertyDelta {
	_ = other
	_ = thisIsFirst
	return d
}

func (d PropertyDelta) String() string {
	var parts = make([]string, len(d.ops))
	for i, op := range d.ops {
		parts[i] = op.String()
	}
	return "PropertyDelta[" + strings.Join(parts, ", ") + "]"
}
