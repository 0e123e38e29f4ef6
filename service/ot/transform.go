package ot

// HistoryEntry is one applied operation in a room's log, tagged with the
// authoritative version it produced. Ops usually holds a single operation; a
// delete that straddled a concurrent insert is kept as the split sequence
// that was actually applied.
type HistoryEntry struct {
	Version  int64
	AuthorID string
	Ops      []Operation
}

// transformPair derives the bottom two sides of the OT diamond for two single
// operations parented off the same base text: aOut is a rewritten to apply
// after b, bOut is b rewritten to apply after a. Either side may split into a
// sequence (a delete straddling a concurrent insert) or collapse to a no-op.
func transformPair(a, b Operation) (aOut, bOut []Operation) {
	switch a.Kind {
	case Insert:
		switch b.Kind {
		case Insert:
			return transformInsertInsert(a, b)
		case Delete:
			return transformInsertDelete(a, b)
		case Retain:
			return one(a), one(shiftRetain(b, a))
		}
	case Delete:
		switch b.Kind {
		case Insert:
			bOut, aOut = transformInsertDelete(b, a)
			return aOut, bOut
		case Delete:
			return transformDeleteDelete(a, b)
		case Retain:
			return one(a), one(shiftRetain(b, a))
		}
	case Retain:
		return one(shiftRetain(a, b)), one(b)
	}
	return one(a), one(b)
}

func transformInsertInsert(a, b Operation) (aOut, bOut []Operation) {
	switch {
	case a.Pos < b.Pos:
		b.Pos += len(a.Text)
	case a.Pos > b.Pos:
		a.Pos += len(b.Text)
	default:
		// Same position: the larger (AuthorID, ClientSeq) key shifts right.
		if keyLess(a, b) {
			b.Pos += len(a.Text)
		} else {
			a.Pos += len(b.Text)
		}
	}
	return one(a), one(b)
}

// transformInsertDelete handles a concurrent insert a and delete b.
// An insert at or before the deleted range is untouched, an insert inside the
// range moves to the deletion start (deletion wins the boundary, the inserted
// text survives), and an insert past the range shifts left. The delete side
// splits when the insert lands strictly inside it, so that the inserted text
// is not deleted.
func transformInsertDelete(a, b Operation) (aOut, bOut []Operation) {
	bEnd := b.Pos + b.Len
	switch {
	case a.Pos <= b.Pos:
		b.Pos += len(a.Text)
		return one(a), one(b)
	case a.Pos >= bEnd:
		a.Pos -= b.Len
		return one(a), one(b)
	default:
		head := a.Pos - b.Pos
		a.Pos = b.Pos
		first := b
		first.Len = head
		second := b
		second.Pos = b.Pos + len(a.Text)
		second.Len = b.Len - head
		return one(a), []Operation{first, second}
	}
}

func transformDeleteDelete(a, b Operation) (aOut, bOut []Operation) {
	aEnd, bEnd := a.Pos+a.Len, b.Pos+b.Len
	switch {
	case aEnd <= b.Pos:
		b.Pos -= a.Len
	case bEnd <= a.Pos:
		a.Pos -= b.Len
	default:
		// Overlapping ranges: each side keeps only what the other has not
		// already deleted. A fully contained delete becomes a no-op.
		pos := minInt(a.Pos, b.Pos)
		overlap := minInt(aEnd, bEnd) - maxInt(a.Pos, b.Pos)
		a.Pos, a.Len = pos, a.Len-overlap
		b.Pos, b.Len = pos, b.Len-overlap
	}
	return one(a), one(b)
}

// shiftRetain adjusts a retain's bookkeeping position for the other
// operation's net length delta. Retains never mutate content.
func shiftRetain(r, other Operation) Operation {
	switch other.Kind {
	case Insert:
		if other.Pos <= r.Pos {
			r.Pos += len(other.Text)
		}
	case Delete:
		end := other.Pos + other.Len
		switch {
		case end <= r.Pos:
			r.Pos -= other.Len
		case other.Pos < r.Pos:
			r.Pos = other.Pos
		}
	}
	return r
}

// TransformPatch transforms two sequential patches parented off the same base
// text against each other, returning (a', b') such that base+a+b' and
// base+b+a' are the same text.
func TransformPatch(a, b []Operation) (aOut, bOut []Operation) {
	switch {
	case len(a) == 0:
		return nil, b
	case len(b) == 0:
		return a, nil
	case len(a) == 1 && len(b) == 1:
		return transformPair(a[0], b[0])
	case len(a) == 1:
		// a against b = [b0] + rest: fold a through b0 first.
		a1, b1 := transformPair(a[0], b[0])
		a2, rest := TransformPatch(a1, b[1:])
		return a2, append(b1, rest...)
	default:
		a1, b1 := TransformPatch(a[:1], b)
		a2, b2 := TransformPatch(a[1:], b1)
		return append(a1, a2...), b2
	}
}

// Rebase rewrites op, which was created against fromVersion, so it applies
// after every history entry newer than fromVersion, in version order. The
// result is the sequence to apply to the authoritative text (usually one
// operation).
func Rebase(op Operation, fromVersion int64, history []HistoryEntry) []Operation {
	ops := []Operation{op}
	for _, h := range history {
		if h.Version <= fromVersion {
			continue
		}
		ops, _ = TransformPatch(ops, h.Ops)
	}
	return ops
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func one(op Operation) []Operation { return []Operation{op} }
