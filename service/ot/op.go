package ot

import (
	"fmt"

	"NProject/tools/errs"
)

// Kind is the closed set of operation kinds. Exhaustive switches over Kind are
// what keep unknown-operation failures out of the transform engine.
type Kind uint8

const (
	Insert Kind = iota + 1
	Delete
	Retain
)

func (k Kind) String() string {
	switch k {
	case Insert:
		return "insert"
	case Delete:
		return "delete"
	case Retain:
		return "retain"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// KindOf parses the wire name of an operation kind.
func KindOf(s string) (Kind, bool) {
	switch s {
	case "insert":
		return Insert, true
	case "delete":
		return Delete, true
	case "retain":
		return Retain, true
	}
	return 0, false
}

// Operation is one unit of change against a linear text buffer. Immutable
// once created; transforms return adjusted copies.
type Operation struct {
	Kind Kind   `json:"kind"`
	Pos  int    `json:"pos"`
	Text string `json:"text,omitempty"` // Insert only
	Len  int    `json:"len,omitempty"`  // Delete/Retain only

	OriginVersion int64  `json:"origin_version"`
	AuthorID      string `json:"author_id"`
	ClientSeq     int64  `json:"client_seq"`
}

// Delta is the net length change the operation causes.
func (op Operation) Delta() int {
	switch op.Kind {
	case Insert:
		return len(op.Text)
	case Delete:
		return -op.Len
	}
	return 0
}

// Noop reports whether applying the operation leaves the text unchanged.
func (op Operation) Noop() bool {
	switch op.Kind {
	case Insert:
		return op.Text == ""
	case Delete:
		return op.Len == 0
	}
	return true
}

// Validate checks the operation against a document of length docLen.
func (op Operation) Validate(docLen int) error {
	if op.Pos < 0 {
		return errs.ErrInvalidOperation.WrapMsg("negative position", "pos", op.Pos)
	}
	switch op.Kind {
	case Insert:
		if op.Pos > docLen {
			return errs.ErrInvalidOperation.WrapMsg("insert out of bounds", "pos", op.Pos, "doc_len", docLen)
		}
	case Delete, Retain:
		if op.Len < 0 {
			return errs.ErrInvalidOperation.WrapMsg("negative length", "len", op.Len)
		}
		if op.Pos+op.Len > docLen {
			return errs.ErrInvalidOperation.WrapMsg("range out of bounds", "pos", op.Pos, "len", op.Len, "doc_len", docLen)
		}
	default:
		return errs.ErrInvalidOperation.WrapMsg("unknown kind", "kind", uint8(op.Kind))
	}
	return nil
}

// Apply applies the operation to s.
func (op Operation) Apply(s string) (string, error) {
	if err := op.Validate(len(s)); err != nil {
		return "", err
	}
	switch op.Kind {
	case Insert:
		return s[:op.Pos] + op.Text + s[op.Pos:], nil
	case Delete:
		return s[:op.Pos] + s[op.Pos+op.Len:], nil
	case Retain:
		return s, nil
	}
	return "", errs.ErrInvalidOperation.WrapMsg("unknown kind", "kind", uint8(op.Kind))
}

// ApplyAll applies a sequential patch to s.
func ApplyAll(s string, ops []Operation) (string, error) {
	var err error
	for _, op := range ops {
		if s, err = op.Apply(s); err != nil {
			return "", err
		}
	}
	return s, nil
}

// keyLess orders operations by (AuthorID, ClientSeq). The order is total for
// concurrent inserts from distinct authors and must agree on every replica.
func keyLess(a, b Operation) bool {
	if a.AuthorID != b.AuthorID {
		return a.AuthorID < b.AuthorID
	}
	return a.ClientSeq < b.ClientSeq
}
