package ot

import (
	"testing"
)

func TestApplyInsert(t *testing.T) {
	op := Operation{Kind: Insert, Pos: 2, Text: "XY"}
	got, err := op.Apply("hello")
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got != "heXYllo" {
		t.Fatalf("got %q", got)
	}
}

func TestApplyDelete(t *testing.T) {
	op := Operation{Kind: Delete, Pos: 1, Len: 3}
	got, err := op.Apply("hello")
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got != "ho" {
		t.Fatalf("got %q", got)
	}
}

func TestApplyRetainLeavesTextAlone(t *testing.T) {
	op := Operation{Kind: Retain, Pos: 0, Len: 5}
	got, err := op.Apply("hello")
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got != "hello" {
		t.Fatalf("got %q", got)
	}
}

func TestValidateRejectsOutOfBounds(t *testing.T) {
	cases := []Operation{
		{Kind: Insert, Pos: 6, Text: "x"},
		{Kind: Insert, Pos: -1, Text: "x"},
		{Kind: Delete, Pos: 3, Len: 4},
		{Kind: Delete, Pos: 0, Len: -1},
		{Kind: Kind(9), Pos: 0},
	}
	for i, op := range cases {
		if err := op.Validate(5); err == nil {
			t.Errorf("case %d: want error for %+v", i, op)
		}
	}
}

func TestValidateAcceptsBoundary(t *testing.T) {
	// insert at end of text and delete of the whole text are both legal
	if err := (Operation{Kind: Insert, Pos: 5, Text: "x"}).Validate(5); err != nil {
		t.Fatalf("insert at end: %v", err)
	}
	if err := (Operation{Kind: Delete, Pos: 0, Len: 5}).Validate(5); err != nil {
		t.Fatalf("delete all: %v", err)
	}
}

func TestKindOf(t *testing.T) {
	for name, want := range map[string]Kind{"insert": Insert, "delete": Delete, "retain": Retain} {
		got, ok := KindOf(name)
		if !ok || got != want {
			t.Errorf("KindOf(%q) = %v, %v", name, got, ok)
		}
	}
	if _, ok := KindOf("replace"); ok {
		t.Error("unknown kind accepted")
	}
}

func TestDeltaAndNoop(t *testing.T) {
	if d := (Operation{Kind: Insert, Text: "ab"}).Delta(); d != 2 {
		t.Errorf("insert delta = %d", d)
	}
	if d := (Operation{Kind: Delete, Len: 3}).Delta(); d != -3 {
		t.Errorf("delete delta = %d", d)
	}
	if !(Operation{Kind: Delete, Len: 0}).Noop() {
		t.Error("zero delete should be noop")
	}
	if (Operation{Kind: Insert, Text: "a"}).Noop() {
		t.Error("insert is not noop")
	}
}
