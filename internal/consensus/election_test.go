package consensus

import (
	"errors"
	"testing"
)

func TestElect_Deterministic(t *testing.T) {
	weights := Weights{"alice": 10, "bob": 20, "carol": 5}
	head := [32]byte{1, 2, 3}

	w1, err := Elect(weights, head)
	if err != nil {
		t.Fatalf("elect: %v", err)
	}
	w2, err := Elect(weights, head)
	if err != nil {
		t.Fatalf("elect: %v", err)
	}
	if w1 != w2 {
		t.Fatalf("same head+weights must elect the same winner: %q vs %q", w1, w2)
	}
}

func TestElect_DifferentHeadsCanDiffer(t *testing.T) {
	weights := Weights{"alice": 10, "bob": 10, "carol": 10, "dave": 10}
	seen := make(map[string]bool)
	for i := byte(0); i < 32; i++ {
		head := [32]byte{i, i + 1, i + 2}
		w, err := Elect(weights, head)
		if err != nil {
			t.Fatalf("elect: %v", err)
		}
		seen[w] = true
	}
	if len(seen) < 2 {
		t.Fatalf("expected election to vary across distinct head hashes, got only %v", seen)
	}
}

func TestElect_NoCandidates(t *testing.T) {
	_, err := Elect(Weights{}, [32]byte{})
	if !errors.Is(err, ErrNoCandidates) {
		t.Fatalf("expected ErrNoCandidates, got %v", err)
	}
}

func TestElect_ZeroWeightExcluded(t *testing.T) {
	weights := Weights{"alice": 0, "bob": 5}
	w, err := Elect(weights, [32]byte{9})
	if err != nil {
		t.Fatalf("elect: %v", err)
	}
	if w != "bob" {
		t.Fatalf("expected only bob to be eligible, got %q", w)
	}
}
