package main

import "testing"

func TestParseVector(t *testing.T) {
	t.Parallel()

	vals, err := parseVector("1.0, 0.5,-2")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := []float32{1, 0.5, -2}
	if len(vals) != len(want) {
		t.Fatalf("length: got %d want %d", len(vals), len(want))
	}
	for i := range want {
		if vals[i] != want[i] {
			t.Fatalf("vals[%d]: got %v want %v", i, vals[i], want[i])
		}
	}
}

func TestParseVectorRejectsGarbage(t *testing.T) {
	t.Parallel()

	if _, err := parseVector("1.0,abc"); err == nil {
		t.Fatalf("expected error for non-numeric value")
	}
	if _, err := parseVector(""); err == nil {
		t.Fatalf("expected error for empty vector")
	}
}
