package bitset

import "testing"

func TestSet_AddAndHas(t *testing.T) {
	s := New(8)

	if !s.Add(5) {
		t.Fatalf("expected Add(5) to report newly added")
	}
	if !s.Has(5) {
		t.Errorf("expected bit 5 to be set")
	}
	if s.Has(4) {
		t.Errorf("expected bit 4 to not be set")
	}
	if s.Add(5) {
		t.Errorf("expected Add(5) to report already set the second time")
	}
}

func TestSet_GrowsPastInitialCapacity(t *testing.T) {
	s := New(2)

	s.Add(200)
	if !s.Has(200) {
		t.Fatalf("expected bit 200 to be set after growth")
	}
	if s.Len() != 1 {
		t.Errorf("expected len 1, got %d", s.Len())
	}
}

func TestSet_HasOnUngrownIndexIsFalse(t *testing.T) {
	s := New(0)

	if s.Has(1000) {
		t.Errorf("expected Has on an out-of-range index to be false, not panic")
	}
}
