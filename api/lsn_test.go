package api

import "testing"

func TestLSNInvalid(t *testing.T) {
	var lsn LSN
	if lsn != InvalidLSN {
		t.Errorf("expected zero value to equal InvalidLSN")
	} else if lsn.Valid() {
		t.Errorf("expected InvalidLSN to be invalid")
	}
}

func TestLSNOrdering(t *testing.T) {
	a, b := LSN(10), LSN(20)
	if !a.Less(b) {
		t.Errorf("expected %v < %v", a, b)
	} else if b.Less(a) {
		t.Errorf("expected %v to not be < %v", b, a)
	} else if !a.LessEqual(a) {
		t.Errorf("expected %v <= %v", a, a)
	} else if !a.LessEqual(b) {
		t.Errorf("expected %v <= %v", a, b)
	} else if b.LessEqual(a) {
		t.Errorf("expected %v to not be <= %v", b, a)
	}
}

func TestLSNString(t *testing.T) {
	if s := LSN(42).String(); s != "42" {
		t.Errorf("expected 42, got %v", s)
	}
}
