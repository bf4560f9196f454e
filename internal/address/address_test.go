package address

import "testing"

func TestNewNormalizesCase(t *testing.T) {
	a, err := New("0xABCDEF")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.String() != "0xabcdef" {
		t.Fatalf("expected lowercase, got %q", a.String())
	}
}

func TestNewEmpty(t *testing.T) {
	if _, err := New(""); err != ErrEmpty {
		t.Fatalf("expected ErrEmpty, got %v", err)
	}
}

func TestEqualByValue(t *testing.T) {
	a := MustNew("0xAAA")
	b := MustNew("0xaaa")
	if !a.Equal(b) {
		t.Fatalf("expected equal addresses")
	}
}

func TestSet(t *testing.T) {
	s := NewSet(MustNew("0x1"), MustNew("0x2"))
	if !s.Contains(MustNew("0x1")) {
		t.Fatalf("expected set to contain 0x1")
	}
	s.Remove(MustNew("0x1"))
	if s.Contains(MustNew("0x1")) {
		t.Fatalf("expected 0x1 removed")
	}
	if len(s.Slice()) != 1 {
		t.Fatalf("expected 1 member, got %d", len(s.Slice()))
	}
}

func TestJSONRoundTrip(t *testing.T) {
	a := MustNew("0xDEAD")
	b, err := a.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out Address
	if err := out.UnmarshalJSON(b); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !out.Equal(a) {
		t.Fatalf("round trip mismatch: %q != %q", out, a)
	}
}
