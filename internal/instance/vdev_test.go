package instance

import "testing"

func TestAddressAllocatorStride(t *testing.T) {
	a, err := NewAddressAllocator("a0", NICVdevStride)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"a0", "a3", "a6"}
	for i, w := range want {
		if got := a.Next(); got != w {
			t.Errorf("allocation %d: expected %s, got %s", i, w, got)
		}
	}
}

func TestAddressAllocatorUnitStride(t *testing.T) {
	a, err := NewAddressAllocator("0101", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := a.Next(); got != "101" {
		t.Errorf("expected 101, got %s", got)
	}
	if got := a.Next(); got != "102" {
		t.Errorf("expected 102, got %s", got)
	}
}

func TestAddressAllocatorRejectsBadInput(t *testing.T) {
	if _, err := NewAddressAllocator("zz", 3); err == nil {
		t.Error("expected error for non-hex base")
	}
	if _, err := NewAddressAllocator("1000", 0); err == nil {
		t.Error("expected error for zero stride")
	}
}

func TestNextAddress(t *testing.T) {
	got, err := NextAddress("1000", 6)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "1006" {
		t.Errorf("expected 1006, got %s", got)
	}

	if _, err := NextAddress("not-hex", 1); err == nil {
		t.Error("expected error for non-hex base")
	}
}
