package units

import "testing"

func TestFixedTruncates(t *testing.T) {
	if got := Int16(1.99); got != 1 {
		t.Errorf("Int16(1.99) = %d, want 1", got)
	}
	if got := Int16(-1.99); got != -1 {
		t.Errorf("Int16(-1.99) = %d, want -1", got)
	}
	if got := Int32(-123456789.9); got != -123456789 {
		t.Errorf("Int32 = %d", got)
	}
	if got := Uint16(65535.7); got != 65535 {
		t.Errorf("Uint16(65535.7) = %d", got)
	}
	if got := Uint32(4e9); got != 4000000000 {
		t.Errorf("Uint32(4e9) = %d", got)
	}
	if got := Int8(-12.5); got != -12 {
		t.Errorf("Int8(-12.5) = %d", got)
	}
	if got := Uint8(200.9); got != 200 {
		t.Errorf("Uint8(200.9) = %d", got)
	}
}

func TestFixedWraps(t *testing.T) {
	if got := Int16(32768); got != -32768 {
		t.Errorf("Int16(32768) = %d, want -32768", got)
	}
	if got := Uint16(65536); got != 0 {
		t.Errorf("Uint16(65536) = %d, want 0", got)
	}
	if got := Uint16(-1); got != 65535 {
		t.Errorf("Uint16(-1) = %d, want 65535", got)
	}
	if got := Int8(130); got != -126 {
		t.Errorf("Int8(130) = %d, want -126", got)
	}
}

func TestNonZeroInt16(t *testing.T) {
	if got := NonZeroInt16(0); got != 1 {
		t.Errorf("NonZeroInt16(0) = %d, want 1", got)
	}
	if got := NonZeroInt16(-5); got != -5 {
		t.Errorf("NonZeroInt16(-5) = %d, want -5", got)
	}
}
