package pixelmap

import "testing"

func TestLookupDefinedSetIsBijection(t *testing.T) {
	chars := Characters()
	if len(chars) != Size {
		t.Fatalf("expected %d characters, got %d", Size, len(chars))
	}

	seen := make(map[Position]rune, Size)
	for _, ch := range chars {
		pos, ok := Lookup(ch, false)
		if !ok {
			t.Fatalf("%q has no position", ch)
		}
		if int(pos) >= Size {
			t.Fatalf("%q maps to %d, outside [0,%d)", ch, pos, Size)
		}
		if other, dup := seen[pos]; dup {
			t.Fatalf("%q and %q share position %d", ch, other, pos)
		}
		seen[pos] = ch
	}
}

func TestLookupLayout(t *testing.T) {
	tests := []struct {
		ch   rune
		want Position
	}{
		{'a', 29},
		{'j', 20},
		{'t', 19},
		{'k', 10},
		{'u', 9},
		{'z', 4},
		{' ', 3},
		{'?', 2},
		{',', 1},
		{'.', 0},
	}
	for _, tt := range tests {
		got, ok := Lookup(tt.ch, false)
		if !ok || got != tt.want {
			t.Errorf("Lookup(%q) = %d, %v; want %d, true", tt.ch, got, ok, tt.want)
		}
	}
}

func TestLookupUnmapped(t *testing.T) {
	for _, ch := range []rune{'5', '0', 0x01, '\n', '!', 'A', 'Z', 'é', 0x7f, -1, 0x10000} {
		if pos, ok := Lookup(ch, false); ok {
			t.Errorf("Lookup(%q) = %d; want no position", ch, pos)
		}
	}
}

func TestLookupCaseInsensitive(t *testing.T) {
	for ch := 'A'; ch <= 'Z'; ch++ {
		upper, ok := Lookup(ch, true)
		if !ok {
			t.Fatalf("Lookup(%q, true) has no position", ch)
		}
		lower, _ := Lookup(ch+('a'-'A'), false)
		if upper != lower {
			t.Errorf("Lookup(%q, true) = %d; want %d", ch, upper, lower)
		}
	}
	if _, ok := Lookup('7', true); ok {
		t.Error("digits must stay unmapped when folding case")
	}
}
