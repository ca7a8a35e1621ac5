package execdriver

import "testing"

func TestTailWriteOrder(t *testing.T) {
	tl := newTail(3)

	tl.Write("A")
	tl.Write("B")
	got := tl.Lines()
	if len(got) != 2 || got[0] != "A" || got[1] != "B" {
		t.Fatalf("unexpected lines after 2 writes: %#v", got)
	}

	tl.Write("C")
	tl.Write("D")
	got = tl.Lines()
	if len(got) != 3 || got[0] != "B" || got[1] != "C" || got[2] != "D" {
		t.Fatalf("unexpected lines after overwrite: %#v", got)
	}
}

func TestTailDefaultCapacity(t *testing.T) {
	tl := newTail(0)
	if len(tl.lines) != DefaultTailLines {
		t.Errorf("capacity = %d, want %d", len(tl.lines), DefaultTailLines)
	}
}
