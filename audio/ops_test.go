package audio

import "testing"

func TestEnsureLenReusesCapacity(t *testing.T) {
	buf := make([]float64, 4, 16)
	grown := EnsureLen(buf, 10)
	if len(grown) != 10 {
		t.Fatalf("len = %d, want 10", len(grown))
	}
	if &grown[0] != &buf[0] {
		t.Fatal("capacity not reused")
	}

	fresh := EnsureLen(buf, 32)
	if len(fresh) != 32 {
		t.Fatalf("len = %d, want 32", len(fresh))
	}

	if got := EnsureLen(buf, -1); len(got) != 0 {
		t.Fatalf("negative length gave %d elements", len(got))
	}
}

func TestZero(t *testing.T) {
	buf := []float64{1, 2, 3}
	Zero(buf)
	for i, v := range buf {
		if v != 0 {
			t.Fatalf("buf[%d] = %v after Zero", i, v)
		}
	}
}

func TestCopyInto(t *testing.T) {
	dst := make([]float64, 4)
	n := CopyInto(dst, []float64{1, 2})
	if n != 2 {
		t.Fatalf("copied %d samples, want 2", n)
	}
	if dst[0] != 1 || dst[1] != 2 || dst[2] != 0 {
		t.Fatalf("dst = %v", dst)
	}

	short := make([]float64, 1)
	if n := CopyInto(short, []float64{5, 6, 7}); n != 1 {
		t.Fatalf("copied %d samples into short dst, want 1", n)
	}
}
