package hlc

import "testing"

func TestNowMonotonic(t *testing.T) {
	c := New()
	prev := c.Now()
	for i := 0; i < 1000; i++ {
		next := c.Now()
		if !(prev < next) {
			t.Fatalf("clock not monotonic: %q then %q", prev, next)
		}
		prev = next
	}
}

func TestMergeAdvances(t *testing.T) {
	c := New()
	first := c.Now()
	future := Timestamp("2200-01-01T00:00:00.000000000Z_0")
	if err := c.Merge(future); err != nil {
		t.Fatalf("merge: %v", err)
	}
	next := c.Now()
	if !(next > future) {
		t.Fatalf("clock did not advance past merged timestamp: first=%q next=%q future=%q", first, next, future)
	}
}

func TestNanosIgnoresCounter(t *testing.T) {
	ts1 := Timestamp("2024-01-01T00:00:00.000000001Z_0")
	ts2 := Timestamp("2024-01-01T00:00:00.000000001Z_7")
	n1, err := Nanos(ts1)
	if err != nil {
		t.Fatal(err)
	}
	n2, err := Nanos(ts2)
	if err != nil {
		t.Fatal(err)
	}
	if n1 != n2 {
		t.Fatalf("nanos should ignore logical counter: %d vs %d", n1, n2)
	}
}

func TestCompareOrdering(t *testing.T) {
	a := Timestamp("2024-01-01T00:00:00.000000001Z_0")
	b := Timestamp("2024-01-01T00:00:00.000000002Z_0")
	if Compare(a, b) >= 0 {
		t.Fatal("expected a < b")
	}
	if Compare(b, a) <= 0 {
		t.Fatal("expected b > a")
	}
	if Compare(a, a) != 0 {
		t.Fatal("expected a == a")
	}
}

func TestParseMalformed(t *testing.T) {
	if _, err := Nanos("not-a-timestamp"); err == nil {
		t.Fatal("expected error for malformed timestamp")
	}
}
