package buffer

import "testing"

func TestSampleBufferNonCircularGrowsPastCapacity(t *testing.T) {
	b := New[float64](2, false)
	b.Add(1)
	b.Add(2)
	b.Add(3)

	if got := b.Count(); got != 3 {
		t.Fatalf("expected 3 samples held past capacity, got %d", got)
	}
	if avg := b.Avg(); avg != 2 {
		t.Errorf("expected avg 2, got %v", avg)
	}
	if max := b.Max(); max != 3 {
		t.Errorf("expected max 3, got %v", max)
	}
}

func TestSampleBufferCircularOverwritesOldest(t *testing.T) {
	b := New[int](3, true)
	b.Add(1)
	b.Add(2)
	b.Add(3)
	b.Add(4) // overwrites the 1

	if got := b.Count(); got != 3 {
		t.Fatalf("expected circular buffer capped at 3, got %d", got)
	}
	if max := b.Max(); max != 4 {
		t.Errorf("expected max 4, got %d", max)
	}
}

func TestSampleBufferClearPreservesStickyFlag(t *testing.T) {
	b := New[float64](4, false)
	b.Add(10)
	b.SetActiveErrorOrWarning(true)

	b.Clear()

	if got := b.Count(); got != 0 {
		t.Fatalf("expected cleared buffer to hold 0 samples, got %d", got)
	}
	if !b.IsActiveErrorOrWarning() {
		t.Error("expected ActiveErrorOrWarning to survive Clear()")
	}
}

func TestRegistryGetOrCreateIsIdempotentPerKey(t *testing.T) {
	r := NewRegistry[float64]()

	a := r.GetOrCreate("target-1", 4, false)
	a.Add(5)

	again := r.GetOrCreate("target-1", 4, false)
	if again.Count() != 1 {
		t.Fatalf("expected GetOrCreate to return the same buffer, count=%d", again.Count())
	}
}

func TestRegistryKeysWithPrefixMatchesChildBuffers(t *testing.T) {
	r := NewRegistry[int]()
	r.GetOrCreate("target-1", 4, false)
	r.GetOrCreate("target-1/child-1", 4, false)
	r.GetOrCreate("target-1/child-2", 4, false)
	r.GetOrCreate("target-2", 4, false)

	keys := r.KeysWithPrefix("target-1/")
	if len(keys) != 2 {
		t.Fatalf("expected 2 child keys under target-1/, got %d: %v", len(keys), keys)
	}
}

func TestRegistryDeleteRemovesKey(t *testing.T) {
	r := NewRegistry[int]()
	r.GetOrCreate("target-1", 4, false)
	r.Delete("target-1")

	if got := r.Get("target-1"); got != nil {
		t.Errorf("expected nil after Delete, got %v", got)
	}
}
