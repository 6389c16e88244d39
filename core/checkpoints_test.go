package core

import "testing"

func TestNewCheckpointsParsesEmbeddedMap(t *testing.T) {
	hash := Hash{0xAB}
	c, err := NewCheckpoints(map[uint32]string{100: hash.String()})
	if err != nil {
		t.Fatalf("NewCheckpoints: %v", err)
	}
	if got := c.TopHeight(); got != 100 {
		t.Fatalf("expected top height 100, got %d", got)
	}
	if ok, constrained := c.Check(100, hash); !ok || !constrained {
		t.Fatalf("expected the embedded checkpoint to be satisfied, got (%v, %v)", ok, constrained)
	}
}

func TestNewCheckpointsRejectsBadHex(t *testing.T) {
	if _, err := NewCheckpoints(map[uint32]string{1: "not-a-hash"}); err == nil {
		t.Fatal("expected a malformed embedded checkpoint hash to be rejected")
	}
}

func TestCheckReportsUnconstrainedWhenNoCheckpointAtHeight(t *testing.T) {
	c, err := NewCheckpoints(nil)
	if err != nil {
		t.Fatalf("NewCheckpoints: %v", err)
	}
	ok, constrained := c.Check(500, Hash{1})
	if !ok || constrained {
		t.Fatalf("expected an unconstrained height to report (true, false), got (%v, %v)", ok, constrained)
	}
}

func TestAddRejectsConflictingCheckpoint(t *testing.T) {
	c, err := NewCheckpoints(nil)
	if err != nil {
		t.Fatalf("NewCheckpoints: %v", err)
	}
	if err := c.Add(10, Hash{1}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := c.Add(10, Hash{2}); err == nil {
		t.Fatal("expected Add to reject a conflicting hash at an already-checkpointed height")
	}
	if err := c.Add(10, Hash{1}); err != nil {
		t.Fatalf("expected re-adding the same hash to be a no-op, got %v", err)
	}
}

func TestIsAlternativeBlockAllowedNeverCrossesTopCheckpoint(t *testing.T) {
	c, err := NewCheckpoints(nil)
	if err != nil {
		t.Fatalf("NewCheckpoints: %v", err)
	}
	if !c.IsAlternativeBlockAllowed(1000, 5) {
		t.Fatal("expected everything allowed with no checkpoints set")
	}

	if err := c.Add(100, Hash{1}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if !c.IsAlternativeBlockAllowed(50, 200) {
		t.Fatal("expected the alt chain to be allowed while the main chain hasn't reached the checkpoint yet")
	}
	if !c.IsAlternativeBlockAllowed(200, 150) {
		t.Fatal("expected an alt block above the checkpoint to be allowed once the main chain has passed it")
	}
	if c.IsAlternativeBlockAllowed(200, 50) {
		t.Fatal("expected an alt block at or below the checkpoint to be rejected once the main chain has passed it")
	}
}

func TestParseCheckpointRecordAcceptsWellFormedEntry(t *testing.T) {
	hash := Hash{0xCD}
	height, got, ok := parseCheckpointRecord("42:" + hash.String())
	if !ok {
		t.Fatal("expected a well-formed record to parse")
	}
	if height != 42 || got != hash {
		t.Fatalf("expected (42, %v), got (%d, %v)", hash, height, got)
	}
}

func TestParseCheckpointRecordRejectsMalformedEntries(t *testing.T) {
	cases := []string{
		"",
		"no-colon-here",
		"abc:" + Hash{1}.String(),
		"1:tooshort",
		"1:" + string(make([]byte, 64)),
	}
	for _, rec := range cases {
		if _, _, ok := parseCheckpointRecord(rec); ok {
			t.Fatalf("expected record %q to be rejected", rec)
		}
	}
}
