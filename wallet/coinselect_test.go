package wallet

import "testing"

func unlockedOutput(amount uint64) *OwnedOutput {
	return &OwnedOutput{Amount: amount, State: StateUnlocked}
}

func TestSelectInputsLargestFirst(t *testing.T) {
	available := []*OwnedOutput{
		unlockedOutput(100),
		unlockedOutput(50),
		unlockedOutput(10),
		unlockedOutput(5),
	}

	sel, err := SelectInputs(available, 120)
	if err != nil {
		t.Fatalf("SelectInputs: %v", err)
	}
	if len(sel.Inputs) != 2 {
		t.Fatalf("expected 2 inputs (100+50), got %d", len(sel.Inputs))
	}
	if sel.Total != 150 {
		t.Fatalf("expected total 150, got %d", sel.Total)
	}
	if sel.Change != 30 {
		t.Fatalf("expected change 30, got %d", sel.Change)
	}
}

func TestSelectInputsSkipsLockedAndDeposits(t *testing.T) {
	available := []*OwnedOutput{
		{Amount: 1000, State: StateSoftLocked},
		{Amount: 1000, State: StateUnlocked, Term: 5000},
		unlockedOutput(10),
	}

	_, err := SelectInputs(available, 10)
	if err != nil {
		t.Fatalf("SelectInputs: %v", err)
	}

	_, err = SelectInputs(available, 11)
	if err != ErrInsufficientFunds {
		t.Fatalf("expected ErrInsufficientFunds once the only unlocked, non-deposit output is exhausted, got %v", err)
	}
}

func TestSelectInputsNoSpendableOutputs(t *testing.T) {
	if _, err := SelectInputs(nil, 1); err != ErrNoSpendableOutputs {
		t.Fatalf("expected ErrNoSpendableOutputs, got %v", err)
	}
}

func TestSelectInputsInsufficientFunds(t *testing.T) {
	available := []*OwnedOutput{unlockedOutput(5)}
	if _, err := SelectInputs(available, 10); err != ErrInsufficientFunds {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestRandomShufflePreservesElements(t *testing.T) {
	outs := []*OwnedOutput{
		unlockedOutput(1), unlockedOutput(2), unlockedOutput(3), unlockedOutput(4), unlockedOutput(5),
	}

	before := make(map[*OwnedOutput]int, len(outs))
	for _, o := range outs {
		before[o]++
	}

	RandomShuffle(outs)

	after := make(map[*OwnedOutput]int, len(outs))
	for _, o := range outs {
		after[o]++
	}

	if len(before) != len(after) {
		t.Fatalf("element set changed: before=%d after=%d", len(before), len(after))
	}
	for k, v := range before {
		if after[k] != v {
			t.Fatalf("element multiplicity changed")
		}
	}
}
