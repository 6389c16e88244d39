package core

import "testing"

func keyInputTx(amount, outAmount uint64, image KeyImage) Transaction {
	return Transaction{
		TransactionPrefix: TransactionPrefix{
			Version: 1,
			Inputs:  []TransactionInput{{Key: &KeyInput{Amount: amount, KeyImage: image}}},
			Outputs: []TransactionOutput{{Amount: outAmount}},
		},
	}
}

func TestPoolRejectsCoinbase(t *testing.T) {
	p := NewPool(DefaultPoolConfig(), MainnetParams(), nil)
	coinbase := Transaction{TransactionPrefix: TransactionPrefix{Inputs: []TransactionInput{{Base: &BaseInput{}}}}}
	if err := p.AddTransaction(coinbase, Hash{1}, 100); err != ErrCoinbaseInPool {
		t.Fatalf("expected ErrCoinbaseInPool, got %v", err)
	}
}

func TestPoolRejectsFeeBelowMinimum(t *testing.T) {
	params := MainnetParams()
	p := NewPool(DefaultPoolConfig(), params, nil)
	tx := keyInputTx(100, 100, KeyImage{1}) // fee == 0, not a fusion shape
	if err := p.AddTransaction(tx, Hash{2}, 100); err == nil {
		t.Fatal("expected a below-minimum-fee transaction to be rejected")
	}
}

func TestPoolAcceptsTransactionAtMinimumFee(t *testing.T) {
	params := MainnetParams()
	p := NewPool(DefaultPoolConfig(), params, nil)
	tx := keyInputTx(100+params.MinimumFee, 100, KeyImage{3})
	id := Hash{3}
	if err := p.AddTransaction(tx, id, 100); err != nil {
		t.Fatalf("AddTransaction: %v", err)
	}
	if !p.HasTransaction(id) {
		t.Fatal("expected the pool to report the transaction as present")
	}
	if got, ok := p.GetTransaction(id); !ok || got.Inputs[0].Key.KeyImage != (KeyImage{3}) {
		t.Fatalf("expected GetTransaction to return the pooled transaction, got (%+v, %v)", got, ok)
	}
}

func TestPoolRejectsDoubleSpendAgainstAnotherPooledTx(t *testing.T) {
	params := MainnetParams()
	p := NewPool(DefaultPoolConfig(), params, nil)
	image := KeyImage{9}

	first := keyInputTx(100+params.MinimumFee, 100, image)
	if err := p.AddTransaction(first, Hash{4}, 100); err != nil {
		t.Fatalf("AddTransaction(first): %v", err)
	}

	second := keyInputTx(200+params.MinimumFee, 200, image)
	if err := p.AddTransaction(second, Hash{5}, 100); err != ErrDoubleSpendInPool {
		t.Fatalf("expected ErrDoubleSpendInPool, got %v", err)
	}
}

func TestPoolRejectsDoubleSpendAgainstChainState(t *testing.T) {
	params := MainnetParams()
	spent := KeyImage{7}
	p := NewPool(DefaultPoolConfig(), params, func(ki KeyImage) bool { return ki == spent })

	tx := keyInputTx(100+params.MinimumFee, 100, spent)
	if err := p.AddTransaction(tx, Hash{6}, 100); err != ErrDoubleSpendInPool {
		t.Fatalf("expected ErrDoubleSpendInPool against already-spent chain state, got %v", err)
	}
}

func TestPoolTakeTransactionRemovesIt(t *testing.T) {
	params := MainnetParams()
	p := NewPool(DefaultPoolConfig(), params, nil)
	tx := keyInputTx(100+params.MinimumFee, 100, KeyImage{11})
	id := Hash{11}
	if err := p.AddTransaction(tx, id, 100); err != nil {
		t.Fatalf("AddTransaction: %v", err)
	}

	got, ok := p.TakeTransaction(id)
	if !ok || got.Inputs[0].Key.KeyImage != (KeyImage{11}) {
		t.Fatalf("TakeTransaction: got (%+v, %v)", got, ok)
	}
	if p.HasTransaction(id) {
		t.Fatal("expected the transaction to be gone after TakeTransaction")
	}
}

func TestPoolFillBlockTemplatePrefersHigherFeeRate(t *testing.T) {
	params := MainnetParams()
	p := NewPool(DefaultPoolConfig(), params, nil)

	lowFee := keyInputTx(100+params.MinimumFee, 100, KeyImage{20})
	highFee := keyInputTx(1000+params.MinimumFee*50, 1000, KeyImage{21})
	if err := p.AddTransaction(lowFee, Hash{20}, 100); err != nil {
		t.Fatalf("AddTransaction(low): %v", err)
	}
	if err := p.AddTransaction(highFee, Hash{21}, 100); err != nil {
		t.Fatalf("AddTransaction(high): %v", err)
	}

	entries := p.FillBlockTemplate(1000, 1)
	if len(entries) != 1 {
		t.Fatalf("expected exactly 1 entry selected, got %d", len(entries))
	}
	if entries[0].ID != (Hash{21}) {
		t.Fatalf("expected the higher fee-per-byte transaction to be selected first, got %v", entries[0].ID)
	}
}

func TestPoolOnBlockchainIncRemovesIncludedAndConflicting(t *testing.T) {
	params := MainnetParams()
	p := NewPool(DefaultPoolConfig(), params, nil)

	included := keyInputTx(100+params.MinimumFee, 100, KeyImage{30})
	conflicting := keyInputTx(200+params.MinimumFee, 200, KeyImage{31})
	if err := p.AddTransaction(included, Hash{30}, 100); err != nil {
		t.Fatalf("AddTransaction(included): %v", err)
	}
	if err := p.AddTransaction(conflicting, Hash{31}, 100); err != nil {
		t.Fatalf("AddTransaction(conflicting): %v", err)
	}

	p.OnBlockchainInc([]Hash{{30}}, []KeyImage{{31}})

	if p.HasTransaction(Hash{30}) {
		t.Fatal("expected the directly-included transaction to be removed")
	}
	if p.HasTransaction(Hash{31}) {
		t.Fatal("expected the now-double-spent transaction to be removed")
	}
	if p.Size() != 0 {
		t.Fatalf("expected an empty pool, got size %d", p.Size())
	}
}
