package txqueue_test

import (
	"path/filepath"
	"testing"

	"github.com/rubin-dev/hlcnode/chain"
	"github.com/rubin-dev/hlcnode/txqueue"
)

func TestPushPopFIFOOrder(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "tx_queue")
	q, err := txqueue.New(dir)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		tx := chain.Tx{Payload: chain.TxPayload{Nonce: uint64(i)}}
		if err := q.Push(tx); err != nil {
			t.Fatal(err)
		}
	}

	n, err := q.Len()
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("expected 3 queued, got %d", n)
	}

	for i := 0; i < 3; i++ {
		tx, ok, err := q.Pop()
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			t.Fatalf("expected entry %d", i)
		}
		if tx.Payload.Nonce != uint64(i) {
			t.Fatalf("expected FIFO order, got nonce %d at position %d", tx.Payload.Nonce, i)
		}
	}

	_, ok, err := q.Pop()
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected empty queue")
	}
}

func TestNewResumesFromExistingSequence(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "tx_queue")
	q1, err := txqueue.New(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := q1.Push(chain.Tx{Payload: chain.TxPayload{Nonce: 1}}); err != nil {
		t.Fatal(err)
	}

	q2, err := txqueue.New(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := q2.Push(chain.Tx{Payload: chain.TxPayload{Nonce: 2}}); err != nil {
		t.Fatal(err)
	}

	tx, ok, err := q2.Pop()
	if err != nil {
		t.Fatal(err)
	}
	if !ok || tx.Payload.Nonce != 1 {
		t.Fatalf("expected first-pushed entry (nonce 1) to pop first, got %+v ok=%v", tx, ok)
	}
}
