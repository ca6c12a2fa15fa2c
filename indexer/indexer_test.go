package indexer

import (
	"testing"

	"github.com/rubin-dev/hlcnode/internal/testutil"
)

func TestNonceMonotonic(t *testing.T) {
	idx := New(testutil.NewMemDB())
	ok, err := idx.CommitNonce("proc", "alice", 1)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected first nonce commit to succeed")
	}
	ok, err = idx.CommitNonce("proc", "alice", 1)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected equal nonce to be rejected")
	}
	ok, err = idx.CommitNonce("proc", "alice", 2)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected strictly greater nonce to succeed")
	}
	n, err := idx.Nonce("proc", "alice")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("expected nonce 2, got %d", n)
	}
}
