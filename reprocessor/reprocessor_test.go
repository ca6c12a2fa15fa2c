package reprocessor_test

import (
	"testing"
	"time"

	"github.com/rubin-dev/hlcnode/chain"
	"github.com/rubin-dev/hlcnode/hlc"
	"github.com/rubin-dev/hlcnode/internal/testutil"
	"github.com/rubin-dev/hlcnode/procqueue"
	"github.com/rubin-dev/hlcnode/reprocessor"
	"github.com/rubin-dev/hlcnode/statedriver"
	"github.com/rubin-dev/hlcnode/vm"
	_ "github.com/rubin-dev/hlcnode/vm/modules/currency"
)

func tsAt(offset time.Duration) hlc.Timestamp {
	return hlc.Timestamp(time.Now().Add(offset).UTC().Format(time.RFC3339Nano) + "_0")
}

func TestRunPublishesEarlierTxResult(t *testing.T) {
	driver := statedriver.New(testutil.NewMemDB())
	exec := vm.NewExecutor(vm.Global(), nil)
	q := procqueue.New(driver, exec, 0, 0)

	tsLater := tsAt(-time.Hour)
	laterMsg := chain.TxMessage{HLCTimestamp: tsLater, Tx: chain.Tx{Payload: chain.TxPayload{
		Contract: "currency", Function: "balance_of", Sender: "bob",
	}}}
	if _, err := q.Append(laterMsg); err != nil {
		t.Fatal(err)
	}
	if _, ok, err := q.ProcessNext(); err != nil || !ok {
		t.Fatalf("expected later tx to process: ok=%v err=%v", ok, err)
	}

	var published []chain.ProcessingResult
	r := reprocessor.New(driver, q, func(pr chain.ProcessingResult) {
		published = append(published, pr)
	})

	tsEarlier := tsAt(-2 * time.Hour)
	earlierMsg := chain.TxMessage{HLCTimestamp: tsEarlier, Tx: chain.Tx{Payload: chain.TxPayload{
		Contract: "currency", Function: "transfer", Sender: "alice",
		Kwargs: map[string]any{"to": "bob", "amount": float64(1)},
	}}}

	processed := map[hlc.Timestamp]chain.TxMessage{tsLater: laterMsg}
	if err := r.Run(earlierMsg, processed); err != nil {
		t.Fatal(err)
	}
	if len(published) == 0 {
		t.Fatal("expected at least the earlier tx's own result to publish")
	}
	if _, ok := driver.Pending(tsEarlier); !ok {
		t.Fatal("expected earlier hlc to have a pending delta after replay")
	}
}
