package procqueue_test

import (
	"testing"
	"time"

	"github.com/rubin-dev/hlcnode/chain"
	"github.com/rubin-dev/hlcnode/hlc"
	"github.com/rubin-dev/hlcnode/internal/testutil"
	"github.com/rubin-dev/hlcnode/procqueue"
	"github.com/rubin-dev/hlcnode/statedriver"
	"github.com/rubin-dev/hlcnode/vm"
	_ "github.com/rubin-dev/hlcnode/vm/modules/currency"
)

func pastHLC(t *testing.T) hlc.Timestamp {
	t.Helper()
	past := time.Now().Add(-time.Hour)
	return hlc.Timestamp(past.UTC().Format(time.RFC3339Nano) + "_0")
}

func TestProcessNextRespectsDelay(t *testing.T) {
	driver := statedriver.New(testutil.NewMemDB())
	exec := vm.NewExecutor(vm.Global(), nil)
	q := procqueue.New(driver, exec, time.Hour, 0)

	now := time.Now()
	ts := hlc.Timestamp(now.UTC().Format(time.RFC3339Nano) + "_0")
	msg := chain.TxMessage{HLCTimestamp: ts, Tx: chain.Tx{Payload: chain.TxPayload{
		Contract: "currency", Function: "balance_of", Sender: "alice",
	}}}
	if _, err := q.Append(msg); err != nil {
		t.Fatal(err)
	}
	_, ok, err := q.ProcessNext()
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected not-ready tx to be skipped")
	}
}

func TestProcessNextExecutesReadyTx(t *testing.T) {
	driver := statedriver.New(testutil.NewMemDB())
	exec := vm.NewExecutor(vm.Global(), nil)
	q := procqueue.New(driver, exec, 0, 0)

	ts := pastHLC(t)
	msg := chain.TxMessage{HLCTimestamp: ts, Tx: chain.Tx{Payload: chain.TxPayload{
		Contract: "currency", Function: "balance_of", Sender: "alice",
	}}}
	if _, err := q.Append(msg); err != nil {
		t.Fatal(err)
	}
	result, ok, err := q.ProcessNext()
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected ready tx to execute")
	}
	if result.TxResult.Status != chain.StatusSuccess {
		t.Fatalf("expected success, got %+v", result.TxResult)
	}
	if q.Len() != 0 {
		t.Fatalf("expected queue drained, got %d pending", q.Len())
	}
}

func TestAppendRejectsAlreadyHardApplied(t *testing.T) {
	driver := statedriver.New(testutil.NewMemDB())
	exec := vm.NewExecutor(vm.Global(), nil)
	q := procqueue.New(driver, exec, 0, 0)

	ts := pastHLC(t)
	q.SetLastHardApplied(ts)
	msg := chain.TxMessage{HLCTimestamp: ts}
	if _, err := q.Append(msg); err == nil {
		t.Fatal("expected rejection of already hard-applied hlc")
	}
}

func TestAppendFlagsReprocessOnEarlierHLC(t *testing.T) {
	driver := statedriver.New(testutil.NewMemDB())
	exec := vm.NewExecutor(vm.Global(), nil)
	q := procqueue.New(driver, exec, 0, 0)

	later := time.Now().Add(2 * time.Hour)
	earlier := time.Now().Add(time.Hour)
	laterTS := hlc.Timestamp(later.UTC().Format(time.RFC3339Nano) + "_0")
	earlierTS := hlc.Timestamp(earlier.UTC().Format(time.RFC3339Nano) + "_0")

	if needs, err := q.Append(chain.TxMessage{HLCTimestamp: laterTS}); err != nil || needs {
		t.Fatalf("first append should not need reprocess: needs=%v err=%v", needs, err)
	}
	needs, err := q.Append(chain.TxMessage{HLCTimestamp: earlierTS})
	if err != nil {
		t.Fatal(err)
	}
	if !needs {
		t.Fatal("expected earlier HLC to flag reprocessing")
	}
}
