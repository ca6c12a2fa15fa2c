package vm_test

import (
	"testing"

	"github.com/rubin-dev/hlcnode/chain"
	_ "github.com/rubin-dev/hlcnode/vm/modules/currency"

	"github.com/rubin-dev/hlcnode/internal/testutil"
	"github.com/rubin-dev/hlcnode/statedriver"
	"github.com/rubin-dev/hlcnode/vm"
)

func TestExecuteUnknownHandlerFails(t *testing.T) {
	registry := vm.NewRegistry()
	exec := vm.NewExecutor(registry, nil)
	driver := statedriver.New(testutil.NewMemDB())
	tx := chain.Tx{Payload: chain.TxPayload{Contract: "nope", Function: "nope"}}
	result, _ := exec.Execute(tx, driver)
	if result.Status == chain.StatusSuccess {
		t.Fatal("expected failure status for unregistered handler")
	}
}

func TestCurrencyTransferInsufficientBalance(t *testing.T) {
	exec := vm.NewExecutor(vm.Global(), nil)
	driver := statedriver.New(testutil.NewMemDB())
	tx := chain.Tx{Payload: chain.TxPayload{
		Contract: "currency",
		Function: "transfer",
		Sender:   "alice",
		Kwargs:   map[string]any{"to": "bob", "amount": float64(10)},
	}}
	result, _ := exec.Execute(tx, driver)
	if result.Status == chain.StatusSuccess {
		t.Fatal("expected failure for insufficient balance")
	}
}
