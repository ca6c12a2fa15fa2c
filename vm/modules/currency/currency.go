// Package currency is a minimal example contract used to exercise the vm
// dispatch path in tests; it is not part of the required consensus
// surface. Balances are decimal strings stored under "currency.balances:<vk>".
package currency

import (
	"fmt"
	"strconv"

	"github.com/rubin-dev/hlcnode/vm"
)

func init() {
	vm.Register("currency", "transfer", handleTransfer)
	vm.Register("currency", "balance_of", handleBalanceOf)
}

func balanceKey(vk string) string { return "currency.balances:" + vk }

func getBalance(state vm.State, vk string) (uint64, error) {
	v, ok, err := state.Get(balanceKey(vk))
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	n, err := strconv.ParseUint(string(v), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("currency: corrupt balance for %s: %w", vk, err)
	}
	return n, nil
}

func setBalance(state vm.State, vk string, n uint64) {
	state.Set(balanceKey(vk), []byte(strconv.FormatUint(n, 10)))
}

func handleTransfer(ctx *vm.Context, kwargs map[string]any) (uint64, string, error) {
	to, _ := kwargs["to"].(string)
	if to == "" {
		return 0, "0", fmt.Errorf("currency: transfer requires 'to'")
	}
	amountF, ok := kwargs["amount"].(float64)
	if !ok || amountF <= 0 {
		return 0, "0", fmt.Errorf("currency: transfer amount must be a positive number")
	}
	amount := uint64(amountF)

	sender := ctx.Tx.Payload.Sender
	senderBal, err := getBalance(ctx.State, sender)
	if err != nil {
		return 0, "0", err
	}
	if senderBal < amount {
		return 0, "0", fmt.Errorf("currency: insufficient balance: have %d need %d", senderBal, amount)
	}

	recipientBal, err := getBalance(ctx.State, to)
	if err != nil {
		return 0, "0", err
	}

	setBalance(ctx.State, sender, senderBal-amount)
	setBalance(ctx.State, to, recipientBal+amount)
	return 1, "0", nil
}

func handleBalanceOf(ctx *vm.Context, kwargs map[string]any) (uint64, string, error) {
	vk, _ := kwargs["vk"].(string)
	if vk == "" {
		vk = ctx.Tx.Payload.Sender
	}
	if _, err := getBalance(ctx.State, vk); err != nil {
		return 0, "0", err
	}
	return 1, "0", nil
}
