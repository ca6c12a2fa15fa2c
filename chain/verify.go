package chain

import (
	"fmt"

	"github.com/rubin-dev/hlcnode/crypto"
)

// VerifyOrigin checks that origin.signature verifies against
// H(canonical(tx)) ∥ hlc_timestamp using origin.sender as the signing key.
func VerifyOrigin(origin Origin, tx Tx, hlcTimestamp string) error {
	pub, err := crypto.PubKeyFromHex(origin.Sender)
	if err != nil {
		return fmt.Errorf("chain: origin sender: %w", err)
	}
	txHash, err := TxHash(tx)
	if err != nil {
		return err
	}
	msg := append([]byte(txHash), []byte(hlcTimestamp)...)
	if err := crypto.Verify(pub, msg, origin.Signature); err != nil {
		return fmt.Errorf("chain: origin signature: %w", err)
	}
	return nil
}

// VerifyProof checks that proof.signature verifies against the canonical
// result message for (tr, hlcTimestamp, rewards, proof.MembersListHash),
// using proof.Signer as the signing key.
func VerifyProof(proof Proof, tr TxResult, hlcTimestamp string, rewards []Reward) error {
	pub, err := crypto.PubKeyFromHex(proof.Signer)
	if err != nil {
		return fmt.Errorf("chain: proof signer: %w", err)
	}
	msg, err := ResultMessageBytes(tr, hlcTimestamp, rewards, proof.MembersListHash)
	if err != nil {
		return err
	}
	if err := crypto.Verify(pub, msg, proof.Signature); err != nil {
		return fmt.Errorf("chain: proof signature: %w", err)
	}
	return nil
}

// VerifyBlockHash recomputes b.Hash from its own fields and reports whether
// it matches the stored value.
func VerifyBlockHash(b *Block) error {
	want, err := BlockHash(string(b.HLCTimestamp), b.Number, b.Previous)
	if err != nil {
		return err
	}
	if want != b.Hash {
		return fmt.Errorf("chain: block %d hash mismatch: stored %s want %s", b.Number, b.Hash, want)
	}
	return nil
}
