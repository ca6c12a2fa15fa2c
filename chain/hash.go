package chain

import (
	"encoding/hex"
	"fmt"

	"github.com/rubin-dev/hlcnode/canon"
)

// txCanon converts a Tx into the canon.Map shape used for hashing and
// signing. Kwargs are passed through as-is; canon.Encode rejects anything
// it cannot represent, surfacing malformed payloads early.
func txCanon(tx Tx) canon.Map {
	return canon.Map{
		"payload": canon.Map{
			"contract":        tx.Payload.Contract,
			"function":        tx.Payload.Function,
			"kwargs":          canon.Map(tx.Payload.Kwargs),
			"nonce":           tx.Payload.Nonce,
			"processor":       tx.Payload.Processor,
			"sender":          tx.Payload.Sender,
			"stamps_supplied": tx.Payload.StampsSupplied,
		},
		"metadata": canon.Map{
			"signature": tx.Metadata.Signature,
		},
	}
}

// TxHash returns H(canonical(tx)), hex-encoded.
func TxHash(tx Tx) (string, error) {
	h, err := canon.Hash(txCanon(tx))
	if err != nil {
		return "", fmt.Errorf("chain: hash tx: %w", err)
	}
	return hex.EncodeToString(h[:]), nil
}

// BlockHash returns H(hlc_timestamp ∥ number ∥ previous), hex-encoded, per
// the block hash invariant.
func BlockHash(hlcTimestamp string, number uint64, previous string) (string, error) {
	h, err := canon.Hash(canon.List{hlcTimestamp, fmt.Sprintf("%d", number), previous})
	if err != nil {
		return "", fmt.Errorf("chain: hash block: %w", err)
	}
	return hex.EncodeToString(h[:]), nil
}

// txResultCanon mirrors TxResult in canonical form for hashing.
func txResultCanon(tr TxResult) canon.Map {
	state := make(canon.List, len(tr.State))
	for i, sc := range tr.State {
		state[i] = canon.Map{"key": sc.Key, "value": sc.Value}
	}
	return canon.Map{
		"hash":        tr.Hash,
		"result":      tr.Result,
		"stamps_used": tr.StampsUsed,
		"state":       state,
		"status":      int64(tr.Status),
		"transaction": txCanon(tr.Transaction),
	}
}

func rewardsCanon(rewards []Reward) canon.List {
	out := make(canon.List, len(rewards))
	for i, r := range rewards {
		out[i] = canon.Map{"key": r.Key, "value": canon.Fixed(r.Amount)}
	}
	return out
}

// TxResultHash returns H(canonical(tx_result) ∥ hlc_timestamp ∥ canonical(rewards)).
func TxResultHash(tr TxResult, hlcTimestamp string, rewards []Reward) (string, error) {
	trBytes, err := canon.Encode(txResultCanon(tr))
	if err != nil {
		return "", fmt.Errorf("chain: encode tx_result: %w", err)
	}
	rewardBytes, err := canon.Encode(rewardsCanon(rewards))
	if err != nil {
		return "", fmt.Errorf("chain: encode rewards: %w", err)
	}
	buf := append(append(trBytes, []byte(hlcTimestamp)...), rewardBytes...)
	h := canon.HashBytes(buf)
	return hex.EncodeToString(h[:]), nil
}

// MembersListHash returns H(canonical(sorted(memberVKs))). Callers must
// sort memberVKs themselves so the hash is deterministic regardless of
// iteration order over the member set.
func MembersListHash(sortedMemberVKs []string) (string, error) {
	l := make(canon.List, len(sortedMemberVKs))
	for i, vk := range sortedMemberVKs {
		l[i] = vk
	}
	h, err := canon.Hash(l)
	if err != nil {
		return "", fmt.Errorf("chain: hash members list: %w", err)
	}
	return hex.EncodeToString(h[:]), nil
}

// resultMessageCanon is the canonical "result message" a Proof's signature
// is computed over.
func resultMessageCanon(tr TxResult, hlcTimestamp string, rewards []Reward, membersListHash string) canon.Map {
	state := make(canon.List, len(tr.State))
	for i, sc := range tr.State {
		state[i] = canon.Map{"key": sc.Key, "value": sc.Value}
	}
	return canon.Map{
		"tx_result":         txResultCanon(tr),
		"hlc_timestamp":     hlcTimestamp,
		"rewards":           rewardsCanon(rewards),
		"members_list_hash": membersListHash,
	}
}

// ResultMessageBytes returns the canonical bytes a Proof.Signature signs.
func ResultMessageBytes(tr TxResult, hlcTimestamp string, rewards []Reward, membersListHash string) ([]byte, error) {
	data, err := canon.Encode(resultMessageCanon(tr, hlcTimestamp, rewards, membersListHash))
	if err != nil {
		return nil, fmt.Errorf("chain: encode result message: %w", err)
	}
	return data, nil
}
