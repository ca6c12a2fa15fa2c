package chain

import (
	"fmt"
	"sort"

	"github.com/rubin-dev/hlcnode/canon"
	"github.com/rubin-dev/hlcnode/crypto"
	"github.com/rubin-dev/hlcnode/hlc"
)

// GenesisHLC is the fixed HLC timestamp stamped onto the genesis block.
const GenesisHLC hlc.Timestamp = "1970-01-01T00:00:00.000000000Z_0"

// GenesisChange is one founder-authored key/value write baked into the
// genesis block.
type GenesisChange struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// BuildGenesis signs and constructs the genesis block for changes, using
// founderPriv as the founder key. Its hash follows the same rule as any
// other block, so VerifyBlockHash applies; its origin signature is over the
// canonical hash of the sorted state changes and is checked by
// VerifyGenesisOrigin, not VerifyOrigin.
func BuildGenesis(founderPriv crypto.PrivateKey, changes []GenesisChange) (*Block, error) {
	founderPub := founderPriv.Public()

	sortedChanges := make([]GenesisChange, len(changes))
	copy(sortedChanges, changes)
	sort.Slice(sortedChanges, func(i, j int) bool { return sortedChanges[i].Key < sortedChanges[j].Key })

	l := make(canon.List, len(sortedChanges))
	for i, c := range sortedChanges {
		l[i] = canon.Map{"key": c.Key, "value": c.Value}
	}
	stateHash, err := canon.Hash(l)
	if err != nil {
		return nil, fmt.Errorf("chain: hash genesis state changes: %w", err)
	}

	hash, err := BlockHash(string(GenesisHLC), 0, GenesisPrevious)
	if err != nil {
		return nil, err
	}

	state := make([]StateChange, len(sortedChanges))
	for i, c := range sortedChanges {
		state[i] = StateChange{Key: c.Key, Value: c.Value}
	}

	sig := crypto.Sign(founderPriv, stateHash[:])
	return &Block{
		Number:       0,
		Hash:         hash,
		HLCTimestamp: GenesisHLC,
		Previous:     GenesisPrevious,
		Proofs:       nil,
		Rewards:      nil,
		Processed: TxResult{
			Status: StatusSuccess,
			State:  state,
		},
		Origin: Origin{
			Sender:    founderPub.Hex(),
			Signature: sig,
		},
	}, nil
}

// VerifyGenesisOrigin checks b.Origin.Signature against the canonical hash
// of b.Processed.State, the same message BuildGenesis signs. Genesis has no
// originating tx, so this does not go through VerifyOrigin.
func VerifyGenesisOrigin(b *Block) error {
	if !b.IsGenesis() {
		return fmt.Errorf("chain: block %d is not genesis", b.Number)
	}
	l := make(canon.List, len(b.Processed.State))
	for i, c := range b.Processed.State {
		l[i] = canon.Map{"key": c.Key, "value": c.Value}
	}
	stateHash, err := canon.Hash(l)
	if err != nil {
		return fmt.Errorf("chain: hash genesis state changes: %w", err)
	}
	pub, err := crypto.PubKeyFromHex(b.Origin.Sender)
	if err != nil {
		return fmt.Errorf("chain: genesis origin sender: %w", err)
	}
	if err := crypto.Verify(pub, stateHash[:], b.Origin.Signature); err != nil {
		return fmt.Errorf("chain: genesis origin signature: %w", err)
	}
	return nil
}
