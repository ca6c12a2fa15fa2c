// Package chain defines the dict-shaped records exchanged between the
// processing queue, validation queue, block minter, and block store: Tx,
// TxMessage, ProcessingResult, Proof, and Block. Each is a tagged record
// with explicit optional fields, mirroring the untyped maps the wire
// protocol uses while giving the rest of the module something concrete to
// type-check against.
package chain

import "github.com/rubin-dev/hlcnode/hlc"

// TxPayload is the signed body of a transaction.
type TxPayload struct {
	Contract       string         `json:"contract"`
	Function       string         `json:"function"`
	Kwargs         map[string]any `json:"kwargs"`
	Nonce          uint64         `json:"nonce"`
	Processor      string         `json:"processor"`
	Sender         string         `json:"sender"`
	StampsSupplied uint64         `json:"stamps_supplied"`
}

// TxMetadata carries the sender's signature over the payload.
type TxMetadata struct {
	Signature string `json:"signature"`
}

// Tx is a submitted transaction: payload plus signature metadata.
type Tx struct {
	Payload  TxPayload  `json:"payload"`
	Metadata TxMetadata `json:"metadata"`
}

// TxMessage is what is broadcast to peers once a tx is admitted and stamped
// with an HLC timestamp by the node that first saw it.
type TxMessage struct {
	Tx           Tx            `json:"tx"`
	HLCTimestamp hlc.Timestamp `json:"hlc_timestamp"`
	Signature    string        `json:"signature"`
	Sender       string        `json:"sender"`
}

// StateChange is one key/value write recorded in a TxResult, in write order.
type StateChange struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// TxResult is the effect of executing one transaction against state.
type TxResult struct {
	Hash        string        `json:"hash"`
	Result      string        `json:"result"`
	StampsUsed  uint64        `json:"stamps_used"`
	State       []StateChange `json:"state"`
	Status      int           `json:"status"`
	Transaction Tx            `json:"transaction"`
}

// Execution status codes for TxResult.Status. Zero means success; any other
// value is an oracle-reported failure and is never retried automatically.
const (
	StatusSuccess = 0
	StatusFailure = 1
)

// Reward is one payout entry attached to a ProcessingResult or Block.
type Reward struct {
	Key    string `json:"key"`
	Amount string `json:"amount"`
}

// Proof is a node's signed attestation that its execution of a tx at a given
// HLC produced a specific result hash. MembersListHash binds the proof to
// the member set the signer believed was current; proofs are only
// comparable across nodes that agree on that hash.
type Proof struct {
	Signature       string `json:"signature"`
	Signer          string `json:"signer"`
	MembersListHash string `json:"members_list_hash"`
	NumOfMembers    int    `json:"num_of_members"`
	TxResultHash    string `json:"tx_result_hash,omitempty"`
}

// ProcessingResult is produced by the Processing Queue and carries an
// optional Proof once this node has signed its own result.
type ProcessingResult struct {
	HLCTimestamp hlc.Timestamp `json:"hlc_timestamp"`
	TxResult     TxResult      `json:"tx_result"`
	Rewards      []Reward      `json:"rewards"`
	Proof        *Proof        `json:"proof,omitempty"`
	TxMessage    TxMessage     `json:"tx_message"`
}

// Origin identifies who minted a block: the sender key and its signature
// over the block's transaction hash and HLC timestamp.
type Origin struct {
	Sender    string `json:"sender"`
	Signature string `json:"signature"`
}

// GenesisPrevious is the fixed "previous" value for the genesis block: 64
// zero characters, the same length as a hex-encoded SHA3-256 hash.
const GenesisPrevious = "0000000000000000000000000000000000000000000000000000000000000000"

// Block is the unit of consensus: one committed HLC, its proofs, the
// resulting transaction effect, and a link to the previous block by hash.
// Number always equals the HLC's nanosecond value except for genesis, which
// is pinned at 0.
type Block struct {
	Number       uint64        `json:"number"`
	Hash         string        `json:"hash"`
	HLCTimestamp hlc.Timestamp `json:"hlc_timestamp"`
	Previous     string        `json:"previous"`
	Proofs       []Proof       `json:"proofs"`
	Rewards      []Reward      `json:"rewards"`
	Processed    TxResult      `json:"processed"`
	Origin       Origin        `json:"origin"`
}

// IsGenesis reports whether b is the fixed genesis block.
func (b *Block) IsGenesis() bool {
	return b.Number == 0 && b.Previous == GenesisPrevious
}
