package wallet

import (
	"github.com/rubin-dev/hlcnode/chain"
	"github.com/rubin-dev/hlcnode/crypto"
)

// Wallet holds a key pair and provides transaction-building helpers.
type Wallet struct {
	priv crypto.PrivateKey
	pub  crypto.PublicKey
}

// New creates a Wallet from an existing private key.
func New(priv crypto.PrivateKey) *Wallet {
	return &Wallet{priv: priv, pub: priv.Public()}
}

// Generate creates a Wallet with a freshly generated key pair.
func Generate() (*Wallet, error) {
	priv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return New(priv), nil
}

// PrivKey returns the raw private key (handle with care).
func (w *Wallet) PrivKey() crypto.PrivateKey {
	return w.priv
}

// PubKey returns the hex-encoded ed25519 public key (used as sender/vk).
func (w *Wallet) PubKey() string {
	return w.pub.Hex()
}

// Address returns the short human-readable address (first 20 bytes of SHA-256(pubkey)).
func (w *Wallet) Address() string {
	return w.pub.Address()
}

// NewTx builds and signs a Tx: contract.function(kwargs), stamped with the
// given nonce and processor. The signature is over H(canonical(payload)),
// i.e. chain.TxHash computed with Metadata.Signature left empty.
func (w *Wallet) NewTx(contract, function string, kwargs map[string]any, nonce uint64, processor string, stampsSupplied uint64) (chain.Tx, error) {
	tx := chain.Tx{Payload: chain.TxPayload{
		Contract:       contract,
		Function:       function,
		Kwargs:         kwargs,
		Nonce:          nonce,
		Processor:      processor,
		Sender:         w.pub.Hex(),
		StampsSupplied: stampsSupplied,
	}}
	payloadHash, err := chain.TxHash(tx)
	if err != nil {
		return chain.Tx{}, err
	}
	tx.Metadata.Signature = crypto.Sign(w.priv, []byte(payloadHash))
	return tx, nil
}

// VerifyTxSignature checks tx.Metadata.Signature against its own payload
// hash using tx.Payload.Sender as the signing key.
func VerifyTxSignature(tx chain.Tx) error {
	pub, err := crypto.PubKeyFromHex(tx.Payload.Sender)
	if err != nil {
		return err
	}
	unsigned := tx
	unsigned.Metadata.Signature = ""
	payloadHash, err := chain.TxHash(unsigned)
	if err != nil {
		return err
	}
	return crypto.Verify(pub, []byte(payloadHash), tx.Metadata.Signature)
}
