// Package orchestrator implements the Node Orchestrator (C10): component
// lifetimes and the three cooperative pumps (transaction-file, processing,
// validation) described in spec.md §4.10, coordinated by goroutines and a
// shutdown channel/WaitGroup, following cmd/node/main.go's wiring order and
// LIFO-deferred shutdown discipline.
package orchestrator

import (
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/rubin-dev/hlcnode/blockstore"
	"github.com/rubin-dev/hlcnode/chain"
	"github.com/rubin-dev/hlcnode/crypto"
	"github.com/rubin-dev/hlcnode/events"
	"github.com/rubin-dev/hlcnode/hlc"
	"github.com/rubin-dev/hlcnode/minter"
	"github.com/rubin-dev/hlcnode/missingblocks"
	"github.com/rubin-dev/hlcnode/procqueue"
	"github.com/rubin-dev/hlcnode/reprocessor"
	"github.com/rubin-dev/hlcnode/txqueue"
	"github.com/rubin-dev/hlcnode/validationqueue"
)

// Broadcaster announces gossip to the cluster. Satisfied by *p2p.Node; nil
// in a single-node deployment.
type Broadcaster interface {
	BroadcastTxMessage(tm chain.TxMessage)
	BroadcastProcessingResult(pr chain.ProcessingResult)
}

// Config bundles the tunables that govern pump cadence. Zero values fall
// back to sane defaults.
type Config struct {
	TxPumpInterval     time.Duration
	ProcessingInterval time.Duration
	ValidationInterval time.Duration
	MissingInterval    time.Duration

	NumOfMembers    int
	MembersListHash string
}

func (c Config) withDefaults() Config {
	if c.TxPumpInterval == 0 {
		c.TxPumpInterval = 100 * time.Millisecond
	}
	if c.ProcessingInterval == 0 {
		c.ProcessingInterval = 50 * time.Millisecond
	}
	if c.ValidationInterval == 0 {
		c.ValidationInterval = 50 * time.Millisecond
	}
	if c.MissingInterval == 0 {
		c.MissingInterval = 2 * time.Second
	}
	return c
}

// Orchestrator owns the three pumps spec.md §4.10 describes and the
// start/stop sequence around them.
type Orchestrator struct {
	cfg Config

	clock *hlc.Clock
	priv  crypto.PrivateKey

	store   *blockstore.Store
	txq     *txqueue.Queue
	procQ   *procqueue.Queue
	valQ    *validationqueue.Queue
	mint    *minter.Minter
	reproc  *reprocessor.Reprocessor
	missing *missingblocks.Handler
	bcast   Broadcaster
	emitter *events.Emitter

	mu        sync.Mutex
	processed map[hlc.Timestamp]chain.TxMessage

	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
}

// New wires an Orchestrator over already-constructed components. bcast may
// be nil for a single-node deployment.
func New(cfg Config, clock *hlc.Clock, priv crypto.PrivateKey, store *blockstore.Store, txq *txqueue.Queue, procQ *procqueue.Queue, valQ *validationqueue.Queue, mint *minter.Minter, reproc *reprocessor.Reprocessor, missing *missingblocks.Handler, bcast Broadcaster, emitter *events.Emitter) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg.withDefaults(),
		clock:     clock,
		priv:      priv,
		store:     store,
		txq:       txq,
		procQ:     procQ,
		valQ:      valQ,
		mint:      mint,
		reproc:    reproc,
		missing:   missing,
		bcast:     bcast,
		emitter:   emitter,
		processed: make(map[hlc.Timestamp]chain.TxMessage),
		stopCh:    make(chan struct{}),
	}
}

// ValidateChain walks every stored block from genesis forward, checking its
// hash, its origin signature, and every attached proof. It stops at the
// first defect, per spec.md §6's `--no-validate-chain` escape hatch for
// skipping this on a trusted restart.
func ValidateChain(store *blockstore.Store) error {
	blocks, err := store.GetLaterBlocks(0)
	if err != nil {
		return fmt.Errorf("orchestrator: %w", err)
	}
	genesis, err := store.GetBlockByNumber(0)
	if err != nil && err != blockstore.ErrNotFound {
		return fmt.Errorf("orchestrator: load block 0: %w", err)
	}
	if genesis != nil {
		blocks = append([]*chain.Block{genesis}, blocks...)
	}
	for _, b := range blocks {
		n := b.Number
		if err := chain.VerifyBlockHash(b); err != nil {
			return err
		}
		if b.IsGenesis() {
			if err := chain.VerifyGenesisOrigin(b); err != nil {
				return err
			}
			continue
		}
		if err := chain.VerifyOrigin(b.Origin, b.Processed.Transaction, string(b.HLCTimestamp)); err != nil {
			return err
		}
		for _, p := range b.Proofs {
			if err := chain.VerifyProof(p, b.Processed, string(b.HLCTimestamp), b.Rewards); err != nil {
				return fmt.Errorf("orchestrator: block %d proof from %s: %w", n, p.Signer, err)
			}
		}
	}
	return nil
}

// CatchUp marks every block number between the local tip and the highest
// peer-advertised block number as missing, then drains the Missing-Block
// Handler until caught up or attempts are exhausted, per the bounded-retry
// policy supplemented from original_source/catchup_new.py.
func (o *Orchestrator) CatchUp(peerLatest []uint64, maxAttempts int) error {
	var target uint64
	for _, n := range peerLatest {
		if n > target {
			target = n
		}
	}
	if target == 0 {
		return nil
	}

	tip, err := o.store.GetTip()
	var from uint64
	if err == nil && tip != nil {
		from = tip.Number + 1
	} else if err != nil && err != blockstore.ErrNotFound {
		return fmt.Errorf("orchestrator: %w", err)
	}
	for n := from; n <= target; n++ {
		if err := o.missing.MarkMissing(n); err != nil {
			return err
		}
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := o.missing.Run(); err != nil {
			return fmt.Errorf("orchestrator: catch-up: %w", err)
		}
		pending, err := o.missing.PendingNumbers()
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}
	return fmt.Errorf("orchestrator: catch-up: still missing blocks after %d attempts", maxAttempts)
}

// Start unpauses the three pumps plus the missing-block pump. Call
// ValidateChain and CatchUp, if wanted, before Start.
func (o *Orchestrator) Start() {
	o.mu.Lock()
	o.running = true
	o.mu.Unlock()

	o.wg.Add(4)
	go o.runTxPump()
	go o.runProcessingPump()
	go o.runValidationPump()
	go o.runMissingPump()
}

// Stop sets running false, waits for every pump to go idle, per spec.md
// §4.10's stop sequence.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	o.running = false
	o.mu.Unlock()
	close(o.stopCh)
	o.wg.Wait()
}

func (o *Orchestrator) runTxPump() {
	defer o.wg.Done()
	ticker := time.NewTicker(o.cfg.TxPumpInterval)
	defer ticker.Stop()
	for {
		select {
		case <-o.stopCh:
			return
		case <-ticker.C:
			o.pumpOneAdmittedTx()
		}
	}
}

// pumpOneAdmittedTx pops a single admitted tx from the file queue, stamps
// it with an HLC timestamp, publishes it, and appends it to the Processing
// Queue — the tx-file pump's whole job per spec.md §4.10.
func (o *Orchestrator) pumpOneAdmittedTx() {
	tx, ok, err := o.txq.Pop()
	if err != nil {
		log.Printf("[orchestrator] tx-file pump: %v", err)
		return
	}
	if !ok {
		return
	}

	ts := o.clock.Now()
	txHash, err := chain.TxHash(tx)
	if err != nil {
		log.Printf("[orchestrator] tx-file pump: hash tx: %v", err)
		return
	}
	sig := crypto.Sign(o.priv, append([]byte(txHash), []byte(ts)...))
	tm := chain.TxMessage{
		Tx:           tx,
		HLCTimestamp: ts,
		Signature:    sig,
		Sender:       o.priv.Public().Hex(),
	}

	if o.bcast != nil {
		o.bcast.BroadcastTxMessage(tm)
	}
	o.appendWork(tm)
}

// appendWork is the single entry point for admitting a TxMessage into the
// Processing Queue, whether it originated locally (tx-file pump) or from a
// peer's work-topic publish. Reprocessing is triggered inline since it must
// run before the next processing tick observes the new ordering.
func (o *Orchestrator) appendWork(tm chain.TxMessage) {
	needsReprocess, err := o.procQ.Append(tm)
	if err != nil {
		log.Printf("[orchestrator] append %s: %v", tm.HLCTimestamp, err)
		return
	}
	o.mu.Lock()
	o.processed[tm.HLCTimestamp] = tm
	o.mu.Unlock()

	if needsReprocess {
		o.mu.Lock()
		snapshot := make(map[hlc.Timestamp]chain.TxMessage, len(o.processed))
		for k, v := range o.processed {
			snapshot[k] = v
		}
		o.mu.Unlock()
		if err := o.reproc.Run(tm, snapshot); err != nil {
			log.Printf("[orchestrator] reprocess %s: %v", tm.HLCTimestamp, err)
		}
	}
}

// HandlePeerWork is called when a peer publishes on the work topic.
func (o *Orchestrator) HandlePeerWork(tm chain.TxMessage) {
	o.appendWork(tm)
}

func (o *Orchestrator) runProcessingPump() {
	defer o.wg.Done()
	ticker := time.NewTicker(o.cfg.ProcessingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-o.stopCh:
			return
		case <-ticker.C:
			o.pumpProcessNext()
		}
	}
}

// pumpProcessNext drives C5.process_next() and hands the result to C6,
// signing this node's own proof over the result before appending.
func (o *Orchestrator) pumpProcessNext() {
	result, ok, err := o.procQ.ProcessNext()
	if err != nil {
		log.Printf("[orchestrator] processing pump: %v", err)
		return
	}
	if !ok {
		return
	}

	hash, err := chain.TxResultHash(result.TxResult, string(result.HLCTimestamp), result.Rewards)
	if err != nil {
		log.Printf("[orchestrator] processing pump: hash result: %v", err)
		return
	}
	msgBytes, err := chain.ResultMessageBytes(result.TxResult, string(result.HLCTimestamp), result.Rewards, o.cfg.MembersListHash)
	if err != nil {
		log.Printf("[orchestrator] processing pump: build result message: %v", err)
		return
	}
	result.Proof = &chain.Proof{
		Signature:       crypto.Sign(o.priv, msgBytes),
		Signer:          o.priv.Public().Hex(),
		MembersListHash: o.cfg.MembersListHash,
		NumOfMembers:    o.cfg.NumOfMembers,
		TxResultHash:    hash,
	}

	if _, err := o.valQ.Append(result); err != nil {
		log.Printf("[orchestrator] processing pump: append to validation queue: %v", err)
		return
	}
	if o.bcast != nil {
		o.bcast.BroadcastProcessingResult(result)
	}
}

// HandlePeerProof is called when a peer publishes on the contenders topic.
func (o *Orchestrator) HandlePeerProof(pr chain.ProcessingResult) {
	if _, err := o.valQ.Append(pr); err != nil {
		log.Printf("[orchestrator] append peer proof: %v", err)
	}
}

func (o *Orchestrator) runValidationPump() {
	defer o.wg.Done()
	ticker := time.NewTicker(o.cfg.ValidationInterval)
	defer ticker.Stop()
	for {
		select {
		case <-o.stopCh:
			return
		case <-ticker.C:
			o.pumpValidation()
		}
	}
}

// pumpValidation drives C6 to decide consensus and calls C8.hard_apply for
// every HLC that has reached it, earliest first so the chain stays linear.
func (o *Orchestrator) pumpValidation() {
	for _, ts := range o.valQ.ReadyHLCs() {
		result, ok := o.valQ.WinningResult(ts)
		if !ok {
			continue
		}
		rec, ok := o.valQ.Record(ts)
		if !ok {
			continue
		}
		proofs := collectProofs(rec)

		if _, err := o.mint.HardApply(result, proofs); err != nil {
			log.Printf("[orchestrator] validation pump: hard apply %s: %v", ts, err)
			continue
		}
		o.valQ.Flush(ts)
		o.procQ.SetLastHardApplied(ts)
		o.mu.Lock()
		delete(o.processed, ts)
		o.mu.Unlock()
	}
}

// runMissingPump keeps resolving marker files left by reorgs or gossip
// that reference a block number this node hasn't fetched yet, beyond the
// bounded-retry pass CatchUp runs once at startup.
func (o *Orchestrator) runMissingPump() {
	defer o.wg.Done()
	ticker := time.NewTicker(o.cfg.MissingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-o.stopCh:
			return
		case <-ticker.C:
			if err := o.missing.Run(); err != nil {
				log.Printf("[orchestrator] missing-block pump: %v", err)
			}
		}
	}
}

func collectProofs(rec *validationqueue.Record) []chain.Proof {
	vks := make([]string, 0, len(rec.Proofs))
	for vk := range rec.Proofs {
		vks = append(vks, vk)
	}
	sort.Strings(vks)
	out := make([]chain.Proof, len(vks))
	for i, vk := range vks {
		out[i] = rec.Proofs[vk]
	}
	return out
}
