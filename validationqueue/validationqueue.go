// Package validationqueue implements the Validation Queue (C6): per-HLC
// accumulation of peer Proofs and the consensus math over them, per
// spec.md §4.6.
package validationqueue

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/rubin-dev/hlcnode/chain"
	"github.com/rubin-dev/hlcnode/hlc"
)

// Status is the state-machine position of one HLC's validation record.
type Status int

const (
	Collecting Status = iota
	HasConsensus
	Stalled
	Flushed
)

// Record tracks one HLC's collected votes, as spec.md §4.6 describes it.
type Record struct {
	Solutions    map[string]string                // vk -> tx_result_hash
	Proofs       map[string]chain.Proof            // vk -> proof
	ResultLookup map[string]chain.ProcessingResult // hash -> result
	Status       Status
}

// BlockCommitted reports whether a block has already been committed for a
// given HLC. The Queue consults it before accepting an append.
type BlockCommitted func(ts hlc.Timestamp) bool

// Queue owns one Record per uncommitted HLC.
type Queue struct {
	mu sync.Mutex

	records map[hlc.Timestamp]*Record

	numMembers       int
	consensusPercent int
	membersListHash  string
	committed        BlockCommitted
}

// New creates a Queue for a member set of size numMembers, requiring
// consensusPercent agreement among the other members. membersListHash is
// this node's current value of chain.MembersListHash, against which every
// incoming proof's own value is checked per Open Question decision #3.
func New(numMembers, consensusPercent int, membersListHash string, committed BlockCommitted) *Queue {
	return &Queue{
		records:          make(map[hlc.Timestamp]*Record),
		numMembers:       numMembers,
		consensusPercent: consensusPercent,
		membersListHash:  membersListHash,
		committed:        committed,
	}
}

// Append upserts a peer's (or our own) ProcessingResult into the record for
// its HLC. It is dropped, returning ok=false, if a block has already been
// committed for that HLC.
func (q *Queue) Append(pr chain.ProcessingResult) (ok bool, err error) {
	hash, err := chain.TxResultHash(pr.TxResult, string(pr.HLCTimestamp), pr.Rewards)
	if err != nil {
		return false, fmt.Errorf("validationqueue: hash result: %w", err)
	}
	if pr.Proof == nil {
		return false, fmt.Errorf("validationqueue: processing result missing proof")
	}
	if pr.Proof.MembersListHash != q.membersListHash {
		return false, fmt.Errorf("validationqueue: members_list_hash mismatch: got %s want %s",
			pr.Proof.MembersListHash, q.membersListHash)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.committed != nil && q.committed(pr.HLCTimestamp) {
		return false, nil
	}

	rec, exists := q.records[pr.HLCTimestamp]
	if exists && rec.Status == Flushed {
		return false, nil
	}
	if !exists {
		rec = &Record{
			Solutions:    make(map[string]string),
			Proofs:       make(map[string]chain.Proof),
			ResultLookup: make(map[string]chain.ProcessingResult),
		}
		q.records[pr.HLCTimestamp] = rec
	}

	vk := pr.Proof.Signer
	rec.Solutions[vk] = hash
	rec.Proofs[vk] = *pr.Proof
	rec.ResultLookup[hash] = pr
	pruneUnreferenced(rec)
	q.refreshStatusLocked(rec)
	return true, nil
}

func pruneUnreferenced(rec *Record) {
	referenced := make(map[string]struct{}, len(rec.Solutions))
	for _, h := range rec.Solutions {
		referenced[h] = struct{}{}
	}
	for h := range rec.ResultLookup {
		if _, ok := referenced[h]; !ok {
			delete(rec.ResultLookup, h)
		}
	}
}

// Consensus is the outcome of the consensus math over one HLC's votes.
type Consensus struct {
	Needed        int
	HasConsensus  bool
	WinningHash   string
	IdealPossible bool
	EagerPossible bool
	MaxCount      int
}

// neededVotes implements Open Question decision #1: needed = ceil(N *
// consensusPercent / 100) where N excludes the local node's own implicit
// vote, and the comparison used everywhere below is count ≥ needed.
func neededVotes(numMembers, consensusPercent int) int {
	n := numMembers - 1
	if n < 0 {
		n = 0
	}
	needed := int(math.Ceil(float64(n) * float64(consensusPercent) / 100.0))
	if needed < 1 {
		needed = 1
	}
	return needed
}

// evaluate computes the consensus state for rec's current solutions.
func (q *Queue) evaluate(rec *Record) Consensus {
	needed := neededVotes(q.numMembers, q.consensusPercent)
	totalVoters := q.numMembers - 1
	if totalVoters < 0 {
		totalVoters = 0
	}

	counts := make(map[string]int)
	for _, h := range rec.Solutions {
		counts[h]++
	}

	var maxCount, tiedAtMax int
	var winningHash string
	hashes := make([]string, 0, len(counts))
	for h := range counts {
		hashes = append(hashes, h)
	}
	sort.Strings(hashes)
	for _, h := range hashes {
		c := counts[h]
		switch {
		case c > maxCount:
			maxCount = c
			winningHash = h
			tiedAtMax = 1
		case c == maxCount && c > 0:
			tiedAtMax++
			if h < winningHash {
				winningHash = h
			}
		}
	}

	remaining := totalVoters - len(rec.Solutions)
	if remaining < 0 {
		remaining = 0
	}

	eagerPossible := maxCount+remaining >= needed
	idealPossible := eagerPossible && tiedAtMax <= 1
	hasConsensus := maxCount >= needed && maxCount > 0

	return Consensus{
		Needed:        needed,
		HasConsensus:  hasConsensus,
		WinningHash:   winningHash,
		IdealPossible: idealPossible,
		EagerPossible: eagerPossible,
		MaxCount:      maxCount,
	}
}

func (q *Queue) refreshStatusLocked(rec *Record) {
	if rec.Status == Flushed {
		return
	}
	c := q.evaluate(rec)
	switch {
	case c.HasConsensus:
		rec.Status = HasConsensus
	case !c.EagerPossible:
		rec.Status = Stalled
	default:
		rec.Status = Collecting
	}
}

// Evaluate returns the current consensus math for ts, if a record exists.
func (q *Queue) Evaluate(ts hlc.Timestamp) (Consensus, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	rec, ok := q.records[ts]
	if !ok {
		return Consensus{}, false
	}
	return q.evaluate(rec), true
}

// WinningResult returns the ProcessingResult the current winning hash maps
// to, if ts has reached consensus.
func (q *Queue) WinningResult(ts hlc.Timestamp) (chain.ProcessingResult, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	rec, ok := q.records[ts]
	if !ok {
		return chain.ProcessingResult{}, false
	}
	c := q.evaluate(rec)
	if !c.HasConsensus {
		return chain.ProcessingResult{}, false
	}
	pr, ok := rec.ResultLookup[c.WinningHash]
	return pr, ok
}

// ReadyHLCs returns the HLCs currently at HasConsensus, ascending, so the
// minter can commit the earliest one first and keep the chain linear.
func (q *Queue) ReadyHLCs() []hlc.Timestamp {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []hlc.Timestamp
	for ts, rec := range q.records {
		if q.evaluate(rec).HasConsensus {
			out = append(out, ts)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Flush marks ts's record as committed and removes its detail, keeping
// only the tombstone so a late-arriving proof for ts is recognized as
// already decided.
func (q *Queue) Flush(ts hlc.Timestamp) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if rec, ok := q.records[ts]; ok {
		rec.Status = Flushed
		rec.Solutions = nil
		rec.Proofs = nil
		rec.ResultLookup = nil
	}
}

// Record returns the raw record for ts, for diagnostics and tests.
func (q *Queue) Record(ts hlc.Timestamp) (*Record, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	rec, ok := q.records[ts]
	return rec, ok
}
