// Package collector implements the Vote Collector (spec §4.2): the nested
// per-(height, round, vote type) map of votes and choke signals a driver
// consults to discover quorum certificates.
package collector

import (
	"sort"
	"sync"

	"mlm/authority"
	"mlm/types"
)

// entry records one voter's contribution to a (height, round, type,
// blockHash) bucket.
type entry struct {
	voter types.Address
	sig   types.Signature
}

// bucket is all votes seen so far for one (height, round, type, blockHash).
// voters is kept as a map for idempotent insertion and converted to a
// canonical slice only when a QC is assembled.
type bucket struct {
	voters map[string]entry
	order  []string // insertion order, used to recover "crossed threshold first"
}

func newBucket() *bucket {
	return &bucket{voters: make(map[string]entry)}
}

func (b *bucket) insert(e entry) (isNew bool) {
	key := string(e.voter)
	if _, ok := b.voters[key]; ok {
		return false
	}
	b.voters[key] = e
	b.order = append(b.order, key)
	return true
}

func (b *bucket) bitmapAndSignatures(members []types.Node) ([]byte, []types.SignatureWithAddress) {
	bitmapLen := (len(members) + 7) / 8
	bitmap := make([]byte, bitmapLen)
	var sigs []types.SignatureWithAddress
	for i, m := range members {
		if e, ok := b.voters[string(m.Address)]; ok {
			bitmap[i/8] |= 1 << (uint(i) % 8)
			sigs = append(sigs, types.SignatureWithAddress{Signature: e.sig, Address: m.Address})
		}
	}
	return bitmap, sigs
}

// key identifies one (height, round, voteType) cell of the three-key map.
type key struct {
	height types.Height
	round  types.Round
	typ    types.VoteType
}

// Collector is the Vote Collector plus the per-height choke set. It holds
// no knowledge of thresholds itself; callers supply an authority.Manager
// snapshot to resolve bitmap weight. This keeps Collector reusable across
// an authority roster rotation without itself depending on rotation
// timing.
type Collector struct {
	mu      sync.Mutex
	buckets map[key]map[types.Hash]*bucket // blockHash -> bucket
	reached map[key]types.Hash             // first blockHash to cross threshold, if any

	chokes map[types.Height]map[types.Round]map[string]bool
}

// New constructs an empty Collector.
func New() *Collector {
	return &Collector{
		buckets: make(map[key]map[types.Hash]*bucket),
		reached: make(map[key]types.Hash),
		chokes:  make(map[types.Height]map[types.Round]map[string]bool),
	}
}

// InsertVote idempotently records sv. It returns whether this insertion is
// the first to push some blockHash bucket above the authority manager's
// two-thirds threshold — i.e. whether a new QC just became reachable.
func (c *Collector) InsertVote(sv types.SignedVote, am *authority.Manager) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := key{sv.Vote.Height, sv.Vote.Round, sv.Vote.VoteType}
	byHash, ok := c.buckets[k]
	if !ok {
		byHash = make(map[types.Hash]*bucket)
		c.buckets[k] = byHash
	}
	b, ok := byHash[sv.Vote.BlockHash]
	if !ok {
		b = newBucket()
		byHash[sv.Vote.BlockHash] = b
	}

	if !b.insert(entry{voter: sv.Vote.Voter, sig: sv.Signature}) {
		return false // duplicate from an already-seen voter
	}

	if _, already := c.reached[k]; already {
		return false // some bucket for this key already reached quorum
	}

	bitmap, _ := b.bitmapAndSignatures(am.Snapshot())
	if am.IsAboveThreshold(bitmap) == nil {
		c.reached[k] = sv.Vote.BlockHash
		return true
	}
	return false
}

// TryGetQC returns the assembled QC for (h, r, t) once some blockHash
// bucket has reached quorum, aggregating the stored per-voter signatures
// via crypto. It returns (nil, nil) if no bucket has reached quorum yet.
//
// aggregate is supplied by the caller (the state driver's Crypto
// collaborator) rather than called directly here, keeping Collector free
// of any cryptographic dependency — it only tracks who voted for what.
func (c *Collector) TryGetQC(h types.Height, r types.Round, t types.VoteType, am *authority.Manager,
	aggregate func([]types.SignatureWithAddress) (types.AggregateSignature, error)) (*types.AggregatedVote, error) {
	c.mu.Lock()
	k := key{h, r, t}
	blockHash, ok := c.reached[k]
	if !ok {
		c.mu.Unlock()
		return nil, nil
	}
	b := c.buckets[k][blockHash]
	bitmap, sigs := b.bitmapAndSignatures(am.Snapshot())
	c.mu.Unlock()

	agg, err := aggregate(sigs)
	if err != nil {
		return nil, err
	}
	agg.AddressBitmap = bitmap
	return &types.AggregatedVote{
		Height:    h,
		Round:     r,
		VoteType:  t,
		BlockHash: blockHash,
		Signature: agg,
	}, nil
}

// GetBlockHashes returns every distinct blockHash with at least one vote
// for (h, r, t), used to detect the f+1 distinct-height/round observations
// that trigger leap-ahead (spec §4.5).
func (c *Collector) GetBlockHashes(h types.Height, r types.Round, t types.VoteType) []types.Hash {
	c.mu.Lock()
	defer c.mu.Unlock()
	byHash, ok := c.buckets[key{h, r, t}]
	if !ok {
		return nil
	}
	hashes := make([]types.Hash, 0, len(byHash))
	for hash := range byHash {
		hashes = append(hashes, hash)
	}
	sort.Slice(hashes, func(i, j int) bool { return string(hashes[i][:]) < string(hashes[j][:]) })
	return hashes
}

// InsertChoke records from's choke vote for (h, r), idempotently.
func (c *Collector) InsertChoke(h types.Height, r types.Round, from types.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	byRound, ok := c.chokes[h]
	if !ok {
		byRound = make(map[types.Round]map[string]bool)
		c.chokes[h] = byRound
	}
	set, ok := byRound[r]
	if !ok {
		set = make(map[string]bool)
		byRound[r] = set
	}
	set[string(from)] = true
}

// ChokeAddresses returns the distinct addresses that have choked (h, r),
// for threshold evaluation against the Authority Manager.
func (c *Collector) ChokeAddresses(h types.Height, r types.Round) []types.Address {
	c.mu.Lock()
	defer c.mu.Unlock()
	byRound, ok := c.chokes[h]
	if !ok {
		return nil
	}
	set, ok := byRound[r]
	if !ok {
		return nil
	}
	out := make([]types.Address, 0, len(set))
	for addr := range set {
		out = append(out, types.Address(addr))
	}
	return out
}

// ChokeCount reports how many distinct addresses have choked (h, r).
func (c *Collector) ChokeCount(h types.Height, r types.Round) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if byRound, ok := c.chokes[h]; ok {
		if set, ok := byRound[r]; ok {
			return len(set)
		}
	}
	return 0
}

// Flush discards every record strictly below height, per spec §4.2.
func (c *Collector) Flush(height types.Height) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.buckets {
		if k.height < height {
			delete(c.buckets, k)
			delete(c.reached, k)
		}
	}
	for h := range c.chokes {
		if h < height {
			delete(c.chokes, h)
		}
	}
}
