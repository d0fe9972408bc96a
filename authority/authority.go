// Package authority implements the Authority Manager (spec §4.1): the
// three-roster membership table (current/last/next) that backs quorum
// threshold checks and proposer selection.
package authority

import (
	"sort"

	"github.com/holiman/uint256"

	"mlm/types"
)

// ErrThresholdBelow is returned by IsAboveThreshold when the supplied
// bitmap's weight does not exceed two-thirds of the current roster's total
// vote weight.
type ErrThresholdBelow struct{}

func (ErrThresholdBelow) Error() string { return "authority: bitmap weight below threshold" }

// ErrUnknownVoter is returned by GetVoters when a set bit in the bitmap
// addresses a position outside the current roster.
type ErrUnknownVoter struct{ Bit int }

func (e ErrUnknownVoter) Error() string {
	return "authority: bitmap bit references no roster member"
}

// roster is a canonically sorted snapshot of one height's authority list,
// plus the cumulative weight tables used for threshold and proposer math.
type roster struct {
	members      []types.Node // sorted by Address, ascending
	totalVote    *uint256.Int
	totalPropose *uint256.Int
}

func newRoster(nodes []types.Node) *roster {
	members := make([]types.Node, len(nodes))
	copy(members, nodes)
	sort.Slice(members, func(i, j int) bool {
		return string(members[i].Address) < string(members[j].Address)
	})

	totalVote := uint256.NewInt(0)
	totalPropose := uint256.NewInt(0)
	for _, m := range members {
		totalVote.Add(totalVote, uint256.NewInt(m.VoteWeight))
		totalPropose.Add(totalPropose, uint256.NewInt(m.ProposeWeight))
	}
	return &roster{members: members, totalVote: totalVote, totalPropose: totalPropose}
}

func (r *roster) indexOf(addr types.Address) int {
	return sort.Search(len(r.members), func(i int) bool {
		return string(r.members[i].Address) >= string(addr)
	})
}

func (r *roster) voteWeight(addr types.Address) uint64 {
	i := r.indexOf(addr)
	if i < len(r.members) && r.members[i].Address.Equal(addr) {
		return r.members[i].VoteWeight
	}
	return 0
}

// bitmapLen returns the number of bytes needed to address len(members) bits.
func bitmapLen(n int) int {
	return (n + 7) / 8
}

func bitSet(bitmap []byte, i int) bool {
	byteIdx := i / 8
	if byteIdx >= len(bitmap) {
		return false
	}
	return bitmap[byteIdx]&(1<<(uint(i)%8)) != 0
}

// Manager holds the current/last/next rosters and rotates them on every
// height commit (spec §4.1).
type Manager struct {
	current *roster
	last    *roster
	next    *roster
}

// New constructs a Manager seeded with the genesis roster in all three
// slots, so height 1's threshold checks have a well-defined "last".
func New(genesis []types.Node) *Manager {
	r := newRoster(genesis)
	return &Manager{current: r, last: r, next: r}
}

// Rotate advances the rosters on a height commit: last <- current,
// current <- next, next <- the newly announced list (spec §4.1). Passing
// a nil or empty list for the next roster keeps next unchanged (no
// membership change was announced for the height after next).
func (m *Manager) Rotate(announcedNext []types.Node) {
	m.last = m.current
	m.current = m.next
	if len(announcedNext) > 0 {
		m.next = newRoster(announcedNext)
	}
}

// IsAboveThreshold reports whether the weighted vote power of the set bits
// in bitmap exceeds two-thirds of the current roster's total vote weight.
func (m *Manager) IsAboveThreshold(bitmap []byte) error {
	sum := uint256.NewInt(0)
	for i, node := range m.current.members {
		if bitSet(bitmap, i) {
			sum.Add(sum, uint256.NewInt(node.VoteWeight))
		}
	}
	threshold := new(uint256.Int).Mul(m.current.totalVote, uint256.NewInt(2))
	threshold.Div(threshold, uint256.NewInt(3))
	if sum.Cmp(threshold) <= 0 {
		return ErrThresholdBelow{}
	}
	return nil
}

// GetVoters resolves the bitmap into the ordered list of addresses it
// names, erroring if any set bit lies outside the current roster.
func (m *Manager) GetVoters(bitmap []byte) ([]types.Address, error) {
	var out []types.Address
	for i, node := range m.current.members {
		if bitSet(bitmap, i) {
			out = append(out, node.Address)
		}
	}
	maxBit := len(bitmap) * 8
	for i := len(m.current.members); i < maxBit; i++ {
		if bitSet(bitmap, i) {
			return nil, ErrUnknownVoter{Bit: i}
		}
	}
	return out, nil
}

// GetVoteWeight returns addr's vote weight in the current roster, zero if
// addr is not a member.
func (m *Manager) GetVoteWeight(addr types.Address) uint64 {
	return m.current.voteWeight(addr)
}

// GetProposer selects the weighted round-robin proposer of (height, round)
// from the current roster. Selection is deterministic across all correct
// nodes: it walks the canonically sorted roster in cumulative-weight order,
// picking the member whose weight band contains
// (height*31 + round) mod totalProposeWeight — an arithmetic seed rather
// than a hash so the state driver's pure Go collaborators never need a
// Crypto call just to pick a proposer. Ties (zero total propose weight)
// fall back to plain round-robin over the roster order.
func (m *Manager) GetProposer(height types.Height, round types.Round) types.Address {
	r := m.current
	if len(r.members) == 0 {
		return nil
	}
	if r.totalPropose.IsZero() {
		return r.members[(uint64(height)+uint64(round))%uint64(len(r.members))].Address
	}

	seed := new(uint256.Int).Mul(uint256.NewInt(uint64(height)), uint256.NewInt(31))
	seed.Add(seed, uint256.NewInt(uint64(round)))
	pick := new(uint256.Int).Mod(seed, r.totalPropose)

	running := uint256.NewInt(0)
	for _, node := range r.members {
		running.Add(running, uint256.NewInt(node.ProposeWeight))
		if pick.Lt(running) {
			return node.Address
		}
	}
	return r.members[len(r.members)-1].Address
}

// CurrentSize reports the current roster's member count, used only for the
// NewHeight event's diagnostic AuthoritySize field.
func (m *Manager) CurrentSize() int {
	return len(m.current.members)
}

// BitmapFor builds the current roster's bitmap with exactly the bits for
// addrs set, for threshold checks over an ad hoc address set (e.g. a choke
// set) rather than a stored per-voter signature bucket.
func (m *Manager) BitmapFor(addrs []types.Address) []byte {
	bitmap := make([]byte, bitmapLen(len(m.current.members)))
	for _, addr := range addrs {
		i := m.current.indexOf(addr)
		if i < len(m.current.members) && m.current.members[i].Address.Equal(addr) {
			bitmap[i/8] |= 1 << (uint(i) % 8)
		}
	}
	return bitmap
}

// Snapshot returns the current roster in canonical (address-sorted) order,
// the fixed index space bitmaps address. Callers must not mutate it.
func (m *Manager) Snapshot() []types.Node {
	return m.current.members
}
