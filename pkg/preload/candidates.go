// Package preload implements the predictive prefetch scheduler.
//
// The scheduler watches the user's position in the candidate stream and
// keeps a window of nearby items warm: it issues prefetch requests for
// items entering the window, cancels still-queued requests for items
// leaving it, and adapts the forward window length to observed transfer
// latency and queue pressure. It never blocks the navigation path and
// never surfaces prefetch errors.
package preload

import "github.com/moeview/moeview/pkg/booru"

// CandidateList is the externally filtered, ordered browsing stream. The
// scheduler treats it as read-only and only consumes neighborhood queries.
type CandidateList interface {
	// Neighborhood returns the identifiers at positions
	// [pos, pos+forward) followed by [pos-backward, pos), clamped to the
	// list bounds.
	Neighborhood(pos, forward, backward int) []booru.ItemID

	// Len returns the total number of candidates.
	Len() int

	// At returns the identifier at a position.
	At(pos int) (booru.ItemID, bool)
}

// StaticCandidates is a slice-backed CandidateList used by tests and the
// CLI browse command.
type StaticCandidates struct {
	ids []booru.ItemID
}

// NewStaticCandidates wraps an ordered identifier slice.
func NewStaticCandidates(ids []booru.ItemID) *StaticCandidates {
	return &StaticCandidates{ids: ids}
}

// Neighborhood implements CandidateList.
func (s *StaticCandidates) Neighborhood(pos, forward, backward int) []booru.ItemID {
	var out []booru.ItemID

	for p := pos; p < pos+forward && p < len(s.ids); p++ {
		if p < 0 {
			continue
		}
		out = append(out, s.ids[p])
	}
	for p := pos - backward; p < pos; p++ {
		if p < 0 || p >= len(s.ids) {
			continue
		}
		out = append(out, s.ids[p])
	}
	return out
}

// Len implements CandidateList.
func (s *StaticCandidates) Len() int {
	return len(s.ids)
}

// At implements CandidateList.
func (s *StaticCandidates) At(pos int) (booru.ItemID, bool) {
	if pos < 0 || pos >= len(s.ids) {
		return 0, false
	}
	return s.ids[pos], true
}
