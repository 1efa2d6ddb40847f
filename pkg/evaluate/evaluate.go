// Package evaluate ranks concluded proposals and decides promotion. Ranking
// is a total order over accepted proposals: accuracy descending, then latency
// ascending, then cost per call ascending. The top-ranked proposal of a run
// is promoted only when it strictly improves on the goal's current best.
package evaluate

import (
	"sort"

	"github.com/teleologic/telos/pkg/storage"
)

// accepted reports whether a proposal is eligible for ranking. Agentic
// proposals passed their run as valid terminal outcomes and compete on the
// same key as program proposals.
func accepted(p *storage.Proposal) bool {
	return p.Status == storage.ProposalStatusAccepted || p.Status == storage.ProposalStatusAgentic
}

// Rank returns the accepted proposals in ranking order. Rejected proposals
// are filtered out; the input slice is not modified.
func Rank(proposals []*storage.Proposal) []*storage.Proposal {
	ranked := make([]*storage.Proposal, 0, len(proposals))
	for _, p := range proposals {
		if accepted(p) {
			ranked = append(ranked, p)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return Better(ranked[i], ranked[j])
	})
	return ranked
}

// Better reports whether a ranks strictly above b on the
// accuracy/latency/cost key. Equal keys return false, which is what makes
// promotion strict: a challenger that merely ties the incumbent loses.
func Better(a, b *storage.Proposal) bool {
	if a.Accuracy != b.Accuracy {
		return a.Accuracy > b.Accuracy
	}
	if a.LatencyMS != b.LatencyMS {
		return a.LatencyMS < b.LatencyMS
	}
	return a.CostPerCall < b.CostPerCall
}

// Decision records the outcome of a promotion comparison.
type Decision struct {
	Winner    *storage.Proposal `json:"winner,omitempty"`
	Promoted  bool              `json:"promoted"`
	Incumbent *storage.Proposal `json:"incumbent,omitempty"`
	// Speedup is incumbent latency divided by winner latency, or zero when
	// there was no incumbent to compare against.
	Speedup float64 `json:"speedup,omitempty"`
}

// Decide picks the run's winner and compares it against the goal's current
// top proposal. incumbent may be nil (empty registry), in which case any
// accepted proposal is promoted. The decision never demotes: a run with no
// accepted proposals or a losing winner leaves the registry untouched.
func Decide(runProposals []*storage.Proposal, incumbent *storage.Proposal) *Decision {
	ranked := Rank(runProposals)
	if len(ranked) == 0 {
		return &Decision{Incumbent: incumbent}
	}

	winner := ranked[0]
	d := &Decision{Winner: winner, Incumbent: incumbent}
	if incumbent == nil {
		d.Promoted = true
		return d
	}

	d.Promoted = Better(winner, incumbent)
	if winner.LatencyMS > 0 {
		d.Speedup = incumbent.LatencyMS / winner.LatencyMS
	}
	return d
}
