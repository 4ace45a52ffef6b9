package protocol

import (
	"github.com/a-essam23/go-huddle/pkg/store"
	"github.com/tidwall/gjson"
)

// VoteAllowance is how many actions each participant may hold across a
// protocol with totalItems items.
func VoteAllowance(totalItems int) int {
	return (totalItems + 2) / 3
}

// IsPhaseComplete evaluates the current phase's completion policy. present
// must hold the distinct authenticated user ids in the meeting right now; it
// never reads p.ReadyForNextPhase.
func IsPhaseComplete(p *store.Protocol, present []string) bool {
	if p == nil || p.CurrentPhase < 0 || p.CurrentPhase >= len(p.Phases) {
		return false
	}
	phase := p.Phases[p.CurrentPhase]
	items := p.ItemsInPhase(p.CurrentPhase)

	switch phase.Type {
	case store.PhaseSingleResponse:
		return len(items) >= len(present)

	case store.PhaseMinimumItemCount:
		min := gjson.GetBytes(phase.Data, "min").Int()
		return int64(len(items)) >= min

	case store.PhaseVoteOnContentList:
		allowance := VoteAllowance(len(p.Items))
		return len(p.AllActions()) == allowance*len(present)

	case store.PhaseContributionFromEach:
		contributed := make(map[string]struct{}, len(items))
		for _, it := range items {
			contributed[it.CreatedBy] = struct{}{}
		}
		for _, user := range present {
			if _, ok := contributed[user]; !ok {
				return false
			}
		}
		return true

	default:
		return true
	}
}

// ActionsBy counts the actions userID holds across the protocol.
func ActionsBy(p *store.Protocol, userID string) int {
	n := 0
	for _, a := range p.AllActions() {
		if a.CreatedBy == userID {
			n++
		}
	}
	return n
}
