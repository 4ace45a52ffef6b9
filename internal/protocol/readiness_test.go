package protocol_test

import (
	"strconv"
	"testing"

	"github.com/a-essam23/go-huddle/internal/protocol"
	"github.com/a-essam23/go-huddle/pkg/store"
)

func itemsBy(phase int, users ...string) []store.Item {
	items := make([]store.Item, 0, len(users))
	for i, u := range users {
		items = append(items, store.Item{ID: "it-" + strconv.Itoa(phase) + "-" + strconv.Itoa(i), Phase: phase, CreatedBy: u})
	}
	return items
}

func withVotes(items []store.Item, votes map[int][]string) []store.Item {
	for idx, voters := range votes {
		for _, v := range voters {
			items[idx].Actions = append(items[idx].Actions, store.Action{ItemID: items[idx].ID, Kind: "vote", CreatedBy: v})
		}
	}
	return items
}

func TestVoteAllowance(t *testing.T) {
	cases := map[int]int{0: 0, 1: 1, 3: 1, 4: 2, 6: 2, 7: 3}
	for total, want := range cases {
		if got := protocol.VoteAllowance(total); got != want {
			t.Errorf("VoteAllowance(%d) = %d, want %d", total, got, want)
		}
	}
}

func TestIsPhaseComplete(t *testing.T) {
	two := []string{"alice", "bob"}

	testCases := []struct {
		name    string
		proto   store.Protocol
		present []string
		want    bool
	}{
		{
			name: "single response with no items",
			proto: store.Protocol{
				Phases: []store.Phase{{Type: store.PhaseSingleResponse}, {Type: store.PhaseFreeform}},
			},
			present: two,
			want:    false,
		},
		{
			name: "single response with one item per participant",
			proto: store.Protocol{
				Phases: []store.Phase{{Type: store.PhaseSingleResponse}, {Type: store.PhaseFreeform}},
				Items:  itemsBy(0, "alice", "alice"),
			},
			present: two,
			want:    true,
		},
		{
			name: "single response ignores items of other phases",
			proto: store.Protocol{
				Phases:       []store.Phase{{Type: store.PhaseFreeform}, {Type: store.PhaseSingleResponse}},
				CurrentPhase: 1,
				Items:        append(itemsBy(0, "alice", "bob"), itemsBy(1, "alice")...),
			},
			present: two,
			want:    false,
		},
		{
			name: "minimum item count below threshold",
			proto: store.Protocol{
				Phases: []store.Phase{{Type: store.PhaseMinimumItemCount, Data: []byte(`{"min":3}`)}},
				Items:  itemsBy(0, "alice", "bob"),
			},
			present: two,
			want:    false,
		},
		{
			name: "minimum item count reached",
			proto: store.Protocol{
				Phases: []store.Phase{{Type: store.PhaseMinimumItemCount, Data: []byte(`{"min":2}`)}},
				Items:  itemsBy(0, "alice", "bob"),
			},
			present: two,
			want:    true,
		},
		{
			name: "voting with allowance not used up",
			proto: store.Protocol{
				Phases:       []store.Phase{{Type: store.PhaseFreeform}, {Type: store.PhaseVoteOnContentList}},
				CurrentPhase: 1,
				Items:        withVotes(itemsBy(0, "a", "b", "c", "d", "e", "f"), map[int][]string{0: {"alice", "bob"}, 1: {"alice"}}),
			},
			present: two,
			want:    false,
		},
		{
			name: "voting with every allowance used",
			proto: store.Protocol{
				Phases:       []store.Phase{{Type: store.PhaseFreeform}, {Type: store.PhaseVoteOnContentList}},
				CurrentPhase: 1,
				Items:        withVotes(itemsBy(0, "a", "b", "c", "d", "e", "f"), map[int][]string{0: {"alice", "bob"}, 1: {"alice", "bob"}}),
			},
			present: two,
			want:    true,
		},
		{
			name: "one contribution missing a participant",
			proto: store.Protocol{
				Phases: []store.Phase{{Type: store.PhaseContributionFromEach}},
				Items:  itemsBy(0, "alice", "alice", "carol"),
			},
			present: two,
			want:    false,
		},
		{
			name: "one contribution from everyone",
			proto: store.Protocol{
				Phases: []store.Phase{{Type: store.PhaseContributionFromEach}},
				Items:  itemsBy(0, "bob", "alice"),
			},
			present: two,
			want:    true,
		},
		{
			name: "unknown policy is ungated",
			proto: store.Protocol{
				Phases: []store.Phase{{Type: "Brainstorm"}},
			},
			present: two,
			want:    true,
		},
		{
			name: "unspecified policy is ungated",
			proto: store.Protocol{
				Phases: []store.Phase{{}},
			},
			present: two,
			want:    true,
		},
		{
			name:    "phase index out of range",
			proto:   store.Protocol{CurrentPhase: 2, Phases: []store.Phase{{}}},
			present: two,
			want:    false,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := protocol.IsPhaseComplete(&tc.proto, tc.present); got != tc.want {
				t.Errorf("IsPhaseComplete() = %v, want %v", got, tc.want)
			}
		})
	}
}

// Readiness must not depend on the cached flag or on previous evaluations.
func TestIsPhaseCompleteIgnoresCachedFlag(t *testing.T) {
	p := store.Protocol{
		Phases: []store.Phase{{Type: store.PhaseSingleResponse}},
		Items:  itemsBy(0, "alice"),
	}
	present := []string{"alice", "bob"}

	p.ReadyForNextPhase = true
	first := protocol.IsPhaseComplete(&p, present)
	p.ReadyForNextPhase = false
	second := protocol.IsPhaseComplete(&p, present)

	if first || second {
		t.Fatalf("expected not ready regardless of cache, got %v then %v", first, second)
	}
}

func TestActionsBy(t *testing.T) {
	p := store.Protocol{Items: withVotes(itemsBy(0, "x", "y"), map[int][]string{0: {"alice", "bob"}, 1: {"alice"}})}
	if got := protocol.ActionsBy(&p, "alice"); got != 2 {
		t.Errorf("ActionsBy(alice) = %d, want 2", got)
	}
	if got := protocol.ActionsBy(&p, "carol"); got != 0 {
		t.Errorf("ActionsBy(carol) = %d, want 0", got)
	}
}
