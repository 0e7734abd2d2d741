package engine

import "fmt"

// --------------------------------------------------------------------------
// Priority classification
// --------------------------------------------------------------------------

// Priority orders notifications for delivery decisions.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// ClassifyContext carries the light relationship context some rules need.
type ClassifyContext struct {
	SenderIsFriend        bool
	PostIsRecent          bool
	UserHasHighEngagement bool
}

// Classification is the ephemeral classifier output. TimeCritical marks
// notifications whose value decays within hours; their pushes skip the
// timing optimizer.
type Classification struct {
	Priority       Priority
	ShouldSendPush bool
	CanBatch       bool
	TimeCritical   bool
}

// pushPolicy decides push eligibility from the classify context.
type pushPolicy int

const (
	pushAlways pushPolicy = iota
	pushIfEngaged
	pushNever
)

type rule struct {
	priority Priority
	push     pushPolicy
	canBatch bool
	timely   bool // push now or not at all; skips the timing optimizer
}

// registry maps each notification type to its delivery rule. Types absent
// from the table fall through to the low/never/batchable default.
var registry = map[NotificationType]rule{
	// Social-critical: always push, never batch.
	TypeFriendRequest: {PriorityHigh, pushAlways, false, false},
	TypeDirectMessage: {PriorityHigh, pushAlways, false, false},

	// Interactions: push only for friends or highly engaged recipients.
	TypePostLike:       {PriorityMedium, pushIfEngaged, true, false},
	TypePostComment:    {PriorityMedium, pushIfEngaged, true, false},
	TypeFollow:         {PriorityMedium, pushIfEngaged, true, false},
	TypeFriendAccepted: {PriorityMedium, pushIfEngaged, true, false},

	// Engine-originated: pushed regardless of relationship context because
	// the recipient has no "sender"; these exist only to reach the user.
	// The at-risk reminder is worthless after local midnight, so it is the
	// one medium-priority push that must not wait for an optimal hour.
	TypeStreakMilestone: {PriorityMedium, pushAlways, false, false},
	TypeStreakAtRisk:    {PriorityMedium, pushAlways, false, true},
	TypeReengagement:    {PriorityMedium, pushAlways, false, false},
}

var defaultRule = rule{PriorityLow, pushNever, true, false}

func init() {
	// The registry is static data; fail fast on a bad edit.
	for t, r := range registry {
		switch r.priority {
		case PriorityHigh, PriorityMedium, PriorityLow:
		default:
			panic(fmt.Sprintf("priority registry: invalid priority %q for %s", r.priority, t))
		}
	}
}

// Classify maps a notification type and optional context to a delivery
// classification. Pure function: no side effects, no I/O.
func Classify(t NotificationType, c ClassifyContext) Classification {
	r, ok := registry[t]
	if !ok {
		r = defaultRule
	}

	push := false
	switch r.push {
	case pushAlways:
		push = true
	case pushIfEngaged:
		push = c.SenderIsFriend || c.UserHasHighEngagement
	case pushNever:
		push = false
	}

	return Classification{
		Priority:       r.priority,
		ShouldSendPush: push,
		CanBatch:       r.canBatch,
		TimeCritical:   r.timely,
	}
}
