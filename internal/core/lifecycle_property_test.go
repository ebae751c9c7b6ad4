package core

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/valter-silva-au/tasktrack/pkg/models"
	"pgregory.net/rapid"
)

// =============================================================================
// Generators
// =============================================================================

func genState(t *rapid.T, label string) models.State {
	return rapid.SampledFrom(models.AllStates).Draw(t, label)
}

func genPrincipal(t *rapid.T) models.Principal {
	return models.Principal{
		ID:   rapid.SampledFrom([]string{"", "u-admin", "u-pm", "u-dev", "u-other", "u-guest"}).Draw(t, "principalID"),
		Role: rapid.SampledFrom(models.AllRoles).Draw(t, "role"),
	}
}

func genTask(t *rapid.T) *models.Task {
	task := &models.Task{
		ID:       "T-1",
		Title:    "generated",
		State:    genState(t, "state"),
		Priority: rapid.SampledFrom(models.AllPriorities).Draw(t, "priority"),
		Project:  models.ProjectRef{ID: "P-1"},
	}
	if rapid.Bool().Draw(t, "hasAssignee") {
		task.Assignee = &models.UserRef{ID: rapid.SampledFrom([]string{"u-dev", "u-other", "u-pm"}).Draw(t, "assignee")}
	}
	if rapid.Bool().Draw(t, "hasManager") {
		task.Project.ProjectManager = &models.UserRef{ID: rapid.SampledFrom([]string{"u-pm", "u-admin", "u-dev"}).Draw(t, "manager")}
	}
	return task
}

func genCaps(t *rapid.T) models.CapabilitySet {
	return models.CapabilitySet{
		CanEditTask:         rapid.Bool().Draw(t, "edit"),
		CanDeleteTask:       rapid.Bool().Draw(t, "delete"),
		CanChangeState:      rapid.Bool().Draw(t, "change"),
		CanComment:          rapid.Bool().Draw(t, "comment"),
		CanUploadAttachment: rapid.Bool().Draw(t, "upload"),
	}
}

// =============================================================================
// Properties
// =============================================================================

// Property 1: the resolver is pure. The same inputs always give the same
// capability set and never modify the task.
func TestProperty1_ResolverIsPure(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		p := genPrincipal(rt)
		task := genTask(rt)
		before := task.Clone()

		first := ResolveCapabilities(p, task)
		second := ResolveCapabilities(p, task)
		if first != second {
			rt.Fatalf("ResolveCapabilities not deterministic: %+v vs %+v", first, second)
		}
		if task.State != before.State || task.AssigneeID() != before.AssigneeID() || task.ProjectManagerID() != before.ProjectManagerID() {
			rt.Fatal("ResolveCapabilities modified the task")
		}
	})
}

// Property 2: with canChangeState, every target other than BLOCKED and
// CANCELLED is Allowed from every state, with or without a reason.
func TestProperty2_UnguardedTargetsAlwaysAllowed(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		caps := genCaps(rt)
		caps.CanChangeState = true
		current := genState(rt, "current")
		target := rapid.SampledFrom([]models.State{
			models.StateBacklog, models.StateInAnalysis, models.StateInDevelopment, models.StateCompleted,
		}).Draw(rt, "target")

		reason := rapid.Bool().Draw(rt, "reason")
		if got := EvaluateTransition(caps, current, target, reason); got != models.DecisionAllowed {
			rt.Fatalf("%s -> %s = %s, want Allowed", current, target, got)
		}
	})
}

// Property 3: without canChangeState every request is Unauthorized.
func TestProperty3_NoCapabilityAlwaysUnauthorized(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		caps := genCaps(rt)
		caps.CanChangeState = false
		got := EvaluateTransition(caps, genState(rt, "current"), genState(rt, "target"), rapid.Bool().Draw(rt, "reason"))
		if got != models.DecisionUnauthorized {
			rt.Fatalf("got %s, want Unauthorized", got)
		}
	})
}

// Property 4: BLOCKED is InvalidPrecondition outside IN_ANALYSIS and
// IN_DEVELOPMENT, and NeedsReason inside them until a reason is supplied.
// CANCELLED is NeedsReason from every state until a reason is supplied.
func TestProperty4_GuardedTargets(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		current := genState(rt, "current")
		reason := rapid.Bool().Draw(rt, "reason")

		blocked := EvaluateTransition(canChange, current, models.StateBlocked, reason)
		inWork := current == models.StateInAnalysis || current == models.StateInDevelopment
		switch {
		case !inWork && blocked != models.DecisionInvalidPrecondition:
			rt.Fatalf("BLOCKED from %s = %s, want InvalidPrecondition", current, blocked)
		case inWork && !reason && blocked != models.DecisionNeedsReason:
			rt.Fatalf("BLOCKED from %s without reason = %s, want NeedsReason", current, blocked)
		case inWork && reason && blocked != models.DecisionAllowed:
			rt.Fatalf("BLOCKED from %s with reason = %s, want Allowed", current, blocked)
		}

		cancelled := EvaluateTransition(canChange, current, models.StateCancelled, reason)
		want := models.DecisionNeedsReason
		if reason {
			want = models.DecisionAllowed
		}
		if cancelled != want {
			rt.Fatalf("CANCELLED from %s (reason=%v) = %s, want %s", current, reason, cancelled, want)
		}
	})
}

// Property 5: a whitespace-only reason never produces an API call and leaves
// the transition pending.
func TestProperty5_WhitespaceReasonNeverReachesAPI(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		target := rapid.SampledFrom([]models.State{models.StateBlocked, models.StateCancelled}).Draw(rt, "target")
		reason := rapid.StringMatching(`[ \t\n\r]{0,8}`).Draw(rt, "reason")

		api := newFakeAPI(sampleTask(models.StateInDevelopment))
		engine := NewLifecycleEngine(adminP, api, EngineOptions{})
		if _, err := engine.Load(context.Background(), "T-1"); err != nil {
			rt.Fatalf("Load: %v", err)
		}
		if d, err := engine.RequestTransition(context.Background(), target); err != nil || d != models.DecisionNeedsReason {
			rt.Fatalf("RequestTransition = %s, %v", d, err)
		}

		_, err := engine.SubmitReason(context.Background(), target, reason)
		if !errors.Is(err, ErrEmptyReason) {
			rt.Fatalf("SubmitReason(%q) err = %v, want ErrEmptyReason", reason, err)
		}
		if n := len(api.calls()); n != 0 {
			rt.Fatalf("API called %d times", n)
		}
		if pending, ok := engine.PendingTarget(); !ok || pending != target {
			rt.Fatalf("pending = %s, %v; want %s still pending", pending, ok, target)
		}
	})
}

// Property 6: a submitted reason reaches the API trimmed.
func TestProperty6_ReasonIsTrimmed(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		body := rapid.StringMatching(`[a-zA-Z0-9][a-zA-Z0-9 ]{0,20}[a-zA-Z0-9]`).Draw(rt, "body")
		pad := rapid.StringMatching(`[ \t]{0,4}`)
		reason := pad.Draw(rt, "left") + body + pad.Draw(rt, "right")

		rc := NewReasonCapture()
		rc.Begin("T-1", models.StateCancelled)
		req, err := rc.Submit("T-1", models.StateCancelled, reason)
		if err != nil {
			rt.Fatalf("Submit: %v", err)
		}
		if req.Reason != strings.TrimSpace(reason) {
			rt.Fatalf("Reason = %q, want %q", req.Reason, strings.TrimSpace(reason))
		}
	})
}

// Property 7: whatever order responses arrive in, the aggregate ends with
// the response of the highest sequence number.
func TestProperty7_HighestSequenceWins(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 8).Draw(rt, "n")
		order := rapid.Permutation(seqRange(n)).Draw(rt, "order")

		agg := NewTaskAggregate(adminP)
		states := make(map[uint64]models.State, n)
		for _, seq := range order {
			task := sampleTask(genState(rt, "state"))
			states[seq] = task.State
			agg.ReplaceIfNewer(task, seq)
		}

		snap := agg.Snapshot()
		if snap.Seq != uint64(n) {
			rt.Fatalf("Seq = %d, want %d", snap.Seq, n)
		}
		if snap.Task.State != states[uint64(n)] {
			rt.Fatalf("State = %s, want %s", snap.Task.State, states[uint64(n)])
		}
	})
}

func seqRange(n int) []uint64 {
	out := make([]uint64, n)
	for i := range out {
		out[i] = uint64(i + 1)
	}
	return out
}
