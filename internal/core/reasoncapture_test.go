package core

import (
	"errors"
	"testing"

	"github.com/valter-silva-au/tasktrack/pkg/models"
)

func TestReasonCapture_SubmitConsumesPending(t *testing.T) {
	rc := NewReasonCapture()
	rc.Begin("T-1", models.StateBlocked)

	if target, ok := rc.Pending("T-1"); !ok || target != models.StateBlocked {
		t.Fatalf("Pending = %s, %v; want BLOCKED", target, ok)
	}

	req, err := rc.Submit("T-1", models.StateBlocked, "  waiting on vendor\n")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	want := models.TransitionRequest{TaskID: "T-1", TargetState: models.StateBlocked, Reason: "waiting on vendor"}
	if req != want {
		t.Errorf("request = %+v, want %+v", req, want)
	}
	if _, ok := rc.Pending("T-1"); ok {
		t.Error("pending target should be consumed")
	}
}

func TestReasonCapture_EmptyReasonKeepsPending(t *testing.T) {
	rc := NewReasonCapture()
	rc.Begin("T-1", models.StateCancelled)

	for _, reason := range []string{"", "   ", "\t\n"} {
		if _, err := rc.Submit("T-1", models.StateCancelled, reason); !errors.Is(err, ErrEmptyReason) {
			t.Errorf("Submit(%q) err = %v, want ErrEmptyReason", reason, err)
		}
	}
	if target, ok := rc.Pending("T-1"); !ok || target != models.StateCancelled {
		t.Errorf("pending lost after empty reason: %s, %v", target, ok)
	}
}

func TestReasonCapture_NoPending(t *testing.T) {
	rc := NewReasonCapture()
	if _, err := rc.Submit("T-1", models.StateBlocked, "why"); !errors.Is(err, ErrNoPendingTransition) {
		t.Errorf("err = %v, want ErrNoPendingTransition", err)
	}
}

func TestReasonCapture_TargetMismatch(t *testing.T) {
	rc := NewReasonCapture()
	rc.Begin("T-1", models.StateBlocked)

	if _, err := rc.Submit("T-1", models.StateCancelled, "why"); !errors.Is(err, ErrNoPendingTransition) {
		t.Errorf("err = %v, want ErrNoPendingTransition", err)
	}
	if _, ok := rc.Pending("T-1"); !ok {
		t.Error("mismatched submit should not clear the pending target")
	}
}

func TestReasonCapture_BeginReplaces(t *testing.T) {
	rc := NewReasonCapture()
	rc.Begin("T-1", models.StateBlocked)
	rc.Begin("T-1", models.StateCancelled)

	if target, _ := rc.Pending("T-1"); target != models.StateCancelled {
		t.Errorf("Pending = %s, want CANCELLED", target)
	}
}

func TestReasonCapture_PerTask(t *testing.T) {
	rc := NewReasonCapture()
	rc.Begin("T-1", models.StateBlocked)
	rc.Begin("T-2", models.StateCancelled)

	if !rc.Cancel("T-1") {
		t.Error("Cancel(T-1) should report a pending target")
	}
	if rc.Cancel("T-1") {
		t.Error("second Cancel(T-1) should report nothing pending")
	}
	if target, ok := rc.Pending("T-2"); !ok || target != models.StateCancelled {
		t.Errorf("T-2 pending = %s, %v", target, ok)
	}
}
