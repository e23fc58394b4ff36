package audit

import (
	"strings"
	"testing"
	"time"

	"github.com/appguard/appguard/internal/store"
)

func TestGenerateSplitsOutcomes(t *testing.T) {
	t.Parallel()

	started := time.Date(2026, 2, 10, 8, 0, 0, 0, time.UTC)
	finished := started.Add(3 * time.Second)
	req := store.OffboardingRequest{
		ID:             "req-1",
		TenantID:       "t1",
		UserID:         "u1",
		Status:         store.RequestStatusPartial,
		TotalTasks:     3,
		CompletedTasks: 1,
		FailedTasks:    1,
		StartedAt:      &started,
		FinishedAt:     &finished,
	}
	user := store.User{ID: "u1", Email: "leaver@example.com"}
	tasks := []store.OffboardingTask{
		{TaskType: "revoke_sso", AppName: "Slack", Status: store.TaskStatusCompleted, Result: "revoked SSO access to Slack"},
		{TaskType: "revoke_sso", AppName: "Figma", Status: store.TaskStatusFailed, ErrorMessage: "store unavailable", RetryCount: 1},
		{TaskType: "revoke_oauth", Status: store.TaskStatusSkipped},
	}

	report := Generate(req, user, tasks)

	if len(report.Tasks) != 3 {
		t.Fatalf("tasks = %d, want 3", len(report.Tasks))
	}
	if len(report.FailedTasks) != 1 || report.FailedTasks[0].AppName != "Figma" {
		t.Fatalf("failed tasks = %+v", report.FailedTasks)
	}
	if report.Skipped != 1 {
		t.Errorf("skipped = %d, want 1", report.Skipped)
	}
	if report.GeneratedAt.IsZero() {
		t.Error("GeneratedAt not set")
	}
}

func TestTextListsFailedTasksWithFollowUp(t *testing.T) {
	t.Parallel()

	started := time.Date(2026, 2, 10, 8, 0, 0, 0, time.UTC)
	finished := started.Add(1500 * time.Millisecond)
	report := Generate(
		store.OffboardingRequest{
			ID:             "req-2",
			Status:         store.RequestStatusPartial,
			TotalTasks:     2,
			CompletedTasks: 1,
			FailedTasks:    1,
			StartedAt:      &started,
			FinishedAt:     &finished,
		},
		store.User{ID: "u1", Email: "leaver@example.com"},
		[]store.OffboardingTask{
			{TaskType: "revoke_sso", AppName: "Slack", Status: store.TaskStatusCompleted, Result: "revoked SSO access to Slack"},
			{TaskType: "revoke_sso", AppName: "Figma", Status: store.TaskStatusFailed, ErrorMessage: "connection refused"},
		},
	)

	text := report.Text()
	for _, want := range []string{
		"Offboarding report for request req-2",
		"leaver@example.com",
		"Duration: 1.5s",
		"2 total, 1 completed, 1 failed",
		"manual follow-up",
		"Figma",
		"connection refused",
		"admin console",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("report text missing %q:\n%s", want, text)
		}
	}
}

func TestTextWithoutFailuresOmitsFollowUp(t *testing.T) {
	t.Parallel()

	report := Generate(
		store.OffboardingRequest{ID: "req-3", Status: store.RequestStatusCompleted, TotalTasks: 1, CompletedTasks: 1},
		store.User{ID: "u1"},
		[]store.OffboardingTask{
			{TaskType: "revoke_oauth", Status: store.TaskStatusCompleted, Result: "no OAuth grants found"},
		},
	)
	if strings.Contains(report.Text(), "follow-up") {
		t.Errorf("clean report should not mention follow-up:\n%s", report.Text())
	}
}
