// Package audit renders finished offboarding requests into structured and
// human-readable reports.
package audit

import (
	"fmt"
	"strings"
	"time"

	"github.com/appguard/appguard/internal/store"
)

// TaskEntry is one task as it appears in a report.
type TaskEntry struct {
	Type       string
	AppName    string
	Status     string
	Result     string
	Error      string
	RetryCount int
}

// Report is the structured audit record for one offboarding run.
type Report struct {
	RequestID   string
	TenantID    string
	UserID      string
	UserEmail   string
	Status      string
	StartedAt   *time.Time
	FinishedAt  *time.Time
	TotalTasks  int
	Completed   int
	Failed      int
	Skipped     int
	Tasks       []TaskEntry
	FailedTasks []TaskEntry
	GeneratedAt time.Time
}

// Generate builds the report for a request and its tasks.
func Generate(req store.OffboardingRequest, user store.User, tasks []store.OffboardingTask) Report {
	report := Report{
		RequestID:   req.ID,
		TenantID:    req.TenantID,
		UserID:      req.UserID,
		UserEmail:   user.Email,
		Status:      req.Status,
		StartedAt:   req.StartedAt,
		FinishedAt:  req.FinishedAt,
		TotalTasks:  req.TotalTasks,
		Completed:   req.CompletedTasks,
		Failed:      req.FailedTasks,
		GeneratedAt: time.Now().UTC(),
	}
	for _, task := range tasks {
		entry := TaskEntry{
			Type:       task.TaskType,
			AppName:    task.AppName,
			Status:     task.Status,
			Result:     task.Result,
			Error:      task.ErrorMessage,
			RetryCount: task.RetryCount,
		}
		report.Tasks = append(report.Tasks, entry)
		switch task.Status {
		case store.TaskStatusFailed:
			report.FailedTasks = append(report.FailedTasks, entry)
		case store.TaskStatusSkipped:
			report.Skipped++
		}
	}
	return report
}

// Text renders the report for humans. Failed tasks are listed with a
// manual follow-up recommendation.
func (r Report) Text() string {
	var b strings.Builder

	fmt.Fprintf(&b, "Offboarding report for request %s\n", r.RequestID)
	if r.UserEmail != "" {
		fmt.Fprintf(&b, "User: %s (%s)\n", r.UserEmail, r.UserID)
	} else {
		fmt.Fprintf(&b, "User: %s\n", r.UserID)
	}
	fmt.Fprintf(&b, "Status: %s\n", r.Status)
	if r.StartedAt != nil && r.FinishedAt != nil {
		fmt.Fprintf(&b, "Duration: %s\n", r.FinishedAt.Sub(*r.StartedAt).Round(time.Millisecond))
	}
	fmt.Fprintf(&b, "Tasks: %d total, %d completed, %d failed, %d skipped\n",
		r.TotalTasks, r.Completed, r.Failed, r.Skipped)

	b.WriteString("\nTask breakdown:\n")
	for _, task := range r.Tasks {
		fmt.Fprintf(&b, "  [%s] %s", task.Status, task.Type)
		if task.AppName != "" {
			fmt.Fprintf(&b, " (%s)", task.AppName)
		}
		if task.Result != "" {
			fmt.Fprintf(&b, ": %s", task.Result)
		}
		b.WriteByte('\n')
	}

	if len(r.FailedTasks) > 0 {
		b.WriteString("\nFailed tasks requiring manual follow-up:\n")
		for _, task := range r.FailedTasks {
			fmt.Fprintf(&b, "  - %s", task.Type)
			if task.AppName != "" {
				fmt.Fprintf(&b, " (%s)", task.AppName)
			}
			if task.Error != "" {
				fmt.Fprintf(&b, ": %s", task.Error)
			}
			b.WriteByte('\n')
		}
		b.WriteString("Verify these revocations directly in the provider's admin console.\n")
	}
	return b.String()
}
