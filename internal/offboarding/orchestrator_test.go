package offboarding

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/appguard/appguard/internal/events"
	"github.com/appguard/appguard/internal/playbook"
	"github.com/appguard/appguard/internal/revocation"
	"github.com/appguard/appguard/internal/store"
)

// fakeRevoker mimics the fail-safe revocation service: it deletes the local
// record on every call and fails only when told to for a given app.
type fakeRevoker struct {
	st *store.Memory

	mu       sync.Mutex
	failApps map[string]error
	ssoCalls []string
	tokCalls []string
}

func (f *fakeRevoker) RevokeSSOAccess(ctx context.Context, access store.UserAppAccess) (revocation.Result, error) {
	f.mu.Lock()
	f.ssoCalls = append(f.ssoCalls, access.AppID)
	failErr := f.failApps[access.AppID]
	f.mu.Unlock()
	if failErr != nil {
		return revocation.Result{}, failErr
	}
	if err := f.st.DeleteUserAccess(ctx, access.TenantID, access.ID); err != nil {
		return revocation.Result{}, err
	}
	return revocation.Result{RemoteRevoked: true}, nil
}

func (f *fakeRevoker) RevokeOAuthToken(ctx context.Context, tok store.OAuthToken) (revocation.Result, error) {
	f.mu.Lock()
	f.tokCalls = append(f.tokCalls, tok.ID)
	f.mu.Unlock()
	if err := f.st.DeleteOAuthToken(ctx, tok.TenantID, tok.ID); err != nil {
		return revocation.Result{}, err
	}
	return revocation.Result{RemoteRevoked: true}, nil
}

type testEnv struct {
	store    *store.Memory
	revoker  *fakeRevoker
	recorder *events.Recorder
	orch     *Orchestrator
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mem := store.NewMemory()
	revoker := &fakeRevoker{st: mem, failApps: map[string]error{}}
	recorder := &events.Recorder{}
	orch := NewOrchestrator(mem, playbook.NewEngine(mem), revoker, recorder, nil)

	if _, err := mem.UpsertUser(context.Background(), store.User{
		ID:       "u1",
		TenantID: "t1",
		Email:    "leaver@example.com",
		Status:   store.UserStatusActive,
	}); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return &testEnv{store: mem, revoker: revoker, recorder: recorder, orch: orch}
}

func (e *testEnv) seedAccess(t *testing.T, id, appID, appName string) {
	t.Helper()
	err := e.store.UpsertUserAccess(context.Background(), store.UserAppAccess{
		ID:       id,
		TenantID: "t1",
		UserID:   "u1",
		AppID:    appID,
		AppName:  appName,
		Provider: "okta",
		Kind:     "sso",
	})
	if err != nil {
		t.Fatalf("seed access: %v", err)
	}
}

func (e *testEnv) seedToken(t *testing.T, id, appName string) {
	t.Helper()
	err := e.store.UpsertOAuthToken(context.Background(), store.OAuthToken{
		ID:       id,
		TenantID: "t1",
		UserID:   "u1",
		Provider: "google_workspace",
		AppName:  appName,
		Scopes:   []string{"email"},
	})
	if err != nil {
		t.Fatalf("seed token: %v", err)
	}
}

// seedSSOPlaybook installs a default playbook containing only revoke_sso,
// so each SSO-assigned app expands into exactly one task.
func (e *testEnv) seedSSOPlaybook(t *testing.T) {
	t.Helper()
	_, err := e.orch.playbooks.Save(context.Background(), store.Playbook{
		TenantID:  "t1",
		Name:      "SSO only",
		Type:      playbook.TypeStandard,
		IsDefault: true,
		Steps: []store.PlaybookStep{
			{Type: playbook.StepRevokeSSO, Priority: 10, Enabled: true, Description: "Revoke SSO app assignments"},
		},
	})
	if err != nil {
		t.Fatalf("save playbook: %v", err)
	}
}

func TestCreateRequestExpandsBuiltinPlaybook(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.seedAccess(t, "acc1", "app1", "Slack")
	env.seedAccess(t, "acc2", "app2", "Figma")
	env.seedToken(t, "tok1", "Zapier")

	req, tasks, err := env.orch.CreateRequest(context.Background(), "t1", "u1", "termination", "")
	if err != nil {
		t.Fatalf("CreateRequest() error = %v", err)
	}
	if req.Status != store.RequestStatusPending {
		t.Fatalf("request status = %q, want pending", req.Status)
	}

	// Builtin standard playbook: revoke_sso, revoke_oauth,
	// remove_from_groups, notify_manager. Two SSO apps means two
	// revoke_sso tasks; transfer_ownership is absent without a target.
	counts := map[string]int{}
	for _, task := range tasks {
		counts[task.TaskType]++
	}
	want := map[string]int{
		playbook.StepRevokeSSO:        2,
		playbook.StepRevokeOAuth:      1,
		playbook.StepRemoveFromGroups: 1,
		playbook.StepNotifyManager:    1,
	}
	for taskType, n := range want {
		if counts[taskType] != n {
			t.Errorf("task count for %s = %d, want %d", taskType, counts[taskType], n)
		}
	}
	if counts[playbook.StepTransferOwnership] != 0 {
		t.Errorf("got transfer_ownership task without a transfer target")
	}
	if req.TotalTasks != len(tasks) {
		t.Errorf("TotalTasks = %d, want %d", req.TotalTasks, len(tasks))
	}

	for i := 1; i < len(tasks); i++ {
		if tasks[i].Priority < tasks[i-1].Priority {
			t.Fatalf("tasks not sorted by priority: %d before %d", tasks[i-1].Priority, tasks[i].Priority)
		}
	}
}

func TestCreateRequestIncludesTransferTaskWithTarget(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	if _, err := env.store.UpsertUser(context.Background(), store.User{
		ID: "u2", TenantID: "t1", Email: "manager@example.com", Status: store.UserStatusActive,
	}); err != nil {
		t.Fatalf("seed target: %v", err)
	}
	_, err := env.orch.playbooks.Save(context.Background(), store.Playbook{
		TenantID:  "t1",
		Name:      "Transfer",
		Type:      playbook.TypeTransfer,
		IsDefault: true,
		Steps: []store.PlaybookStep{
			{Type: playbook.StepTransferOwnership, Priority: 10, Enabled: true, Description: "Move owned resources"},
		},
	})
	if err != nil {
		t.Fatalf("save playbook: %v", err)
	}

	_, tasks, err := env.orch.CreateRequest(context.Background(), "t1", "u1", "transfer", "u2")
	if err != nil {
		t.Fatalf("CreateRequest() error = %v", err)
	}
	if len(tasks) != 1 || tasks[0].TaskType != playbook.StepTransferOwnership {
		t.Fatalf("tasks = %+v, want single transfer_ownership", tasks)
	}
}

func TestExecuteCompletesCleanRun(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.seedAccess(t, "acc1", "app1", "Slack")
	env.seedToken(t, "tok1", "Zapier")

	req, _, err := env.orch.CreateRequest(context.Background(), "t1", "u1", "termination", "")
	if err != nil {
		t.Fatalf("CreateRequest() error = %v", err)
	}
	report, err := env.orch.Execute(context.Background(), req.ID)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	final, err := env.store.GetOffboardingRequest(context.Background(), req.ID)
	if err != nil {
		t.Fatalf("GetOffboardingRequest() error = %v", err)
	}
	if final.Status != store.RequestStatusCompleted {
		t.Fatalf("status = %q, want completed", final.Status)
	}
	if final.FailedTasks != 0 || final.CompletedTasks != final.TotalTasks {
		t.Fatalf("counters = %d/%d failed %d", final.CompletedTasks, final.TotalTasks, final.FailedTasks)
	}

	access, _ := env.store.ListUserAccess(context.Background(), "t1", "u1")
	if len(access) != 0 {
		t.Errorf("sso records remaining = %d, want 0", len(access))
	}
	tokens, _ := env.store.ListOAuthTokens(context.Background(), "t1", "u1")
	if len(tokens) != 0 {
		t.Errorf("oauth tokens remaining = %d, want 0", len(tokens))
	}

	user, err := env.store.GetUser(context.Background(), "t1", "u1")
	if err != nil {
		t.Fatalf("GetUser() error = %v", err)
	}
	if user.Status != store.UserStatusSuspended {
		t.Errorf("user status = %q, want suspended", user.Status)
	}

	if got := len(env.recorder.Named(events.UserOffboarded)); got != 1 {
		t.Errorf("user.offboarded events = %d, want 1", got)
	}
	if got := len(env.recorder.Named(events.AccessNotified)); got != 1 {
		t.Errorf("access.notified events = %d, want 1", got)
	}

	if report.Status != store.RequestStatusCompleted || len(report.FailedTasks) != 0 {
		t.Errorf("report status = %q failed = %d", report.Status, len(report.FailedTasks))
	}
}

func TestExecuteIsolatesSingleTaskFailure(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.seedSSOPlaybook(t)
	env.seedAccess(t, "acc1", "app1", "Slack")
	env.seedAccess(t, "acc2", "app2", "Figma")
	env.seedAccess(t, "acc3", "app3", "Notion")
	env.revoker.failApps["app2"] = errors.New("delete user access: store unavailable")

	req, tasks, err := env.orch.CreateRequest(context.Background(), "t1", "u1", "termination", "")
	if err != nil {
		t.Fatalf("CreateRequest() error = %v", err)
	}
	if len(tasks) != 3 {
		t.Fatalf("tasks = %d, want 3", len(tasks))
	}

	report, err := env.orch.Execute(context.Background(), req.ID)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	final, err := env.store.GetOffboardingRequest(context.Background(), req.ID)
	if err != nil {
		t.Fatalf("GetOffboardingRequest() error = %v", err)
	}
	if final.Status != store.RequestStatusPartial {
		t.Fatalf("status = %q, want partial", final.Status)
	}
	if final.CompletedTasks != 2 || final.FailedTasks != 1 {
		t.Fatalf("counters completed=%d failed=%d, want 2/1", final.CompletedTasks, final.FailedTasks)
	}

	done, err := env.store.ListOffboardingTasks(context.Background(), req.ID)
	if err != nil {
		t.Fatalf("ListOffboardingTasks() error = %v", err)
	}
	for _, task := range done {
		switch task.AppID {
		case "app2":
			if task.Status != store.TaskStatusFailed {
				t.Errorf("app2 task status = %q, want failed", task.Status)
			}
			if task.RetryCount != 1 {
				t.Errorf("app2 retry count = %d, want 1", task.RetryCount)
			}
			if !strings.Contains(task.ErrorMessage, "store unavailable") {
				t.Errorf("app2 error = %q", task.ErrorMessage)
			}
		default:
			if task.Status != store.TaskStatusCompleted {
				t.Errorf("%s task status = %q, want completed", task.AppID, task.Status)
			}
		}
	}

	if len(report.FailedTasks) != 1 {
		t.Fatalf("report failed tasks = %d, want 1", len(report.FailedTasks))
	}
	text := report.Text()
	if !strings.Contains(text, "manual follow-up") || !strings.Contains(text, "Figma") {
		t.Errorf("report text missing follow-up section:\n%s", text)
	}
}

func TestExecuteRejectsNonPendingRequest(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.seedSSOPlaybook(t)
	env.seedAccess(t, "acc1", "app1", "Slack")

	req, _, err := env.orch.CreateRequest(context.Background(), "t1", "u1", "termination", "")
	if err != nil {
		t.Fatalf("CreateRequest() error = %v", err)
	}
	if _, err := env.orch.Execute(context.Background(), req.ID); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if _, err := env.orch.Execute(context.Background(), req.ID); err == nil {
		t.Fatal("second Execute() should reject a terminal request")
	}
}

func TestCancelSkipsPendingTasksOnly(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.seedSSOPlaybook(t)
	env.seedAccess(t, "acc1", "app1", "Slack")
	env.seedAccess(t, "acc2", "app2", "Figma")

	req, tasks, err := env.orch.CreateRequest(context.Background(), "t1", "u1", "termination", "")
	if err != nil {
		t.Fatalf("CreateRequest() error = %v", err)
	}

	// Simulate one task already executed before the cancellation.
	done := tasks[0]
	done.Status = store.TaskStatusCompleted
	if err := env.store.UpdateOffboardingTask(context.Background(), done); err != nil {
		t.Fatalf("UpdateOffboardingTask() error = %v", err)
	}

	if err := env.orch.Cancel(context.Background(), req.ID); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}

	final, err := env.store.GetOffboardingRequest(context.Background(), req.ID)
	if err != nil {
		t.Fatalf("GetOffboardingRequest() error = %v", err)
	}
	if final.Status != store.RequestStatusCancelled {
		t.Fatalf("status = %q, want cancelled", final.Status)
	}
	if final.FinishedAt == nil {
		t.Fatal("FinishedAt not set on cancellation")
	}

	got, err := env.store.ListOffboardingTasks(context.Background(), req.ID)
	if err != nil {
		t.Fatalf("ListOffboardingTasks() error = %v", err)
	}
	for _, task := range got {
		want := store.TaskStatusSkipped
		if task.ID == done.ID {
			want = store.TaskStatusCompleted
		}
		if task.Status != want {
			t.Errorf("task %s status = %q, want %q", task.ID, task.Status, want)
		}
	}

	if err := env.orch.Cancel(context.Background(), req.ID); err == nil {
		t.Fatal("Cancel() should reject a terminal request")
	}
}

func TestPreviewPersistsNothing(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.seedAccess(t, "acc1", "app1", "Slack")

	tasks, err := env.orch.Preview(context.Background(), "t1", "u1", "termination", "")
	if err != nil {
		t.Fatalf("Preview() error = %v", err)
	}
	if len(tasks) == 0 {
		t.Fatal("Preview() returned no tasks")
	}
	for _, task := range tasks {
		if got, err := env.store.ListOffboardingTasks(context.Background(), task.RequestID); err != nil || len(got) != 0 {
			t.Fatalf("Preview persisted tasks: %v %v", got, err)
		}
	}
}

func TestTransferTaskFailsWhenTargetMissing(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	_, err := env.orch.playbooks.Save(context.Background(), store.Playbook{
		TenantID:  "t1",
		Name:      "Transfer",
		Type:      playbook.TypeTransfer,
		IsDefault: true,
		Steps: []store.PlaybookStep{
			{Type: playbook.StepTransferOwnership, Priority: 10, Enabled: true, Description: "Move owned resources"},
		},
	})
	if err != nil {
		t.Fatalf("save playbook: %v", err)
	}

	req, _, err := env.orch.CreateRequest(context.Background(), "t1", "u1", "transfer", "ghost")
	if err != nil {
		t.Fatalf("CreateRequest() error = %v", err)
	}
	if _, err := env.orch.Execute(context.Background(), req.ID); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	final, err := env.store.GetOffboardingRequest(context.Background(), req.ID)
	if err != nil {
		t.Fatalf("GetOffboardingRequest() error = %v", err)
	}
	if final.Status != store.RequestStatusPartial || final.FailedTasks != 1 {
		t.Fatalf("status = %q failed = %d, want partial/1", final.Status, final.FailedTasks)
	}
}

func TestAuditReportRendersDuration(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.seedSSOPlaybook(t)
	env.seedAccess(t, "acc1", "app1", "Slack")

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	step := 0
	env.orch.now = func() time.Time {
		step++
		return base.Add(time.Duration(step) * time.Second)
	}

	req, _, err := env.orch.CreateRequest(context.Background(), "t1", "u1", "termination", "")
	if err != nil {
		t.Fatalf("CreateRequest() error = %v", err)
	}
	report, err := env.orch.Execute(context.Background(), req.ID)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	text := report.Text()
	if !strings.Contains(text, "Duration:") {
		t.Errorf("report missing duration:\n%s", text)
	}
	if !strings.Contains(text, "leaver@example.com") {
		t.Errorf("report missing user email:\n%s", text)
	}
}
