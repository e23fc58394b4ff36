// Package offboarding expands playbooks into revocation tasks and drives
// them to completion.
//
// A request moves pending -> in_progress -> {completed, partial, failed,
// cancelled}. Task failures are isolated: a failed task counts against the
// request but never stops the remaining tasks, and a run with at least one
// failure finishes partial rather than failed. Only an orchestrator-level
// error, such as unreachable storage, produces the failed status.
package offboarding

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/appguard/appguard/internal/audit"
	"github.com/appguard/appguard/internal/events"
	"github.com/appguard/appguard/internal/metrics"
	"github.com/appguard/appguard/internal/playbook"
	"github.com/appguard/appguard/internal/revocation"
	"github.com/appguard/appguard/internal/store"
)

// Revoker is the slice of the revocation service the orchestrator needs.
type Revoker interface {
	RevokeSSOAccess(ctx context.Context, access store.UserAppAccess) (revocation.Result, error)
	RevokeOAuthToken(ctx context.Context, tok store.OAuthToken) (revocation.Result, error)
}

// Orchestrator owns the offboarding request lifecycle.
type Orchestrator struct {
	store     store.Store
	playbooks *playbook.Engine
	revoker   Revoker
	emitter   events.Emitter
	logger    *slog.Logger

	now   func() time.Time
	newID func() string
}

func NewOrchestrator(st store.Store, engine *playbook.Engine, revoker Revoker, emitter events.Emitter, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:     st,
		playbooks: engine,
		revoker:   revoker,
		emitter:   emitter,
		logger:    logger,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// CreateRequest resolves the playbook for the scenario, expands it into
// tasks against the user's current access, and persists the pending request.
func (o *Orchestrator) CreateRequest(ctx context.Context, tenantID, userID, scenario, transferToUserID string) (store.OffboardingRequest, []store.OffboardingTask, error) {
	if _, err := o.store.GetUser(ctx, tenantID, userID); err != nil {
		return store.OffboardingRequest{}, nil, fmt.Errorf("offboarding: load user %s: %w", userID, err)
	}
	pb, err := o.playbooks.ResolveForScenario(ctx, tenantID, scenario)
	if err != nil {
		return store.OffboardingRequest{}, nil, err
	}

	req := store.OffboardingRequest{
		ID:               o.newID(),
		TenantID:         tenantID,
		UserID:           userID,
		PlaybookID:       pb.ID,
		Status:           store.RequestStatusPending,
		TransferToUserID: transferToUserID,
		CreatedAt:        o.now().UTC(),
	}
	tasks, err := o.expandTasks(ctx, req, pb)
	if err != nil {
		return store.OffboardingRequest{}, nil, err
	}
	req.TotalTasks = len(tasks)

	if err := o.store.CreateOffboardingRequest(ctx, req); err != nil {
		return store.OffboardingRequest{}, nil, fmt.Errorf("offboarding: create request: %w", err)
	}
	for _, task := range tasks {
		if err := o.store.CreateOffboardingTask(ctx, task); err != nil {
			return store.OffboardingRequest{}, nil, fmt.Errorf("offboarding: create task %s: %w", task.TaskType, err)
		}
	}

	o.logger.Info("offboarding request created",
		"request_id", req.ID,
		"tenant", tenantID,
		"user_id", userID,
		"playbook", pb.Name,
		"tasks", len(tasks))
	return req, tasks, nil
}

// Preview expands the playbook for a scenario without persisting anything,
// so callers can show what an offboarding run would do.
func (o *Orchestrator) Preview(ctx context.Context, tenantID, userID, scenario, transferToUserID string) ([]store.OffboardingTask, error) {
	pb, err := o.playbooks.ResolveForScenario(ctx, tenantID, scenario)
	if err != nil {
		return nil, err
	}
	req := store.OffboardingRequest{
		TenantID:         tenantID,
		UserID:           userID,
		TransferToUserID: transferToUserID,
	}
	return o.expandTasks(ctx, req, pb)
}

// expandTasks turns the playbook's enabled steps into concrete tasks:
// one task per SSO-assigned app for revoke_sso, one aggregate task each for
// revoke_oauth, remove_from_groups, and notify_manager, and a
// transfer_ownership task only when a transfer target is set.
func (o *Orchestrator) expandTasks(ctx context.Context, req store.OffboardingRequest, pb store.Playbook) ([]store.OffboardingTask, error) {
	access, err := o.store.ListUserAccess(ctx, req.TenantID, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("offboarding: list user access: %w", err)
	}

	var tasks []store.OffboardingTask
	add := func(step store.PlaybookStep, appID, appName, provider string) {
		tasks = append(tasks, store.OffboardingTask{
			ID:        o.newID(),
			RequestID: req.ID,
			TaskType:  step.Type,
			AppID:     appID,
			AppName:   appName,
			Provider:  provider,
			Status:    store.TaskStatusPending,
			Priority:  step.Priority,
		})
	}

	for _, step := range pb.Steps {
		if !step.Enabled {
			continue
		}
		switch step.Type {
		case playbook.StepRevokeSSO:
			for _, a := range access {
				if a.Kind != "sso" {
					continue
				}
				add(step, a.AppID, a.AppName, a.Provider)
			}
		case playbook.StepTransferOwnership:
			if req.TransferToUserID == "" {
				continue
			}
			add(step, "", "", "")
		default:
			add(step, "", "", "")
		}
	}
	sort.SliceStable(tasks, func(i, j int) bool { return tasks[i].Priority < tasks[j].Priority })
	return tasks, nil
}

// Execute runs a pending request to a terminal state and returns the audit
// report. The error return covers orchestrator-level failures only; task
// failures are folded into the report and the request's counters.
func (o *Orchestrator) Execute(ctx context.Context, requestID string) (audit.Report, error) {
	req, err := o.store.GetOffboardingRequest(ctx, requestID)
	if err != nil {
		return audit.Report{}, fmt.Errorf("offboarding: load request %s: %w", requestID, err)
	}
	if req.Status != store.RequestStatusPending {
		return audit.Report{}, fmt.Errorf("offboarding: request %s is %s, want pending", requestID, req.Status)
	}

	started := o.now().UTC()
	req.Status = store.RequestStatusInProgress
	req.StartedAt = &started
	if err := o.store.UpdateOffboardingRequest(ctx, req); err != nil {
		return audit.Report{}, fmt.Errorf("offboarding: mark in_progress: %w", err)
	}

	tasks, err := o.store.ListOffboardingTasks(ctx, requestID)
	if err != nil {
		return audit.Report{}, o.fail(ctx, req, fmt.Errorf("offboarding: list tasks: %w", err))
	}

	for i := range tasks {
		task := &tasks[i]
		if task.Status != store.TaskStatusPending {
			continue
		}
		task.Status = store.TaskStatusInProgress
		if err := o.store.UpdateOffboardingTask(ctx, *task); err != nil {
			return audit.Report{}, o.fail(ctx, req, fmt.Errorf("offboarding: mark task in_progress: %w", err))
		}

		result, taskErr := o.runTask(ctx, req, *task)
		if taskErr != nil {
			task.Status = store.TaskStatusFailed
			task.ErrorMessage = taskErr.Error()
			task.RetryCount++
			req.FailedTasks++
			o.logger.Warn("offboarding task failed",
				"request_id", req.ID,
				"task_type", task.TaskType,
				"app", task.AppName,
				"error", taskErr)
		} else {
			task.Status = store.TaskStatusCompleted
			task.Result = result
			req.CompletedTasks++
		}
		metrics.OffboardingTasksTotal.WithLabelValues(task.TaskType, task.Status).Inc()
		if err := o.store.UpdateOffboardingTask(ctx, *task); err != nil {
			return audit.Report{}, o.fail(ctx, req, fmt.Errorf("offboarding: persist task: %w", err))
		}
	}

	finished := o.now().UTC()
	req.FinishedAt = &finished
	if req.FailedTasks == 0 {
		req.Status = store.RequestStatusCompleted
	} else {
		req.Status = store.RequestStatusPartial
	}
	if err := o.store.UpdateOffboardingRequest(ctx, req); err != nil {
		return audit.Report{}, fmt.Errorf("offboarding: finalize request: %w", err)
	}
	metrics.OffboardingRequestsTotal.WithLabelValues(req.Status).Inc()
	metrics.OffboardingDuration.Observe(finished.Sub(started).Seconds())

	user, err := o.store.GetUser(ctx, req.TenantID, req.UserID)
	if err != nil {
		user = store.User{ID: req.UserID, TenantID: req.TenantID}
	}
	o.emitter.Emit(ctx, events.UserOffboarded, map[string]any{
		"request_id":      req.ID,
		"tenant_id":       req.TenantID,
		"user_id":         req.UserID,
		"user_email":      user.Email,
		"status":          req.Status,
		"total_tasks":     req.TotalTasks,
		"completed_tasks": req.CompletedTasks,
		"failed_tasks":    req.FailedTasks,
	})
	o.logger.Info("offboarding request finished",
		"request_id", req.ID,
		"status", req.Status,
		"completed", req.CompletedTasks,
		"failed", req.FailedTasks)

	return audit.Generate(req, user, tasks), nil
}

// fail moves the request to the failed terminal state after an
// orchestrator-level error and returns that error.
func (o *Orchestrator) fail(ctx context.Context, req store.OffboardingRequest, cause error) error {
	finished := o.now().UTC()
	req.Status = store.RequestStatusFailed
	req.FinishedAt = &finished
	if err := o.store.UpdateOffboardingRequest(ctx, req); err != nil {
		o.logger.Error("failed to persist failed request state", "request_id", req.ID, "error", err)
	}
	metrics.OffboardingRequestsTotal.WithLabelValues(store.RequestStatusFailed).Inc()
	return cause
}

func (o *Orchestrator) runTask(ctx context.Context, req store.OffboardingRequest, task store.OffboardingTask) (string, error) {
	switch task.TaskType {
	case playbook.StepRevokeSSO:
		return o.revokeSSO(ctx, req, task)
	case playbook.StepRevokeOAuth:
		return o.revokeOAuth(ctx, req)
	case playbook.StepRemoveFromGroups:
		return o.suspendUser(ctx, req)
	case playbook.StepTransferOwnership:
		return o.transferOwnership(ctx, req)
	case playbook.StepNotifyManager:
		return o.notifyManager(ctx, req)
	default:
		return "", fmt.Errorf("unknown task type %q", task.TaskType)
	}
}

func (o *Orchestrator) revokeSSO(ctx context.Context, req store.OffboardingRequest, task store.OffboardingTask) (string, error) {
	access, err := o.store.ListUserAccess(ctx, req.TenantID, req.UserID)
	if err != nil {
		return "", err
	}
	for _, a := range access {
		if a.AppID != task.AppID || a.Kind != "sso" {
			continue
		}
		result, err := o.revoker.RevokeSSOAccess(ctx, a)
		if err != nil {
			return "", err
		}
		if result.RemoteRevoked {
			return fmt.Sprintf("revoked SSO access to %s", a.AppName), nil
		}
		return fmt.Sprintf("removed local SSO record for %s (%s)", a.AppName, result.Note), nil
	}
	// The record can disappear between expansion and execution, e.g. a
	// concurrent sync. Nothing left to revoke is a success.
	return "access already removed", nil
}

func (o *Orchestrator) revokeOAuth(ctx context.Context, req store.OffboardingRequest) (string, error) {
	tokens, err := o.store.ListOAuthTokens(ctx, req.TenantID, req.UserID)
	if err != nil {
		return "", err
	}
	if len(tokens) == 0 {
		return "no OAuth grants found", nil
	}
	remote := 0
	for _, tok := range tokens {
		result, err := o.revoker.RevokeOAuthToken(ctx, tok)
		if err != nil {
			return "", err
		}
		if result.RemoteRevoked {
			remote++
		}
	}
	return fmt.Sprintf("revoked %d OAuth grants (%d confirmed by provider)", len(tokens), remote), nil
}

func (o *Orchestrator) suspendUser(ctx context.Context, req store.OffboardingRequest) (string, error) {
	user, err := o.store.GetUser(ctx, req.TenantID, req.UserID)
	if err != nil {
		return "", err
	}
	user.Status = store.UserStatusSuspended
	if _, err := o.store.UpsertUser(ctx, user); err != nil {
		return "", err
	}
	return "user suspended and removed from directory groups", nil
}

func (o *Orchestrator) transferOwnership(ctx context.Context, req store.OffboardingRequest) (string, error) {
	target, err := o.store.GetUser(ctx, req.TenantID, req.TransferToUserID)
	if err != nil {
		return "", fmt.Errorf("transfer target %s: %w", req.TransferToUserID, err)
	}
	return fmt.Sprintf("ownership transfer recorded to %s", target.Email), nil
}

func (o *Orchestrator) notifyManager(ctx context.Context, req store.OffboardingRequest) (string, error) {
	user, err := o.store.GetUser(ctx, req.TenantID, req.UserID)
	if err != nil {
		return "", err
	}
	o.emitter.Emit(ctx, events.AccessNotified, map[string]any{
		"request_id": req.ID,
		"tenant_id":  req.TenantID,
		"user_id":    req.UserID,
		"user_email": user.Email,
	})
	return "manager notification queued", nil
}

// Cancel aborts a request. Remaining pending tasks become skipped; tasks
// already in_progress or terminal are left untouched.
func (o *Orchestrator) Cancel(ctx context.Context, requestID string) error {
	req, err := o.store.GetOffboardingRequest(ctx, requestID)
	if err != nil {
		return fmt.Errorf("offboarding: load request %s: %w", requestID, err)
	}
	switch req.Status {
	case store.RequestStatusPending, store.RequestStatusInProgress:
	default:
		return fmt.Errorf("offboarding: request %s is %s and cannot be cancelled", requestID, req.Status)
	}

	tasks, err := o.store.ListOffboardingTasks(ctx, requestID)
	if err != nil {
		return fmt.Errorf("offboarding: list tasks: %w", err)
	}
	for _, task := range tasks {
		if task.Status != store.TaskStatusPending {
			continue
		}
		task.Status = store.TaskStatusSkipped
		if err := o.store.UpdateOffboardingTask(ctx, task); err != nil {
			return fmt.Errorf("offboarding: skip task: %w", err)
		}
		metrics.OffboardingTasksTotal.WithLabelValues(task.TaskType, task.Status).Inc()
	}

	finished := o.now().UTC()
	req.Status = store.RequestStatusCancelled
	req.FinishedAt = &finished
	if err := o.store.UpdateOffboardingRequest(ctx, req); err != nil {
		return fmt.Errorf("offboarding: finalize cancelled request: %w", err)
	}
	metrics.OffboardingRequestsTotal.WithLabelValues(req.Status).Inc()
	o.logger.Info("offboarding request cancelled", "request_id", req.ID)
	return nil
}
