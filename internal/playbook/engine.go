// Package playbook manages offboarding step templates and resolves which
// template applies to a given scenario.
package playbook

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/appguard/appguard/internal/store"
)

// Step types the orchestrator knows how to execute.
const (
	StepRevokeSSO         = "revoke_sso"
	StepRevokeOAuth       = "revoke_oauth"
	StepRemoveFromGroups  = "remove_from_groups"
	StepTransferOwnership = "transfer_ownership"
	StepNotifyManager     = "notify_manager"
)

// Playbook types, selected by offboarding scenario.
const (
	TypeStandard   = "standard"
	TypeContractor = "contractor"
	TypeTransfer   = "transfer"
	TypeRoleChange = "role_change"
)

var knownStepTypes = map[string]struct{}{
	StepRevokeSSO:         {},
	StepRevokeOAuth:       {},
	StepRemoveFromGroups:  {},
	StepTransferOwnership: {},
	StepNotifyManager:     {},
}

var knownPlaybookTypes = map[string]struct{}{
	TypeStandard:   {},
	TypeContractor: {},
	TypeTransfer:   {},
	TypeRoleChange: {},
}

// Engine is CRUD over playbook templates plus scenario resolution.
type Engine struct {
	store store.Playbooks
	newID func() string
}

func NewEngine(st store.Playbooks) *Engine {
	return &Engine{store: st, newID: uuid.NewString}
}

// Validate rejects malformed templates before they can reach the
// orchestrator.
func Validate(pb store.Playbook) error {
	if strings.TrimSpace(pb.TenantID) == "" {
		return fmt.Errorf("playbook tenant id is required")
	}
	if strings.TrimSpace(pb.Name) == "" {
		return fmt.Errorf("playbook name is required")
	}
	if _, ok := knownPlaybookTypes[pb.Type]; !ok {
		return fmt.Errorf("unknown playbook type %q", pb.Type)
	}
	if len(pb.Steps) == 0 {
		return fmt.Errorf("playbook needs at least one step")
	}
	for i, step := range pb.Steps {
		if _, ok := knownStepTypes[step.Type]; !ok {
			return fmt.Errorf("step %d: unknown step type %q", i, step.Type)
		}
		if step.Priority < 0 {
			return fmt.Errorf("step %d: priority must be non-negative, got %d", i, step.Priority)
		}
		if strings.TrimSpace(step.Description) == "" {
			return fmt.Errorf("step %d: description is required", i)
		}
	}
	return nil
}

// Save validates and persists a template. Marking it default unsets any
// previous default of the same (tenant, type) first, so at most one default
// per pair exists.
func (e *Engine) Save(ctx context.Context, pb store.Playbook) (store.Playbook, error) {
	if err := Validate(pb); err != nil {
		return store.Playbook{}, err
	}
	if pb.ID == "" {
		pb.ID = e.newID()
	}

	if pb.IsDefault {
		existing, err := e.store.ListPlaybooks(ctx, pb.TenantID)
		if err != nil {
			return store.Playbook{}, fmt.Errorf("list playbooks: %w", err)
		}
		for _, other := range existing {
			if other.ID == pb.ID || other.Type != pb.Type || !other.IsDefault {
				continue
			}
			other.IsDefault = false
			if err := e.store.SavePlaybook(ctx, other); err != nil {
				return store.Playbook{}, fmt.Errorf("unset previous default %s: %w", other.ID, err)
			}
		}
	}

	if err := e.store.SavePlaybook(ctx, pb); err != nil {
		return store.Playbook{}, fmt.Errorf("save playbook: %w", err)
	}
	return pb, nil
}

func (e *Engine) Get(ctx context.Context, tenantID, playbookID string) (store.Playbook, error) {
	return e.store.GetPlaybook(ctx, tenantID, playbookID)
}

func (e *Engine) List(ctx context.Context, tenantID string) ([]store.Playbook, error) {
	return e.store.ListPlaybooks(ctx, tenantID)
}

func (e *Engine) Delete(ctx context.Context, tenantID, playbookID string) error {
	return e.store.DeletePlaybook(ctx, tenantID, playbookID)
}

// ResolveType maps an offboarding scenario onto a playbook type.
func ResolveType(scenario string) string {
	switch strings.ToLower(strings.TrimSpace(scenario)) {
	case "contractor":
		return TypeContractor
	case "transfer":
		return TypeTransfer
	case "role_change", "role change":
		return TypeRoleChange
	default:
		return TypeStandard
	}
}

// ResolveForScenario returns the tenant's default playbook for the
// scenario's type, falling back to the standard default and finally to the
// built-in template.
func (e *Engine) ResolveForScenario(ctx context.Context, tenantID, scenario string) (store.Playbook, error) {
	playbooks, err := e.store.ListPlaybooks(ctx, tenantID)
	if err != nil {
		return store.Playbook{}, fmt.Errorf("list playbooks: %w", err)
	}

	wanted := ResolveType(scenario)
	for _, typ := range []string{wanted, TypeStandard} {
		for _, pb := range playbooks {
			if pb.Type == typ && pb.IsDefault {
				return pb, nil
			}
		}
	}
	return BuiltinStandard(tenantID), nil
}

// BuiltinStandard is the fallback template used when a tenant has not
// configured any playbooks yet.
func BuiltinStandard(tenantID string) store.Playbook {
	steps := []store.PlaybookStep{
		{Type: StepRevokeSSO, Priority: 10, Enabled: true, Description: "Revoke SSO access to all assigned applications"},
		{Type: StepRevokeOAuth, Priority: 20, Enabled: true, Description: "Revoke granted OAuth tokens"},
		{Type: StepRemoveFromGroups, Priority: 30, Enabled: true, Description: "Remove the user from directory groups"},
		{Type: StepTransferOwnership, Priority: 40, Enabled: true, Description: "Transfer owned resources to the designated user"},
		{Type: StepNotifyManager, Priority: 50, Enabled: true, Description: "Notify the user's manager that access was removed"},
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].Priority < steps[j].Priority })
	return store.Playbook{
		ID:        "builtin-standard",
		TenantID:  tenantID,
		Name:      "Standard offboarding",
		Type:      TypeStandard,
		IsDefault: true,
		Steps:     steps,
	}
}
