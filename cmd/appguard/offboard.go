package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/appguard/appguard/internal/store"
	"github.com/spf13/cobra"
)

var offboardFlags struct {
	tenant     string
	user       string
	scenario   string
	transferTo string
	preview    bool
}

var offboardCmd = &cobra.Command{
	Use:   "offboard",
	Short: "Sync current access, then revoke a user's third-party app access.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOffboard(cmd)
	},
}

func init() {
	offboardCmd.Flags().StringVar(&offboardFlags.tenant, "tenant", "", "tenant ID (required)")
	offboardCmd.Flags().StringVar(&offboardFlags.user, "user", "", "user ID or email (required)")
	offboardCmd.Flags().StringVar(&offboardFlags.scenario, "scenario", "termination", "offboarding scenario: termination, contractor, transfer, role_change")
	offboardCmd.Flags().StringVar(&offboardFlags.transferTo, "transfer-to", "", "user ID or email receiving owned resources")
	offboardCmd.Flags().BoolVar(&offboardFlags.preview, "preview", false, "show the planned tasks without executing them")
	_ = offboardCmd.MarkFlagRequired("tenant")
	_ = offboardCmd.MarkFlagRequired("user")
}

func runOffboard(cmd *cobra.Command) error {
	a, err := buildApp("offboard")
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := a.seedProviders(ctx); err != nil {
		return err
	}
	if err := a.runner.SyncAll(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return &exitError{code: 130, err: err, silent: true}
		}
		return err
	}

	user, err := resolveUser(ctx, a.store, offboardFlags.tenant, offboardFlags.user)
	if err != nil {
		return err
	}
	transferTo := ""
	if offboardFlags.transferTo != "" {
		target, err := resolveUser(ctx, a.store, offboardFlags.tenant, offboardFlags.transferTo)
		if err != nil {
			return fmt.Errorf("transfer target: %w", err)
		}
		transferTo = target.ID
	}

	if offboardFlags.preview {
		tasks, err := a.orch.Preview(ctx, offboardFlags.tenant, user.ID, offboardFlags.scenario, transferTo)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Planned offboarding tasks for %s (%d):\n", user.Email, len(tasks))
		for _, task := range tasks {
			fmt.Fprintf(out, "  %3d  %s", task.Priority, task.TaskType)
			if task.AppName != "" {
				fmt.Fprintf(out, " (%s via %s)", task.AppName, task.Provider)
			}
			fmt.Fprintln(out)
		}
		return nil
	}

	req, _, err := a.orch.CreateRequest(ctx, offboardFlags.tenant, user.ID, offboardFlags.scenario, transferTo)
	if err != nil {
		return err
	}
	report, err := a.orch.Execute(ctx, req.ID)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), report.Text())

	if report.Status != store.RequestStatusCompleted {
		return &exitError{code: 1, err: fmt.Errorf("offboarding finished %s with %d failed task(s)", report.Status, report.Failed), silent: true}
	}
	return nil
}

// resolveUser accepts either a local user ID or an email address.
func resolveUser(ctx context.Context, st store.Users, tenantID, ref string) (store.User, error) {
	ref = strings.TrimSpace(ref)
	if user, err := st.GetUser(ctx, tenantID, ref); err == nil {
		return user, nil
	}
	users, err := st.ListUsers(ctx, tenantID)
	if err != nil {
		return store.User{}, err
	}
	for _, user := range users {
		if strings.EqualFold(user.Email, ref) {
			return user, nil
		}
	}
	return store.User{}, fmt.Errorf("no user %q in tenant %s", ref, tenantID)
}
