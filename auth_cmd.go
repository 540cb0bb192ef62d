package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jwinnathayden/noted-sync/internal/authflow"
	"github.com/jwinnathayden/noted-sync/internal/tokenstore"
)

// cliSessionID keys the single device-flow session a CLI login uses.
const cliSessionID = "cli"

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Authenticate with the cloud drive using device code flow",
		RunE:  runLogin,
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the saved authentication token",
		RunE:  runLogout,
	}
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Display the signed-in account",
		RunE:  runWhoami,
	}
}

func runLogin(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()
	ctx := cmd.Context()

	store := openTokenStore(logger)
	mgr := authflow.NewManager(
		authflow.OAuthConfig(resolvedCfg.ClientID, resolvedCfg.Tenant),
		store, defaultHTTPClient(), logger,
	)

	info, err := mgr.StartDeviceFlow(ctx, cliSessionID)
	if err != nil {
		return err
	}

	// Device code prompts must always be visible — not suppressed by --quiet.
	fmt.Fprintf(os.Stderr, "To sign in, visit: %s\n", info.VerificationURI)
	fmt.Fprintf(os.Stderr, "Enter code: %s\n", info.UserCode)
	fmt.Fprintf(os.Stderr, "The code is valid for %s.\n", info.ExpiresIn.Round(time.Minute))

	status, err := pollUntilDone(ctx, mgr, info.Interval)
	if err != nil {
		return err
	}

	if status.State != authflow.StateAuthenticated {
		return fmt.Errorf("login failed: %s", status.Message)
	}

	statusf("Login successful.\n")

	return nil
}

// pollUntilDone polls the flow at the provider's suggested interval until
// it reaches a terminal state or the context is canceled.
func pollUntilDone(ctx context.Context, mgr *authflow.Manager, interval time.Duration) (authflow.Status, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			mgr.Cancel(cliSessionID)
			return authflow.Status{}, ctx.Err()
		case <-ticker.C:
		}

		status, err := mgr.PollStatus(ctx, cliSessionID)
		if err != nil {
			return authflow.Status{}, err
		}

		if status.State.Terminal() {
			return status, nil
		}
	}
}

func runLogout(_ *cobra.Command, _ []string) error {
	logger := buildLogger()

	store := openTokenStore(logger)
	if err := store.Clear(); err != nil {
		return err
	}

	statusf("Logged out.\n")

	return nil
}

// whoamiOutput is the JSON schema for `whoami --json`.
type whoamiOutput struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
}

func runWhoami(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()
	ctx := cmd.Context()

	store := openTokenStore(logger)
	if !store.HasIdentity() {
		return fmt.Errorf("not logged in — run 'noted-sync login' first")
	}

	client := newGraphClient(store, logger)

	user, err := client.Me(ctx)
	if err != nil {
		if errors.Is(err, tokenstore.ErrNoIdentity) {
			return fmt.Errorf("saved credential is no longer valid — run 'noted-sync login' again")
		}

		return fmt.Errorf("fetching user profile: %w", err)
	}

	if flagJSON {
		out := whoamiOutput{ID: user.ID, DisplayName: user.DisplayName, Email: user.Email}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(out)
	}

	statusf("Signed in as %s <%s>\n", user.DisplayName, user.Email)

	return nil
}
