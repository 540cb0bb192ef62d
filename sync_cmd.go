package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jwinnathayden/noted-sync/internal/ledger"
	"github.com/jwinnathayden/noted-sync/internal/notes"
	"github.com/jwinnathayden/noted-sync/internal/syncer"
)

var (
	flagReplaceAll bool
	flagStrategy   string
)

func newPushCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "push",
		Short: "Upload local notes to the cloud app folder",
		RunE:  runPush,
	}

	cmd.Flags().BoolVar(&flagReplaceAll, "replace-all", false,
		"write fresh timestamped copies and delete remote files the local set no longer references")

	return cmd
}

func newPullCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pull",
		Short: "Download cloud notes into the local set",
		RunE:  runPull,
	}

	cmd.Flags().StringVar(&flagStrategy, "strategy", string(syncer.StrategyMerge),
		"how to combine remote and local notes: replace or merge")

	return cmd
}

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Watch the local notes file and push on every change",
		RunE:  runWatch,
	}
}

// buildEngine wires the token store, API client, and name ledger into a
// sync engine. The caller must invoke deps.close when done.
func buildEngine(ctx context.Context, logger *slog.Logger) (*engineDeps, error) {
	store := openTokenStore(logger)
	if !store.HasIdentity() {
		return nil, fmt.Errorf("not logged in — run 'noted-sync login' first")
	}

	client := newGraphClient(store, logger)

	names, err := ledger.Open(ctx, resolvedCfg.LedgerPath, logger)
	if err != nil {
		return nil, err
	}

	return &engineDeps{
		engine: syncer.New(client, names, logger),
		client: client,
		close:  func() { _ = names.Close() },
	}, nil
}

func runPush(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()
	ctx := cmd.Context()

	deps, err := buildEngine(ctx, logger)
	if err != nil {
		return err
	}
	defer deps.close()

	local, err := notes.LoadFile(resolvedCfg.NotesPath)
	if err != nil {
		return err
	}

	result, err := deps.engine.Push(ctx, local, syncer.PushOptions{TimestampNames: flagReplaceAll})
	if err != nil {
		return err
	}

	if err := notes.SaveFile(resolvedCfg.NotesPath, result.Notes); err != nil {
		return fmt.Errorf("saving notes after push: %w", err)
	}

	statusf("Pushed %d notes (%d created, %d updated, %d failed).\n",
		result.Created+result.Updated, result.Created, result.Updated, len(result.Failed))

	if flagReplaceAll {
		if err := deleteReplaced(ctx, deps, result); err != nil {
			return err
		}
	}

	return firstBatchError(result.Failed)
}

// deleteReplaced removes remote files the just-completed replace-all push
// did not write. Runs only after the new copies are confirmed uploaded.
func deleteReplaced(ctx context.Context, deps *engineDeps, result *syncer.PushResult) error {
	referenced := make([]string, 0, len(result.Notes))

	for _, n := range result.Notes {
		if n.RemoteID != "" {
			referenced = append(referenced, n.RemoteID)
		}
	}

	resolver := syncer.NewResolver(deps.client, buildLogger())

	unused, err := resolver.FindUnused(ctx, referenced)
	if err != nil {
		return err
	}

	cr := resolver.DeleteUnused(ctx, unused)
	statusf("Removed %d replaced remote files (%d failed).\n", cr.Deleted, len(cr.Errors))

	return nil
}

func runPull(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()
	ctx := cmd.Context()

	strategy, err := syncer.ParseStrategy(flagStrategy)
	if err != nil {
		return err
	}

	deps, err := buildEngine(ctx, logger)
	if err != nil {
		return err
	}
	defer deps.close()

	local, err := notes.LoadFile(resolvedCfg.NotesPath)
	if err != nil {
		return err
	}

	result, err := deps.engine.Pull(ctx, local, strategy)
	if err != nil {
		return err
	}

	if err := notes.SaveFile(resolvedCfg.NotesPath, result.Notes); err != nil {
		return fmt.Errorf("saving pulled notes: %w", err)
	}

	statusf("Pulled %d notes (%s strategy, %d failed).\n",
		len(result.Notes), strategy, len(result.Failed))

	return firstBatchError(result.Failed)
}

func runWatch(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := buildEngine(ctx, logger)
	if err != nil {
		return err
	}
	defer deps.close()

	statusf("Watching %s — press Ctrl-C to stop.\n", resolvedCfg.NotesPath)

	err = deps.engine.WatchAndPush(ctx, resolvedCfg.NotesPath, syncer.DefaultDebounce)
	if ctx.Err() != nil {
		statusf("Stopped.\n")
		return nil
	}

	return err
}

// firstBatchError turns a non-empty failure list into a command error so
// the process exits non-zero, while the summary above still reports the
// full picture.
func firstBatchError(failed []syncer.NoteError) error {
	if len(failed) == 0 {
		return nil
	}

	return fmt.Errorf("%d notes failed to sync (first: note %s: %v)",
		len(failed), failed[0].NoteID, failed[0].Err)
}
