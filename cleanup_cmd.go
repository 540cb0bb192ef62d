package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jwinnathayden/noted-sync/internal/notes"
	"github.com/jwinnathayden/noted-sync/internal/syncer"
)

var (
	flagCleanUnused     bool
	flagCleanDuplicates bool
	flagYes             bool
)

func newCleanupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove unused or duplicate remote note files",
		Long: "Scans the cloud app folder for note files no local note references\n" +
			"(--unused) and for files with identical content (--duplicates).\n" +
			"Without --yes, only reports what would be deleted.",
		RunE: runCleanup,
	}

	cmd.Flags().BoolVar(&flagCleanUnused, "unused", false, "remove remote files no local note references")
	cmd.Flags().BoolVar(&flagCleanDuplicates, "duplicates", false, "remove older copies of content-identical files")
	cmd.Flags().BoolVar(&flagYes, "yes", false, "actually delete; without it the command is a dry run")

	return cmd
}

func runCleanup(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()
	ctx := cmd.Context()

	if !flagCleanUnused && !flagCleanDuplicates {
		return fmt.Errorf("nothing to do: pass --unused, --duplicates, or both")
	}

	deps, err := buildEngine(ctx, logger)
	if err != nil {
		return err
	}
	defer deps.close()

	resolver := syncer.NewResolver(deps.client, logger)

	if flagCleanUnused {
		if err := cleanupUnused(ctx, resolver); err != nil {
			return err
		}
	}

	if flagCleanDuplicates {
		if err := cleanupDuplicates(ctx, resolver); err != nil {
			return err
		}
	}

	return nil
}

func cleanupUnused(ctx context.Context, resolver *syncer.Resolver) error {
	local, err := notes.LoadFile(resolvedCfg.NotesPath)
	if err != nil {
		return err
	}

	referenced := make([]string, 0, len(local))

	for _, n := range local {
		if n.RemoteID != "" {
			referenced = append(referenced, n.RemoteID)
		}
	}

	unused, err := resolver.FindUnused(ctx, referenced)
	if err != nil {
		return err
	}

	if len(unused) == 0 {
		statusf("No unused remote files.\n")
		return nil
	}

	for _, rn := range unused {
		statusf("unused: %s (%s, modified %s)\n", rn.Name, rn.ID, rn.ModifiedAt.Format("2006-01-02 15:04"))
	}

	if !flagYes {
		statusf("%d unused files found. Re-run with --yes to delete.\n", len(unused))
		return nil
	}

	cr := resolver.DeleteUnused(ctx, unused)
	statusf("Deleted %d unused files (%d failed).\n", cr.Deleted, len(cr.Errors))

	return cleanupError(cr)
}

func cleanupDuplicates(ctx context.Context, resolver *syncer.Resolver) error {
	groups, err := resolver.FindDuplicates(ctx)
	if err != nil {
		return err
	}

	if len(groups) == 0 {
		statusf("No duplicate remote files.\n")
		return nil
	}

	var removable int

	for _, group := range groups {
		statusf("keeping %s, duplicates:\n", group[0].Name)

		for _, rn := range group[1:] {
			statusf("  %s (modified %s)\n", rn.Name, rn.ModifiedAt.Format("2006-01-02 15:04"))
			removable++
		}
	}

	if !flagYes {
		statusf("%d duplicate files found. Re-run with --yes to delete.\n", removable)
		return nil
	}

	cr := resolver.DeleteDuplicates(ctx, groups)
	statusf("Deleted %d duplicate files (%d failed).\n", cr.Deleted, len(cr.Errors))

	return cleanupError(cr)
}

// cleanupError converts deletion failures into a command error so the
// exit code reflects a partial cleanup.
func cleanupError(cr syncer.CleanupResult) error {
	if len(cr.Errors) == 0 {
		return nil
	}

	return fmt.Errorf("%d deletions failed (first: %s: %v)",
		len(cr.Errors), cr.Errors[0].NoteID, cr.Errors[0].Err)
}
