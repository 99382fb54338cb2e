package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dvloznov/finsync/internal/bootstrap"
)

// NewSnapshotCommand creates the snapshot command.
func NewSnapshotCommand(rootOpts *RootOptions) *cobra.Command {
	var list bool
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Create a point-in-time copy of every collection",
		Long: `Copies each primary collection to backups/{YYYYMMDD_HHMMSS}/{kind}.json and
mirrors it to the configured archive. With --list, prints existing snapshots
newest first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, app *bootstrap.App) error {
				out := formatter(cmd, rootOpts)
				if list {
					infos, err := app.Snapshots.List()
					if err != nil {
						return WrapExitError(ExitCommandError, "failed to list snapshots", err)
					}
					lines := make([]string, 0, len(infos))
					for _, in := range infos {
						lines = append(lines, fmt.Sprintf("%s  %v", in.Timestamp, in.Kinds))
					}
					return out.Success(infos, lines...)
				}

				m, err := app.Snapshots.Create(ctx)
				if err != nil {
					return WrapExitError(ExitCommandError, "snapshot failed", err)
				}
				lines := []string{fmt.Sprintf("snapshot %s: %d kind(s) in %s", m.Timestamp, len(m.Entries), m.Dir)}
				for _, e := range m.Entries {
					line := fmt.Sprintf("  %s  %d record(s)", e.Kind, e.Records)
					if e.ArchiveURI != "" {
						line += "  " + e.ArchiveURI
					}
					lines = append(lines, line)
				}
				return out.Success(m, lines...)
			})
		},
	}
	cmd.Flags().BoolVar(&list, "list", false, "list existing snapshots")
	return cmd
}
