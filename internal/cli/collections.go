package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/dvloznov/finsync/internal/bootstrap"
	"github.com/dvloznov/finsync/internal/domain"
)

// NewLoadCommand creates the load command.
func NewLoadCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "load <kind>",
		Short: "Load the most complete copy of a collection",
		Long: `Polls every reachable backend, prints the collection with the most records
and writes it back to every backend that is behind.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := parseKind(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, rootOpts, func(ctx context.Context, app *bootstrap.App) error {
				records, err := app.Sync.Load(ctx, kind)
				if err != nil {
					return syncError(err)
				}
				return printCollection(formatter(cmd, rootOpts), kind, records)
			})
		},
	}
}

// NewSaveCommand creates the save command.
func NewSaveCommand(rootOpts *RootOptions) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "save <kind>",
		Short: "Replace a collection with a JSON array",
		Long:  `Reads a JSON array of records from --file (or stdin) and saves it to every writable backend.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := parseKind(args[0])
			if err != nil {
				return err
			}
			b, err := readInput(cmd, file)
			if err != nil {
				return err
			}
			var records domain.Collection
			if err := json.Unmarshal(b, &records); err != nil {
				return WrapExitError(ExitCommandError, "input is not a JSON array of records", err)
			}
			return withApp(cmd, rootOpts, func(ctx context.Context, app *bootstrap.App) error {
				res, err := app.Sync.Save(ctx, kind, records)
				if err != nil {
					return syncError(err)
				}
				return printSaveResult(formatter(cmd, rootOpts), kind, res)
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON file to read (default stdin)")
	return cmd
}

// NewAddCommand creates the add command.
func NewAddCommand(rootOpts *RootOptions) *cobra.Command {
	var data string
	cmd := &cobra.Command{
		Use:   "add <kind>",
		Short: "Append one record to a collection",
		Long:  `Validates a JSON object given with --data (or on stdin) and appends it to the collection.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := parseKind(args[0])
			if err != nil {
				return err
			}
			b := []byte(data)
			if data == "" {
				if b, err = readInput(cmd, ""); err != nil {
					return err
				}
			}
			var rec domain.Record
			if err := json.Unmarshal(b, &rec); err != nil || rec == nil {
				return WrapExitError(ExitCommandError, "input is not a JSON object", err)
			}
			return withApp(cmd, rootOpts, func(ctx context.Context, app *bootstrap.App) error {
				res, err := app.Sync.Add(ctx, kind, rec)
				if err != nil {
					return syncError(err)
				}
				return printSaveResult(formatter(cmd, rootOpts), kind, res)
			})
		},
	}
	cmd.Flags().StringVarP(&data, "data", "d", "", "record as a JSON object")
	return cmd
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <kind> <id>",
		Short: "Remove one record from a collection",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := parseKind(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, rootOpts, func(ctx context.Context, app *bootstrap.App) error {
				res, err := app.Sync.Delete(ctx, kind, args[1])
				if err != nil {
					return syncError(err)
				}
				return printSaveResult(formatter(cmd, rootOpts), kind, res)
			})
		},
	}
}

// NewRecoverCommand creates the recover command.
func NewRecoverCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "recover <kind>",
		Short: "Scan for data stored under non-canonical file names",
		Long: `Searches the data directory for files whose names contain the kind, then the
backups tree newest first, and re-seeds the primary file with the first
non-empty collection found.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := parseKind(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, rootOpts, func(ctx context.Context, app *bootstrap.App) error {
				records, ok := app.Sync.Recover(ctx, kind)
				if !ok {
					return &ExitError{Code: ExitFailure, Message: fmt.Sprintf("nothing to recover for %s", kind)}
				}
				return printCollection(formatter(cmd, rootOpts), kind, records)
			})
		},
	}
}

// NewKindsCommand creates the kinds command.
func NewKindsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "kinds",
		Short: "List the known record kinds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			lines := make([]string, len(domain.Kinds))
			for i, k := range domain.Kinds {
				lines[i] = string(k)
			}
			return formatter(cmd, rootOpts).Success(domain.Kinds, lines...)
		},
	}
}

func parseKind(s string) (domain.Kind, error) {
	kind, err := domain.ParseKind(s)
	if err != nil {
		return "", WrapExitError(ExitCommandError, "unknown kind", err)
	}
	return kind, nil
}

func readInput(cmd *cobra.Command, file string) ([]byte, error) {
	var (
		b   []byte
		err error
	)
	if file != "" {
		b, err = os.ReadFile(file)
	} else {
		b, err = io.ReadAll(cmd.InOrStdin())
	}
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to read input", err)
	}
	return b, nil
}

// syncError maps synchronizer errors onto exit codes.
func syncError(err error) error {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		return WrapExitError(ExitFailure, "record rejected", err)
	case errors.Is(err, domain.ErrRecordNotFound):
		return WrapExitError(ExitFailure, "record not found", err)
	default:
		return WrapExitError(ExitCommandError, "operation failed", err)
	}
}

func printCollection(f *OutputFormatter, kind domain.Kind, records domain.Collection) error {
	lines := []string{fmt.Sprintf("%s: %d record(s)", kind, len(records))}
	for _, r := range records {
		lines = append(lines, recordLine(r))
	}
	return f.Success(map[string]interface{}{"kind": kind, "records": records, "count": len(records)}, lines...)
}

func printSaveResult(f *OutputFormatter, kind domain.Kind, res domain.SaveResult) error {
	line := fmt.Sprintf("%s: saved %d record(s), status=%s file=%t remote=%t", kind, len(res.Records), res.Status, res.FileOK, res.RemoteOK)
	lines := []string{line}
	if res.RescuePath != "" {
		lines = append(lines, "rescue copy: "+res.RescuePath)
	}
	return f.Success(res, lines...)
}
