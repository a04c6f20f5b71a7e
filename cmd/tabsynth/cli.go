package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/hpungsan/tabsynth/internal/config"
	"github.com/hpungsan/tabsynth/internal/errors"
	"github.com/hpungsan/tabsynth/internal/ops"
	"github.com/hpungsan/tabsynth/internal/web"
)

// newCLIApp creates the CLI application with all commands.
func newCLIApp(db *sql.DB, cfg *config.Config, logger *zap.Logger) *cli.App {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &cli.App{
		Name:    "tabsynth",
		Usage:   "Conditional GAN synthesizer for tabular data",
		Version: Version,
		// Condition values may contain commas; --discrete is split by splitList.
		DisableSliceFlagSeparator: true,
		Commands: []*cli.Command{
			fitCmd(db, cfg, logger),
			sampleCmd(db, cfg, logger),
			listCmd(db),
			infoCmd(db),
			deleteCmd(db),
			renameCmd(db),
			reportCmd(db),
			serveCmd(db, logger),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// addressFlags identify a model by name when no positional ID is given.
func addressFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Usage: "Model name"},
	}
}

// address reads the model address from the first positional argument or --name.
func address(c *cli.Context) (id, name string) {
	if c.NArg() > 0 {
		return c.Args().First(), ""
	}
	return "", c.String("name")
}

// fitCmd creates the fit command.
func fitCmd(db *sql.DB, cfg *config.Config, logger *zap.Logger) *cli.Command {
	return &cli.Command{
		Name:      "fit",
		Usage:     "Train a synthesizer on a CSV file and store it",
		ArgsUsage: "<data.csv>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "metadata", Usage: "Metadata JSON declaring column types"},
			&cli.StringSliceFlag{Name: "discrete", Aliases: []string{"d"}, Usage: "Discrete column (repeatable or comma-separated)"},
			&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Usage: "Model name (optional)"},
			&cli.StringFlag{Name: "mode", Aliases: []string{"m"}, Value: "error", Usage: "Name collision mode: error|replace"},
			&cli.IntFlag{Name: "epochs", Aliases: []string{"e"}, Usage: "Training epochs (default from config)"},
			&cli.IntFlag{Name: "batch-size", Usage: "Batch size, a multiple of pac"},
			&cli.IntFlag{Name: "pac", Usage: "Rows per discriminator group"},
			&cli.Uint64Flag{Name: "seed", Usage: "Random seed"},
			&cli.IntFlag{Name: "max-steps", Usage: "Stop after this many optimizer steps"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return outputError(errors.NewInvalidRequest("exactly one data CSV path is required"))
			}
			input := ops.FitInput{
				DataPath:     c.Args().First(),
				MetadataPath: c.String("metadata"),
				Discrete:     splitList(c.StringSlice("discrete")),
				Name:         c.String("name"),
				Mode:         ops.FitMode(c.String("mode")),
				Epochs:       c.Int("epochs"),
				BatchSize:    c.Int("batch-size"),
				Pac:          c.Int("pac"),
				MaxSteps:     c.Int("max-steps"),
			}
			if c.IsSet("seed") {
				seed := c.Uint64("seed")
				input.Seed = &seed
			}

			output, err := ops.Fit(c.Context, db, cfg, logger, input)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// sampleCmd creates the sample command.
func sampleCmd(db *sql.DB, cfg *config.Config, logger *zap.Logger) *cli.Command {
	return &cli.Command{
		Name:      "sample",
		Usage:     "Generate synthetic rows from a stored model",
		ArgsUsage: "[id]",
		Flags: append(addressFlags(),
			&cli.IntFlag{Name: "rows", Aliases: []string{"r"}, Required: true, Usage: "Number of rows to generate"},
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "Output CSV path (default: ~/.tabsynth/samples/<name>-<timestamp>.csv)"},
			&cli.BoolFlag{Name: "stdout", Usage: "Write the CSV to stdout instead of a file"},
			&cli.StringSliceFlag{Name: "where", Aliases: []string{"w"}, Usage: "Condition column=value (repeatable)"},
			&cli.IntFlag{Name: "max-retries", Usage: "Extra batches allowed for conditional sampling"},
			&cli.BoolFlag{Name: "best-effort", Usage: "Return fewer rows instead of failing when retries run out"},
			&cli.Uint64Flag{Name: "seed", Usage: "Sampling seed (0 derives one from the model)"},
		),
		Action: func(c *cli.Context) error {
			conditions, err := parseConditions(c.StringSlice("where"))
			if err != nil {
				return outputError(err)
			}
			id, name := address(c)
			input := ops.SampleInput{
				ID:         id,
				Name:       name,
				Rows:       c.Int("rows"),
				OutputPath: c.String("output"),
				Inline:     c.Bool("stdout"),
				Conditions: conditions,
				MaxRetries: c.Int("max-retries"),
				BestEffort: c.Bool("best-effort"),
				Seed:       c.Uint64("seed"),
			}

			output, err := ops.Sample(c.Context, db, cfg, logger, input)
			if err != nil {
				return outputError(err)
			}
			if input.Inline {
				_, err := fmt.Fprint(os.Stdout, output.CSV)
				return err
			}
			return outputJSON(output)
		},
	}
}

// listCmd creates the list command.
func listCmd(db *sql.DB) *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List stored models, newest first",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: ops.DefaultListLimit, Usage: "Maximum items to return"},
			&cli.IntFlag{Name: "offset", Aliases: []string{"o"}, Value: 0, Usage: "Items to skip"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.List(db, ops.ListInput{
				Limit:  c.Int("limit"),
				Offset: c.Int("offset"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// infoCmd creates the info command.
func infoCmd(db *sql.DB) *cli.Command {
	return &cli.Command{
		Name:      "info",
		Usage:     "Show a model's schema, config and losses",
		ArgsUsage: "[id]",
		Flags:     addressFlags(),
		Action: func(c *cli.Context) error {
			id, name := address(c)
			output, err := ops.Fetch(db, ops.FetchInput{ID: id, Name: name})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// deleteCmd creates the delete command.
func deleteCmd(db *sql.DB) *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Usage:     "Delete a model and its losses",
		ArgsUsage: "[id]",
		Flags:     addressFlags(),
		Action: func(c *cli.Context) error {
			id, name := address(c)
			output, err := ops.Delete(db, ops.DeleteInput{ID: id, Name: name})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// renameCmd creates the rename command.
func renameCmd(db *sql.DB) *cli.Command {
	return &cli.Command{
		Name:      "rename",
		Usage:     "Rename a model (an empty --to clears the name)",
		ArgsUsage: "[id]",
		Flags: append(addressFlags(),
			&cli.StringFlag{Name: "to", Required: true, Usage: "New name"},
		),
		Action: func(c *cli.Context) error {
			id, name := address(c)
			output, err := ops.Rename(db, ops.RenameInput{ID: id, Name: name, NewName: c.String("to")})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// reportCmd creates the report command.
func reportCmd(db *sql.DB) *cli.Command {
	return &cli.Command{
		Name:      "report",
		Usage:     "Print a markdown report of a model's columns, modes and losses",
		ArgsUsage: "[id]",
		Flags:     addressFlags(),
		Action: func(c *cli.Context) error {
			id, name := address(c)
			output, err := ops.Report(db, ops.ReportInput{ID: id, Name: name})
			if err != nil {
				return outputError(err)
			}
			_, err = fmt.Fprintln(os.Stdout, output.Markdown)
			return err
		},
	}
}

// serveCmd creates the serve command.
func serveCmd(db *sql.DB, logger *zap.Logger) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the model registry web UI",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Value: "127.0.0.1", Usage: "Address to bind"},
			&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Value: 8765, Usage: "Port to listen on"},
		},
		Action: func(c *cli.Context) error {
			port := c.Int("port")
			if port <= 0 || port > 65535 {
				return outputError(errors.NewInvalidRequest(fmt.Sprintf("invalid port %d", port)))
			}
			srv, err := web.NewServer(db, logger, Version, c.String("bind"), port)
			if err != nil {
				return outputError(errors.NewInternal(err))
			}
			if err := web.Run(srv, logger); err != nil {
				return outputError(errors.NewInternal(err))
			}
			return nil
		},
	}
}

// outputJSON writes v as indented JSON to stdout.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	if sErr, ok := errors.As(err); ok {
		return cli.Exit(fmt.Sprintf("[%s] %s", sErr.Code, sErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// splitList flattens comma-separated flag values and drops blanks.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

// parseConditions turns column=value pairs into a condition map.
func parseConditions(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	conditions := make(map[string]string, len(pairs))
	for _, p := range pairs {
		col, val, ok := strings.Cut(p, "=")
		col = strings.TrimSpace(col)
		if !ok || col == "" {
			return nil, errors.NewInvalidRequest(fmt.Sprintf("condition %q must be column=value", p))
		}
		if _, dup := conditions[col]; dup {
			return nil, errors.NewInvalidRequest(fmt.Sprintf("column %q is conditioned twice", col))
		}
		conditions[col] = val
	}
	return conditions, nil
}
