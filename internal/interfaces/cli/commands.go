package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/erp/console/internal/application/bulk"
	"github.com/erp/console/internal/application/console"
	"github.com/erp/console/internal/domain/catalog"
	"github.com/erp/console/internal/domain/listing"
	"github.com/erp/console/internal/domain/shared"
	"github.com/erp/console/internal/infrastructure/config"
	"github.com/erp/console/internal/infrastructure/persistence"
	"github.com/erp/console/internal/infrastructure/seed"
	"github.com/erp/console/internal/infrastructure/storage"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// openView opens kind and loads the page described by qf
func openView(ctx context.Context, app *App, kind string, qf *queryFlags) (*console.View, error) {
	view, err := app.Console.Open(catalog.Kind(kind))
	if err != nil {
		return nil, err
	}
	q, err := qf.build(view.List().Config())
	if err != nil {
		return nil, err
	}
	if err := view.List().Apply(ctx, q); err != nil {
		return nil, err
	}
	return view, nil
}

func listCmd(opts *rootOptions) *cobra.Command {
	var qf queryFlags
	cmd := &cobra.Command{
		Use:   "list <kind>",
		Short: "List one page of a collection",
		Example: `  erp-console list products --filter category=dairy,bakery --sort selling_price:desc
  erp-console list products --filter price=10..50 --search milk --page 2
  erp-console list customers --filter missing=phone -o json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(ctx context.Context, app *App) error {
				view, err := openView(ctx, app, args[0], &qf)
				if err != nil {
					return err
				}
				return renderPage(cmd.OutOrStdout(), opts.output, view.List().Config(), view.List().View())
			})
		},
	}
	qf.register(cmd)
	return cmd
}

type editOutput struct {
	ID    string `json:"id"`
	Field string `json:"field"`
	Value any    `json:"value"`
}

func editCmd(opts *rootOptions) *cobra.Command {
	var (
		qf       queryFlags
		asString bool
	)
	cmd := &cobra.Command{
		Use:   "edit <kind> <id> <field> <value>",
		Short: "Change one cell of a listed record",
		Long: `Change one cell of a record on the listed page. The page is selected with
the same flags as list; the record must be on it.`,
		Example: `  erp-console edit products p-42 selling_price 12.50
  erp-console edit products p-42 sku 00123 --string --search p-42`,
		Args: cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, field := args[1], args[2]
			value := parseValue(args[3], asString)
			return opts.run(cmd, func(ctx context.Context, app *App) error {
				view, err := openView(ctx, app, args[0], &qf)
				if err != nil {
					return err
				}
				if err := view.Edits().Edit(ctx, id, field, value); err != nil {
					if errors.Is(err, shared.ErrRecordNotInView) {
						return fmt.Errorf("%w: narrow the page with --search, --filter or --page", err)
					}
					return err
				}
				current, _ := view.List().Cell(id, field)
				out := editOutput{ID: id, Field: field, Value: current}
				if opts.output == OutputJSON {
					return writeJSON(cmd.OutOrStdout(), out)
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s %s = %s\n", id, field, listing.ValueString(current))
				return err
			})
		},
	}
	qf.register(cmd)
	cmd.Flags().BoolVar(&asString, "string", false, "Store the value as text even if it looks like a number or boolean")
	return cmd
}

// selectionFlags choose the records a bulk action acts on
type selectionFlags struct {
	ids     []string
	visible bool
}

func (s *selectionFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&s.ids, "ids", nil, "Record ids to act on (comma separated, repeatable)")
	cmd.Flags().BoolVar(&s.visible, "visible", false, "Act on every record of the listed page")
}

func (s *selectionFlags) apply(view *console.View) error {
	sel := view.Bulk()
	if s.visible {
		sel.Select(view.List().VisibleIDs()...)
	}
	sel.Select(splitIDs(s.ids)...)
	if sel.Count() == 0 {
		return fmt.Errorf("%w: pass --ids or --visible", shared.ErrEmptySelection)
	}
	return nil
}

type bulkOutput struct {
	Op          string     `json:"op"`
	Collection  string     `json:"collection"`
	Requested   int        `json:"requested"`
	Affected    int64      `json:"affected"`
	Location    string     `json:"location,omitempty"`
	DownloadURL string     `json:"download_url,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

func bulkCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bulk",
		Short: "Act on many records at once",
	}
	cmd.AddCommand(bulkDeleteCmd(opts), bulkSetCmd(opts), bulkExportCmd(opts))
	return cmd
}

// runBulk opens the view, builds the selection and reports the result of action
func runBulk(opts *rootOptions, cmd *cobra.Command, kind string, qf *queryFlags, sel *selectionFlags,
	action func(ctx context.Context, app *App, view *console.View) (bulkOutput, error)) error {
	return opts.run(cmd, func(ctx context.Context, app *App) error {
		view, err := openView(ctx, app, kind, qf)
		if err != nil {
			return err
		}
		if err := sel.apply(view); err != nil {
			return err
		}
		out, err := action(ctx, app, view)
		if err != nil {
			return err
		}
		out.Collection = view.List().Collection()
		return renderBulk(cmd, opts.output, out)
	})
}

func toOutput(res bulk.Result) bulkOutput {
	return bulkOutput{Op: res.Op, Requested: res.Requested, Affected: res.Affected, Location: res.Location}
}

func renderBulk(cmd *cobra.Command, format string, out bulkOutput) error {
	w := cmd.OutOrStdout()
	if format == OutputJSON {
		return writeJSON(w, out)
	}
	verb := map[string]string{bulk.OpDelete: "Deleted", bulk.OpUpdate: "Updated", bulk.OpExport: "Exported"}[out.Op]
	if _, err := fmt.Fprintf(w, "%s %d of %d %s\n", verb, out.Affected, out.Requested, out.Collection); err != nil {
		return err
	}
	if out.Location != "" {
		if _, err := fmt.Fprintln(w, out.Location); err != nil {
			return err
		}
	}
	if out.DownloadURL != "" {
		_, err := fmt.Fprintf(w, "%s\n%s\n", out.DownloadURL,
			mutedStyle.Render("link expires "+out.ExpiresAt.Format(time.RFC3339)))
		return err
	}
	return nil
}

func bulkDeleteCmd(opts *rootOptions) *cobra.Command {
	var (
		qf  queryFlags
		sel selectionFlags
		yes bool
	)
	cmd := &cobra.Command{
		Use:     "delete <kind>",
		Short:   "Delete the selected records",
		Example: `  erp-console bulk delete customers --ids c-1,c-2 --yes`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("bulk delete cannot be undone, confirm with --yes")
			}
			return runBulk(opts, cmd, args[0], &qf, &sel,
				func(ctx context.Context, _ *App, view *console.View) (bulkOutput, error) {
					res, err := view.Bulk().Delete(ctx)
					return toOutput(res), err
				})
		},
	}
	qf.register(cmd)
	sel.register(cmd)
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm the deletion")
	return cmd
}

func bulkSetCmd(opts *rootOptions) *cobra.Command {
	var (
		qf       queryFlags
		sel      selectionFlags
		asString bool
	)
	cmd := &cobra.Command{
		Use:     "set <kind> <field=value>...",
		Short:   "Assign values to fields of the selected records",
		Example: `  erp-console bulk set products status=inactive featured=false --filter category=dairy --visible`,
		Args:    cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch := make(map[string]any, len(args)-1)
			for _, raw := range args[1:] {
				field, value, ok := strings.Cut(raw, "=")
				if !ok || strings.TrimSpace(field) == "" {
					return shared.NewValidationError("patch", fmt.Sprintf("expected field=value, got %q", raw))
				}
				patch[strings.TrimSpace(field)] = parseValue(value, asString)
			}
			return runBulk(opts, cmd, args[0], &qf, &sel,
				func(ctx context.Context, _ *App, view *console.View) (bulkOutput, error) {
					var (
						res bulk.Result
						err error
					)
					if len(patch) == 1 {
						for field, value := range patch {
							res, err = view.Bulk().SetField(ctx, field, value)
						}
					} else {
						res, err = view.Bulk().Update(ctx, patch)
					}
					return toOutput(res), err
				})
		},
	}
	qf.register(cmd)
	sel.register(cmd)
	cmd.Flags().BoolVar(&asString, "string", false, "Store values as text even if they look like numbers or booleans")
	return cmd
}

func bulkExportCmd(opts *rootOptions) *cobra.Command {
	var (
		qf     queryFlags
		sel    selectionFlags
		format string
	)
	cmd := &cobra.Command{
		Use:     "export <kind>",
		Short:   "Export the selected records as a spreadsheet",
		Example: `  erp-console bulk export merchants --visible --filter status=active --format csv`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			exportFormat, err := listing.ParseExportFormat(format)
			if err != nil {
				return err
			}
			return runBulk(opts, cmd, args[0], &qf, &sel,
				func(ctx context.Context, app *App, view *console.View) (bulkOutput, error) {
					res, err := view.Bulk().Export(ctx, exportFormat)
					if err != nil {
						return bulkOutput{}, err
					}
					out := toOutput(res)
					if s3, ok := app.Sink.(*storage.S3Sink); ok {
						link, expires, err := s3.DownloadURL(ctx, res.Location)
						if err != nil {
							app.Logger.Warn("Failed to presign export download", zap.Error(err))
							return out, nil
						}
						out.DownloadURL = link
						out.ExpiresAt = &expires
					}
					return out, nil
				})
		},
	}
	qf.register(cmd)
	sel.register(cmd)
	cmd.Flags().StringVar(&format, "format", string(listing.FormatCSV), "Export format: csv or xlsx")
	return cmd
}

func callCmd(opts *rootOptions) *cobra.Command {
	var (
		rawArgs  []string
		asString bool
	)
	cmd := &cobra.Command{
		Use:     "call <procedure>",
		Short:   "Invoke a server-side procedure and print its JSON result",
		Example: `  erp-console call category_totals --arg status=active`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := make(map[string]any, len(rawArgs))
			for _, raw := range rawArgs {
				name, value, ok := strings.Cut(raw, "=")
				if !ok || strings.TrimSpace(name) == "" {
					return shared.NewValidationError("arg", fmt.Sprintf("expected name=value, got %q", raw))
				}
				params[strings.TrimSpace(name)] = parseValue(value, asString)
			}
			return opts.run(cmd, func(ctx context.Context, app *App) error {
				raw, err := app.Console.CallProcedure(ctx, args[0], params)
				if err != nil {
					return err
				}
				var v any
				if len(raw) > 0 {
					if err := json.Unmarshal(raw, &v); err != nil {
						return fmt.Errorf("procedure %s returned invalid JSON: %w", args[0], err)
					}
				}
				return writeJSON(cmd.OutOrStdout(), v)
			})
		},
	}
	cmd.Flags().StringArrayVar(&rawArgs, "arg", nil, "Procedure argument as name=value (repeatable)")
	cmd.Flags().BoolVar(&asString, "string", false, "Pass argument values as text")
	return cmd
}

// openDatabase connects to the configured database for the maintenance commands
func openDatabase(opts *rootOptions) (*persistence.Database, *zap.Logger, error) {
	cfg, err := opts.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if cfg.Source.Kind != config.SourceDatabase {
		return nil, nil, fmt.Errorf("this command needs source.kind = %q, got %q", config.SourceDatabase, cfg.Source.Kind)
	}
	log, err := newLogger(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	db, err := persistence.NewDatabase(&cfg.Database, log)
	if err != nil {
		_ = log.Sync()
		return nil, nil, err
	}
	return db, log, nil
}

func migrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the marketplace tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, log, err := openDatabase(opts)
			if err != nil {
				return err
			}
			defer func() {
				_ = db.Close()
				_ = log.Sync()
			}()
			if err := persistence.Migrate(db.DB.WithContext(cmd.Context())); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			log.Info("Migrations applied")
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "Tables are up to date")
			return err
		},
	}
}

func seedCmd(opts *rootOptions) *cobra.Command {
	var (
		counts = seed.DefaultCounts()
		value  uint64
	)
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Fill the database with generated marketplace data",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := counts.Validate(); err != nil {
				return err
			}
			db, log, err := openDatabase(opts)
			if err != nil {
				return err
			}
			defer func() {
				_ = db.Close()
				_ = log.Sync()
			}()

			seeder := seed.NewSeeder(db.DB, seed.WithSeed(value), seed.WithLogger(log))
			if err := seeder.Run(cmd.Context(), counts); err != nil {
				return fmt.Errorf("seeding failed: %w", err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d merchants, %d products and %d customers\n",
				counts.Merchants, counts.Products, counts.Customers)
			return err
		},
	}
	cmd.Flags().IntVar(&counts.Merchants, "merchants", counts.Merchants, "Merchants to generate")
	cmd.Flags().IntVar(&counts.Products, "products", counts.Products, "Products to generate")
	cmd.Flags().IntVar(&counts.Customers, "customers", counts.Customers, "Customers to generate")
	cmd.Flags().Uint64Var(&value, "seed", 1, "Random seed; the same seed generates the same data")
	return cmd
}
