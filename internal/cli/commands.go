package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

const (
	defaultURL     = "http://localhost:9080"
	defaultTimeout = 30 * time.Second
)

type rootOptions struct {
	url     string
	timeout time.Duration
}

func (o *rootOptions) client() *Client { return NewClient(o.url, o.timeout) }

// NewRootCommand builds the evalctl command tree.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "evalctl",
		Short:         "Operate a running evaluation service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.url, "url", defaultURL, "base URL of the service")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", defaultTimeout, "request timeout")

	cmd.AddCommand(
		newStatusCommand(opts),
		newListCommand(opts),
		newDeleteCommand(opts),
		newSyncCommand(opts),
		newDedupeCommand(opts),
		newRefreshCommand(opts),
		newBackupCommand(opts),
		newAnalyticsCommand(opts),
		newPdiCommand(opts),
		newSeedCommand(opts),
	)
	return cmd
}

// printJSON re-indents a JSON body onto w.
func printJSON(w io.Writer, data []byte) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		_, err = w.Write(data)
		return err
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(w)
	return err
}

// request runs fn and prints its JSON result.
func request(cmd *cobra.Command, fn func(ctx context.Context) ([]byte, error)) error {
	data, err := fn(cmd.Context())
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), data)
}

func newStatusCommand(opts *rootOptions) *cobra.Command {
	var check bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the remote store connection status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return request(cmd, func(ctx context.Context) ([]byte, error) {
				if check {
					return opts.client().Post(ctx, "/api/status", nil)
				}
				return opts.client().Get(ctx, "/api/status", nil)
			})
		},
	}
	cmd.Flags().BoolVar(&check, "check", false, "probe the remote store now")
	return cmd
}

func newListCommand(opts *rootOptions) *cobra.Command {
	var patient, from, to string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List merged evaluations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := url.Values{}
			setIf(q, "patient", patient)
			setIf(q, "from", from)
			setIf(q, "to", to)
			return request(cmd, func(ctx context.Context) ([]byte, error) {
				return opts.client().Get(ctx, "/api/evaluations", q)
			})
		},
	}
	cmd.Flags().StringVar(&patient, "patient", "", "patient name fragment")
	cmd.Flags().StringVar(&from, "from", "", "first evaluation date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "last evaluation date (YYYY-MM-DD)")
	return cmd
}

func newDeleteCommand(opts *rootOptions) *cobra.Command {
	var localOnly bool
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an evaluation everywhere it is stored",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if localOnly {
				q.Set("localOnly", "true")
			}
			return request(cmd, func(ctx context.Context) ([]byte, error) {
				return opts.client().Delete(ctx, "/api/evaluations/"+url.PathEscape(args[0]), q)
			})
		},
	}
	cmd.Flags().BoolVar(&localOnly, "local-only", false, "only remove local copies")
	return cmd
}

func newSyncCommand(opts *rootOptions) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Push local-only evaluations to the remote store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := "/api/sync"
			if force {
				path = "/api/sync/force"
			}
			return request(cmd, func(ctx context.Context) ([]byte, error) {
				return opts.client().Post(ctx, path, nil)
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "re-upsert every local evaluation")
	return cmd
}

func newDedupeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "dedupe",
		Short: "Consolidate duplicate remote documents",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return request(cmd, func(ctx context.Context) ([]byte, error) {
				return opts.client().Post(ctx, "/api/dedupe", nil)
			})
		},
	}
}

func newRefreshCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Rebuild the merged view",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return request(cmd, func(ctx context.Context) ([]byte, error) {
				return opts.client().Post(ctx, "/api/refresh", nil)
			})
		},
	}
}

func newBackupCommand(opts *rootOptions) *cobra.Command {
	var source string
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Write a local backup of the merged evaluations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return request(cmd, func(ctx context.Context) ([]byte, error) {
				return opts.client().Post(ctx, "/api/backup", map[string]string{"source": source})
			})
		},
	}
	cmd.Flags().StringVar(&source, "source", "evalctl", "backup source tag")
	return cmd
}

func newAnalyticsCommand(opts *rootOptions) *cobra.Command {
	var grouping, metric, patient, evaluator, from, to string
	cmd := &cobra.Command{
		Use:   "analytics",
		Short: "Aggregate evaluations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := url.Values{}
			setIf(q, "grouping", grouping)
			setIf(q, "metric", metric)
			setIf(q, "patient", patient)
			setIf(q, "evaluator", evaluator)
			setIf(q, "from", from)
			setIf(q, "to", to)
			return request(cmd, func(ctx context.Context) ([]byte, error) {
				return opts.client().Get(ctx, "/api/analytics", q)
			})
		},
	}
	cmd.Flags().StringVar(&grouping, "grouping", "", "patient, evaluator, category, subgroup or month")
	cmd.Flags().StringVar(&metric, "metric", "", "averagePercent, averageScore, count or lastScore")
	cmd.Flags().StringVar(&patient, "patient", "", "exact patient name")
	cmd.Flags().StringVar(&evaluator, "evaluator", "", "exact evaluator name")
	cmd.Flags().StringVar(&from, "from", "", "first evaluation date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "last evaluation date (YYYY-MM-DD)")
	return cmd
}

func newPdiCommand(opts *rootOptions) *cobra.Command {
	var scores, categories, subgroups string
	var csv bool
	cmd := &cobra.Command{
		Use:   "pdi <id>",
		Short: "Build the intervention plan of an evaluation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			setIf(q, "scores", scores)
			setIf(q, "categories", categories)
			setIf(q, "subgroups", subgroups)
			if csv {
				q.Set("format", "csv")
			}
			data, err := opts.client().Get(cmd.Context(), "/api/evaluations/"+url.PathEscape(args[0])+"/pdi", q)
			if err != nil {
				return err
			}
			if csv {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			return printJSON(cmd.OutOrStdout(), data)
		},
	}
	cmd.Flags().StringVar(&scores, "scores", "", "comma separated scores (default 1,2,3)")
	cmd.Flags().StringVar(&categories, "categories", "", "comma separated categories")
	cmd.Flags().StringVar(&subgroups, "subgroups", "", "comma separated subgroups")
	cmd.Flags().BoolVar(&csv, "csv", false, "print CSV instead of JSON")
	return cmd
}

func newSeedCommand(opts *rootOptions) *cobra.Command {
	var cfg SeedConfig
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Submit generated questionnaires",
		RunE: func(cmd *cobra.Command, _ []string) error {
			stats, err := Seed(cmd.Context(), opts.client(), cfg)
			if err != nil {
				return err
			}
			data, err := json.Marshal(stats)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), data)
		},
	}
	cmd.Flags().IntVar(&cfg.Count, "count", 100, "questionnaires to submit")
	cmd.Flags().IntVar(&cfg.Workers, "workers", 4, "concurrent clients")
	cmd.Flags().IntVar(&cfg.Patients, "patients", len(seedPatients), "distinct patients, at most "+strconv.Itoa(len(seedPatients)))
	return cmd
}

func setIf(q url.Values, key, value string) {
	if value != "" {
		q.Set(key, value)
	}
}

// Execute runs the command tree and returns the process exit code.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := NewRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	return 0
}
