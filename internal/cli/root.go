// Package cli implements leadctl, the operator command line for the lead
// sequencing engine.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nyashahama/consulting-leads-backend/internal/email"
	"github.com/nyashahama/consulting-leads-backend/internal/lead"
	"github.com/nyashahama/consulting-leads-backend/internal/sequence"
	"github.com/nyashahama/consulting-leads-backend/internal/sequencer"
)

// Engine is the sequencer surface leadctl drives.
type Engine interface {
	ProcessAll(ctx context.Context) (sequencer.PassSummary, error)
	PendingLeads(ctx context.Context) ([]sequencer.PendingLead, error)
	DueSteps(l *lead.Lead, now time.Time) []sequencer.DueStep
	LeadState(l *lead.Lead) lead.State
	PauseLead(ctx context.Context, id uuid.UUID, reason string) error
	ResumeLead(ctx context.Context, id uuid.UUID) error
	MarkResponded(ctx context.Context, id uuid.UUID, responseType string) error
	Catalog() *sequence.Catalog
}

// Store is the read side leadctl needs.
type Store interface {
	FindByEmail(ctx context.Context, email string) (*lead.Lead, error)
	FindByID(ctx context.Context, id uuid.UUID) (*lead.Lead, error)
	ListEmailLogs(ctx context.Context, leadID uuid.UUID) ([]lead.EmailLog, error)
	GetMetrics(ctx context.Context, now time.Time) (lead.Metrics, error)
}

// Env is what a command runs against.
type Env struct {
	Engine  Engine
	Store   Store
	Gateway email.Gateway
	Now     func() time.Time
}

// Loader builds the Env on first use. The returned func releases it.
type Loader func(ctx context.Context) (*Env, func() error, error)

type runner struct {
	load    Loader
	jsonOut bool

	env     *Env
	release func() error
}

// Execute runs leadctl with args, writing command output to out. The Env is
// loaded lazily by the first command that needs it and released on return.
func Execute(ctx context.Context, load Loader, args []string, out io.Writer) (err error) {
	r := &runner{load: load}
	defer func() {
		if cerr := r.close(); err == nil {
			err = cerr
		}
	}()

	root := r.rootCmd()
	root.SetArgs(args)
	root.SetOut(out)
	root.SetErr(out)
	return root.ExecuteContext(ctx)
}

func (r *runner) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "leadctl",
		Short:         "Operate the lead sequencing engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVar(&r.jsonOut, "json", false, "print JSON instead of tables")

	root.AddCommand(
		r.runCmd(),
		r.dueCmd(),
		r.leadsCmd(),
		r.metricsCmd(),
		r.catalogCmd(),
		r.gatewayCmd(),
	)
	return root
}

func (r *runner) open(ctx context.Context) (*Env, error) {
	if r.env != nil {
		return r.env, nil
	}
	env, release, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	if env.Now == nil {
		env.Now = time.Now
	}
	r.env, r.release = env, release
	return env, nil
}

func (r *runner) close() error {
	if r.release == nil {
		return nil
	}
	err := r.release()
	r.env, r.release = nil, nil
	return err
}

// printJSON writes v indented when --json is set and reports whether it did.
func (r *runner) printJSON(out io.Writer, v any) (bool, error) {
	if !r.jsonOut {
		return false, nil
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return true, enc.Encode(v)
}

// findLead resolves a lead by id or email.
func findLead(ctx context.Context, st Store, ref string) (*lead.Lead, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, errors.New("lead id or email is required")
	}
	if id, err := uuid.Parse(ref); err == nil {
		return st.FindByID(ctx, id)
	}
	if !strings.Contains(ref, "@") {
		return nil, fmt.Errorf("%q is neither a lead id nor an email", ref)
	}
	return st.FindByEmail(ctx, ref)
}

// ─── run ─────────────────────────────────────────────────────────────────────

func (r *runner) runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run one aggregate sequence pass now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := r.open(cmd.Context())
			if err != nil {
				return err
			}
			sum, err := env.Engine.ProcessAll(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if ok, err := r.printJSON(out, sum); ok {
				return err
			}
			fmt.Fprintf(out, "leads processed: %d\nsent: %d\nfailed: %d\nduration: %s\n",
				sum.LeadsProcessed, sum.Sent, sum.Failed, sum.Duration.Round(time.Millisecond))
			return nil
		},
	}
}

// ─── due ─────────────────────────────────────────────────────────────────────

func (r *runner) dueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "due <email|id>",
		Short: "Preview the steps a pass would send to one lead",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := r.open(cmd.Context())
			if err != nil {
				return err
			}
			l, err := findLead(cmd.Context(), env.Store, args[0])
			if err != nil {
				return err
			}
			due := env.Engine.DueSteps(l, env.Now())
			out := cmd.OutOrStdout()
			if ok, err := r.printJSON(out, due); ok {
				return err
			}
			if len(due) == 0 {
				fmt.Fprintf(out, "nothing due for %s (%s)\n", l.Email, env.Engine.LeadState(l))
				return nil
			}
			return writeTable(out, dueHeaders, dueRows(due))
		},
	}
}

var dueHeaders = []string{"SEQUENCE", "DAY", "ELAPSED", "TEMPLATE", "SUBJECT"}

func dueRows(due []sequencer.DueStep) [][]string {
	rows := make([][]string, 0, len(due))
	for _, d := range due {
		rows = append(rows, []string{
			d.SequenceID,
			fmt.Sprint(d.Step.Day),
			fmt.Sprint(d.ElapsedDays),
			d.Step.Template,
			d.Step.Subject,
		})
	}
	return rows
}

// ─── metrics ─────────────────────────────────────────────────────────────────

func (r *runner) metricsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "metrics",
		Short: "Show lead and email counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := r.open(cmd.Context())
			if err != nil {
				return err
			}
			m, err := env.Store.GetMetrics(cmd.Context(), env.Now())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if ok, err := r.printJSON(out, m); ok {
				return err
			}
			return writeTable(out, []string{"METRIC", "VALUE"}, [][]string{
				{"total leads", fmt.Sprint(m.TotalLeads)},
				{"active sequences", fmt.Sprint(m.ActiveSequences)},
				{"paused sequences", fmt.Sprint(m.PausedSequences)},
				{"emails today", fmt.Sprint(m.EmailsSentToday)},
				{"emails 7d", fmt.Sprint(m.EmailsSentWeek)},
				{"emails 30d", fmt.Sprint(m.EmailsSentMonth)},
			})
		},
	}
}

// ─── catalog ─────────────────────────────────────────────────────────────────

func (r *runner) catalogCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "catalog",
		Short: "List the loaded sequences and their steps",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := r.open(cmd.Context())
			if err != nil {
				return err
			}
			seqs := env.Engine.Catalog().All()
			out := cmd.OutOrStdout()
			if ok, err := r.printJSON(out, seqs); ok {
				return err
			}
			var rows [][]string
			for _, s := range seqs {
				for _, st := range s.Steps {
					eligibility := "-"
					if st.Eligibility != nil {
						eligibility = fmt.Sprintf("%s(%d)", st.Eligibility.Type, st.Eligibility.Days)
					}
					rows = append(rows, []string{
						s.ID, string(s.Trigger), fmt.Sprint(st.Day), st.Template, string(st.Priority), eligibility,
					})
				}
			}
			return writeTable(out, []string{"SEQUENCE", "TRIGGER", "DAY", "TEMPLATE", "PRIORITY", "ELIGIBILITY"}, rows)
		},
	}
}

// ─── gateway ─────────────────────────────────────────────────────────────────

func (r *runner) gatewayCmd() *cobra.Command {
	gw := &cobra.Command{
		Use:   "gateway",
		Short: "Inspect the delivery gateway",
	}
	gw.AddCommand(&cobra.Command{
		Use:   "test",
		Short: "Check that the configured email provider is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := r.open(cmd.Context())
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()
			if err := env.Gateway.TestConnection(ctx); err != nil {
				return fmt.Errorf("gateway unreachable: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "gateway ok")
			return nil
		},
	})
	return gw
}
