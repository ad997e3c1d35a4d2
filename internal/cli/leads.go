package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nyashahama/consulting-leads-backend/internal/lead"
)

func (r *runner) leadsCmd() *cobra.Command {
	leads := &cobra.Command{
		Use:   "leads",
		Short: "Inspect and steer individual leads",
	}

	var reason string
	pause := &cobra.Command{
		Use:   "pause <email|id>",
		Short: "Stop sequencing a lead",
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
			if err := env.Engine.PauseLead(cmd.Context(), l.ID, reason); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "paused %s\n", l.Email)
			return nil
		},
	}
	pause.Flags().StringVar(&reason, "reason", lead.PauseManual, "pause reason recorded on the lead")

	resume := &cobra.Command{
		Use:   "resume <email|id>",
		Short: "Resume sequencing a paused lead",
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
			if err := env.Engine.ResumeLead(cmd.Context(), l.ID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "resumed %s\n", l.Email)
			return nil
		},
	}

	var responseType string
	respond := &cobra.Command{
		Use:   "respond <email|id>",
		Short: "Record a reply from a lead",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if responseType != lead.ResponseEmailReply && responseType != lead.ResponseMeeting {
				return fmt.Errorf("--type must be %s or %s", lead.ResponseEmailReply, lead.ResponseMeeting)
			}
			env, err := r.open(cmd.Context())
			if err != nil {
				return err
			}
			l, err := findLead(cmd.Context(), env.Store, args[0])
			if err != nil {
				return err
			}
			if err := env.Engine.MarkResponded(cmd.Context(), l.ID, responseType); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "recorded %s from %s\n", responseType, l.Email)
			return nil
		},
	}
	respond.Flags().StringVar(&responseType, "type", lead.ResponseEmailReply, "response type: email_reply or meeting")

	show := &cobra.Command{
		Use:   "show <email|id>",
		Short: "Show a lead, its state and its email log",
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
			logs, err := env.Store.ListEmailLogs(cmd.Context(), l.ID)
			if err != nil {
				return err
			}
			state := env.Engine.LeadState(l)

			out := cmd.OutOrStdout()
			if ok, err := r.printJSON(out, map[string]any{"lead": l, "state": state, "emails": logs}); ok {
				return err
			}

			fmt.Fprintf(out, "%s <%s>\n", l.Name, l.Email)
			if err := writeTable(out, nil, [][]string{
				{"id", l.ID.String()},
				{"company", orDash(l.Company)},
				{"state", string(state)},
				{"pause reason", orDash(l.PauseReason)},
				{"diagnostic", l.DiagnosticDate.Format(time.RFC3339)},
				{"level", orDash(l.Diagnostic.Level)},
				{"last response", formatTimePtr(l.LastResponseAt)},
				{"meeting", formatTimePtr(l.MeetingDate)},
				{"meeting attended", formatYesNo(l.MeetingAttended)},
				{"steps sent", fmt.Sprint(l.EmailsSent.Len())},
			}); err != nil {
				return err
			}
			if len(logs) == 0 {
				return nil
			}
			fmt.Fprintln(out)
			rows := make([][]string, 0, len(logs))
			for _, e := range logs {
				rows = append(rows, []string{
					e.SentAt.Format(time.RFC3339), e.SequenceID, fmt.Sprint(e.SequenceDay), string(e.Status), orDash(e.Error),
				})
			}
			return writeTable(out, []string{"AT", "SEQUENCE", "DAY", "STATUS", "ERROR"}, rows)
		},
	}

	pending := &cobra.Command{
		Use:   "pending",
		Short: "List leads with steps due now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := r.open(cmd.Context())
			if err != nil {
				return err
			}
			pl, err := env.Engine.PendingLeads(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if ok, err := r.printJSON(out, pl); ok {
				return err
			}
			if len(pl) == 0 {
				fmt.Fprintln(out, "no leads due")
				return nil
			}
			var rows [][]string
			for _, p := range pl {
				for _, d := range p.Due {
					rows = append(rows, []string{p.Lead.Email, d.SequenceID, fmt.Sprint(d.Step.Day), d.Step.Template})
				}
			}
			return writeTable(out, []string{"EMAIL", "SEQUENCE", "DAY", "TEMPLATE"}, rows)
		},
	}

	leads.AddCommand(pause, resume, respond, show, pending)
	return leads
}
