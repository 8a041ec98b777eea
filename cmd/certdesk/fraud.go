package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dharsanguruparan/certdesk/internal/fraud"
	"github.com/dharsanguruparan/certdesk/internal/model"
)

// filterFlags are the fraud-log filters shared by list and export.
type filterFlags struct {
	status string
	from   string
	to     string
}

func (f *filterFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.status, "status", "", "Fraud status: FAKE or SUSPICIOUS")
	cmd.Flags().StringVar(&f.from, "from", "", "Detected on or after YYYY-MM-DD")
	cmd.Flags().StringVar(&f.to, "to", "", "Detected on or before YYYY-MM-DD")
}

func (f *filterFlags) filters() fraud.Filters {
	return fraud.Filters{
		Status:   model.FraudStatus(strings.ToUpper(f.status)),
		DateFrom: f.from,
		DateTo:   f.to,
	}
}

func newFraudCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fraud",
		Short: "Browse and review fraud detection logs",
	}
	cmd.AddCommand(
		newFraudListCmd(a),
		newFraudStatsCmd(a),
		newFraudReviewCmd(a),
		newFraudExportCmd(a),
	)
	return cmd
}

func newFraudListCmd(a *app) *cobra.Command {
	var filters filterFlags
	var page int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List one page of fraud logs",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			m := a.fraudManager()
			if err := m.SetFilters(filters.filters()); err != nil {
				return err
			}
			if err := m.SetPage(page); err != nil {
				return err
			}
			if err := m.LoadLogs(ctx); err != nil {
				return err
			}
			printLogs(a.out, m.Snapshot().Logs)
			return nil
		},
	}
	filters.register(cmd)
	cmd.Flags().IntVar(&page, "page", 1, "Page number")
	return cmd
}

func newFraudStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show fraud statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			m := a.fraudManager()
			if err := m.LoadStats(cmd.Context()); err != nil {
				return err
			}
			s := m.Snapshot().Logs.Stats
			fmt.Fprintf(a.out, "total attempts:  %d\n", s.TotalFraudAttempts)
			fmt.Fprintf(a.out, "reviewed:        %d (%.1f%%)\n", s.ReviewedCount, s.ReviewPercentage)
			fmt.Fprintf(a.out, "pending review:  %d\n", s.PendingReview)
			for _, status := range []model.FraudStatus{model.FraudFake, model.FraudSuspicious, model.FraudAuthentic} {
				if n, ok := s.StatusDistribution[string(status)]; ok {
					fmt.Fprintf(a.out, "  %-11s %d\n", status, n)
				}
			}
			printDaily(a.out, s.DailyCounts)
			return nil
		},
	}
}

func newFraudReviewCmd(a *app) *cobra.Command {
	var notes string
	cmd := &cobra.Command{
		Use:   "review <log-id>",
		Short: "Mark a fraud log as reviewed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseLogID(args[0])
			if err != nil {
				return err
			}
			return a.fraudManager().MarkReviewed(cmd.Context(), id, notes)
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "Admin notes to attach")
	return cmd
}

func newFraudExportCmd(a *app) *cobra.Command {
	var filters filterFlags
	var output string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Download fraud logs as CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			m := a.fraudManager()
			if err := m.SetFilters(filters.filters()); err != nil {
				return err
			}
			w, closeFn, err := openOutput(output, a.out)
			if err != nil {
				return err
			}
			n, err := m.Export(cmd.Context(), w)
			if cerr := closeFn(); err == nil {
				err = cerr
			}
			if err != nil {
				return err
			}
			a.logger.Info("fraud logs exported", "bytes", n, "output", output)
			return nil
		},
	}
	filters.register(cmd)
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default stdout)")
	return cmd
}

func newBlacklistCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "blacklist",
		Short: "Manage blacklist entries",
	}
	cmd.AddCommand(
		newBlacklistListCmd(a),
		newBlacklistStatsCmd(a),
		newBlacklistAddCmd(a),
		newBlacklistRemoveCmd(a),
	)
	return cmd
}

func newBlacklistListCmd(a *app) *cobra.Command {
	var page int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List one page of blacklist entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			m := a.fraudManager()
			m.SetTab(fraud.TabBlacklist)
			if err := m.SetBlacklistPage(page); err != nil {
				return err
			}
			if err := m.LoadBlacklist(cmd.Context()); err != nil {
				return err
			}
			printBlacklist(a.out, m.Snapshot().Blacklist)
			return nil
		},
	}
	cmd.Flags().IntVar(&page, "page", 1, "Page number")
	return cmd
}

func newBlacklistStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show blacklist statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			m := a.fraudManager()
			if err := m.LoadBlacklistStats(cmd.Context()); err != nil {
				return err
			}
			s := m.Snapshot().Blacklist.Stats
			fmt.Fprintf(a.out, "blacklisted:        %d\n", s.TotalBlacklisted)
			fmt.Fprintf(a.out, "block by seat no:   %d\n", s.AutoBlockSeatCount)
			fmt.Fprintf(a.out, "block by name:      %d\n", s.AutoBlockNameCount)
			printDaily(a.out, s.DailyCounts)
			return nil
		},
	}
}

func newBlacklistAddCmd(a *app) *cobra.Command {
	var reason string
	var seat, name bool
	cmd := &cobra.Command{
		Use:   "add <log-id>",
		Short: "Blacklist the certificate behind a FAKE fraud log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseLogID(args[0])
			if err != nil {
				return err
			}
			if strings.TrimSpace(reason) == "" {
				return errors.New("--reason is required")
			}
			req := model.NewBlacklistRequest(id, reason)
			req.AutoBlockSeatNo = seat
			req.AutoBlockNameCombo = name
			return a.fraudManager().AddToBlacklist(cmd.Context(), req)
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "Why the certificate is blacklisted")
	cmd.Flags().BoolVar(&seat, "block-seat", true, "Block future uploads with the same seat number")
	cmd.Flags().BoolVar(&name, "block-name", false, "Block future uploads with the same student and mother name")
	return cmd
}

func newBlacklistRemoveCmd(a *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "remove <log-id>",
		Short: "Remove a blacklist entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseLogID(args[0])
			if err != nil {
				return err
			}
			ask := func(id int64) bool {
				return yes || confirm(cmd.InOrStdin(), a.errOut, fmt.Sprintf("Remove blacklist entry for fraud log %d?", id))
			}
			err = a.fraudManager().RemoveFromBlacklist(cmd.Context(), id, ask)
			if errors.Is(err, fraud.ErrNotConfirmed) {
				fmt.Fprintln(a.out, "cancelled")
				return nil
			}
			return err
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	return cmd
}

func parseLogID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid fraud log id %q", s)
	}
	return id, nil
}

func printLogs(w io.Writer, tab fraud.LogsTab) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDETECTED\tSTATUS\tSEAT\tSTUDENT\tCONF\tREVIEWED\tBLACKLISTED\tREASONS")
	for _, l := range tab.Logs {
		detected := ""
		if l.DetectedAt != nil {
			detected = l.DetectedAt.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%.0f%%\t%s\t%s\t%s\n",
			l.ID, detected, l.FraudStatus, l.ExtractedSeatNo, l.ExtractedStudentName,
			l.ConfidenceScore*100, yesNo(l.ReviewedByAdmin), yesNo(l.Blacklisted()),
			strings.Join(l.Reasons(), "; "))
	}
	tw.Flush()
	fmt.Fprintf(w, "page %d of %d, %d log(s)\n", tab.Page, tab.Pages, tab.Total)
}

func printBlacklist(w io.Writer, tab fraud.BlacklistTab) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LOG\tBLACKLISTED\tSEAT\tNAME\tREASON")
	for _, e := range tab.Entries {
		at := ""
		if e.BlacklistedAt != nil {
			at = e.BlacklistedAt.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
			e.FraudDetectionLogID, at, yesNo(e.AutoBlockSeatNo), yesNo(e.AutoBlockNameCombo), e.Reason)
	}
	tw.Flush()
	fmt.Fprintf(w, "page %d of %d, %d entr(ies)\n", tab.Page, tab.Pages, tab.Total)
}

func printDaily(w io.Writer, days []model.DailyCount) {
	if len(days) == 0 {
		return
	}
	fmt.Fprintln(w, "per day:")
	for _, d := range days {
		fmt.Fprintf(w, "  %s  %d\n", d.Date, d.Count)
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
