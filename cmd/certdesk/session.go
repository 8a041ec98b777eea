package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dharsanguruparan/certdesk/internal/intake"
	"github.com/dharsanguruparan/certdesk/internal/model"
	"github.com/dharsanguruparan/certdesk/internal/processing"
	"github.com/dharsanguruparan/certdesk/internal/queue"
	"github.com/dharsanguruparan/certdesk/internal/review"
)

var errAmbiguousFile = errors.New("ambiguous file reference")

func newIntakeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "intake <path|glob>...",
		Short: "Stage files for processing",
		Long: `Stage files, directories or doublestar globs (for example "scans/**/*.pdf").
Files of a disallowed type, files over the size limit and names already
staged are skipped with a warning.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ctrl, err := a.controller(ctx)
			if err != nil {
				return err
			}
			staged, err := a.stage(ctx, ctrl, args)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "staged %d file(s)\n", len(staged))
			return nil
		},
	}
}

func (a *app) stage(ctx context.Context, ctrl *review.Controller, patterns []string) ([]model.StagedFile, error) {
	candidates, err := intake.Candidates(patterns)
	if err != nil {
		return nil, err
	}
	staged, rejected := a.stager().Stage(ctrl.State().Files, candidates)
	for _, r := range rejected {
		a.logger.Warn("file skipped", "name", r.Name, "reason", r.Err)
	}
	if len(staged) == 0 {
		return nil, nil
	}
	if _, err := ctrl.Intake(ctx, staged); err != nil {
		return nil, err
	}
	return staged, nil
}

func newProcessCmd(a *app) *cobra.Command {
	var async bool
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Process every pending file and select the results",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ctrl, err := a.controller(ctx)
			if err != nil {
				return err
			}
			if async {
				return a.enqueuePending(ctx, ctrl)
			}
			return a.processPending(ctx, ctrl)
		},
	}
	cmd.Flags().BoolVar(&async, "async", false, "Upload pending files and hand them to the background worker")
	return cmd
}

func (a *app) processPending(ctx context.Context, ctrl *review.Controller) error {
	runner := a.runner(ctx, ctrl)
	unsubscribe := ctrl.Subscribe(func(f model.StagedFile) { printResult(a.out, f) })
	defer unsubscribe()

	done, err := runner.ProcessAll(ctx)
	if err != nil {
		return err
	}
	st := ctrl.State()
	fmt.Fprintf(a.out, "%d processed, %d selected\n", len(done), len(st.Selected))
	return nil
}

// enqueuePending uploads pending files to object storage and queues one task
// per file. The worker stores results in the shared session.
func (a *app) enqueuePending(ctx context.Context, ctrl *review.Controller) error {
	if !a.cfg.BackgroundEnabled() {
		return errors.New("background processing needs database_url, s3_endpoint and redis_addr")
	}
	store, err := a.objectStore(ctx)
	if err != nil {
		return err
	}
	client := a.queueClient()

	queued := 0
	for _, f := range ctrl.State().Files {
		if f.Status != model.StatusPending {
			continue
		}
		if f.ObjectKey == "" {
			src, err := os.Open(f.Source)
			if err != nil {
				return fmt.Errorf("open %s: %w", f.Name, err)
			}
			key, err := store.PutStaged(ctx, ctrl.ID(), f, src)
			src.Close()
			if err != nil {
				return err
			}
			f.ObjectKey = key
			if err := ctrl.ApplyResult(ctx, f); err != nil {
				return err
			}
		}
		payload := queue.ProcessPayload{SessionID: ctrl.ID(), FileID: f.ID}
		if err := queue.EnqueueProcess(ctx, client, payload); err != nil {
			return err
		}
		queued++
	}
	fmt.Fprintf(a.out, "queued %d file(s)\n", queued)
	return nil
}

func newRetryCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <file>",
		Short: "Process a failed file again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ctrl, err := a.controller(ctx)
			if err != nil {
				return err
			}
			id, err := resolveFile(ctrl.State(), args[0])
			if err != nil {
				return err
			}
			res, err := a.runner(ctx, ctrl).Retry(ctx, id)
			if err != nil && !errors.Is(err, processing.ErrAlreadyProcessed) {
				return err
			}
			printResult(a.out, res)
			return nil
		},
	}
}

func newStatusCmd(a *app) *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show staged files, their status and the selection",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctrl, err := a.controller(cmd.Context())
			if err != nil {
				return err
			}
			printStatus(a.out, ctrl.State(), verbose)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show extracted fields")
	return cmd
}

func newSelectCmd(a *app) *cobra.Command {
	var all, none bool
	cmd := &cobra.Command{
		Use:   "select [file...]",
		Short: "Toggle selection of files, or select all or none",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ctrl, err := a.controller(ctx)
			if err != nil {
				return err
			}
			var st review.State
			switch {
			case all && none:
				return errors.New("--all and --none are mutually exclusive")
			case all:
				st, err = ctrl.SelectAll(ctx)
			case none:
				st, err = ctrl.DeselectAll(ctx)
			case len(args) == 0:
				return errors.New("name files to toggle, or pass --all or --none")
			default:
				for _, arg := range args {
					id, rerr := resolveFile(ctrl.State(), arg)
					if rerr != nil {
						return rerr
					}
					if st, err = ctrl.Toggle(ctx, id); err != nil {
						return err
					}
				}
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "%d of %d file(s) selected\n", len(st.Selected), len(st.Files))
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Select every staged file")
	cmd.Flags().BoolVar(&none, "none", false, "Clear the selection")
	return cmd
}

func newEditCmd(a *app) *cobra.Command {
	var sets []string
	cmd := &cobra.Command{
		Use:   "edit <file>",
		Short: "Show or change the extracted fields of a processed file",
		Long: `Without --set the editable fields are printed. Each --set key=value changes one
field; the edit is saved only when every assignment is valid.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			assignments, err := parseAssignments(sets)
			if err != nil {
				return err
			}
			ctrl, err := a.controller(ctx)
			if err != nil {
				return err
			}
			id, err := resolveFile(ctrl.State(), args[0])
			if err != nil {
				return err
			}
			st, err := ctrl.StartEdit(ctx, id)
			if err != nil {
				return err
			}
			if len(assignments) == 0 {
				printFields(a.out, st.Editing.Fields)
				_, err := ctrl.CancelEdit(ctx)
				return err
			}
			for _, kv := range assignments {
				if _, err := ctrl.SetField(ctx, kv[0], kv[1]); err != nil {
					a.abandonEdit(ctx, ctrl, id)
					return err
				}
			}
			st, err = ctrl.SaveEdit(ctx)
			if err != nil {
				return err
			}
			f, _ := st.File(id)
			fmt.Fprintf(a.out, "saved %d field(s) on %s\n", len(assignments), f.Name)
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&sets, "set", nil, "Field assignment key=value (repeatable)")
	return cmd
}

// abandonEdit closes the edit buffer after a failed edit. The edit error is
// what the caller reports, so a failure to persist the cancel is only logged.
func (a *app) abandonEdit(ctx context.Context, ctrl *review.Controller, id string) {
	if _, err := ctrl.CancelEdit(ctx); err != nil {
		a.logger.Warn("cancel edit failed", "file", id, "error", err)
	}
}

func newRejectCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reject <file>...",
		Short: "Remove files from the session",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ctrl, err := a.controller(ctx)
			if err != nil {
				return err
			}
			for _, arg := range args {
				id, err := resolveFile(ctrl.State(), arg)
				if err != nil {
					return err
				}
				if _, err := ctrl.Reject(ctx, id); err != nil {
					return err
				}
			}
			fmt.Fprintf(a.out, "rejected %d file(s)\n", len(args))
			return nil
		},
	}
}

func newSubmitCmd(a *app) *cobra.Command {
	var keep bool
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Send the selected files for bulk approval",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ctrl, err := a.controller(ctx)
			if err != nil {
				return err
			}
			var onApprove review.ApproveFunc
			if !keep {
				onApprove = func(submitted []model.StagedFile, _ *model.BulkApproveResult) {
					a.prune(ctx, ctrl, submitted)
				}
			}
			res, err := ctrl.Submit(ctx, onApprove)
			if err != nil {
				return err
			}
			printApproval(a.out, res)
			return nil
		},
	}
	cmd.Flags().BoolVar(&keep, "keep", false, "Keep submitted files in the session")
	return cmd
}

// prune drops submitted files from the session and removes their uploaded bytes.
func (a *app) prune(ctx context.Context, ctrl *review.Controller, submitted []model.StagedFile) {
	if _, err := ctrl.Prune(ctx, review.SubmittedIDs(submitted)); err != nil {
		a.logger.Warn("prune submitted files failed", "error", err)
	}
	var keys []string
	for _, f := range submitted {
		if f.ObjectKey != "" {
			keys = append(keys, f.ObjectKey)
		}
	}
	if len(keys) == 0 || !a.cfg.BackgroundEnabled() {
		return
	}
	store, err := a.objectStore(ctx)
	if err == nil {
		err = store.Remove(ctx, keys...)
	}
	if err != nil {
		a.logger.Warn("remove staged objects failed", "error", err)
	}
}

func newResetCmd(a *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Discard the review session and everything staged in it",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := a.sessionStore(ctx)
			if err != nil {
				return err
			}
			id := a.cfg.SessionID
			if !yes && !confirm(cmd.InOrStdin(), a.errOut, fmt.Sprintf("Discard session %q?", id)) {
				fmt.Fprintln(a.out, "cancelled")
				return nil
			}
			if err := store.Delete(ctx, id); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "session %s discarded\n", id)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	return cmd
}

func newWatchCmd(a *app) *cobra.Command {
	var debounce time.Duration
	cmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: "Stage and process files as they land in a drop folder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ctrl, err := a.controller(ctx)
			if err != nil {
				return err
			}
			watcher, err := intake.NewWatcher(args[0], debounce, a.logger)
			if err != nil {
				return err
			}
			runner := a.runner(ctx, ctrl)
			unsubscribe := ctrl.Subscribe(func(f model.StagedFile) { printResult(a.out, f) })
			defer unsubscribe()

			err = watcher.Run(ctx, func(ctx context.Context, paths []string) {
				staged, err := a.stage(ctx, ctrl, paths)
				if err != nil {
					a.logger.Warn("stage batch failed", "error", err)
					return
				}
				if len(staged) == 0 {
					return
				}
				if _, err := runner.ProcessAll(ctx); err != nil && ctx.Err() == nil {
					a.logger.Warn("process batch failed", "error", err)
				}
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().DurationVar(&debounce, "debounce", intake.DefaultDebounce, "Quiet period before a batch is staged")
	return cmd
}

// resolveFile maps a file id, a unique id prefix or a staged file name to an id.
func resolveFile(st review.State, ref string) (string, error) {
	var matches []string
	for _, f := range st.Files {
		if f.ID == ref || f.Name == ref {
			return f.ID, nil
		}
		if strings.HasPrefix(f.ID, ref) {
			matches = append(matches, f.ID)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w %s", review.ErrUnknownFile, ref)
	case 1:
		return matches[0], nil
	}
	return "", fmt.Errorf("%w: %s matches %d files", errAmbiguousFile, ref, len(matches))
}

// parseAssignments splits key=value pairs, keeping their order.
func parseAssignments(sets []string) ([][2]string, error) {
	out := make([][2]string, 0, len(sets))
	for _, s := range sets {
		key, value, ok := strings.Cut(s, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid assignment %q, want key=value", s)
		}
		out = append(out, [2]string{key, value})
	}
	return out, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func printResult(w io.Writer, f model.StagedFile) {
	switch f.Status {
	case model.StatusProcessed:
		fmt.Fprintf(w, "ok     %s  %s\n", shortID(f.ID), f.Name)
	case model.StatusError:
		fmt.Fprintf(w, "failed %s  %s: %s\n", shortID(f.ID), f.Name, f.Error)
	default:
		fmt.Fprintf(w, "%-6s %s  %s\n", f.Status, shortID(f.ID), f.Name)
	}
}

func printStatus(w io.Writer, st review.State, verbose bool) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEL\tID\tNAME\tSTATUS\tDETAIL")
	for _, f := range st.Files {
		mark := " "
		if st.IsSelected(f.ID) {
			mark = "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", mark, shortID(f.ID), f.Name, f.Status, detail(f))
	}
	tw.Flush()
	counts := st.Counts()
	fmt.Fprintf(w, "\n%d file(s): %d pending, %d processed, %d failed, %d selected\n",
		len(st.Files), counts[model.StatusPending], counts[model.StatusProcessed], counts[model.StatusError], len(st.Selected))
	if st.Editing != nil {
		fmt.Fprintf(w, "edit in progress on %s\n", shortID(st.Editing.FileID))
	}
	if !verbose {
		return
	}
	for _, f := range st.Files {
		if f.Data == nil {
			continue
		}
		fmt.Fprintf(w, "\n%s\n", f.Name)
		printFields(w, f.Data.EditableFields())
	}
}

func detail(f model.StagedFile) string {
	switch {
	case f.Status == model.StatusError:
		return f.Error
	case f.Data == nil:
		return ""
	case f.Data.Kind == model.KindCSV && f.Data.CSV != nil:
		return fmt.Sprintf("csv, %d record(s)", len(f.Data.CSV.Records))
	case f.Data.Kind == model.KindOCR && f.Data.OCR != nil:
		return fmt.Sprintf("ocr, confidence %.0f%%", f.Data.OCR.Confidence*100)
	}
	return ""
}

func printFields(w io.Writer, fields map[string]string) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Fprintf(tw, "  %s\t%s\n", key, fields[key])
	}
	tw.Flush()
}

func printApproval(w io.Writer, res *model.BulkApproveResult) {
	fmt.Fprintf(w, "%s\n", res.Message)
	fmt.Fprintf(w, "approved %d, errors %d, items %d\n", res.SuccessCount, res.ErrorCount, res.TotalItemsProcessed)
	for _, e := range res.ValidationErrors {
		fmt.Fprintf(w, "  invalid: %s\n", e)
	}
	for _, d := range res.Duplicates {
		fmt.Fprintf(w, "  duplicate: %s\n", d)
	}
	if res.Warning != "" {
		fmt.Fprintf(w, "warning: %s\n", res.Warning)
	}
}
