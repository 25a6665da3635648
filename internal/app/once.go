package app

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"autolender/internal/daemon"
	"autolender/internal/events"
	"autolender/internal/storage"
)

// Once runs every configured executor a single time and prints what happened.
// Unless opts.Commit is set nothing reaches the marketplace and nothing is persisted.
func (a *App) Once(ctx context.Context, opts OnceOptions, out io.Writer) error {
	commit := opts.Commit && !a.Config.App.DryRun

	var backend storage.Backend = storage.NewMemoryStore()
	if commit {
		opened, err := storage.Open(ctx, a.Config.Storage)
		if err != nil {
			return err
		}
		backend = opened
	}
	defer backend.Close()
	if commit {
		unlock, err := a.lock(ctx, backend)
		if err != nil {
			return err
		}
		defer unlock()
	}

	var audit events.OperationRecorder
	if commit {
		audit = backend
	}
	registry := a.newEvents(audit)
	defer registry.Close()
	summary := &events.Recorder{}
	registry.RegisterInline("summary", summary)

	sess, err := a.sessionFactory(a.newClient(nil), backend, registry, !commit)(a.Config.App.Account)
	if err != nil {
		return err
	}
	defer sess.Close()

	kinds, err := a.kinds()
	if err != nil {
		return err
	}
	runners, err := daemon.NewRunners(kinds, sess, a.executorOptions(), a.Logger)
	if err != nil {
		return err
	}
	runErr := daemon.New(sess, runners, a.daemonOptions(), a.Logger).RunOnce(ctx)

	if err := writeSummary(out, summary.Events(), !commit); err != nil {
		return err
	}
	return runErr
}

func writeSummary(out io.Writer, recorded []events.Event, dryRun bool) error {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Kind\tEvent\tItem\tLoan\tRating\tAmount\tReason")
	rows := 0
	for _, e := range recorded {
		switch e.Type {
		case events.TypeRecommended, events.TypeExecuted, events.TypeRejected:
		default:
			continue
		}
		rows++
		fmt.Fprintf(writer, "%s\t%s\t%d\t%d\t%s\t%s\t%s\n",
			e.Kind, e.Type, e.ItemID, e.LoanID, e.Rating, formatDecimal(e.Amount, 2), sanitizeInline(e.Reason))
	}
	if err := writer.Flush(); err != nil {
		return err
	}
	mode := "live"
	if dryRun {
		mode = "dry run"
	}
	_, err := fmt.Fprintf(out, "%d item events (%s)\n", rows, mode)
	return err
}
