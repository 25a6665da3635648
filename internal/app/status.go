package app

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"autolender/internal/storage"
)

// Status prints the most recent audited operations.
func (a *App) Status(ctx context.Context, opts StatusOptions, out io.Writer) error {
	backend, err := storage.Open(ctx, a.Config.Storage)
	if err != nil {
		return err
	}
	defer backend.Close()

	ops, err := backend.ListRecentOperations(ctx, opts.Limit)
	if err != nil {
		return err
	}
	return writeOperations(out, ops)
}

func writeOperations(out io.Writer, ops []storage.Operation) error {
	if len(ops) == 0 {
		_, err := fmt.Fprintln(out, "no operations found")
		return err
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tAccount\tKind\tItem\tLoan\tRating\tAmount\tStatus\tReason")
	for _, op := range ops {
		reason := ""
		if op.Reason != nil {
			reason = sanitizeInline(*op.Reason)
		}
		status := op.Status
		if op.DryRun {
			status += " (dry)"
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%d\t%d\t%s\t%s\t%s\t%s\n",
			op.CreatedAt.UTC().Format(time.RFC3339),
			op.Account,
			op.Kind,
			op.ItemID,
			op.LoanID,
			op.Rating,
			formatDecimal(op.Amount, 2),
			status,
			reason,
		)
	}
	return writer.Flush()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	return strings.ReplaceAll(cleaned, "\r", " ")
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
