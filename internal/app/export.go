package app

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"autolender/internal/storage"
)

// Export renders the operations log as CSV and/or a PNG chart of cumulative amounts.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	opts.MaxRows = a.Config.ResolveMaxRows(opts.MaxRows)

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}
	from := to.AddDate(0, -1, 0)
	if opts.From != nil {
		from = opts.From.UTC()
	}
	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	backend, err := storage.Open(ctx, a.Config.Storage)
	if err != nil {
		return err
	}
	defer backend.Close()

	ops, err := backend.ListOperationsBetween(ctx, from, to)
	if err != nil {
		return err
	}
	if len(ops) == 0 {
		a.Logger.Info().Msg("no operations found for export window")
		return nil
	}
	exported := latest(ops, opts.MaxRows)
	a.Logger.Info().Int("total", len(ops)).Int("exported", len(exported)).Msg("exporting operations")

	if opts.CSVPath != "" {
		if err := writeOperationsCSV(opts.CSVPath, exported); err != nil {
			return err
		}
	}
	if opts.PNGPath != "" {
		if err := writeOperationsPNG(opts.PNGPath, exported); err != nil {
			return err
		}
	}
	return nil
}

// latest keeps the newest max operations, oldest first.
func latest(ops []storage.Operation, max int) []storage.Operation {
	if max <= 0 || len(ops) <= max {
		return ops
	}
	return ops[len(ops)-max:]
}

func writeOperationsCSV(path string, ops []storage.Operation) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"created_at", "account", "kind", "item_id", "loan_id", "rating", "amount", "status", "reason", "dry_run"}
	if err := writer.Write(header); err != nil {
		return err
	}
	for _, op := range ops {
		reason := ""
		if op.Reason != nil {
			reason = *op.Reason
		}
		record := []string{
			op.CreatedAt.UTC().Format(time.RFC3339),
			op.Account,
			op.Kind,
			strconv.FormatInt(op.ItemID, 10),
			strconv.FormatInt(op.LoanID, 10),
			op.Rating,
			op.Amount.String(),
			op.Status,
			reason,
			strconv.FormatBool(op.DryRun),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// cumulative sums executed amounts per kind over time.
func cumulative(ops []storage.Operation) map[string]chart.TimeSeries {
	executed := lo.Filter(ops, func(op storage.Operation, _ int) bool {
		return op.Status == storage.OperationExecuted
	})
	series := make(map[string]chart.TimeSeries)
	totals := make(map[string]decimal.Decimal)
	for _, op := range executed {
		s, ok := series[op.Kind]
		if !ok {
			// start every line from zero just before its first operation
			s = chart.TimeSeries{Name: op.Kind, XValues: []time.Time{op.CreatedAt.Add(-time.Second)}, YValues: []float64{0}}
		}
		totals[op.Kind] = totals[op.Kind].Add(op.Amount)
		s.XValues = append(s.XValues, op.CreatedAt)
		s.YValues = append(s.YValues, totals[op.Kind].InexactFloat64())
		series[op.Kind] = s
	}
	return series
}

func writeOperationsPNG(path string, ops []storage.Operation) error {
	bySeries := cumulative(ops)
	if len(bySeries) == 0 {
		return errors.New("no executed operations to chart")
	}
	if err := ensureDir(path); err != nil {
		return err
	}

	kinds := lo.Keys(bySeries)
	slices.Sort(kinds)
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name: "Cumulative amount",
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.0f")
			},
		},
	}
	for _, kind := range kinds {
		graph.Series = append(graph.Series, bySeries[kind])
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
