package aggregate

import (
	"fmt"
	"math"
	"sort"

	"github.com/angelmaroco/spark-tunning-ml/internal/sparkapi"
)

// Aggregate function names accepted in configuration.
const (
	FnMin  = "min"
	FnMax  = "max"
	FnSum  = "sum"
	FnMean = "mean"
	FnStd  = "std"
)

// Column is one named value of a feature row. Columns stay ordered so
// downstream text generation is reproducible byte-for-byte.
type Column struct {
	Name  string
	Value float64
}

// FeatureRow is the aggregated representation of one stage of one
// application. Immutable once computed.
type FeatureRow struct {
	AppID        string
	AppName      string
	StageID      int64
	StageAttempt int

	// Scalars carries the stage-level columns selected by config.
	Scalars []Column

	// Aggregates carries the per-metric aggregate columns, named
	// {metric}_{fn}Agg, in metric order then function order. Metrics
	// with an empty task population are absent, never zero.
	Aggregates []Column
}

// Columns returns scalars followed by aggregates.
func (r FeatureRow) Columns() []Column {
	out := make([]Column, 0, len(r.Scalars)+len(r.Aggregates))
	out = append(out, r.Scalars...)
	out = append(out, r.Aggregates...)
	return out
}

// Aggregator reduces task populations using a fixed set of metric
// paths and aggregate functions. Safe for concurrent use: aggregation
// is pure and order-independent.
type Aggregator struct {
	paths        []MetricPath
	functions    []string
	stageColumns []string
}

// New creates an aggregator from configured metric paths, function
// names and stage scalar columns. Unknown names fail here, at startup,
// not at write time.
func New(metricPaths, functions, stageColumns []string) (*Aggregator, error) {
	paths, err := ResolvePaths(metricPaths)
	if err != nil {
		return nil, err
	}
	for _, fn := range functions {
		switch fn {
		case FnMin, FnMax, FnSum, FnMean, FnStd:
		default:
			return nil, fmt.Errorf("unknown aggregate function %q", fn)
		}
	}
	for _, col := range stageColumns {
		if _, ok := stageScalars[col]; !ok {
			return nil, fmt.Errorf("unknown stage column %q", col)
		}
	}
	return &Aggregator{paths: paths, functions: functions, stageColumns: stageColumns}, nil
}

// stageScalars maps configured stage column names onto stage fields.
var stageScalars = map[string]func(sparkapi.Stage) float64{
	"stageId":             func(s sparkapi.Stage) float64 { return float64(s.StageID) },
	"numTasks":            func(s sparkapi.Stage) float64 { return float64(s.NumTasks) },
	"numCompleteTasks":    func(s sparkapi.Stage) float64 { return float64(s.NumCompleteTasks) },
	"numFailedTasks":      func(s sparkapi.Stage) float64 { return float64(s.NumFailedTasks) },
	"executorRunTime":     func(s sparkapi.Stage) float64 { return float64(s.ExecutorRunTime) },
	"executorCpuTime":     func(s sparkapi.Stage) float64 { return float64(s.ExecutorCpuTime) },
	"inputBytes":          func(s sparkapi.Stage) float64 { return float64(s.InputBytes) },
	"inputRecords":        func(s sparkapi.Stage) float64 { return float64(s.InputRecords) },
	"outputBytes":         func(s sparkapi.Stage) float64 { return float64(s.OutputBytes) },
	"outputRecords":       func(s sparkapi.Stage) float64 { return float64(s.OutputRecords) },
	"shuffleReadBytes":    func(s sparkapi.Stage) float64 { return float64(s.ShuffleReadBytes) },
	"shuffleReadRecords":  func(s sparkapi.Stage) float64 { return float64(s.ShuffleReadRecords) },
	"shuffleWriteBytes":   func(s sparkapi.Stage) float64 { return float64(s.ShuffleWriteBytes) },
	"shuffleWriteRecords": func(s sparkapi.Stage) float64 { return float64(s.ShuffleWriteRecords) },
	"memoryBytesSpilled":  func(s sparkapi.Stage) float64 { return float64(s.MemoryBytesSpilled) },
	"diskBytesSpilled":    func(s sparkapi.Stage) float64 { return float64(s.DiskBytesSpilled) },
}

// Reduce aggregates the full task population of one stage into a
// feature row. Task order does not affect the result: values are
// sorted before accumulation, so permuting tasks yields byte-identical
// rows.
func (a *Aggregator) Reduce(appID, appName string, stage sparkapi.Stage, tasks []sparkapi.Task) FeatureRow {
	row := a.newRow(appID, appName, stage)

	for _, p := range a.paths {
		values := make([]float64, 0, len(tasks))
		for i := range tasks {
			if tasks[i].Metrics == nil {
				continue
			}
			values = append(values, p.Get(tasks[i].Metrics))
		}
		if len(values) == 0 {
			// Absent population: omit the columns entirely.
			continue
		}
		sort.Float64s(values)

		stats := computeStats(values)
		for _, fn := range a.functions {
			// Sample std is undefined for a single task.
			if fn == FnStd && len(values) < 2 {
				continue
			}
			row.Aggregates = append(row.Aggregates, Column{
				Name:  fmt.Sprintf("%s_%sAgg", p.Column, fn),
				Value: stats[fn],
			})
		}
	}
	return row
}

// ReduceSummary builds a feature row from the API's pre-aggregated
// quantile summary instead of raw tasks. Only min, max and mean-like
// columns can be derived; sum and std stay absent. The mean column is
// approximated by the median quantile, which is the closest central
// statistic the summary endpoint exposes.
func (a *Aggregator) ReduceSummary(appID, appName string, stage sparkapi.Stage, summary sparkapi.TaskSummary) FeatureRow {
	row := a.newRow(appID, appName, stage)

	metrics := map[string][]float64{
		"executorRunTime":    summary.ExecutorRunTime,
		"executorCpuTime":    summary.ExecutorCpuTime,
		"jvmGcTime":          summary.JvmGcTime,
		"memoryBytesSpilled": summary.MemoryBytesSpilled,
		"diskBytesSpilled":   summary.DiskBytesSpilled,
	}

	for _, p := range a.paths {
		qs, ok := metrics[p.Name]
		if !ok || len(qs) == 0 || len(qs) != len(summary.Quantiles) {
			continue
		}
		for _, fn := range a.functions {
			var v float64
			switch fn {
			case FnMin:
				v = qs[0]
			case FnMax:
				v = qs[len(qs)-1]
			case FnMean:
				v = quantileValue(summary.Quantiles, qs, 0.5)
			default:
				continue
			}
			row.Aggregates = append(row.Aggregates, Column{
				Name:  fmt.Sprintf("%s_%sAgg", p.Column, fn),
				Value: v,
			})
		}
	}
	return row
}

func (a *Aggregator) newRow(appID, appName string, stage sparkapi.Stage) FeatureRow {
	row := FeatureRow{
		AppID:        appID,
		AppName:      appName,
		StageID:      stage.StageID,
		StageAttempt: stage.AttemptID,
	}
	for _, col := range a.stageColumns {
		row.Scalars = append(row.Scalars, Column{Name: col, Value: stageScalars[col](stage)})
	}
	return row
}

// computeStats returns the five aggregates over a sorted, non-empty
// population. Std uses the n-1 divisor, so [10,20,30] gives exactly 10.
func computeStats(sorted []float64) map[string]float64 {
	n := float64(len(sorted))

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	mean := sum / n

	var variance float64
	for _, v := range sorted {
		d := v - mean
		variance += d * d
	}
	if len(sorted) > 1 {
		variance /= n - 1
	}

	return map[string]float64{
		FnMin:  sorted[0],
		FnMax:  sorted[len(sorted)-1],
		FnSum:  sum,
		FnMean: mean,
		FnStd:  math.Sqrt(variance),
	}
}

// quantileValue picks the value whose quantile is closest to q.
func quantileValue(quantiles, values []float64, q float64) float64 {
	best := 0
	for i := range quantiles {
		if math.Abs(quantiles[i]-q) < math.Abs(quantiles[best]-q) {
			best = i
		}
	}
	return values[best]
}

// SelectAttempt applies the configured stage attempt policy to the
// attempts of one stage. "latest" picks the highest attempt id among
// complete attempts (falling back to the highest overall), "first"
// picks the lowest. Returns false when attempts is empty.
func SelectAttempt(attempts []sparkapi.StageDetail, policy string) (sparkapi.StageDetail, bool) {
	if len(attempts) == 0 {
		return sparkapi.StageDetail{}, false
	}

	sorted := make([]sparkapi.StageDetail, len(attempts))
	copy(sorted, attempts)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].AttemptID < sorted[j].AttemptID })

	if policy == "first" {
		return sorted[0], true
	}

	// latest: prefer the newest complete attempt.
	for i := len(sorted) - 1; i >= 0; i-- {
		if sorted[i].Status == "COMPLETE" {
			return sorted[i], true
		}
	}
	return sorted[len(sorted)-1], true
}
