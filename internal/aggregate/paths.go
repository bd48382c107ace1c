// Package aggregate reduces a stage's task population into one
// statistical feature row.
package aggregate

import (
	"fmt"
	"strings"

	"github.com/angelmaroco/spark-tunning-ml/internal/sparkapi"
)

// Accessor extracts one scalar metric from a task's metrics tree.
type Accessor func(*sparkapi.TaskMetrics) float64

// MetricPath is a dotted path into the task-metrics tree resolved to a
// direct field accessor. Resolution happens once at startup so the
// aggregation hot path never does string traversal.
type MetricPath struct {
	// Name is the configured dotted path, e.g.
	// "shuffleReadMetrics.remoteBytesRead".
	Name string

	// Column is the sanitized column base name used in feature rows,
	// with dots mapped to underscores.
	Column string

	Get Accessor
}

// accessors maps every supported dotted path to its field accessor.
var accessors = map[string]Accessor{
	"executorDeserializeTime":    func(m *sparkapi.TaskMetrics) float64 { return m.ExecutorDeserializeTime },
	"executorDeserializeCpuTime": func(m *sparkapi.TaskMetrics) float64 { return m.ExecutorDeserializeCpuTime },
	"executorRunTime":            func(m *sparkapi.TaskMetrics) float64 { return m.ExecutorRunTime },
	"executorCpuTime":            func(m *sparkapi.TaskMetrics) float64 { return m.ExecutorCpuTime },
	"resultSize":                 func(m *sparkapi.TaskMetrics) float64 { return m.ResultSize },
	"jvmGcTime":                  func(m *sparkapi.TaskMetrics) float64 { return m.JvmGcTime },
	"resultSerializationTime":    func(m *sparkapi.TaskMetrics) float64 { return m.ResultSerializationTime },
	"memoryBytesSpilled":         func(m *sparkapi.TaskMetrics) float64 { return m.MemoryBytesSpilled },
	"diskBytesSpilled":           func(m *sparkapi.TaskMetrics) float64 { return m.DiskBytesSpilled },
	"peakExecutionMemory":        func(m *sparkapi.TaskMetrics) float64 { return m.PeakExecutionMemory },

	"inputMetrics.bytesRead":   func(m *sparkapi.TaskMetrics) float64 { return m.InputMetrics.BytesRead },
	"inputMetrics.recordsRead": func(m *sparkapi.TaskMetrics) float64 { return m.InputMetrics.RecordsRead },

	"outputMetrics.bytesWritten":   func(m *sparkapi.TaskMetrics) float64 { return m.OutputMetrics.BytesWritten },
	"outputMetrics.recordsWritten": func(m *sparkapi.TaskMetrics) float64 { return m.OutputMetrics.RecordsWritten },

	"shuffleReadMetrics.remoteBlocksFetched": func(m *sparkapi.TaskMetrics) float64 { return m.ShuffleReadMetrics.RemoteBlocksFetched },
	"shuffleReadMetrics.localBlocksFetched":  func(m *sparkapi.TaskMetrics) float64 { return m.ShuffleReadMetrics.LocalBlocksFetched },
	"shuffleReadMetrics.fetchWaitTime":       func(m *sparkapi.TaskMetrics) float64 { return m.ShuffleReadMetrics.FetchWaitTime },
	"shuffleReadMetrics.remoteBytesRead":     func(m *sparkapi.TaskMetrics) float64 { return m.ShuffleReadMetrics.RemoteBytesRead },
	"shuffleReadMetrics.localBytesRead":      func(m *sparkapi.TaskMetrics) float64 { return m.ShuffleReadMetrics.LocalBytesRead },
	"shuffleReadMetrics.recordsRead":         func(m *sparkapi.TaskMetrics) float64 { return m.ShuffleReadMetrics.RecordsRead },

	"shuffleWriteMetrics.bytesWritten":   func(m *sparkapi.TaskMetrics) float64 { return m.ShuffleWriteMetrics.BytesWritten },
	"shuffleWriteMetrics.writeTime":      func(m *sparkapi.TaskMetrics) float64 { return m.ShuffleWriteMetrics.WriteTime },
	"shuffleWriteMetrics.recordsWritten": func(m *sparkapi.TaskMetrics) float64 { return m.ShuffleWriteMetrics.RecordsWritten },
}

// ResolvePaths maps configured dotted paths onto accessors. An unknown
// path is a configuration error and fails the run before any fetch.
func ResolvePaths(names []string) ([]MetricPath, error) {
	paths := make([]MetricPath, 0, len(names))
	for _, name := range names {
		get, ok := accessors[name]
		if !ok {
			return nil, fmt.Errorf("unknown task metric path %q", name)
		}
		paths = append(paths, MetricPath{
			Name:   name,
			Column: strings.ReplaceAll(name, ".", "_"),
			Get:    get,
		})
	}
	return paths, nil
}
