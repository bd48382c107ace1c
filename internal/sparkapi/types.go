// Package sparkapi provides a bounded-concurrency client for the Spark
// history server REST API.
package sparkapi

// ApplicationAttempt is one attempt of a Spark application.
type ApplicationAttempt struct {
	AttemptID       string `json:"attemptId"`
	StartTime       string `json:"startTime"`
	EndTime         string `json:"endTime"`
	Duration        int64  `json:"duration"`
	SparkUser       string `json:"sparkUser"`
	Completed       bool   `json:"completed"`
	AppSparkVersion string `json:"appSparkVersion"`
}

// Application is a single execution unit reported by the history server.
type Application struct {
	ID       string               `json:"id"`
	Name     string               `json:"name"`
	Attempts []ApplicationAttempt `json:"attempts"`
}

// Completed reports whether any attempt of the application finished.
func (a Application) Completed() bool {
	for _, at := range a.Attempts {
		if at.Completed {
			return true
		}
	}
	return false
}

// User returns the submitting user of the latest attempt.
func (a Application) User() string {
	if len(a.Attempts) == 0 {
		return ""
	}
	return a.Attempts[0].SparkUser
}

// Stage is the stage-level summary returned by the stages endpoint.
type Stage struct {
	Status             string `json:"status"`
	StageID            int64  `json:"stageId"`
	AttemptID          int    `json:"attemptId"`
	Name               string `json:"name"`
	NumTasks           int64  `json:"numTasks"`
	NumCompleteTasks   int64  `json:"numCompleteTasks"`
	NumFailedTasks     int64  `json:"numFailedTasks"`
	ExecutorRunTime    int64  `json:"executorRunTime"`
	ExecutorCpuTime    int64  `json:"executorCpuTime"`
	SubmissionTime     string `json:"submissionTime"`
	CompletionTime     string `json:"completionTime"`
	InputBytes         int64  `json:"inputBytes"`
	InputRecords       int64  `json:"inputRecords"`
	OutputBytes        int64  `json:"outputBytes"`
	OutputRecords      int64  `json:"outputRecords"`
	ShuffleReadBytes   int64  `json:"shuffleReadBytes"`
	ShuffleReadRecords int64  `json:"shuffleReadRecords"`
	ShuffleWriteBytes  int64  `json:"shuffleWriteBytes"`
	ShuffleWriteRecords int64 `json:"shuffleWriteRecords"`
	MemoryBytesSpilled int64  `json:"memoryBytesSpilled"`
	DiskBytesSpilled   int64  `json:"diskBytesSpilled"`
}

// InputMetrics holds per-task input counters.
type InputMetrics struct {
	BytesRead   float64 `json:"bytesRead"`
	RecordsRead float64 `json:"recordsRead"`
}

// OutputMetrics holds per-task output counters.
type OutputMetrics struct {
	BytesWritten   float64 `json:"bytesWritten"`
	RecordsWritten float64 `json:"recordsWritten"`
}

// ShuffleReadMetrics holds per-task shuffle read counters.
type ShuffleReadMetrics struct {
	RemoteBlocksFetched float64 `json:"remoteBlocksFetched"`
	LocalBlocksFetched  float64 `json:"localBlocksFetched"`
	FetchWaitTime       float64 `json:"fetchWaitTime"`
	RemoteBytesRead     float64 `json:"remoteBytesRead"`
	LocalBytesRead      float64 `json:"localBytesRead"`
	RecordsRead         float64 `json:"recordsRead"`
}

// ShuffleWriteMetrics holds per-task shuffle write counters.
type ShuffleWriteMetrics struct {
	BytesWritten   float64 `json:"bytesWritten"`
	WriteTime      float64 `json:"writeTime"`
	RecordsWritten float64 `json:"recordsWritten"`
}

// TaskMetrics is the nested metrics tree reported for one task.
type TaskMetrics struct {
	ExecutorDeserializeTime    float64             `json:"executorDeserializeTime"`
	ExecutorDeserializeCpuTime float64             `json:"executorDeserializeCpuTime"`
	ExecutorRunTime            float64             `json:"executorRunTime"`
	ExecutorCpuTime            float64             `json:"executorCpuTime"`
	ResultSize                 float64             `json:"resultSize"`
	JvmGcTime                  float64             `json:"jvmGcTime"`
	ResultSerializationTime    float64             `json:"resultSerializationTime"`
	MemoryBytesSpilled         float64             `json:"memoryBytesSpilled"`
	DiskBytesSpilled           float64             `json:"diskBytesSpilled"`
	PeakExecutionMemory        float64             `json:"peakExecutionMemory"`
	InputMetrics               InputMetrics        `json:"inputMetrics"`
	OutputMetrics              OutputMetrics       `json:"outputMetrics"`
	ShuffleReadMetrics         ShuffleReadMetrics  `json:"shuffleReadMetrics"`
	ShuffleWriteMetrics        ShuffleWriteMetrics `json:"shuffleWriteMetrics"`
}

// Task is the smallest unit of work in a stage.
type Task struct {
	TaskID     int64        `json:"taskId"`
	Index      int64        `json:"index"`
	Attempt    int          `json:"attempt"`
	Status     string       `json:"status"`
	ExecutorID string       `json:"executorId"`
	Host       string       `json:"host"`
	Duration   int64        `json:"duration"`
	Metrics    *TaskMetrics `json:"taskMetrics"`
}

// TaskSummary is the pre-aggregated quantile view of a stage's tasks.
// Each metric slice is aligned with Quantiles.
type TaskSummary struct {
	Quantiles          []float64 `json:"quantiles"`
	ExecutorRunTime    []float64 `json:"executorRunTime"`
	ExecutorCpuTime    []float64 `json:"executorCpuTime"`
	JvmGcTime          []float64 `json:"jvmGcTime"`
	MemoryBytesSpilled []float64 `json:"memoryBytesSpilled"`
	DiskBytesSpilled   []float64 `json:"diskBytesSpilled"`
}

// ExecutorSummary is one executor of an application.
type ExecutorSummary struct {
	ID                string `json:"id"`
	HostPort          string `json:"hostPort"`
	IsActive          bool   `json:"isActive"`
	TotalCores        int64  `json:"totalCores"`
	MaxTasks          int64  `json:"maxTasks"`
	CompletedTasks    int64  `json:"completedTasks"`
	FailedTasks       int64  `json:"failedTasks"`
	TotalTasks        int64  `json:"totalTasks"`
	TotalDuration     int64  `json:"totalDuration"`
	TotalGCTime       int64  `json:"totalGCTime"`
	TotalInputBytes   int64  `json:"totalInputBytes"`
	TotalShuffleRead  int64  `json:"totalShuffleRead"`
	TotalShuffleWrite int64  `json:"totalShuffleWrite"`
	MemoryUsed        int64  `json:"memoryUsed"`
	MaxMemory         int64  `json:"maxMemory"`
}

// Job is the job-level summary returned by the jobs endpoint.
type Job struct {
	JobID               int64   `json:"jobId"`
	Name                string  `json:"name"`
	Status              string  `json:"status"`
	StageIDs            []int64 `json:"stageIds"`
	NumTasks            int64   `json:"numTasks"`
	NumCompletedTasks   int64   `json:"numCompletedTasks"`
	NumFailedTasks      int64   `json:"numFailedTasks"`
	NumCompletedStages  int64   `json:"numCompletedStages"`
	NumFailedStages     int64   `json:"numFailedStages"`
}

// Environment is the environment endpoint payload; sparkProperties is
// a list of [key, value] pairs.
type Environment struct {
	SparkProperties [][]string `json:"sparkProperties"`
}

// Property returns the value of a spark property, or "" when absent.
func (e Environment) Property(key string) string {
	for _, kv := range e.SparkProperties {
		if len(kv) == 2 && kv[0] == key {
			return kv[1]
		}
	}
	return ""
}

// VersionInfo is the version endpoint payload.
type VersionInfo struct {
	Spark string `json:"spark"`
}

// StageDetail is one attempt of a stage as returned by the per-stage
// endpoint, optionally carrying the full task map.
type StageDetail struct {
	Stage
	Tasks map[string]Task `json:"tasks"`
}
