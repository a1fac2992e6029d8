package constants

// JobStatus is the canonical status for rows in transform_job.
type JobStatus string

// Stable values (store these exact strings in DB).
const (
	JobStatusPending   JobStatus = "PENDING"   // created, waiting for a worker
	JobStatusRunning   JobStatus = "RUNNING"   // claimed by a worker
	JobStatusCompleted JobStatus = "COMPLETED" // terminal success
	JobStatusFailed    JobStatus = "FAILED"    // terminal failure
)

// IsTerminal reports whether s admits no further transition.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// JobStep identifies the pipeline stage a running job is in.
type JobStep string

const (
	StepParse     JobStep = "parse"
	StepCompile   JobStep = "compile"
	StepTransform JobStep = "transform"
	StepExport    JobStep = "export"
)

// stepRange maps each step to its [start, end) progress window.
var stepRange = map[JobStep][2]int{
	StepParse:     {0, 20},
	StepCompile:   {20, 40},
	StepTransform: {40, 90},
	StepExport:    {90, 100},
}

// StepProgress converts a fraction (0..1) of a step into overall progress.
func StepProgress(step JobStep, fraction float64) int {
	r, ok := stepRange[step]
	if !ok {
		return 0
	}
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	return r[0] + int(float64(r[1]-r[0])*fraction)
}
