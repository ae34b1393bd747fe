package app

import (
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Stage states reported by the monitor.
const (
	StagePending = "pending"
	StageRunning = "running"
	StageDone    = "done"
	StageFailed  = "failed"
	StageSkipped = "skipped"
)

const tailNumLines = 1000

// Job tracks one pipeline run: per-stage state plus the tail of the run log.
type Job struct {
	mu sync.Mutex

	RunID     string
	StartTime time.Time
	Stages    map[string]string
	Done      bool
	Error     string

	lines []string
	buf   []byte
}

func NewJob() *Job {
	return &Job{
		RunID:     uuid.New().String(),
		StartTime: time.Now(),
		Stages: map[string]string{
			"extract":  StagePending,
			"depth":    StagePending,
			"sfm":      StagePending,
			"synth":    StagePending,
			"assemble": StagePending,
		},
	}
}

func (job *Job) SetStage(name string, state string) {
	job.mu.Lock()
	job.Stages[name] = state
	job.mu.Unlock()
}

func (job *Job) Finish(err error) {
	job.mu.Lock()
	job.Done = true
	if err != nil {
		job.Error = err.Error()
	}
	job.mu.Unlock()
}

type JobSnapshot struct {
	RunID     string            `json:"run_id"`
	StartTime time.Time         `json:"start_time"`
	Stages    map[string]string `json:"stages"`
	Done      bool              `json:"done"`
	Error     string            `json:"error,omitempty"`
	Log       []string          `json:"log"`
}

func (job *Job) Snapshot() JobSnapshot {
	job.mu.Lock()
	defer job.mu.Unlock()
	snap := JobSnapshot{
		RunID:     job.RunID,
		StartTime: job.StartTime,
		Stages:    make(map[string]string, len(job.Stages)),
		Done:      job.Done,
		Error:     job.Error,
		Log:       append([]string(nil), job.lines...),
	}
	for k, v := range job.Stages {
		snap.Stages[k] = v
	}
	return snap
}

// update appends log lines, keeping only the latest tailNumLines.
func (job *Job) update(lines []string) {
	job.lines = append(job.lines, lines...)
	if len(job.lines) > tailNumLines {
		job.lines = job.lines[len(job.lines)-tailNumLines:]
	}
}

// LogWriter returns a writer that feeds the job's log tail. main tees the
// standard logger into it so the monitor can show recent output.
func (job *Job) LogWriter() io.Writer {
	return (*jobWriter)(job)
}

type jobWriter Job

func (w *jobWriter) Write(p []byte) (int, error) {
	job := (*Job)(w)
	job.mu.Lock()
	defer job.mu.Unlock()
	job.buf = append(job.buf, p...)
	var lines []string
	for {
		idx := -1
		for i, b := range job.buf {
			if b == '\n' {
				idx = i
				break
			}
		}
		if idx < 0 {
			break
		}
		lines = append(lines, string(job.buf[:idx]))
		job.buf = job.buf[idx+1:]
	}
	job.update(lines)
	return len(p), nil
}
