package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/loqalabs/loqa-tts/internal/artifact"
	"github.com/loqalabs/loqa-tts/internal/tts"
)

// State of a generation job.
type State string

const (
	StateIdle         State = "idle"
	StateSegmenting   State = "segmenting"
	StateSynthesizing State = "synthesizing"
	StateMerging      State = "merging"
	StateCompleted    State = "completed"
	StateInterrupted  State = "interrupted"
	StateFailed       State = "failed"
)

// Terminal reports whether no further transitions follow.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateInterrupted || s == StateFailed
}

// ErrBusy is returned when a job is already in flight.
var ErrBusy = errors.New("a generation job is already running")

// Request is one validated generation request. An empty Voices list renders
// the default voice.
type Request struct {
	BaseName string
	Text     string
	Voices   []tts.Voice
}

// Job is a snapshot of a generation run.
type Job struct {
	ID         string    `json:"id"`
	BaseName   string    `json:"name"`
	Voices     []string  `json:"voices"`
	State      State     `json:"state"`
	Segment    int       `json:"segment"`
	Segments   int       `json:"segments"`
	Completed  int       `json:"completed"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// Output is the rendition of a request in one voice.
type Output struct {
	Voice    tts.Voice
	Segments []artifact.Audio
	Merged   artifact.Merged
}

// Result is the outcome of a finished run.
type Result struct {
	JobID    string
	Status   State
	Segments int
	Outputs  []Output
}

// GenerationError reports the stage and fragment at which a run failed.
type GenerationError struct {
	Stage string // synthesize or merge
	Index int
	Voice tts.Voice
	Err   error
}

func (e *GenerationError) Error() string {
	if e.Stage == "merge" {
		return fmt.Sprintf("merge %s: %v", e.Voice, e.Err)
	}
	return fmt.Sprintf("synthesize segment %d (%s): %v", e.Index, e.Voice, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// Synthesizer renders one fragment into a file.
type Synthesizer interface {
	SynthesizeToFile(ctx context.Context, text string, voice tts.Voice, path string) error
}

// Merger concatenates segment files in the order given.
type Merger interface {
	Merge(inputs []string, out artifact.Merged) (artifact.Merged, error)
}

// Cleaner receives transient files for deletion.
type Cleaner interface {
	Enqueue(paths ...string)
	Withdraw(path string) bool
}

// Observer is notified of job transitions. Calls are made from the goroutine
// running the job and must not block for long.
type Observer interface {
	JobStarted(job Job)
	SegmentDone(job Job, audio artifact.Audio)
	JobFinished(job Job, result Result, err error)
}

// Observers fans notifications out to several observers.
type Observers []Observer

func (o Observers) JobStarted(job Job) {
	for _, obs := range o {
		obs.JobStarted(job)
	}
}

func (o Observers) SegmentDone(job Job, audio artifact.Audio) {
	for _, obs := range o {
		obs.SegmentDone(job, audio)
	}
}

func (o Observers) JobFinished(job Job, result Result, err error) {
	for _, obs := range o {
		obs.JobFinished(job, result, err)
	}
}
