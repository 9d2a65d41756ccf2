package protocol

import "time"

// JobStarted is published once a request has been segmented.
type JobStarted struct {
	JobID     string    `json:"job_id"`
	Name      string    `json:"name"`
	Voices    []string  `json:"voices"`
	Segments  int       `json:"segments"`
	Timestamp time.Time `json:"timestamp"`
}

// SegmentReady is published after each segment file has been written.
type SegmentReady struct {
	JobID     string    `json:"job_id"`
	Index     int       `json:"index"`
	Voice     string    `json:"voice,omitempty"`
	File      string    `json:"file"`
	Completed int       `json:"completed"`
	Total     int       `json:"total"`
	Timestamp time.Time `json:"timestamp"`
}

// JobFinished reports the terminal state of a job.
type JobFinished struct {
	JobID       string    `json:"job_id"`
	Name        string    `json:"name"`
	Status      string    `json:"status"`
	Segments    int       `json:"segments"`
	MergedFiles []string  `json:"merged_files,omitempty"`
	Error       string    `json:"error,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

const (
	SubjectJobStarted  = "tts.job.started"
	SubjectJobSegment  = "tts.job.segment"
	SubjectJobFinished = "tts.job.finished"
)

// JobRequest asks the service to start a generation job. Voice and SpkIDs
// follow the HTTP rules: at most one of them is set.
type JobRequest struct {
	Name    string `json:"name"`
	Text    string `json:"text"`
	Voice   string `json:"voice,omitempty"`
	SpkIDs  []int  `json:"spk_ids,omitempty"`
	TraceID string `json:"trace_id,omitempty"`
}

// JobReply answers a JobRequest or a stop request.
type JobReply struct {
	JobID   string `json:"job_id,omitempty"`
	Running bool   `json:"running,omitempty"`
	Error   string `json:"error,omitempty"`
}

const (
	SubjectJobRequest = "tts.job.request"
	SubjectJobStop    = "tts.job.stop"
)
