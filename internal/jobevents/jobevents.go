// Package jobevents turns pipeline transitions into protocol messages, which
// are published on the bus and recorded in the event store.
package jobevents

import (
	"context"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/loqalabs/loqa-tts/internal/artifact"
	"github.com/loqalabs/loqa-tts/internal/eventstore"
	"github.com/loqalabs/loqa-tts/internal/pipeline"
	"github.com/loqalabs/loqa-tts/internal/protocol"
)

const writeTimeout = 2 * time.Second

func started(job pipeline.Job) protocol.JobStarted {
	return protocol.JobStarted{
		JobID:     job.ID,
		Name:      job.BaseName,
		Voices:    job.Voices,
		Segments:  job.Segments,
		Timestamp: time.Now().UTC(),
	}
}

func segmentReady(job pipeline.Job, audio artifact.Audio) protocol.SegmentReady {
	return protocol.SegmentReady{
		JobID:     job.ID,
		Index:     audio.SegmentIndex,
		Voice:     audio.VoiceTag,
		File:      filepath.Base(audio.Path),
		Completed: job.Completed,
		Total:     job.Segments,
		Timestamp: time.Now().UTC(),
	}
}

func finished(job pipeline.Job, result pipeline.Result, err error) protocol.JobFinished {
	msg := protocol.JobFinished{
		JobID:     job.ID,
		Name:      job.BaseName,
		Status:    string(result.Status),
		Segments:  result.Segments,
		Timestamp: time.Now().UTC(),
	}
	for _, out := range result.Outputs {
		if !out.Merged.Empty && out.Merged.Name != "" {
			msg.MergedFiles = append(msg.MergedFiles, out.Merged.Name)
		}
	}
	if err != nil {
		msg.Error = err.Error()
	}
	return msg
}

// JSONPublisher is satisfied by *bus.Client.
type JSONPublisher interface {
	PublishJSON(subject string, v any) error
}

// Publisher broadcasts job lifecycle messages.
type Publisher struct {
	bus    JSONPublisher
	logger *slog.Logger
}

func NewPublisher(bus JSONPublisher, log *slog.Logger) *Publisher {
	return &Publisher{bus: bus, logger: log.With(slog.String("component", "job-publisher"))}
}

func (p *Publisher) publish(subject string, v any) {
	if err := p.bus.PublishJSON(subject, v); err != nil {
		p.logger.Warn("failed to publish job event", slog.String("subject", subject), slog.String("error", err.Error()))
	}
}

func (p *Publisher) JobStarted(job pipeline.Job) {
	p.publish(protocol.SubjectJobStarted, started(job))
}

func (p *Publisher) SegmentDone(job pipeline.Job, audio artifact.Audio) {
	p.publish(protocol.SubjectJobSegment, segmentReady(job, audio))
}

func (p *Publisher) JobFinished(job pipeline.Job, result pipeline.Result, err error) {
	p.publish(protocol.SubjectJobFinished, finished(job, result, err))
}

// Recorder persists job rows and their timelines.
type Recorder struct {
	store  *eventstore.Store
	logger *slog.Logger
}

func NewRecorder(store *eventstore.Store, log *slog.Logger) *Recorder {
	return &Recorder{store: store, logger: log.With(slog.String("component", "job-recorder"))}
}

func (r *Recorder) JobStarted(job pipeline.Job) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := r.store.UpsertJob(ctx, toRow(job, "")); err != nil {
		r.logger.Warn("failed to record job", slog.String("job_id", job.ID), slog.String("error", err.Error()))
		return
	}
	r.append(ctx, job.ID, protocol.SubjectJobStarted, started(job))
}

func (r *Recorder) SegmentDone(job pipeline.Job, audio artifact.Audio) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	r.append(ctx, job.ID, protocol.SubjectJobSegment, segmentReady(job, audio))
}

func (r *Recorder) JobFinished(job pipeline.Job, result pipeline.Result, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	msg := finished(job, result, err)
	if upsertErr := r.store.UpsertJob(ctx, toRow(job, strings.Join(msg.MergedFiles, ","))); upsertErr != nil {
		r.logger.Warn("failed to record job", slog.String("job_id", job.ID), slog.String("error", upsertErr.Error()))
		return
	}
	r.append(ctx, job.ID, protocol.SubjectJobFinished, msg)
}

func (r *Recorder) append(ctx context.Context, jobID, typ string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		r.logger.Warn("failed to encode job event", slog.String("error", err.Error()))
		return
	}
	if err := r.store.AppendEvent(ctx, eventstore.Event{JobID: jobID, Type: typ, Payload: payload}); err != nil {
		r.logger.Warn("failed to record job event", slog.String("job_id", jobID), slog.String("error", err.Error()))
	}
}

func toRow(job pipeline.Job, merged string) eventstore.Job {
	return eventstore.Job{
		ID:         job.ID,
		Name:       job.BaseName,
		Voices:     strings.Join(job.Voices, ","),
		Status:     string(job.State),
		Segments:   job.Segments,
		MergedFile: merged,
		Error:      job.Error,
		CreatedAt:  job.StartedAt,
		FinishedAt: job.FinishedAt,
	}
}
