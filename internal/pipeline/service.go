// Package pipeline runs generation jobs: segment the text, synthesize each
// fragment in index order, merge the result and hand transient files to the
// cleanup worker.
package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-tts/internal/artifact"
	"github.com/loqalabs/loqa-tts/internal/segment"
	"github.com/loqalabs/loqa-tts/internal/tts"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

type Options struct {
	Segmenter segment.Options
	Observer  Observer
}

// Service allows one job in flight. The slot and the cancellation flag are
// owned here and shared by every caller of the service.
type Service struct {
	store    *artifact.Store
	synth    Synthesizer
	merger   Merger
	cleaner  Cleaner
	segOpts  segment.Options
	observer Observer
	logger   *slog.Logger
	tracer   trace.Tracer

	slot     chan struct{}
	canceled atomic.Bool
	wg       sync.WaitGroup

	mu      sync.Mutex
	current Job

	jobCounter  metric.Int64Counter
	segmentHist metric.Float64Histogram
}

func New(store *artifact.Store, synth Synthesizer, merger Merger, cleaner Cleaner, opts Options, log *slog.Logger) *Service {
	s := &Service{
		store:    store,
		synth:    synth,
		merger:   merger,
		cleaner:  cleaner,
		segOpts:  opts.Segmenter,
		observer: opts.Observer,
		logger:   log.With(slog.String("component", "pipeline")),
		tracer:   otel.Tracer("github.com/loqalabs/loqa-tts/pipeline"),
		slot:     make(chan struct{}, 1),
		current:  Job{State: StateIdle},
	}
	if s.observer == nil {
		s.observer = Observers(nil)
	}
	if err := s.initMetrics(); err != nil {
		s.logger.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	return s
}

func (s *Service) initMetrics() error {
	meter := otel.Meter("github.com/loqalabs/loqa-tts/pipeline")
	jobs, err := meter.Int64Counter("loqa.tts.jobs", metric.WithDescription("Finished generation jobs by status"))
	if err != nil {
		return err
	}
	hist, err := meter.Float64Histogram("loqa.tts.segment.duration",
		metric.WithDescription("Time to synthesize and store one segment"),
		metric.WithUnit("s"))
	if err != nil {
		return err
	}
	s.jobCounter = jobs
	s.segmentHist = hist
	return nil
}

// Generate runs req to completion on the caller's goroutine. It waits for a
// running job to finish rather than failing with ErrBusy. Once started, the
// run is not bound to ctx; use Stop to interrupt it.
func (s *Service) Generate(ctx context.Context, req Request) (Result, error) {
	req, err := normalize(req)
	if err != nil {
		return Result{}, err
	}
	select {
	case s.slot <- struct{}{}:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
	defer func() { <-s.slot }()
	job := s.begin(req)
	return s.run(context.WithoutCancel(ctx), req, job)
}

// Start launches req in the background and returns the accepted job. It
// fails with ErrBusy when another job is in flight.
func (s *Service) Start(ctx context.Context, req Request) (Job, error) {
	req, err := normalize(req)
	if err != nil {
		return Job{}, err
	}
	select {
	case s.slot <- struct{}{}:
	default:
		return Job{}, ErrBusy
	}
	job := s.begin(req)
	runCtx := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { <-s.slot }()
		if _, err := s.run(runCtx, req, job); err != nil {
			s.logger.Error("generation job failed", slog.String("job_id", job.ID), slog.String("error", err.Error()))
		}
	}()
	return job, nil
}

// Stop requests cancellation of the running job. The flag is checked before
// each fragment; a synthesis call already in progress is not aborted. Stop
// always succeeds and reports whether a job was in flight.
//
// A job counts as in flight once begin has recorded it. A Stop that lands
// earlier, even after the slot was taken, reports false and is discarded by
// the next begin.
func (s *Service) Stop() bool {
	s.mu.Lock()
	s.canceled.Store(true)
	running := s.current.State != StateIdle && !s.current.State.Terminal()
	s.mu.Unlock()
	s.logger.Info("stop requested", slog.Bool("running", running))
	return running
}

// Busy reports whether a job is in flight.
func (s *Service) Busy() bool {
	return len(s.slot) > 0
}

// Status returns a snapshot of the current or most recent job.
func (s *Service) Status() Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Wait blocks until background jobs started with Start have returned.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) snapshotLocked() Job {
	job := s.current
	job.Voices = append([]string(nil), s.current.Voices...)
	return job
}

func (s *Service) update(fn func(*Job)) Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.current)
	return s.snapshotLocked()
}

func normalize(req Request) (Request, error) {
	if err := artifact.ValidateBaseName(req.BaseName); err != nil {
		return req, err
	}
	if len(req.Voices) == 0 {
		req.Voices = []tts.Voice{tts.Default}
	}
	seen := make(map[tts.Voice]bool, len(req.Voices))
	voices := req.Voices[:0:0]
	for _, v := range req.Voices {
		if !seen[v] {
			seen[v] = true
			voices = append(voices, v)
		}
	}
	req.Voices = voices
	return req, nil
}

// begin resets the cancellation flag and records a new job in one step under
// mu, so every Stop is ordered either before the reset or after the record.
// Callers hold the slot.
func (s *Service) begin(req Request) Job {
	voices := make([]string, len(req.Voices))
	for i, v := range req.Voices {
		voices[i] = v.String()
	}
	return s.update(func(j *Job) {
		s.canceled.Store(false)
		*j = Job{
			ID:        uuid.NewString(),
			BaseName:  req.BaseName,
			Voices:    voices,
			State:     StateSegmenting,
			StartedAt: time.Now().UTC(),
		}
	})
}

func (s *Service) run(ctx context.Context, req Request, job Job) (result Result, err error) {
	ctx, span := s.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("job.name", req.BaseName),
		attribute.Int("job.voices", len(req.Voices)),
	))
	defer span.End()

	logger := s.logger.With(slog.String("job_id", job.ID), slog.String("name", req.BaseName))
	result = Result{JobID: job.ID}

	var produced []string
	defer func() {
		s.cleaner.Enqueue(produced...)
		final := s.update(func(j *Job) {
			j.State = result.Status
			j.FinishedAt = time.Now().UTC()
			if err != nil {
				j.Error = err.Error()
			}
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.String("job.status", string(result.Status)))
		if s.jobCounter != nil {
			s.jobCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(result.Status))))
		}
		s.observer.JobFinished(final, result, err)
		logger.Info("generation job finished",
			slog.String("status", string(result.Status)),
			slog.Int("segments", result.Segments),
			slog.Duration("took", final.FinishedAt.Sub(final.StartedAt)),
		)
	}()

	if err := s.store.Ensure(); err != nil {
		result.Status = StateFailed
		return result, err
	}
	if stale, listErr := s.store.ListTransient(); listErr != nil {
		logger.Warn("failed to list stale segments", slog.String("error", listErr.Error()))
	} else if len(stale) > 0 {
		s.cleaner.Enqueue(stale...)
		logger.Info("queued stale segments for deletion", slog.Int("count", len(stale)))
	}

	segments := segment.Split(req.Text, s.segOpts)
	result.Segments = len(segments)
	job = s.update(func(j *Job) {
		j.Segments = len(segments) * len(req.Voices)
		j.State = StateSynthesizing
	})
	s.observer.JobStarted(job)
	logger.Info("generation job started", slog.Int("segments", len(segments)), slog.Int("voices", len(req.Voices)))

	tagged := len(req.Voices) > 1
	interrupted := false
	for _, voice := range req.Voices {
		out := Output{Voice: voice}
		tag := ""
		if tagged {
			tag = voice.Tag()
		}
		for _, seg := range segments {
			if s.canceled.Load() {
				interrupted = true
				logger.Info("generation interrupted", slog.Int("segment", seg.Index), slog.String("voice", voice.String()))
				break
			}
			audio := s.store.Segment(req.BaseName, tag, seg.Index)
			s.update(func(j *Job) { j.Segment = seg.Index })
			s.cleaner.Withdraw(audio.Path)

			start := time.Now()
			if synthErr := s.synth.SynthesizeToFile(ctx, seg.Text, voice, audio.Path); synthErr != nil {
				result.Status = StateFailed
				return result, &GenerationError{Stage: "synthesize", Index: seg.Index, Voice: voice, Err: synthErr}
			}
			if s.segmentHist != nil {
				s.segmentHist.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attribute.String("voice", voice.Model())))
			}
			produced = append(produced, audio.Path)
			out.Segments = append(out.Segments, audio)
			done := s.update(func(j *Job) { j.Completed++ })
			s.observer.SegmentDone(done, audio)
		}
		if len(out.Segments) > 0 || !interrupted {
			result.Outputs = append(result.Outputs, out)
		}
		if interrupted {
			break
		}
	}

	s.update(func(j *Job) { j.State = StateMerging })
	for i := range result.Outputs {
		out := &result.Outputs[i]
		tag := ""
		if tagged {
			tag = out.Voice.Tag()
		}
		paths := make([]string, len(out.Segments))
		for k, a := range out.Segments {
			paths[k] = a.Path
		}
		merged, mergeErr := s.merger.Merge(paths, s.store.Merged(req.BaseName, tag))
		if mergeErr != nil {
			result.Status = StateFailed
			return result, &GenerationError{Stage: "merge", Index: -1, Voice: out.Voice, Err: mergeErr}
		}
		out.Merged = merged
	}

	if interrupted {
		result.Status = StateInterrupted
	} else {
		result.Status = StateCompleted
	}
	return result, nil
}
