// Package api exposes the generation pipeline over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/loqalabs/loqa-tts/internal/artifact"
	"github.com/loqalabs/loqa-tts/internal/eventstore"
	"github.com/loqalabs/loqa-tts/internal/pipeline"
	"github.com/loqalabs/loqa-tts/internal/tts"
)

const maxBodyBytes = 1 << 20

// Generator is implemented by *pipeline.Service.
type Generator interface {
	Generate(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
	Start(ctx context.Context, req pipeline.Request) (pipeline.Job, error)
	Stop() bool
	Status() pipeline.Job
}

// JobHistory is implemented by *eventstore.Store.
type JobHistory interface {
	GetJob(ctx context.Context, id string) (eventstore.Job, error)
	ListJobEvents(ctx context.Context, jobID string, limit int) ([]eventstore.Event, error)
}

type Options struct {
	Async        bool
	MaxSpeakerID int
	History      JobHistory
}

type Handler struct {
	gen     Generator
	store   *artifact.Store
	history JobHistory
	opts    Options
	logger  *slog.Logger
}

func NewHandler(gen Generator, store *artifact.Store, opts Options, log *slog.Logger) *Handler {
	return &Handler{
		gen:     gen,
		store:   store,
		history: opts.History,
		opts:    opts,
		logger:  log.With(slog.String("component", "api")),
	}
}

// Register mounts the routes on r.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/generate_audio", h.GenerateAudio).Methods(http.MethodPost)
	r.HandleFunc("/stop_audio", h.StopAudio).Methods(http.MethodPost)
	r.HandleFunc("/files/{filename}", h.ServeFile).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/status", h.Status).Methods(http.MethodGet)
	r.HandleFunc("/jobs/{id}", h.JobEvents).Methods(http.MethodGet)
	r.HandleFunc("/voices", h.Voices).Methods(http.MethodGet)
}

type outputJSON struct {
	Voice    string `json:"voice"`
	File     string `json:"file,omitempty"`
	URL      string `json:"url,omitempty"`
	Segments int    `json:"segments"`
}

func fileURL(name string) string {
	return "/files/" + name
}

// POST /generate_audio
func (h *Handler) GenerateAudio(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body", "")
		return
	}
	req, err := parseGenerateRequest(body, h.opts.MaxSpeakerID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "")
		return
	}

	if h.opts.Async {
		job, err := h.gen.Start(r.Context(), req)
		if err != nil {
			h.writeGenerationError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"message": "started",
			"job_id":  job.ID,
		})
		return
	}

	res, err := h.gen.Generate(r.Context(), req)
	if err != nil {
		h.writeGenerationError(w, err)
		return
	}

	resp := map[string]any{
		"message":  "audio generated",
		"job_id":   res.JobID,
		"status":   res.Status,
		"segments": res.Segments,
	}
	if res.Status == pipeline.StateInterrupted {
		resp["message"] = "interrupted"
	}
	outputs := make([]outputJSON, 0, len(res.Outputs))
	for _, out := range res.Outputs {
		o := outputJSON{Voice: out.Voice.String(), Segments: len(out.Segments)}
		if !out.Merged.Empty {
			o.File = out.Merged.Name
			o.URL = fileURL(out.Merged.Name)
		}
		outputs = append(outputs, o)
	}
	if len(outputs) > 0 && outputs[0].URL != "" {
		resp["combined_file_url"] = outputs[0].URL
	}
	if len(outputs) > 1 {
		resp["outputs"] = outputs
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) writeGenerationError(w http.ResponseWriter, err error) {
	var (
		validation *ValidationError
		genErr     *pipeline.GenerationError
	)
	switch {
	case errors.Is(err, pipeline.ErrBusy):
		writeError(w, http.StatusBadRequest, "busy", "a generation job is already running")
	case errors.As(err, &validation), errors.Is(err, artifact.ErrInvalidName), errors.Is(err, tts.ErrUnknownVoice):
		writeError(w, http.StatusBadRequest, err.Error(), "")
	case errors.As(err, &genErr):
		h.logger.Error("generation failed", slog.String("stage", genErr.Stage), slog.String("error", err.Error()))
		msg := "audio synthesis failed"
		if genErr.Stage == "merge" {
			msg = "audio merge failed"
		}
		writeError(w, http.StatusInternalServerError, msg, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "request cancelled", err.Error())
	default:
		h.logger.Error("generation failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "audio generation failed", err.Error())
	}
}

// POST /stop_audio
func (h *Handler) StopAudio(w http.ResponseWriter, _ *http.Request) {
	running := h.gen.Stop()
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "stop requested",
		"running": running,
	})
}

// GET /files/{filename}
func (h *Handler) ServeFile(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["filename"]
	path, err := h.store.ResolveOutput(name)
	if err != nil || !h.store.HasExt(name) {
		writeError(w, http.StatusNotFound, "file not found", "")
		return
	}
	f, err := os.Open(path)
	if err != nil {
		writeError(w, http.StatusNotFound, "file not found", "")
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil || info.IsDir() {
		writeError(w, http.StatusNotFound, "file not found", "")
		return
	}
	http.ServeContent(w, r, name, info.ModTime(), f)
}

// GET /status
func (h *Handler) Status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.gen.Status())
}

type eventJSON struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt string          `json:"created_at"`
}

// GET /jobs/{id}
func (h *Handler) JobEvents(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if h.history == nil {
		writeError(w, http.StatusNotFound, "job history disabled", "")
		return
	}
	job, err := h.history.GetJob(r.Context(), id)
	if errors.Is(err, eventstore.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, "job not found", "")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load job", err.Error())
		return
	}
	limit := 100
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = v
	}
	events, err := h.history.ListJobEvents(r.Context(), id, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load job events", err.Error())
		return
	}
	out := make([]eventJSON, 0, len(events))
	for _, e := range events {
		ev := eventJSON{Type: e.Type, CreatedAt: e.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00")}
		if json.Valid(e.Payload) {
			ev.Payload = e.Payload
		}
		out = append(out, ev)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":          job.ID,
		"name":        job.Name,
		"voices":      job.Voices,
		"status":      job.Status,
		"segments":    job.Segments,
		"merged_file": job.MergedFile,
		"error":       job.Error,
		"events":      out,
	})
}

// GET /voices
func (h *Handler) Voices(w http.ResponseWriter, _ *http.Request) {
	type voiceJSON struct {
		Voice string `json:"voice"`
		SpkID int    `json:"spk_id,omitempty"`
		Model string `json:"model"`
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"voices": []voiceJSON{
			{Voice: tts.Default.String(), SpkID: 1, Model: tts.Default.Model()},
			{Voice: tts.Male.String(), SpkID: 2, Model: tts.Male.Model()},
		},
		"speakers": map[string]any{
			"model":  tts.ModelAishell3,
			"voice":  "speaker-<id>",
			"min_id": 0,
			"max_id": h.opts.MaxSpeakerID,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg, details string) {
	body := map[string]string{"error": msg}
	if details != "" {
		body["details"] = details
	}
	writeJSON(w, status, body)
}
