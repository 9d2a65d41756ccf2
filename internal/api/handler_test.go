package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/loqalabs/loqa-tts/internal/artifact"
	"github.com/loqalabs/loqa-tts/internal/eventstore"
	"github.com/loqalabs/loqa-tts/internal/merge"
	"github.com/loqalabs/loqa-tts/internal/pipeline"
	"github.com/loqalabs/loqa-tts/internal/tts"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeGenerator struct {
	lastReq pipeline.Request
	result  pipeline.Result
	err     error
	stopped int
	running bool
	status  pipeline.Job
}

func (f *fakeGenerator) Generate(ctx context.Context, req pipeline.Request) (pipeline.Result, error) {
	f.lastReq = req
	return f.result, f.err
}

func (f *fakeGenerator) Start(ctx context.Context, req pipeline.Request) (pipeline.Job, error) {
	f.lastReq = req
	if f.err != nil {
		return pipeline.Job{}, f.err
	}
	return pipeline.Job{ID: "job-42", BaseName: req.BaseName}, nil
}

func (f *fakeGenerator) Stop() bool {
	f.stopped++
	return f.running
}

func (f *fakeGenerator) Status() pipeline.Job { return f.status }

type fakeHistory struct{}

func (fakeHistory) GetJob(ctx context.Context, id string) (eventstore.Job, error) {
	if id != "job-42" {
		return eventstore.Job{}, eventstore.ErrJobNotFound
	}
	return eventstore.Job{ID: id, Name: "greet", Status: "completed", Segments: 3, MergedFile: "greet.mp3"}, nil
}

func (fakeHistory) ListJobEvents(ctx context.Context, jobID string, limit int) ([]eventstore.Event, error) {
	return []eventstore.Event{{JobID: jobID, Type: "tts.job.finished", Payload: []byte(`{"status":"completed"}`)}}, nil
}

func newServer(t *testing.T, gen *fakeGenerator, async bool) (*httptest.Server, *artifact.Store) {
	t.Helper()
	root := t.TempDir()
	store, err := artifact.New(filepath.Join(root, "segments"), filepath.Join(root, "files"), "mp3")
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if err := store.Ensure(); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	h := NewHandler(gen, store, Options{Async: async, MaxSpeakerID: 173, History: fakeHistory{}}, testLogger())
	r := mux.NewRouter()
	h.Register(r)
	srv := httptest.NewServer(WithCORS(r, []string{"*"}))
	t.Cleanup(srv.Close)
	return srv, store
}

func post(t *testing.T, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestGenerateAudioSync(t *testing.T) {
	gen := &fakeGenerator{result: pipeline.Result{
		JobID:    "job-1",
		Status:   pipeline.StateCompleted,
		Segments: 3,
		Outputs: []pipeline.Output{{
			Voice:  tts.Default,
			Merged: artifact.Merged{BaseName: "greet", Name: "greet.mp3"},
		}},
	}}
	srv, _ := newServer(t, gen, false)

	resp, body := post(t, srv.URL+"/generate_audio", `{"name":"greet","text":"你好。欢迎使用本系统！今天天气不错？","spk_id":1}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d: %v", resp.StatusCode, body)
	}
	if body["combined_file_url"] != "/files/greet.mp3" || body["status"] != "completed" {
		t.Fatalf("unexpected body %v", body)
	}
	if gen.lastReq.BaseName != "greet" || len(gen.lastReq.Voices) != 1 || gen.lastReq.Voices[0] != tts.Default {
		t.Fatalf("unexpected request %+v", gen.lastReq)
	}
}

func TestGenerateAudioInterrupted(t *testing.T) {
	gen := &fakeGenerator{result: pipeline.Result{JobID: "job-1", Status: pipeline.StateInterrupted}}
	srv, _ := newServer(t, gen, false)
	resp, body := post(t, srv.URL+"/generate_audio", `{"name":"greet","text":"一。二。"}`)
	if resp.StatusCode != http.StatusOK || body["message"] != "interrupted" {
		t.Fatalf("unexpected response %d %v", resp.StatusCode, body)
	}
}

func TestGenerateAudioAsync(t *testing.T) {
	gen := &fakeGenerator{}
	srv, _ := newServer(t, gen, true)
	resp, body := post(t, srv.URL+"/generate_audio", `{"name":"greet","text":"你好","voice":"speaker-12"}`)
	if resp.StatusCode != http.StatusOK || body["message"] != "started" || body["job_id"] != "job-42" {
		t.Fatalf("unexpected response %d %v", resp.StatusCode, body)
	}
	if id, ok := gen.lastReq.Voices[0].SpeakerID(); !ok || id != 12 {
		t.Fatalf("unexpected voice %v", gen.lastReq.Voices)
	}

	gen.err = pipeline.ErrBusy
	resp, body = post(t, srv.URL+"/generate_audio", `{"name":"again","text":"你好"}`)
	if resp.StatusCode != http.StatusBadRequest || body["error"] != "busy" {
		t.Fatalf("expected busy rejection, got %d %v", resp.StatusCode, body)
	}
}

func TestGenerateAudioValidation(t *testing.T) {
	gen := &fakeGenerator{}
	srv, _ := newServer(t, gen, false)
	cases := []string{
		`{"text":"你好"}`,
		`{"name":"greet"}`,
		`not json`,
		`{"name":"../x","text":"你好"}`,
		`{"name":"greet","text":"你好","spk_id":0}`,
		`{"name":"greet","text":"你好","spk_id":"abc"}`,
		`{"name":"greet","text":"你好","voice":"robot"}`,
		`{"name":"greet","text":"你好","voice":"male","spk_id":2}`,
		`{"name":"greet","text":"你好","spk_ids":[]}`,
	}
	for _, body := range cases {
		resp, out := post(t, srv.URL+"/generate_audio", body)
		if resp.StatusCode != http.StatusBadRequest || out["error"] == nil {
			t.Fatalf("body %s: expected 400 with error, got %d %v", body, resp.StatusCode, out)
		}
	}
	if gen.lastReq.BaseName != "" {
		t.Fatalf("invalid requests must not reach the pipeline")
	}
}

func TestGenerateAudioSynthesisFailure(t *testing.T) {
	gen := &fakeGenerator{err: &pipeline.GenerationError{
		Stage: "synthesize",
		Index: 1,
		Err:   &tts.SynthesisError{Engine: "exec", Model: "default", Message: "model crashed"},
	}}
	srv, _ := newServer(t, gen, false)
	resp, body := post(t, srv.URL+"/generate_audio", `{"name":"greet","text":"你好"}`)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
	if !strings.Contains(body["details"].(string), "model crashed") {
		t.Fatalf("expected engine message in details, got %v", body)
	}
}

func TestGenerateAudioMergeFailure(t *testing.T) {
	gen := &fakeGenerator{err: &pipeline.GenerationError{
		Stage: "merge",
		Index: -1,
		Voice: tts.Default,
		Err:   &merge.Error{Path: "/tmp/segments/greet_0001.mp3", Err: merge.ErrIncompatible},
	}}
	srv, _ := newServer(t, gen, false)
	resp, body := post(t, srv.URL+"/generate_audio", `{"name":"greet","text":"你好"}`)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
	if body["error"] != "audio merge failed" {
		t.Fatalf("unexpected error %v", body)
	}
	details, _ := body["details"].(string)
	if !strings.Contains(details, "greet_0001.mp3") || !strings.Contains(details, merge.ErrIncompatible.Error()) {
		t.Fatalf("expected offending input in details, got %v", body)
	}
}

func TestParseSpeakerIDs(t *testing.T) {
	req, err := parseGenerateRequest([]byte(`{"name":"duet","text":"你好","spk_ids":[1,"5"]}`), 173)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(req.Voices) != 2 || req.Voices[0] != tts.Default || req.Voices[1] != tts.Speaker(5) {
		t.Fatalf("unexpected voices %v", req.Voices)
	}
	var verr *ValidationError
	if _, err := parseGenerateRequest([]byte(`{"name":"duet","text":"你好","spk_ids":[1,999]}`), 173); !errors.As(err, &verr) || verr.Field != "spk_ids" {
		t.Fatalf("expected spk_ids validation error, got %v", err)
	}
}

func TestStopAudio(t *testing.T) {
	gen := &fakeGenerator{running: true}
	srv, _ := newServer(t, gen, true)
	resp, body := post(t, srv.URL+"/stop_audio", "")
	if resp.StatusCode != http.StatusOK || body["running"] != true || gen.stopped != 1 {
		t.Fatalf("unexpected stop response %d %v", resp.StatusCode, body)
	}
}

func TestServeFile(t *testing.T) {
	gen := &fakeGenerator{}
	srv, store := newServer(t, gen, false)
	if err := os.WriteFile(filepath.Join(store.OutputDir(), "greet.mp3"), []byte("audio"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	resp, err := http.Get(srv.URL + "/files/greet.mp3")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(data) != "audio" {
		t.Fatalf("unexpected response %d %q", resp.StatusCode, data)
	}

	for _, name := range []string{"missing.mp3", ".hidden.mp3", "greet.txt", "..%2Fsegments%2Fx.mp3"} {
		resp, err := http.Get(srv.URL + "/files/" + name)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d", name, resp.StatusCode)
		}
	}
}

func TestJobEventsAndVoices(t *testing.T) {
	gen := &fakeGenerator{status: pipeline.Job{ID: "job-42", State: pipeline.StateSynthesizing}}
	srv, _ := newServer(t, gen, true)

	resp, err := http.Get(srv.URL + "/jobs/job-42")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var job map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&job)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || job["merged_file"] != "greet.mp3" || len(job["events"].([]any)) != 1 {
		t.Fatalf("unexpected job response %d %v", resp.StatusCode, job)
	}

	resp, _ = http.Get(srv.URL + "/jobs/unknown")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown job, got %d", resp.StatusCode)
	}

	resp, _ = http.Get(srv.URL + "/status")
	var status map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&status)
	resp.Body.Close()
	if status["state"] != "synthesizing" {
		t.Fatalf("unexpected status %v", status)
	}

	resp, _ = http.Get(srv.URL + "/voices")
	var voices map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&voices)
	resp.Body.Close()
	if len(voices["voices"].([]any)) != 2 {
		t.Fatalf("unexpected voices %v", voices)
	}
}

func TestCORSPreflight(t *testing.T) {
	srv, _ := newServer(t, &fakeGenerator{}, false)
	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/generate_audio", nil)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	resp.Body.Close()
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("expected CORS headers, got %v", resp.Header)
	}
}
