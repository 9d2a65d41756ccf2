package tts

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/loqalabs/loqa-tts/internal/config"
	"github.com/mattn/go-shellwords"
)

// execEngine drives a speech CLI (paddlespeech by default) once per fragment.
// The command receives the text and model parameters as flags and writes the
// audio to the --output path.
type execEngine struct {
	cmd   []string
	key   string
	model config.ModelConfig
}

// NewExecFactory parses command once and returns a Factory producing one
// execEngine per model key.
func NewExecFactory(command string) (Factory, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse tts command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("tts command empty")
	}
	return func(ctx context.Context, key string, model config.ModelConfig) (Engine, error) {
		if model.AcousticModel == "" {
			return nil, fmt.Errorf("model %s: am must be set", key)
		}
		return &execEngine{cmd: args, key: key, model: model}, nil
	}, nil
}

func (e *execEngine) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	dir, err := os.MkdirTemp("", "loqa-tts-exec-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	format := req.Format
	if format == "" {
		format = "wav"
	}
	out := filepath.Join(dir, "out."+format)

	args := append([]string{}, e.cmd[1:]...)
	args = append(args, "--input", req.Text, "--output", out)
	args = append(args, modelArgs(req.Model)...)
	if id, ok := req.Voice.SpeakerID(); ok {
		args = append(args, "--spk_id", strconv.Itoa(id))
	}

	cmd := exec.CommandContext(ctx, e.cmd[0], args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return nil, fmt.Errorf("%s: %w", e.cmd[0], err)
		}
		return nil, fmt.Errorf("%s: %w: %s", e.cmd[0], err, lastLine(msg))
	}

	data, err := os.ReadFile(out)
	if err != nil {
		return nil, fmt.Errorf("read engine output: %w", err)
	}
	return data, nil
}

func (e *execEngine) Close() error { return nil }

func modelArgs(m config.ModelConfig) []string {
	var args []string
	add := func(flag, value string) {
		if value != "" {
			args = append(args, "--"+flag, value)
		}
	}
	add("am", m.AcousticModel)
	add("voc", m.Vocoder)
	add("lang", m.Lang)
	add("am_config", m.AMConfig)
	add("am_ckpt", m.AMCheckpoint)
	add("am_stat", m.AMStats)
	add("phones_dict", m.PhonesDict)
	add("speaker_dict", m.SpeakerDict)
	add("voc_config", m.VocConfig)
	add("voc_ckpt", m.VocCheckpoint)
	add("voc_stat", m.VocStats)
	return args
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
