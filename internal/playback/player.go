package playback

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"strings"

	"github.com/mattn/go-shellwords"
)

// ErrVanished is returned when a queued file no longer exists at play time,
// typically because the cleanup worker removed it first.
var ErrVanished = errors.New("file vanished before playback")

// Player plays one file to completion.
type Player interface {
	Play(ctx context.Context, path string) error
}

// CommandPlayer runs an external player with the file path appended.
type CommandPlayer struct {
	cmd []string
}

func NewCommandPlayer(command string) (*CommandPlayer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse player command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("player command empty")
	}
	return &CommandPlayer{cmd: args}, nil
}

func (p *CommandPlayer) Play(ctx context.Context, path string) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrVanished, path)
	}
	args := append(append([]string{}, p.cmd[1:]...), path)
	cmd := exec.CommandContext(ctx, p.cmd[0], args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if _, statErr := os.Stat(path); errors.Is(statErr, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrVanished, path)
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%s: %w: %s", p.cmd[0], err, msg)
		}
		return fmt.Errorf("%s: %w", p.cmd[0], err)
	}
	return nil
}
