package tts

import "errors"

var (
	// ErrUnknownVoice is returned when a client selector matches no voice.
	ErrUnknownVoice = errors.New("unknown voice")

	// ErrUnknownModel is returned when a voice resolves to an unconfigured model.
	ErrUnknownModel = errors.New("model not configured")

	// ErrEmptyText is returned when attempting to synthesize empty text.
	ErrEmptyText = errors.New("text cannot be empty")

	// ErrEmptyAudio is returned when an engine succeeds without producing audio.
	ErrEmptyAudio = errors.New("engine returned no audio")
)

// SynthesisError carries the engine's failure for one call.
type SynthesisError struct {
	Engine  string
	Model   string
	Message string
	Cause   error
}

func (e *SynthesisError) Error() string {
	msg := e.Engine + "/" + e.Model + ": " + e.Message
	if e.Cause != nil && e.Cause.Error() != e.Message {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *SynthesisError) Unwrap() error {
	return e.Cause
}

func newSynthesisError(engine, model string, cause error) *SynthesisError {
	return &SynthesisError{Engine: engine, Model: model, Message: cause.Error(), Cause: cause}
}
