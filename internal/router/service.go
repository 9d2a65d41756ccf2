// Package router accepts generation and stop requests from the bus and hands
// them to the pipeline. Replies use NATS request/reply.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/loqalabs/loqa-tts/internal/bus"
	"github.com/loqalabs/loqa-tts/internal/config"
	"github.com/loqalabs/loqa-tts/internal/pipeline"
	"github.com/loqalabs/loqa-tts/internal/protocol"
	"github.com/loqalabs/loqa-tts/internal/tts"
	"github.com/nats-io/nats.go"
)

// Starter is implemented by *pipeline.Service.
type Starter interface {
	Start(ctx context.Context, req pipeline.Request) (pipeline.Job, error)
	Stop() bool
}

type Service struct {
	cfg          config.RouterConfig
	bus          *bus.Client
	starter      Starter
	maxSpeakerID int
	logger       *slog.Logger
	subRequests  *nats.Subscription
	subStop      *nats.Subscription
	ctx          context.Context
	cancel       context.CancelFunc
}

func NewService(parent context.Context, cfg config.RouterConfig, busClient *bus.Client, starter Starter, maxSpeakerID int, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:          cfg,
		bus:          busClient,
		starter:      starter,
		maxSpeakerID: maxSpeakerID,
		logger:       logger.With(slog.String("component", "router")),
		ctx:          ctx,
		cancel:       cancel,
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectJobRequest, s.handleRequest)
	if err != nil {
		return err
	}
	s.subRequests = sub

	subStop, err := s.bus.Conn().Subscribe(protocol.SubjectJobStop, s.handleStop)
	if err != nil {
		_ = s.subRequests.Drain()
		return err
	}
	s.subStop = subStop
	return s.bus.Conn().Flush()
}

func (s *Service) Close() {
	s.cancel()
	if s.subRequests != nil {
		_ = s.subRequests.Drain()
	}
	if s.subStop != nil {
		_ = s.subStop.Drain()
	}
}

func (s *Service) Healthy() bool {
	return !s.cfg.Enabled || (s.subRequests != nil && s.subStop != nil)
}

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.JobRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("router failed to decode job request", slogError(err))
		s.reply(msg, protocol.JobReply{Error: "invalid request: " + err.Error()})
		return
	}
	voices, err := s.voices(req)
	if err != nil {
		s.reply(msg, protocol.JobReply{Error: err.Error()})
		return
	}
	job, err := s.starter.Start(s.ctx, pipeline.Request{BaseName: req.Name, Text: req.Text, Voices: voices})
	switch {
	case errors.Is(err, pipeline.ErrBusy):
		s.reply(msg, protocol.JobReply{Error: "busy"})
	case err != nil:
		s.logger.Warn("router failed to start job", slog.String("name", req.Name), slogError(err))
		s.reply(msg, protocol.JobReply{Error: err.Error()})
	default:
		s.logger.Info("job requested over bus", slog.String("job_id", job.ID), slog.String("trace_id", req.TraceID))
		s.reply(msg, protocol.JobReply{JobID: job.ID, Running: true})
	}
}

func (s *Service) handleStop(msg *nats.Msg) {
	s.reply(msg, protocol.JobReply{Running: s.starter.Stop()})
}

func (s *Service) voices(req protocol.JobRequest) ([]tts.Voice, error) {
	if strings.TrimSpace(req.Voice) != "" && len(req.SpkIDs) > 0 {
		return nil, errors.New("use only one of 'voice' and 'spk_ids'")
	}
	if strings.TrimSpace(req.Voice) != "" {
		v, err := tts.ParseVoice(req.Voice, s.maxSpeakerID)
		if err != nil {
			return nil, err
		}
		return []tts.Voice{v}, nil
	}
	voices := make([]tts.Voice, 0, len(req.SpkIDs))
	for _, id := range req.SpkIDs {
		v, err := tts.VoiceFromSpeakerID(id, s.maxSpeakerID)
		if err != nil {
			return nil, err
		}
		voices = append(voices, v)
	}
	return voices, nil
}

// reply answers msg when the sender asked for a reply.
func (s *Service) reply(msg *nats.Msg, v protocol.JobReply) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Warn("router failed to encode reply", slogError(err))
		return
	}
	if err := msg.Respond(data); err != nil {
		s.logger.Warn("router failed to reply", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
