package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/birddigital/aasb-telephony/pkg/aasb"
)

func (s *Service) handleDial(ctx context.Context, msg aasb.Message) {
	var d aasb.DialDirective
	if err := msg.UnmarshalEmbeddedPayload(&d); err != nil {
		s.logger.Error("bad Dial payload", zap.Error(err))
		return
	}
	s.controller.Dial(ctx, d.CallID, d.Number(), s.selectAccount(ctx))
}

func (s *Service) handleRedial(ctx context.Context, msg aasb.Message) {
	var d aasb.DialDirective
	if err := msg.UnmarshalEmbeddedPayload(&d); err != nil {
		s.logger.Error("bad Redial payload", zap.Error(err))
		return
	}
	s.controller.Redial(ctx, d.CallID, s.selectAccount(ctx))
}

func (s *Service) handleAnswer(ctx context.Context, msg aasb.Message) {
	var d aasb.CallDirective
	if err := msg.UnmarshalEmbeddedPayload(&d); err != nil {
		s.logger.Error("bad Answer payload", zap.Error(err))
		return
	}
	s.controller.Answer(ctx, d.CallID)
}

func (s *Service) handleStop(ctx context.Context, msg aasb.Message) {
	var d aasb.CallDirective
	if err := msg.UnmarshalEmbeddedPayload(&d); err != nil {
		s.logger.Error("bad Stop payload", zap.Error(err))
		return
	}
	s.controller.Stop(ctx, d.CallID)
}

func (s *Service) handleSendDTMF(ctx context.Context, msg aasb.Message) {
	var d aasb.SendDTMFDirective
	if err := msg.UnmarshalEmbeddedPayload(&d); err != nil {
		s.logger.Error("bad SendDTMF payload", zap.Error(err))
		return
	}
	s.controller.SendDTMF(ctx, d.CallID, d.Signal)
}

func (s *Service) handleCreateCallID(ctx context.Context, msg aasb.Message) {
	if !msg.IsReply() {
		return
	}
	var reply aasb.CreateCallIDReply
	if err := msg.UnmarshalPayload(&reply); err != nil {
		s.logger.Error("bad CreateCallId reply", zap.Error(err))
		return
	}
	s.controller.CallIDReceived(ctx, msg.ReplyToID(), reply.CallID)
}
