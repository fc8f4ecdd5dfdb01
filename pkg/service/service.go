package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/birddigital/aasb-telephony/pkg/aasb"
	"github.com/birddigital/aasb-telephony/pkg/logging"
	"github.com/birddigital/aasb-telephony/pkg/messaging"
	"github.com/birddigital/aasb-telephony/pkg/prefs"
	"github.com/birddigital/aasb-telephony/pkg/telephony"
)

// ErrUnknownProperty is returned for a device property the engine does not know.
var ErrUnknownProperty = errors.New("unknown device property")

// Options wires a Service.
type Options struct {
	Transport aasb.Transport
	Placer    telephony.Placer
	Accounts  telephony.AccountSource
	Link      telephony.Link
	// CallLog is optional; without it Redial always fails.
	CallLog telephony.CallLog
	Prefs   prefs.Store
	SMS     messaging.SMSSender

	IdleShutdown time.Duration
	OnShutdown   func()

	// Reconnect delays after the engine link drops; they double up to the max.
	ReconnectMin time.Duration
	ReconnectMax time.Duration
}

const (
	defaultReconnectMin = time.Second
	defaultReconnectMax = 30 * time.Second
)

// Service connects the engine transport to the call controller and the
// messaging handler.
type Service struct {
	transport  aasb.Transport
	router     *aasb.Router
	controller *telephony.Controller
	accounts   telephony.AccountSource
	link       telephony.Link
	prefs      prefs.Store
	messaging  *messaging.Handler
	lifecycle  *Lifecycle

	reconnectMin time.Duration
	reconnectMax time.Duration

	handlerWG sync.WaitGroup
	logger    *zap.Logger
}

// New builds a service from opts.
func New(opts Options) *Service {
	s := &Service{
		transport: opts.Transport,
		router:    aasb.NewRouter(),
		accounts:  opts.Accounts,
		link:      opts.Link,
		prefs:     opts.Prefs,
		logger:    logging.Named("TelephonyService"),
	}
	if s.prefs == nil {
		s.prefs = prefs.NewMemoryStore()
	}
	s.reconnectMin, s.reconnectMax = opts.ReconnectMin, opts.ReconnectMax
	if s.reconnectMin <= 0 {
		s.reconnectMin = defaultReconnectMin
	}
	if s.reconnectMax < s.reconnectMin {
		s.reconnectMax = defaultReconnectMax
		if s.reconnectMax < s.reconnectMin {
			s.reconnectMax = s.reconnectMin
		}
	}

	s.lifecycle = NewLifecycle(opts.IdleShutdown, func() bool { return s.controller.HasCalls() }, opts.OnShutdown)

	ctrlOpts := []telephony.Option{telephony.WithIdleSignaler(s.lifecycle)}
	if opts.CallLog != nil {
		ctrlOpts = append(ctrlOpts, telephony.WithCallLog(opts.CallLog))
	}
	s.controller = telephony.NewController(opts.Placer, opts.Link, opts.Transport, ctrlOpts...)
	s.messaging = messaging.NewHandler(messaging.NewMessageService(opts.SMS), opts.Link, s.prefs, opts.Transport)

	s.registerHandlers()
	return s
}

// Controller exposes the call controller, e.g. as platform event receiver.
func (s *Service) Controller() *telephony.Controller { return s.controller }

// Messaging exposes the messaging handler.
func (s *Service) Messaging() *messaging.Handler { return s.messaging }

// Lifecycle exposes the busy/idle tracker.
func (s *Service) Lifecycle() *Lifecycle { return s.lifecycle }

func (s *Service) registerHandlers() {
	r := s.router
	r.Handle(aasb.TopicPhoneCallController, aasb.ActionDial, s.handleDial)
	r.Handle(aasb.TopicPhoneCallController, aasb.ActionRedial, s.handleRedial)
	r.Handle(aasb.TopicPhoneCallController, aasb.ActionAnswer, s.handleAnswer)
	r.Handle(aasb.TopicPhoneCallController, aasb.ActionStop, s.handleStop)
	r.Handle(aasb.TopicPhoneCallController, aasb.ActionSendDTMF, s.handleSendDTMF)
	r.Handle(aasb.TopicPhoneCallController, aasb.ActionCreateCallID, s.handleCreateCallID)
	r.Handle(aasb.TopicAASB, aasb.ActionStartService, func(ctx context.Context, _ aasb.Message) { s.Start(ctx) })
	r.Handle(aasb.TopicAASB, aasb.ActionStopService, func(ctx context.Context, _ aasb.Message) { s.lifecycle.ShutdownIfNoCall() })
	r.Handle(aasb.TopicMessaging, aasb.ActionSendMessage, s.messaging.HandleSendMessage)
}

// Run receives engine messages until ctx is done or the transport is closed.
// A dropped engine link is reconnected with backoff; tracked calls are kept.
func (s *Service) Run(ctx context.Context) error {
	defer s.handlerWG.Wait()

	handle := func(msg aasb.Message) {
		s.handlerWG.Add(1)
		defer s.handlerWG.Done()
		s.router.Dispatch(ctx, msg)
	}

	backoff := s.reconnectMin
	for {
		started := time.Now()
		err := s.transport.Run(ctx, handle)
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, aasb.ErrTransportClosed):
			return err
		}

		if time.Since(started) > s.reconnectMax {
			backoff = s.reconnectMin
		}
		s.logger.Warn("engine link lost, reconnecting",
			zap.Error(err), zap.Duration("backoff", backoff), zap.Int("calls", len(s.controller.Calls())))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > s.reconnectMax {
			backoff = s.reconnectMax
		}
	}
}

// Dispatch handles one engine message.
func (s *Service) Dispatch(ctx context.Context, msg aasb.Message) bool {
	return s.router.Dispatch(ctx, msg)
}

// Start performs the initial connection and call state checks.
func (s *Service) Start(ctx context.Context) {
	connected := s.link.Connected()
	s.logger.Info("starting", zap.Bool("connected", connected))
	s.publishConnectionState(ctx, connected)
	if connected {
		s.publishDeviceConfiguration(ctx)
	}
	s.messaging.PublishEndpointState(ctx, connected)

	if s.controller.ReportCurrentCalls(ctx) {
		s.lifecycle.MarkBusy()
	} else {
		s.lifecycle.MarkIdle()
	}
}

// SetLinkState reacts to the telephony link coming up or going down.
func (s *Service) SetLinkState(ctx context.Context, connected bool) {
	s.logger.Info("link state", zap.Bool("connected", connected))
	s.publishConnectionState(ctx, connected)
	if connected {
		s.publishDeviceConfiguration(ctx)
	} else {
		s.controller.OnConnectionLost(ctx)
	}
	s.messaging.PublishEndpointState(ctx, connected)
}

// UpdateDeviceConfiguration stores a calling device property and reports it.
func (s *Service) UpdateDeviceConfiguration(ctx context.Context, property string, value bool) error {
	if property != aasb.ConfigurationDTMFSupported {
		return fmt.Errorf("%w: %s", ErrUnknownProperty, property)
	}
	if err := s.prefs.SetBool(ctx, prefs.KeyDTMFSupported, value); err != nil {
		return err
	}
	return s.sendDeviceConfiguration(ctx, property, value)
}

func (s *Service) publishDeviceConfiguration(ctx context.Context) {
	supported, err := s.prefs.GetBool(ctx, prefs.KeyDTMFSupported, true)
	if err != nil {
		s.logger.Warn("failed to read device configuration", zap.Error(err))
	}
	if err := s.sendDeviceConfiguration(ctx, aasb.ConfigurationDTMFSupported, supported); err != nil {
		s.logger.Error("failed to publish device configuration", zap.Error(err))
	}
}

func (s *Service) sendDeviceConfiguration(ctx context.Context, property string, value bool) error {
	configurationMap, err := json.Marshal(map[string]bool{property: value})
	if err != nil {
		return err
	}
	return s.publish(ctx, aasb.ActionDeviceConfigurationUpdated, aasb.DeviceConfigurationUpdatedPayload{
		ConfigurationMap: string(configurationMap),
	})
}

func (s *Service) publishConnectionState(ctx context.Context, connected bool) {
	state := aasb.ConnectionStateDisconnected
	if connected {
		state = aasb.ConnectionStateConnected
	}
	if err := s.prefs.SetString(ctx, prefs.KeyConnectionState, string(state)); err != nil {
		s.logger.Warn("failed to store connection state", zap.Error(err))
	}
	if err := s.publish(ctx, aasb.ActionConnectionStateChanged, aasb.ConnectionStateChangedPayload{State: state}); err != nil {
		s.logger.Error("failed to publish connection state", zap.Error(err))
	}
}

func (s *Service) publish(ctx context.Context, action string, payload interface{}) error {
	msg, err := aasb.NewPublish(aasb.TopicPhoneCallController, action, payload)
	if err != nil {
		return err
	}
	return s.transport.Publish(ctx, msg)
}

func (s *Service) selectAccount(ctx context.Context) *telephony.Account {
	if s.accounts == nil {
		return nil
	}
	accounts, err := s.accounts.Accounts(ctx)
	if err != nil {
		s.logger.Error("failed to list phone accounts", zap.Error(err))
		return nil
	}
	return telephony.SelectAccount(accounts)
}
