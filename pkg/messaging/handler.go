package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/birddigital/aasb-telephony/pkg/aasb"
	"github.com/birddigital/aasb-telephony/pkg/logging"
	"github.com/birddigital/aasb-telephony/pkg/prefs"
	"github.com/birddigital/aasb-telephony/pkg/telephony"
)

var errNoRecipients = errors.New("no recipients")

// Handler serves the Messaging topic.
type Handler struct {
	service   *MessageService
	link      telephony.Link
	store     prefs.Store
	publisher telephony.Publisher
	logger    *zap.Logger
}

// NewHandler creates a messaging handler.
func NewHandler(service *MessageService, link telephony.Link, store prefs.Store, publisher telephony.Publisher) *Handler {
	return &Handler{
		service:   service,
		link:      link,
		store:     store,
		publisher: publisher,
		logger:    logging.Named("MessagingHandler"),
	}
}

// HandleSendMessage processes a SendMessage directive.
func (h *Handler) HandleSendMessage(ctx context.Context, msg aasb.Message) {
	var p aasb.SendMessagePayload
	if err := msg.UnmarshalPayload(&p); err != nil {
		h.logger.Error("bad SendMessage payload", zap.Error(err))
		h.failed(ctx, p.Token, aasb.MessagingErrorGeneric, "Error parsing payload to sendMessage")
		return
	}

	recipients, err := parseRecipients(p.Recipients)
	if err != nil {
		h.logger.Error("bad recipients", zap.String("token", p.Token), zap.Error(err))
		h.failed(ctx, p.Token, aasb.MessagingErrorGeneric, "Invalid recipients")
		return
	}

	if !h.link.Connected() {
		h.failed(ctx, p.Token, aasb.MessagingErrorNoConnectivity, "Phone not connected")
		return
	}
	consent, err := h.store.GetBool(ctx, prefs.KeyMessagingConsent, false)
	if err != nil {
		h.logger.Warn("failed to read consent", zap.Error(err))
	}
	if !consent {
		h.failed(ctx, p.Token, aasb.MessagingErrorNoPermission, "Send permission is not granted")
		return
	}

	sent, err := h.service.SendBroadcast(ctx, recipients, p.Message)
	if err != nil {
		h.logger.Error("send failed",
			zap.String("token", p.Token),
			zap.Int("sent", sent),
			zap.Errors("errors", multierr.Errors(err)))
		h.failed(ctx, p.Token, aasb.MessagingErrorGeneric, "Unable to send message")
		return
	}
	h.publish(ctx, aasb.ActionSendMessageSucceeded, aasb.SendMessageSucceededPayload{Token: p.Token})
}

func parseRecipients(raw string) ([]string, error) {
	var list []aasb.Recipient
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil, err
	}
	var out []string
	for _, r := range list {
		if addr := strings.TrimSpace(r.Address); addr != "" {
			out = append(out, addr)
		}
	}
	if len(out) == 0 {
		return nil, errNoRecipients
	}
	return out, nil
}

// PublishEndpointState reports messaging availability to the engine.
func (h *Handler) PublishEndpointState(ctx context.Context, connected bool) {
	state := aasb.ConnectionStateDisconnected
	if connected {
		state = aasb.ConnectionStateConnected
	}
	permission := aasb.PermissionOff
	if consent, _ := h.store.GetBool(ctx, prefs.KeyMessagingConsent, false); consent {
		permission = aasb.PermissionOn
	}
	h.publish(ctx, aasb.ActionUpdateMessagingEndpointState, aasb.MessagingEndpointStatePayload{
		ConnectionState: state,
		SendPermission:  permission,
		ReadPermission:  aasb.PermissionOff,
	})
}

// SetConsent stores the user's send permission and republishes the endpoint state.
func (h *Handler) SetConsent(ctx context.Context, granted bool) error {
	if err := h.store.SetBool(ctx, prefs.KeyMessagingConsent, granted); err != nil {
		return err
	}
	h.PublishEndpointState(ctx, h.link.Connected())
	return nil
}

func (h *Handler) failed(ctx context.Context, token string, code aasb.MessagingError, message string) {
	h.publish(ctx, aasb.ActionSendMessageFailed, aasb.SendMessageFailedPayload{Token: token, Code: code, Message: message})
}

func (h *Handler) publish(ctx context.Context, action string, payload interface{}) {
	msg, err := aasb.NewPublish(aasb.TopicMessaging, action, payload)
	if err != nil {
		h.logger.Error("failed to build message", zap.String("action", action), zap.Error(err))
		return
	}
	if err := h.publisher.Publish(ctx, msg); err != nil {
		h.logger.Error("failed to publish", zap.String("action", action), zap.Error(err))
	}
}
