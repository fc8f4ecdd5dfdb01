package signalwire

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/birddigital/aasb-telephony/pkg/logging"
)

// WebhookHandlers serves SignalWire voice and status callbacks
type WebhookHandlers struct {
	platform *Platform
	logger   *zap.Logger
}

// NewWebhookHandlers creates the webhook handlers for platform
func NewWebhookHandlers(platform *Platform) *WebhookHandlers {
	return &WebhookHandlers{
		platform: platform,
		logger:   logging.Named("CallHandlers"),
	}
}

// HandleIncomingCall answers the voice webhook of an inbound call
func (h *WebhookHandlers) HandleIncomingCall(c echo.Context) error {
	callSID := c.FormValue("CallSid")
	from := c.FormValue("From")
	if callSID == "" {
		h.logger.Warn("missing CallSid in request")
		return echo.NewHTTPError(http.StatusBadRequest, "Missing CallSid")
	}

	twiml, err := h.platform.HandleIncoming(c.Request().Context(), callSID, from)
	if err != nil {
		h.logger.Error("failed to generate LaML", zap.String("sid", callSID), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to generate TwiML")
	}
	return c.Blob(http.StatusOK, echo.MIMEApplicationXML, []byte(twiml))
}

// HandleAnswered returns the LaML for an answered outbound call
func (h *WebhookHandlers) HandleAnswered(c echo.Context) error {
	callSID := c.FormValue("CallSid")
	if callSID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Missing CallSid")
	}

	twiml, err := h.platform.HandleAnswered(c.Request().Context(), callSID)
	if err != nil {
		h.logger.Error("failed to generate LaML", zap.String("sid", callSID), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to generate TwiML")
	}
	return c.Blob(http.StatusOK, echo.MIMEApplicationXML, []byte(twiml))
}

// HandleCallStatus handles call state events from SignalWire
func (h *WebhookHandlers) HandleCallStatus(c echo.Context) error {
	callSID := c.FormValue("CallSid")
	callStatus := c.FormValue("CallStatus")
	if callSID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Missing CallSid")
	}

	h.logger.Info("call state change", zap.String("sid", callSID), zap.String("status", callStatus))
	h.platform.HandleStatus(c.Request().Context(), callSID, callStatus)
	return c.NoContent(http.StatusOK)
}

// RegisterRoutes registers the webhook routes
func (h *WebhookHandlers) RegisterRoutes(e *echo.Echo) {
	e.POST(PathIncoming, h.HandleIncomingCall)
	e.POST(PathAnswered, h.HandleAnswered)
	e.POST(PathStatus, h.HandleCallStatus)
}
