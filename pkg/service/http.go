package service

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

type callView struct {
	CallID     string `json:"callId"`
	CallerID   string `json:"callerId"`
	Handle     string `json:"handle,omitempty"`
	State      string `json:"state"`
	AwaitingID bool   `json:"awaitingId"`
	Incoming   bool   `json:"incoming"`
}

type deviceConfigurationRequest struct {
	Property string `json:"property"`
	Value    bool   `json:"value"`
}

type consentRequest struct {
	Granted bool `json:"granted"`
}

// RegisterRoutes registers the health and admin routes.
func (s *Service) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", s.handleHealth)
	e.GET("/api/telephony/calls", s.handleListCalls)
	e.POST("/api/telephony/device-configuration", s.handleDeviceConfiguration)
	e.POST("/api/messaging/consent", s.handleConsent)
}

func (s *Service) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"connected": s.link.Connected(),
		"busy":      s.lifecycle.Busy(),
		"calls":     len(s.controller.Calls()),
	})
}

func (s *Service) handleListCalls(c echo.Context) error {
	records := s.controller.Calls()
	views := make([]callView, 0, len(records))
	for _, rec := range records {
		v := callView{
			CallID:     rec.CallID,
			CallerID:   rec.CallerID,
			Handle:     rec.HandleKey(),
			State:      "PENDING",
			AwaitingID: rec.AwaitingID,
			Incoming:   rec.Incoming,
		}
		if rec.Call != nil {
			v.State = rec.Call.State().String()
		}
		views = append(views, v)
	}
	return c.JSON(http.StatusOK, views)
}

func (s *Service) handleDeviceConfiguration(c echo.Context) error {
	var req deviceConfigurationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	err := s.UpdateDeviceConfiguration(c.Request().Context(), req.Property, req.Value)
	switch {
	case errors.Is(err, ErrUnknownProperty):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Service) handleConsent(c echo.Context) error {
	var req consentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := s.messaging.SetConsent(c.Request().Context(), req.Granted); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
