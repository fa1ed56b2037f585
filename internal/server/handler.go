package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"pattern-scanner/internal/analysis/stability"
	"pattern-scanner/internal/engine"
	"pattern-scanner/internal/logging"
	"pattern-scanner/internal/models"
	"pattern-scanner/internal/resilience"
	"pattern-scanner/internal/security"
	"pattern-scanner/internal/store"
	"pattern-scanner/internal/stream"
)

// Handler serves the pattern detection API.
type Handler struct {
	engine    *engine.Engine
	source    store.CandleSource
	window    int
	validator *security.InputValidator
	health    *resilience.HealthChecker
	events    *stream.Hub
}

// NewHandler creates a handler. source may be nil, in which case analysis of
// stored candles is unavailable. Handlers log through the request-scoped logger.
func NewHandler(eng *engine.Engine, source store.CandleSource, window int) *Handler {
	h := &Handler{
		engine:    eng,
		source:    source,
		window:    window,
		validator: security.NewInputValidator(true),
		health:    resilience.NewHealthChecker(resilience.DefaultHealthCheckerConfig()),
	}
	h.health.Register("engine", h.engineHealth)
	return h
}

// RegisterHealthCheck adds a component to the health report.
func (h *Handler) RegisterHealthCheck(name string, check resilience.HealthCheck) {
	h.health.Register(name, check)
}

// SetEventHub enables the detection event stream.
func (h *Handler) SetEventHub(hub *stream.Hub) {
	h.events = hub
	h.health.Register("events", func(ctx context.Context) resilience.ComponentHealth {
		status := resilience.HealthStatusHealthy
		message := "event hub running"
		if !hub.IsStarted() {
			status, message = resilience.HealthStatusDegraded, "event hub stopped"
		}
		m := hub.Metrics()
		return resilience.ComponentHealth{
			Status:  status,
			Message: message,
			Details: map[string]interface{}{
				"subscribers": m.Subscribers,
				"broadcast":   m.EventsBroadcast,
				"dropped":     m.EventsDropped,
			},
		}
	})
}

// RegisterRoutes registers the API routes.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/analyze-structure", h.AnalyzeStructure)
	e.GET("/analyze/:symbol/:timeframe", h.AnalyzeStored)
	e.GET("/state/:symbol/:timeframe", h.GetState)
	e.DELETE("/state/:symbol/:timeframe", h.ClearState)
	e.GET("/templates", h.Templates)
	e.GET("/healthz", h.Health)
	e.GET("/events", h.Events)
}

// StateResponse is the classification state of one key.
type StateResponse struct {
	Key string `json:"key"`
	stability.State
}

// TemplateResponse describes a registered template.
type TemplateResponse struct {
	Name  string    `json:"name"`
	Shape []float64 `json:"shape"`
	Bias  string    `json:"bias"`
}

// AnalyzeStructure classifies the candles in the request body.
func (h *Handler) AnalyzeStructure(c echo.Context) error {
	req := &models.AnalyzeRequest{}
	if verr := ReadAndValidateRequest(c, req); verr != nil {
		return BadRequestResponse(c, verr)
	}

	key, err := h.validator.ValidateKey(req.Symbol, req.Timeframe)
	if err != nil {
		return AppErrorResponse(c, err)
	}

	det, err := h.engine.Analyze(key, req.Candles())
	if err != nil {
		logging.FromContext(c.Request().Context()).Warn().Err(err).Str("key", key.String()).Msg("analysis failed")
		return AppErrorResponse(c, err)
	}
	return SuccessResponse(c, det)
}

// AnalyzeStored classifies the most recent stored candles of a key.
func (h *Handler) AnalyzeStored(c echo.Context) error {
	key, err := h.validator.ValidateKey(c.Param("symbol"), c.Param("timeframe"))
	if err != nil {
		return AppErrorResponse(c, err)
	}
	if h.source == nil {
		return NotFoundResponse(c, "candle store is not configured")
	}

	candles, err := h.source.GetRecentCandles(c.Request().Context(), key.Symbol, key.Timeframe, h.window)
	if err != nil {
		return AppErrorResponse(c, err)
	}

	det, err := h.engine.Analyze(key, candles)
	if err != nil {
		logging.FromContext(c.Request().Context()).Warn().Err(err).Str("key", key.String()).Msg("analysis failed")
		return AppErrorResponse(c, err)
	}
	return SuccessResponse(c, det)
}

// GetState returns the classification state of a key.
func (h *Handler) GetState(c echo.Context) error {
	key, err := h.validator.ValidateKey(c.Param("symbol"), c.Param("timeframe"))
	if err != nil {
		return AppErrorResponse(c, err)
	}

	state, ok := h.engine.State(key)
	if !ok {
		return NotFoundResponse(c, "no state for "+key.String())
	}
	return SuccessResponse(c, StateResponse{Key: key.String(), State: state})
}

// ClearState drops the classification state of a key.
func (h *Handler) ClearState(c echo.Context) error {
	key, err := h.validator.ValidateKey(c.Param("symbol"), c.Param("timeframe"))
	if err != nil {
		return AppErrorResponse(c, err)
	}

	if !h.engine.Clear(key) {
		return NotFoundResponse(c, "no state for "+key.String())
	}
	logging.FromContext(c.Request().Context()).Info().Str("key", key.String()).Msg("state cleared")
	return SuccessResponse(c, map[string]string{"key": key.String()})
}

// Templates lists the registered templates in registry order.
func (h *Handler) Templates(c echo.Context) error {
	templates := h.engine.Library().Templates()
	out := make([]TemplateResponse, len(templates))
	for i, t := range templates {
		out[i] = TemplateResponse{Name: t.Name, Shape: t.Shape, Bias: string(t.Bias)}
	}
	return SuccessResponse(c, out)
}

// Health reports component health. An unhealthy component turns the response into 503.
func (h *Handler) Health(c echo.Context) error {
	report := h.health.Check(c.Request().Context())
	if report.Status == resilience.HealthStatusUnhealthy {
		return DataResponse(c, http.StatusServiceUnavailable, report)
	}
	return SuccessResponse(c, report)
}

// Events streams detection events as server-sent events. With symbol and
// timeframe query parameters only that key's events are sent.
func (h *Handler) Events(c echo.Context) error {
	if h.events == nil {
		return NotFoundResponse(c, "event stream is not enabled")
	}

	filter := stream.AllKeys
	if symbol := c.QueryParam("symbol"); symbol != "" {
		timeframe := c.QueryParam("timeframe")
		if timeframe == "" {
			timeframe = "1m"
		}
		key, err := h.validator.ValidateKey(symbol, timeframe)
		if err != nil {
			return AppErrorResponse(c, err)
		}
		filter = key.String()
	}

	ch := h.events.Subscribe(filter)
	defer h.events.Unsubscribe(filter, ch)

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			data, err := json.Marshal(ev)
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintf(w, "event: detection\ndata: %s\n\n", data); err != nil {
				logging.FromContext(ctx).Debug().Err(err).Msg("event client gone")
				return nil
			}
			w.Flush()
		}
	}
}

func (h *Handler) engineHealth(ctx context.Context) resilience.ComponentHealth {
	return resilience.ComponentHealth{
		Status:  resilience.HealthStatusHealthy,
		Message: "matcher " + h.engine.Matcher().Name(),
		Details: map[string]interface{}{
			"templates": h.engine.Library().Len(),
			"keys":      len(h.engine.Keys()),
		},
	}
}
