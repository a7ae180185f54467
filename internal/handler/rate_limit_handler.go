package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/VahantSharma/Bloggly-Backend/internal/service"
	"github.com/VahantSharma/Bloggly-Backend/internal/util"
)

const maxBodyBytes = 1 << 16

// RateLimitHandler handles HTTP requests for rate limit decisions
type RateLimitHandler struct {
	service *service.RateLimitService
	logger  *zap.Logger
}

// NewRateLimitHandler creates a new rate limit handler
func NewRateLimitHandler(svc *service.RateLimitService, logger *zap.Logger) *RateLimitHandler {
	return &RateLimitHandler{
		service: svc,
		logger:  logger,
	}
}

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

func successResponse(data interface{}, message string) Response {
	return Response{
		Success: true,
		Data:    data,
		Message: message,
	}
}

func errorResponse(err error, message string) Response {
	return Response{
		Success: false,
		Error:   err.Error(),
		Message: message,
	}
}

// RegisterRoutes registers all rate limit routes
func (h *RateLimitHandler) RegisterRoutes(router chi.Router) {
	router.Route("/rate-limit", func(r chi.Router) {
		// Decisions
		r.Post("/evaluate", h.Evaluate)
		r.Post("/auth", h.CheckAuth)
		r.Post("/api", h.CheckAPI)

		// Read side
		r.Get("/policies", h.GetPolicies)
		r.Get("/blocks", h.SearchBlocks)
		r.Get("/stats", h.GetStats)
	})
}

// Evaluate handles an attempt outcome for an explicit type
// @Summary Evaluate an attempt
// @Tags rate-limit
// @Accept json
// @Produce json
// @Param request body service.EvaluateRequest true "Attempt outcome"
// @Success 200 {object} Response
// @Failure 400 {object} Response
// @Router /rate-limit/evaluate [post]
func (h *RateLimitHandler) Evaluate(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	var req service.EvaluateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	decision, err := h.service.Evaluate(r.Context(), &req)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to evaluate attempt")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(decision, "Attempt evaluated"))
	h.logger.Debug("Rate limit evaluated via HTTP",
		util.String("type", req.Type),
		util.Bool("allowed", decision.Allowed),
		util.Duration("duration", time.Since(startTime)),
	)
}

// CheckAuth handles an authentication attempt outcome
// @Summary Check an authentication attempt
// @Tags rate-limit
// @Accept json
// @Produce json
// @Param request body service.EvaluateRequest true "Attempt outcome, type defaults to auth"
// @Success 200 {object} Response
// @Failure 400 {object} Response
// @Router /rate-limit/auth [post]
func (h *RateLimitHandler) CheckAuth(w http.ResponseWriter, r *http.Request) {
	var req service.EvaluateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	decision, err := h.service.CheckAuth(r.Context(), &req)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to check authentication attempt")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(decision, "Authentication attempt checked"))
}

// CheckAPI counts one API call for an identifier
// @Summary Check an API call
// @Tags rate-limit
// @Accept json
// @Produce json
// @Param request body service.APICallRequest true "Caller"
// @Success 200 {object} Response
// @Failure 400 {object} Response
// @Router /rate-limit/api [post]
func (h *RateLimitHandler) CheckAPI(w http.ResponseWriter, r *http.Request) {
	var req service.APICallRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	decision, err := h.service.CheckAPI(r.Context(), &req)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to check API call")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(decision, "API call checked"))
}

// GetPolicies lists the configured policies
// @Summary List policies
// @Tags rate-limit
// @Produce json
// @Success 200 {object} Response
// @Router /rate-limit/policies [get]
func (h *RateLimitHandler) GetPolicies(w http.ResponseWriter, r *http.Request) {
	h.respondWithJSON(w, http.StatusOK, successResponse(h.service.Policies(), "Policies retrieved successfully"))
}

// SearchBlocks lists recent blocks for moderation
// @Summary Search blocks
// @Tags rate-limit
// @Produce json
// @Param identifier query string false "Caller identifier"
// @Param type query string false "Rate limit type"
// @Param size query int false "Maximum results"
// @Success 200 {object} Response
// @Failure 400 {object} Response
// @Failure 501 {object} Response
// @Router /rate-limit/blocks [get]
func (h *RateLimitHandler) SearchBlocks(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	size, err := intParam(query.Get("size"))
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid size")
		return
	}

	blocks, err := h.service.SearchBlocks(r.Context(), query.Get("identifier"), query.Get("type"), size)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to search blocks")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(blocks, "Blocks retrieved successfully"))
}

// GetStats returns the event roll-up
// @Summary Rate limit statistics
// @Tags rate-limit
// @Produce json
// @Param hours query int false "Look-back in hours"
// @Success 200 {object} Response
// @Failure 400 {object} Response
// @Failure 501 {object} Response
// @Router /rate-limit/stats [get]
func (h *RateLimitHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	hours, err := intParam(r.URL.Query().Get("hours"))
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid hours")
		return
	}

	report, err := h.service.Stats(r.Context(), hours)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to get stats")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(report, "Stats retrieved successfully"))
}

// HealthCheck reports service health
func (h *RateLimitHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if err := h.service.HealthCheck(r.Context()); err != nil {
		h.respondWithError(w, http.StatusServiceUnavailable, err, "Service unhealthy")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(map[string]string{
		"status":  "healthy",
		"service": "rate-limiter",
	}, "Service is healthy"))
}

// Helper Methods

func (h *RateLimitHandler) respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	writeJSON(w, statusCode, data, h.logger)
}

func (h *RateLimitHandler) respondWithError(w http.ResponseWriter, statusCode int, err error, message string) {
	h.logger.Warn("HTTP error response",
		util.ErrorField(err),
		util.Int("status_code", statusCode),
		util.String("message", message),
	)
	h.respondWithJSON(w, statusCode, errorResponse(err, message))
}

// getStatusCode determines the appropriate HTTP status code for an error
func (h *RateLimitHandler) getStatusCode(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrFeatureDisabled):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

func intParam(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%q is not an integer", raw)
	}
	return n, nil
}
