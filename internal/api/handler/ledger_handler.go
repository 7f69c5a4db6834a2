package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/certledger/internal/api/dto"
	"github.com/cuongbtq/certledger/internal/ledger"
)

const readyTimeout = 2 * time.Second

// Evaluate handles POST /api/v1/ledger/evaluate
// Runs a read-only chaincode query synchronously
func (h *LedgerHandler) Evaluate(c *gin.Context) {
	if h.ledger == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Ledger not configured",
		})
		return
	}

	var req dto.EvaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	identity := strings.TrimSpace(req.Identity)
	result, err := h.ledger.Evaluate(c.Request.Context(), identity, req.Function, dto.Strings(req.Args))
	if err != nil {
		h.logger.Error("Ledger query failed",
			slog.String("identity", identity),
			slog.String("function", req.Function),
			slog.String("error", err.Error()),
		)
		switch {
		case errors.Is(err, ledger.ErrUnknownOrganization):
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Unknown identity",
			})
		case errors.Is(err, ledger.ErrConnectivity):
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error": "Ledger unavailable",
			})
		default:
			c.JSON(http.StatusBadGateway, gin.H{
				"error": "Ledger query failed",
			})
		}
		return
	}

	payload, encoding := dto.RawPayload(result)
	c.JSON(http.StatusOK, dto.EvaluateResponse{
		Result:         payload,
		ResultEncoding: encoding,
	})
}

// Health handles GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": h.serviceName,
	})
}

// Ready handles GET /health/ready
// Reports ready only while the job store answers
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readyTimeout)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "unavailable",
			"service": h.serviceName,
			"error":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "ready",
		"service": h.serviceName,
	})
}
