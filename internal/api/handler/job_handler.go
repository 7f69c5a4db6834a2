package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/cuongbtq/certledger/internal/api/dto"
	"github.com/cuongbtq/certledger/internal/domain"
	"github.com/cuongbtq/certledger/internal/metrics"
	"github.com/cuongbtq/certledger/internal/storage"
)

const publishTimeout = 2 * time.Second

// CreateJob handles POST /api/v1/jobs
// Enqueues a ledger submission and returns its job id without waiting for the ledger
func (h *JobHandler) CreateJob(c *gin.Context) {
	var req dto.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	identity := strings.TrimSpace(req.Identity)
	function := strings.TrimSpace(req.Function)
	if identity == "" || function == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "identity and function must not be blank",
		})
		return
	}

	jobID, err := h.store.Enqueue(c.Request.Context(), identity, function, dto.Strings(req.Args))
	if err != nil {
		h.logger.Error("Failed to enqueue job", slog.String("error", err.Error()))
		if errors.Is(err, domain.ErrStoreUnavailable) {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error": "Job store unavailable",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create job",
		})
		return
	}
	metrics.JobsEnqueuedTotal.Inc()

	h.logger.Info("Job enqueued",
		slog.String("job_id", jobID),
		slog.String("identity", identity),
		slog.String("function", function),
	)

	h.announce(c.Request.Context(), jobID)

	c.JSON(http.StatusAccepted, dto.CreateJobResponse{
		JobID:  jobID,
		Status: domain.JobStatusQueued.String(),
	})
}

// announce tells idle workers about a new job. Workers also poll, so a failed
// publish only delays pickup.
func (h *JobHandler) announce(ctx context.Context, jobID string) {
	if h.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := h.publisher.PublishJobReady(ctx, jobID); err != nil {
		h.logger.Warn("Failed to publish job notification",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
	}
}

// GetJob handles GET /api/v1/jobs/:job_id
// Returns the status projection of a job
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID := c.Param("job_id")
	if jobID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id is required",
		})
		return
	}

	if _, err := uuid.Parse(jobID); err != nil {
		h.logger.Error("Invalid job_id format", slog.String("job_id", jobID), slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	projection, err := h.status.Status(c.Request.Context(), jobID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrJobNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Job not found",
			})
		case errors.Is(err, domain.ErrStoreUnavailable):
			h.logger.Error("Failed to get job", slog.String("job_id", jobID), slog.String("error", err.Error()))
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error": "Job store unavailable",
			})
		default:
			h.logger.Error("Failed to get job", slog.String("job_id", jobID), slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to get job",
			})
		}
		return
	}

	c.JSON(http.StatusOK, dto.FromProjection(projection))
}

// ListJobs handles GET /api/v1/jobs
// Lists jobs newest first with optional filtering and cursor pagination
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = storage.DefaultPageSize
	}
	if req.PageSize > storage.MaxPageSize {
		req.PageSize = storage.MaxPageSize
	}

	var jobStatus domain.JobStatus
	if req.Status != "" {
		jobStatus = domain.JobStatus(strings.ToUpper(req.Status))
		if !jobStatus.IsValid() {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid status",
			})
			return
		}
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		h.logger.Error("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	jobs, err := h.store.List(c.Request.Context(), storage.JobFilter{
		Identity: req.Identity,
		Status:   jobStatus,
		PageSize: req.PageSize,
		Cursor:   cursor,
	})
	if err != nil {
		h.logger.Error("Failed to list jobs", slog.String("error", err.Error()))
		code := http.StatusInternalServerError
		if errors.Is(err, domain.ErrStoreUnavailable) {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"error": "Failed to list jobs",
		})
		return
	}

	hasMore := len(jobs) > req.PageSize
	if hasMore {
		jobs = jobs[:req.PageSize]
	}

	jobResponse := make([]dto.JobDTO, len(jobs))
	for i, job := range jobs {
		jobResponse[i] = dto.FromJob(job)
	}

	var nextCursor string
	if hasMore {
		lastJob := jobs[len(jobs)-1]
		nextCursor = EncodeJobCursor(&storage.JobCursor{
			EnqueuedAt: lastJob.EnqueuedAt,
			JobID:      lastJob.JobID,
		})
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{
		Jobs:       jobResponse,
		NextCursor: nextCursor,
	})
}
