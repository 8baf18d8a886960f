package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Raymond9734/wa-campaign-dispatcher/internal/models"
	"github.com/Raymond9734/wa-campaign-dispatcher/internal/queue"
	"github.com/Raymond9734/wa-campaign-dispatcher/internal/worker"
)

// BatchAdvancer runs one batch advancer pass
type BatchAdvancer interface {
	Advance(ctx context.Context, job models.BatchJob) (*worker.AdvanceResult, error)
}

// MessageDispatcher sends one queued message
type MessageDispatcher interface {
	Process(ctx context.Context, job models.MessageJob) (*worker.DispatchResult, error)
}

// QueueHandler receives delay-queue callbacks. A non-2xx answer makes the
// queue redeliver, so only transient failures are reported as errors.
type QueueHandler struct {
	advancer   BatchAdvancer
	dispatcher MessageDispatcher
	starter    worker.DueStarter
	logger     *slog.Logger
}

// NewQueueHandler creates a new queue callback handler
func NewQueueHandler(advancer BatchAdvancer, dispatcher MessageDispatcher, starter worker.DueStarter, logger *slog.Logger) *QueueHandler {
	return &QueueHandler{
		advancer:   advancer,
		dispatcher: dispatcher,
		starter:    starter,
		logger:     logger,
	}
}

// ProcessBatch handles POST /internal/queue/process-batch
func (h *QueueHandler) ProcessBatch(w http.ResponseWriter, r *http.Request) {
	var job models.BatchJob
	if !decodeJSON(w, r, &job) {
		return
	}
	if job.CampaignID <= 0 {
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", "campaign_id is required")
		return
	}

	result, err := h.advancer.Advance(r.Context(), job)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			respondSuccess(w, &worker.AdvanceResult{CampaignID: job.CampaignID, Outcome: worker.AdvanceSkipped})
			return
		}
		h.logger.Error("batch advance failed",
			slog.Int64("campaign_id", job.CampaignID),
			slog.String("job_id", r.Header.Get(queue.HeaderJobID)),
			slog.String("error", err.Error()),
		)
		respondError(w, http.StatusInternalServerError, "ADVANCE_FAILED", "Batch advance failed")
		return
	}

	respondSuccess(w, result)
}

// SendMessage handles POST /internal/queue/send-message
func (h *QueueHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var job models.MessageJob
	if !decodeJSON(w, r, &job) {
		return
	}
	if job.MessageID <= 0 {
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", "message_id is required")
		return
	}

	result, err := h.dispatcher.Process(r.Context(), job)
	switch {
	case err == nil:
		respondSuccess(w, result)

	case errors.Is(err, models.ErrNoDeviceAvailable) && result != nil:
		// The message is already failed and the chain moved on.
		respondSuccess(w, result)

	case errors.Is(err, models.ErrNotFound):
		respondSuccess(w, &worker.DispatchResult{
			MessageID:  job.MessageID,
			CampaignID: job.CampaignID,
			Outcome:    worker.DispatchSkipped,
			Reason:     "not found",
		})

	default:
		h.logger.Error("message dispatch failed",
			slog.Int64("message_id", job.MessageID),
			slog.String("job_id", r.Header.Get(queue.HeaderJobID)),
			slog.String("error", err.Error()),
		)
		respondError(w, http.StatusInternalServerError, "DISPATCH_FAILED", "Message dispatch failed")
	}
}

// StartDue handles POST /internal/cron/start-due
func (h *QueueHandler) StartDue(w http.ResponseWriter, r *http.Request) {
	started, err := h.starter.StartDue(r.Context())
	if err != nil {
		handleError(w, err, h.logger)
		return
	}
	respondSuccess(w, map[string]int{"started": started})
}
