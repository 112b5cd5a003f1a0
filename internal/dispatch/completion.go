package dispatch

import (
	"context"

	"leadflow/internal/broker"
	"leadflow/internal/logger"
	"leadflow/internal/queue"
	"leadflow/pkg/models"
)

// CompletionHandler consumes the executor's completion events and
// closes the loop: ack completes the item, fail routes it through the
// error classifier.
type CompletionHandler struct {
	queue  *queue.Service
	logger logger.Logger
}

func NewCompletionHandler(q *queue.Service, log logger.Logger) *CompletionHandler {
	return &CompletionHandler{queue: q, logger: log}
}

func (h *CompletionHandler) Run(ctx context.Context, consumer broker.Consumer, topic string) error {
	return consumer.Consume(ctx, topic, h.Handle)
}

func (h *CompletionHandler) Handle(ctx context.Context, msg models.MessageEnvelope) error {
	event, err := msg.DecodeCompletion()
	if err != nil {
		// malformed completions are not retryable; log and move on
		h.logger.ErrorwCtx(ctx, "Dropping undecodable completion event",
			"envelope_id", msg.ID,
			"error", err,
		)
		return nil
	}

	switch event.Outcome {
	case models.OutcomeAck:
		return h.queue.Ack(ctx, event.QueueItemID)
	case models.OutcomeFail:
		kind := event.ErrorKind
		if kind == "" {
			kind = models.ErrorKindSystem
		}
		return h.queue.Fail(ctx, event.QueueItemID, kind)
	default:
		h.logger.WarnwCtx(ctx, "Unknown completion outcome",
			"queue_item_id", event.QueueItemID,
			"outcome", event.Outcome,
		)
		return nil
	}
}
