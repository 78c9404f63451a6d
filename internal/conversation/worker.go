package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/wolfman30/dealer-sms-agent/pkg/logging"
)

// InboundHandler runs the dialogue turn for one inbound message.
type InboundHandler interface {
	HandleInbound(ctx context.Context, msg InboundMessage) (*TurnResult, error)
}

// Worker consumes inbound jobs from the queue and runs one turn per job. Jobs are
// deleted whatever the outcome: a failed turn may have partially committed, and
// replaying it could finalize twice.
type Worker struct {
	handler InboundHandler
	queue   queueClient
	logger  *logging.Logger

	cfg workerConfig
	wg  sync.WaitGroup
}

type workerConfig struct {
	workers          int
	receiveWaitSecs  int
	receiveBatchSize int
}

const (
	defaultWorkerCount   = 2
	defaultWaitSeconds   = 2
	defaultBatchSize     = 5
	maxWaitSeconds       = 20
	maxReceiveBatchSize  = 10
	deleteTimeoutSeconds = 5
)

// WorkerOption customizes worker behavior.
type WorkerOption func(*workerConfig)

// WithWorkerCount sets the number of concurrent consumer goroutines.
func WithWorkerCount(count int) WorkerOption {
	return func(cfg *workerConfig) {
		if count > 0 {
			cfg.workers = count
		}
	}
}

// WithReceiveWaitSeconds sets the SQS long-poll wait duration.
func WithReceiveWaitSeconds(seconds int) WorkerOption {
	return func(cfg *workerConfig) {
		if seconds < 0 {
			return
		}
		if seconds > maxWaitSeconds {
			seconds = maxWaitSeconds
		}
		cfg.receiveWaitSecs = seconds
	}
}

// WithReceiveBatchSize sets how many messages to fetch per poll.
func WithReceiveBatchSize(size int) WorkerOption {
	return func(cfg *workerConfig) {
		if size <= 0 {
			return
		}
		if size > maxReceiveBatchSize {
			size = maxReceiveBatchSize
		}
		cfg.receiveBatchSize = size
	}
}

// NewWorker creates a queue consumer that hands inbound jobs to handler.
func NewWorker(handler InboundHandler, queue queueClient, logger *logging.Logger, opts ...WorkerOption) *Worker {
	if handler == nil {
		panic("conversation: handler cannot be nil")
	}
	if queue == nil {
		panic("conversation: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}

	cfg := workerConfig{
		workers:          defaultWorkerCount,
		receiveWaitSecs:  defaultWaitSeconds,
		receiveBatchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Worker{
		handler: handler,
		queue:   queue,
		logger:  logger,
		cfg:     cfg,
	}
}

// Start launches the consumer goroutines; they stop when ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.cfg.workers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i+1)
	}
}

// Wait blocks until every consumer goroutine has exited.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()
	w.logger.Debug("conversation worker started", "worker_id", workerID)

	backoff := time.Second

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("conversation worker stopping", "worker_id", workerID)
			return
		default:
		}

		messages, err := w.queue.Receive(ctx, w.cfg.receiveBatchSize, w.cfg.receiveWaitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			w.logger.Error("failed to receive conversation jobs", "error", err, "worker_id", workerID)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			w.handleMessage(ctx, msg)
		}
	}
}

func (w *Worker) handleMessage(ctx context.Context, msg queueMessage) {
	// Turns run to completion even if the worker is shutting down.
	turnCtx := context.WithoutCancel(ctx)
	defer w.deleteMessage(turnCtx, msg.ReceiptHandle)
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("conversation job panicked", "panic", r, "msg_id", msg.ID)
		}
	}()

	var payload queuePayload
	if err := json.Unmarshal([]byte(msg.Body), &payload); err != nil {
		w.logger.Error("failed to decode conversation job", "error", err, "msg_id", msg.ID)
		return
	}

	switch payload.Kind {
	case jobTypeInbound:
		res, err := w.handler.HandleInbound(turnCtx, payload.Inbound)
		if err != nil {
			w.logger.Error("conversation job failed", "error", err, "job_id", payload.ID)
			return
		}
		w.logger.Debug("conversation job completed",
			"job_id", payload.ID,
			"conversation_id", res.ConversationID.String(),
			"outcome", res.Outcome,
			"duplicate", res.Duplicate,
		)
	default:
		w.logger.Warn("unknown conversation job kind", "kind", payload.Kind, "job_id", payload.ID)
	}
}

func (w *Worker) deleteMessage(ctx context.Context, receiptHandle string) {
	if receiptHandle == "" {
		return
	}

	deleteCtx, cancel := context.WithTimeout(ctx, deleteTimeoutSeconds*time.Second)
	defer cancel()

	if err := w.queue.Delete(deleteCtx, receiptHandle); err != nil {
		w.logger.Error("failed to delete conversation job", "error", err)
	}
}
