package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/wolfman30/dealer-sms-agent/internal/config"
	"github.com/wolfman30/dealer-sms-agent/internal/conversation"
	"github.com/wolfman30/dealer-sms-agent/internal/observability/metrics"
	"github.com/wolfman30/dealer-sms-agent/pkg/logging"
)

const memoryQueueBuffer = 256

// Runtime bundles the collaborators shared by the API server and the worker.
type Runtime struct {
	Pool      *pgxpool.Pool
	Redis     *redis.Client
	Store     conversation.Store
	Locker    conversation.Locker
	Processed ProcessedEvents
	Queue     conversation.Queue
	// MemoryQueue is set when turns are processed in-process.
	MemoryQueue *conversation.MemoryQueue
	Messenger   conversation.ReplyMessenger
	Engine      *conversation.Engine
	Pipeline    *conversation.Pipeline
	Metrics     *metrics.DealerMetrics
}

// BuildPersona maps dealership settings onto the reply persona.
func BuildPersona(cfg *appconfig.Config) conversation.Persona {
	if cfg == nil {
		return conversation.Persona{}
	}
	return conversation.Persona{
		AgentName:         cfg.AgentName,
		DealershipName:    cfg.DealershipName,
		DealershipAddress: cfg.DealershipAddress,
		DealershipHours:   cfg.DealershipHours,
		InventoryURL:      cfg.InventoryURL,
	}
}

// BuildQueue returns the in-process queue when USE_MEMORY_QUEUE is set, otherwise
// the SQS FIFO queue at CONVERSATION_QUEUE_URL.
func BuildQueue(cfg *appconfig.Config, awsCfg *aws.Config) (conversation.Queue, *conversation.MemoryQueue, error) {
	if cfg == nil {
		return nil, nil, errors.New("bootstrap: config is required")
	}
	if cfg.UseMemoryQueue {
		q := conversation.NewMemoryQueue(memoryQueueBuffer)
		return q, q, nil
	}
	if strings.TrimSpace(cfg.ConversationQueueURL) == "" {
		return nil, nil, errors.New("bootstrap: CONVERSATION_QUEUE_URL is required when USE_MEMORY_QUEUE is false")
	}
	if awsCfg == nil {
		return nil, nil, errors.New("bootstrap: aws config is required for the sqs queue")
	}
	return conversation.NewSQSQueue(sqs.NewFromConfig(*awsCfg), cfg.ConversationQueueURL), nil, nil
}

// BuildRuntime connects storage, locks, queue and senders and assembles the turn
// pipeline. reg may be nil to skip metrics registration.
func BuildRuntime(ctx context.Context, cfg *appconfig.Config, awsCfg *aws.Config, reg prometheus.Registerer, logger *logging.Logger) (*Runtime, error) {
	if cfg == nil {
		return nil, errors.New("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	rt := &Runtime{}
	if reg != nil {
		rt.Metrics = metrics.NewDealerMetrics(reg)
	}

	queue, memoryQueue, err := BuildQueue(cfg, awsCfg)
	if err != nil {
		return nil, err
	}
	rt.Queue = queue
	rt.MemoryQueue = memoryQueue

	rt.Pool = BuildPostgresPool(ctx, cfg.DatabaseURL, logger)
	if rt.Pool == nil && cfg.DatabaseURL != "" {
		return nil, fmt.Errorf("bootstrap: connect postgres")
	}
	rt.Redis = BuildRedisClient(ctx, cfg, logger, true)
	rt.Store = BuildStore(rt.Pool, cfg, logger)
	rt.Processed = BuildProcessedEvents(rt.Pool)
	rt.Locker = BuildLocker(rt.Redis, cfg, logger)

	messenger, reason := BuildOutboundMessenger(cfg, logger)
	if messenger == nil {
		logger.Warn("sms sending disabled", "reason", reason)
	}
	rt.Messenger = messenger

	rt.Engine = conversation.NewEngine(BuildPersona(cfg))

	opts := []conversation.PipelineOption{
		conversation.WithLocker(rt.Locker),
		conversation.WithProcessedEventsStore(rt.Processed),
		conversation.WithFromNumber(cfg.TwilioFromNumber),
	}
	if rt.Metrics != nil {
		opts = append(opts, conversation.WithTurnObserver(rt.Metrics))
	}
	if notifier := BuildLeadNotifier(cfg, BuildEmailSender(cfg, awsCfg, logger), logger); notifier != nil {
		opts = append(opts, conversation.WithFinalizationNotifier(notifier))
	}
	rt.Pipeline = conversation.NewPipeline(rt.Store, rt.Engine, rt.Messenger, logger, opts...)
	return rt, nil
}

// NewWorker returns a queue consumer bound to the runtime pipeline.
func (rt *Runtime) NewWorker(cfg *appconfig.Config, logger *logging.Logger) *conversation.Worker {
	count := 0
	if cfg != nil {
		count = cfg.WorkerCount
	}
	return conversation.NewWorker(rt.Pipeline, rt.Queue, logger, conversation.WithWorkerCount(count))
}

// NewAdminService returns the operator service sharing the runtime store and lock.
func (rt *Runtime) NewAdminService(cfg *appconfig.Config, logger *logging.Logger) *conversation.AdminService {
	from := ""
	if cfg != nil {
		from = cfg.TwilioFromNumber
	}
	return conversation.NewAdminService(rt.Store, rt.Engine, rt.Messenger, rt.Locker, from, logger)
}

// Close waits for pending lead notifications and releases connections.
func (rt *Runtime) Close() {
	if rt == nil {
		return
	}
	if rt.Pipeline != nil {
		rt.Pipeline.Wait()
	}
	if rt.Redis != nil {
		_ = rt.Redis.Close()
	}
	if rt.Pool != nil {
		rt.Pool.Close()
	}
}
