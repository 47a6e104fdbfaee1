package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Ivanxdigital/siargao-rides-sub004/internal/database"
	"github.com/Ivanxdigital/siargao-rides-sub004/internal/domain"
	"github.com/Ivanxdigital/siargao-rides-sub004/internal/models"
)

const (
	TaskHistoryAppend = "history_append"
	TaskEventReplay   = "reconcile_event"
	TaskSheetAppend   = "sheet_append"
)

// Applier replays a normalized payment event through the state machine.
type Applier interface {
	Apply(ctx context.Context, event *models.PaymentEvent) error
}

// SheetsClient appends ledger rows to the finance export.
type SheetsClient interface {
	AppendPaymentRow(ctx context.Context, record *models.PaymentRecord) error
}

// Processor consumes retry_queue tasks: failed history appends, partial
// failure replays, and sheet exports. Tasks persist in sqlite first; redis
// and the in-memory channel are latency optimizations over the DB poll.
type Processor struct {
	store         domain.Store
	applier       Applier
	sheets        SheetsClient
	redis         *redis.Client
	retryPolicy   RetryPolicy
	queue         chan models.RetryTask
	redisQueueKey string
	deadLetterKey string
	pollInterval  time.Duration
	batchSize     int
	log           zerolog.Logger
}

func NewProcessor(store domain.Store, sheets SheetsClient, redisClient *redis.Client, retry RetryPolicy, logger *zerolog.Logger) *Processor {
	if retry.MaxRetries == 0 {
		retry.MaxRetries = 5
	}
	if retry.InitialDelay == 0 {
		retry.InitialDelay = 2 * time.Second
	}
	if retry.MaxDelay == 0 {
		retry.MaxDelay = 1 * time.Minute
	}
	if retry.BackoffFactor == 0 {
		retry.BackoffFactor = 2
	}
	var log zerolog.Logger
	if logger != nil {
		log = logger.With().Str("component", "retry_worker").Logger()
	}

	return &Processor{
		store:         store,
		sheets:        sheets,
		redis:         redisClient,
		retryPolicy:   retry,
		queue:         make(chan models.RetryTask, models.WorkerQueueSize),
		redisQueueKey: "reconcile:queue",
		deadLetterKey: "reconcile:deadletter",
		pollInterval:  2 * time.Second,
		batchSize:     20,
		log:           log,
	}
}

// SetApplier wires the state machine in after construction; the reconciler
// and the processor reference each other.
func (w *Processor) SetApplier(applier Applier) {
	w.applier = applier
}

// EnqueueHistory persists a failed history append for replay.
func (w *Processor) EnqueueHistory(ctx context.Context, entry *models.HistoryEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode history entry: %w", err)
	}
	return w.enqueue(ctx, models.RetryTask{
		TaskType: TaskHistoryAppend,
		RentalID: entry.RentalID,
		Payload:  string(raw),
	})
}

// EnqueueEventReplay persists a partial-failure event for replay.
func (w *Processor) EnqueueEventReplay(ctx context.Context, event *models.PaymentEvent) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode payment event: %w", err)
	}
	return w.enqueue(ctx, models.RetryTask{
		TaskType: TaskEventReplay,
		RentalID: event.RentalID,
		Payload:  string(raw),
	})
}

// EnqueueSheetRow persists a ledger row export.
func (w *Processor) EnqueueSheetRow(ctx context.Context, record *models.PaymentRecord) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode payment record: %w", err)
	}
	return w.enqueue(ctx, models.RetryTask{
		TaskType: TaskSheetAppend,
		RentalID: record.RentalID,
		Payload:  string(raw),
	})
}

func (w *Processor) enqueue(ctx context.Context, task models.RetryTask) error {
	task.Status = "pending"
	task.CreatedAt = time.Now()
	if err := w.store.CreateRetryTask(ctx, &task); err != nil {
		return fmt.Errorf("persist retry task: %w", err)
	}

	if w.redis != nil {
		if err := w.pushRedis(ctx, task); err != nil {
			w.log.Warn().Err(err).Msg("redis push failed, fallback to memory queue")
		} else {
			return nil
		}
	}

	select {
	case w.queue <- task:
	default:
		w.log.Warn().Int64("task_id", task.ID).Msg("in-memory queue full, task left to polling")
	}
	return nil
}

// Start launches the main loop; stops when ctx is done.
func (w *Processor) Start(ctx context.Context) {
	w.log.Info().Msg("retry worker started")
	defer w.log.Info().Msg("retry worker stopped")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if t, ok := w.tryLocalQueue(); ok {
			w.processTask(ctx, &t)
			continue
		}

		if t, ok := w.tryRedis(ctx); ok {
			w.processTask(ctx, &t)
			continue
		}

		tasks, err := w.store.GetPendingRetryTasks(ctx, w.batchSize)
		if err != nil {
			w.log.Error().Err(err).Msg("fetch pending tasks")
			time.Sleep(w.pollInterval)
			continue
		}
		if len(tasks) == 0 {
			time.Sleep(w.pollInterval)
			continue
		}

		for i := range tasks {
			w.processTask(ctx, &tasks[i])
		}
	}
}

func (w *Processor) tryLocalQueue() (models.RetryTask, bool) {
	select {
	case t := <-w.queue:
		return t, true
	default:
		return models.RetryTask{}, false
	}
}

func (w *Processor) tryRedis(ctx context.Context) (models.RetryTask, bool) {
	if w.redis == nil {
		return models.RetryTask{}, false
	}
	res, err := w.redis.BRPop(ctx, time.Second, w.redisQueueKey).Result()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, redis.Nil) {
			return models.RetryTask{}, false
		}
		w.log.Error().Err(err).Msg("redis BRPOP error")
		return models.RetryTask{}, false
	}
	if len(res) != 2 {
		return models.RetryTask{}, false
	}
	var task models.RetryTask
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		w.log.Error().Err(err).Msg("decode redis task")
		return models.RetryTask{}, false
	}
	return task, true
}

func (w *Processor) processTask(ctx context.Context, task *models.RetryTask) {
	if err := w.handleTask(ctx, task); err != nil {
		w.retryOrFail(ctx, task, err)
		return
	}
	if err := w.store.UpdateRetryTaskStatus(ctx, task.ID, "completed", "", nil); err != nil {
		w.log.Error().Err(err).Int64("task_id", task.ID).Msg("mark completed")
	}
}

func (w *Processor) handleTask(ctx context.Context, task *models.RetryTask) error {
	switch task.TaskType {
	case TaskHistoryAppend:
		var entry models.HistoryEntry
		if err := json.Unmarshal([]byte(task.Payload), &entry); err != nil {
			return fmt.Errorf("decode history payload: %w", err)
		}
		return w.store.AppendHistory(ctx, &entry)

	case TaskEventReplay:
		if w.applier == nil {
			return errors.New("no applier configured")
		}
		var event models.PaymentEvent
		if err := json.Unmarshal([]byte(task.Payload), &event); err != nil {
			return fmt.Errorf("decode event payload: %w", err)
		}
		err := w.applier.Apply(ctx, &event)
		if errors.Is(err, database.ErrStaleEvent) || errors.Is(err, database.ErrDuplicateEvent) {
			// overtaken by a later delivery, nothing left to replay
			return nil
		}
		return err

	case TaskSheetAppend:
		if w.sheets == nil {
			return nil
		}
		var record models.PaymentRecord
		if err := json.Unmarshal([]byte(task.Payload), &record); err != nil {
			return fmt.Errorf("decode record payload: %w", err)
		}
		return w.sheets.AppendPaymentRow(ctx, &record)

	default:
		return fmt.Errorf("unknown task type: %s", task.TaskType)
	}
}

func (w *Processor) retryOrFail(ctx context.Context, task *models.RetryTask, cause error) {
	attempt := task.RetryCount + 1
	if attempt >= w.retryPolicy.MaxRetries {
		if err := w.store.UpdateRetryTaskStatus(ctx, task.ID, "failed", cause.Error(), nil); err != nil {
			w.log.Error().Err(err).Int64("task_id", task.ID).Msg("mark failed")
		}
		w.pushDeadLetter(ctx, task)
		return
	}

	nextDelay := w.retryPolicy.NextDelay(attempt)
	nextTime := time.Now().Add(nextDelay)
	if err := w.store.UpdateRetryTaskStatus(ctx, task.ID, "retry", cause.Error(), &nextTime); err != nil {
		w.log.Error().Err(err).Int64("task_id", task.ID).Msg("mark retry")
	}
}

func (w *Processor) pushRedis(ctx context.Context, task models.RetryTask) error {
	if w.redis == nil {
		return errors.New("redis client is nil")
	}
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return w.redis.LPush(ctx, w.redisQueueKey, data).Err()
}

func (w *Processor) pushDeadLetter(ctx context.Context, task *models.RetryTask) {
	if w.redis == nil {
		return
	}
	data, err := json.Marshal(task)
	if err != nil {
		w.log.Error().Err(err).Int64("task_id", task.ID).Msg("encode deadletter")
		return
	}
	if err := w.redis.LPush(ctx, w.deadLetterKey, data).Err(); err != nil {
		w.log.Error().Err(err).Int64("task_id", task.ID).Msg("deadletter push")
	}
}
