package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"abuse-gateway/internal/client"
	"abuse-gateway/internal/models"
	"abuse-gateway/internal/util"
)

const (
	bufferSize    = 1024
	flushInterval = 5 * time.Second
	maxBatchSize  = 200
	publishBudget = 5 * time.Second
)

const insertEventsQuery = `INSERT INTO security_events (event_id, event_time, event_type, identity, policy, path, detail)`

// Recorder turns gate decisions into a durable audit trail. Events are
// enqueued without blocking the request path, logged via zap, and fanned
// out to Kafka and ClickHouse when those sinks are configured. A full
// buffer drops the event with a warning; the gate never waits on audit.
type Recorder struct {
	producer   *client.KafkaProducer
	clickhouse *client.ClickHouseClient
	logger     *zap.Logger

	events    chan models.SecurityEvent
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewRecorder starts the background worker. Either sink may be nil.
func NewRecorder(producer *client.KafkaProducer, clickhouse *client.ClickHouseClient, logger *zap.Logger) *Recorder {
	r := &Recorder{
		producer:   producer,
		clickhouse: clickhouse,
		logger:     logger,
		events:     make(chan models.SecurityEvent, bufferSize),
		done:       make(chan struct{}),
	}

	r.wg.Add(1)
	go r.run()

	return r
}

// Record enqueues one security event. Missing EventID/EventTime are filled
// in here so call sites stay terse.
func (r *Recorder) Record(event models.SecurityEvent) {
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	if event.EventTime.IsZero() {
		event.EventTime = time.Now()
	}

	r.logger.Info("Security event",
		zap.String("event_id", event.EventID),
		zap.String("event_type", string(event.EventType)),
		zap.String("identity", event.Identity),
		zap.String("policy", event.Policy),
		zap.String("detail", event.Detail),
	)

	select {
	case r.events <- event:
	default:
		r.logger.Warn("Audit buffer full, dropping security event",
			zap.String("event_type", string(event.EventType)),
			zap.String("identity", event.Identity),
		)
	}
}

// Close drains the buffer and stops the worker.
func (r *Recorder) Close() {
	r.closeOnce.Do(func() {
		close(r.done)
		r.wg.Wait()
	})
}

func (r *Recorder) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]models.SecurityEvent, 0, maxBatchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		r.publish(batch)
		batch = batch[:0]
	}

	for {
		select {
		case event := <-r.events:
			batch = append(batch, event)
			if len(batch) >= maxBatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-r.done:
			// Drain whatever is still queued before exiting.
			for {
				select {
				case event := <-r.events:
					batch = append(batch, event)
				default:
					flush()
					return
				}
			}
		}
	}
}

// publish fans a batch out to the configured sinks. Sink failures are
// logged, never propagated: losing an audit record must not take the
// gateway down with it.
func (r *Recorder) publish(batch []models.SecurityEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), publishBudget)
	defer cancel()

	if r.producer != nil {
		for _, event := range batch {
			payload, err := json.Marshal(event)
			if err != nil {
				r.logger.Error("Failed to marshal security event", zap.Error(err))
				continue
			}
			if err := r.producer.Produce(ctx, []byte(event.Identity), payload); err != nil {
				r.logger.Error("Failed to publish security event to Kafka",
					zap.String("event_id", event.EventID),
					zap.Error(err))
			}
		}
	}

	if r.clickhouse != nil {
		rows := make([][]interface{}, 0, len(batch))
		for _, event := range batch {
			rows = append(rows, []interface{}{
				event.EventID,
				event.EventTime,
				string(event.EventType),
				event.Identity,
				event.Policy,
				event.Path,
				event.Detail,
			})
		}
		if err := r.clickhouse.BatchInsert(ctx, insertEventsQuery, rows); err != nil {
			r.logger.Error("Failed to archive security events to ClickHouse",
				zap.Int("batch_size", len(rows)),
				zap.Error(err))
		}
	}

	util.Debug("Security event batch published", zap.Int("batch_size", len(batch)))
}
