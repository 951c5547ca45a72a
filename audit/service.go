// Package audit journals event lifecycle transitions to the event_run_logs
// table through an asynchronous batching writer.
package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/kasuganosora/eventvm/model"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Journal actions.
const (
	ActionStart = "start"
	ActionEnd   = "end"
	ActionStop  = "stop"
	ActionError = "error"
)

const (
	batchSize     = 100
	flushInterval = 2 * time.Second
)

// Entry is one lifecycle transition to be journaled.
type Entry struct {
	TraceID      string
	EventID      int
	EventName    string
	PageIndex    int
	Parallel     bool
	Action       string
	CommandIndex int
	Error        string
	Detail       interface{}
	MapID        int
}

// Query filters Recent. Zero fields match everything.
type Query struct {
	EventID int
	Action  string
	Limit   int
}

// Service writes journal entries in batches.
type Service struct {
	db       *gorm.DB
	ch       chan *model.EventRunLog
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	logger   *zap.Logger
}

// New creates a journal Service and starts its background worker.
func New(db *gorm.DB, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &Service{
		db:     db,
		ch:     make(chan *model.EventRunLog, 1024),
		stopCh: make(chan struct{}),
		logger: logger,
	}
	svc.wg.Add(1)
	go svc.worker()
	return svc
}

// Log enqueues an entry. It never blocks; a full queue drops the entry.
func (svc *Service) Log(entry Entry) {
	record := &model.EventRunLog{
		TraceID:      entry.TraceID,
		EventID:      entry.EventID,
		EventName:    entry.EventName,
		PageIndex:    entry.PageIndex,
		Parallel:     entry.Parallel,
		Action:       entry.Action,
		CommandIndex: entry.CommandIndex,
		Error:        entry.Error,
		MapID:        entry.MapID,
	}
	if entry.Detail != nil {
		if detail, err := json.Marshal(entry.Detail); err == nil {
			record.Detail = datatypes.JSON(detail)
		}
	}
	select {
	case <-svc.stopCh:
		svc.logger.Warn("journal stopped, dropping entry", zap.String("action", entry.Action))
		return
	default:
	}
	select {
	case svc.ch <- record:
	default:
		svc.logger.Warn("journal channel full, dropping entry",
			zap.String("action", entry.Action),
			zap.Int("event_id", entry.EventID))
	}
}

// Stop flushes remaining entries and shuts down the worker.
// It blocks until the worker goroutine has finished.
func (svc *Service) Stop(_ context.Context) {
	svc.stopOnce.Do(func() { close(svc.stopCh) })
	svc.wg.Wait()
}

// Recent returns the newest journal rows matching q.
func (svc *Service) Recent(ctx context.Context, q Query) ([]model.EventRunLog, error) {
	limit := q.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	tx := svc.db.WithContext(ctx).Order("id DESC").Limit(limit)
	if q.EventID > 0 {
		tx = tx.Where("event_id = ?", q.EventID)
	}
	if q.Action != "" {
		tx = tx.Where("action = ?", q.Action)
	}
	var rows []model.EventRunLog
	if err := tx.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (svc *Service) worker() {
	defer svc.wg.Done()
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]*model.EventRunLog, 0, batchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := svc.db.Create(&batch).Error; err != nil {
			svc.logger.Error("journal batch write failed", zap.Int("rows", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case entry := <-svc.ch:
			batch = append(batch, entry)
			if len(batch) >= batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-svc.stopCh:
			for {
				select {
				case entry := <-svc.ch:
					batch = append(batch, entry)
				default:
					flush()
					return
				}
			}
		}
	}
}
