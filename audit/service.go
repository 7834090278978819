// Package audit records guild command executions in batches.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/kasuganosora/guilds/server/model"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	queueSize     = 1024
	batchSize     = 100
	flushInterval = 2 * time.Second
)

// Entry is one command execution.
type Entry struct {
	TraceID    string
	PlayerID   string
	PlayerName string
	GuildID    string
	Source     string // player | console | http
	Command    string
	Args       []string
	Status     string
	Error      string
	Duration   time.Duration
}

// Service logs entries asynchronously in batches.
type Service struct {
	db     *gorm.DB
	ch     chan *model.AuditLog
	stopCh chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
	logger *zap.Logger
}

// New creates a Service and starts its background worker.
func New(db *gorm.DB, logger *zap.Logger) *Service {
	svc := &Service{
		db:     db,
		ch:     make(chan *model.AuditLog, queueSize),
		stopCh: make(chan struct{}),
		logger: logger,
	}
	svc.wg.Add(1)
	go svc.worker()
	return svc
}

// Record enqueues entry. A full queue drops the entry with a warning.
func (svc *Service) Record(entry Entry) {
	args, _ := sonic.Marshal(entry.Args)
	record := &model.AuditLog{
		TraceID:    entry.TraceID,
		PlayerID:   entry.PlayerID,
		PlayerName: entry.PlayerName,
		GuildID:    entry.GuildID,
		Source:     entry.Source,
		Command:    entry.Command,
		Args:       datatypes.JSON(args),
		Status:     entry.Status,
		Error:      entry.Error,
		DurationMs: int(entry.Duration.Milliseconds()),
	}
	select {
	case svc.ch <- record:
	default:
		svc.logger.Warn("audit channel full, dropping entry",
			zap.String("command", entry.Command),
			zap.String("player", entry.PlayerID))
	}
}

// Recent returns the latest entries, newest first, optionally for one player.
func (svc *Service) Recent(ctx context.Context, playerID string, limit int) ([]model.AuditLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	q := svc.db.WithContext(ctx).Order("id DESC").Limit(limit)
	if playerID != "" {
		q = q.Where("player_id = ?", playerID)
	}
	var logs []model.AuditLog
	if err := q.Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}

// Stop flushes remaining entries and shuts down the worker.
// It blocks until the worker goroutine has finished.
func (svc *Service) Stop(_ context.Context) {
	svc.once.Do(func() { close(svc.stopCh) })
	svc.wg.Wait()
}

func (svc *Service) worker() {
	defer svc.wg.Done()
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]*model.AuditLog, 0, batchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := svc.db.Create(&batch).Error; err != nil {
			svc.logger.Error("audit batch write failed", zap.Int("entries", len(batch)), zap.Error(err))
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
