package scheduler

import (
	"context"
	"log/slog"
	"time"

	"taskhub/internal/model"
	"taskhub/internal/pkg/metrics"

	"gorm.io/gorm"
)

// Store 是清理循环依赖的最小存储接口。
type Store interface {
	// DeleteCompleted 删除所有 complete=true 的任务，返回删除数量。
	DeleteCompleted(ctx context.Context) (int64, error)
}

// Sweeper 周期性清理已完成任务的后台调度器。
//
// 清理跨越所有用户，不做归属过滤。扫描窗口内新完成的任务
// 会被同一轮删除，这是接受的行为。
type Sweeper struct {
	store    Store
	logger   *slog.Logger
	interval time.Duration
}

// NewSweeper 创建一个新的清理调度器实例。
//
// 参数:
//
//	store: 任务存储
//	logger: 日志记录器
//	interval: 清理循环的时间间隔（<=0 时使用默认值 24h）
//
// 返回值:
//
//	*Sweeper: 调度器实例
func NewSweeper(store Store, logger *slog.Logger, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &Sweeper{
		store:    store,
		logger:   logger,
		interval: interval,
	}
}

// Run 启动清理循环，阻塞直到 ctx 取消。
//
// 首次不立即执行，等待第一个间隔到期，避免服务重启风暴
// 触发多余的全表删除。
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info("sweeper started", slog.String("interval", s.interval.String()))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, 1*time.Minute)
	defer cancel()

	deleted, err := s.store.DeleteCompleted(sweepCtx)
	if err != nil {
		s.logger.Error("sweep completed tasks failed", slog.String("error", err.Error()))
		return
	}
	if deleted > 0 {
		metrics.SweepDeletedTotal.Add(float64(deleted))
		s.logger.Info("swept completed tasks", slog.Int64("deleted", deleted))
	}
}

type gormStore struct {
	db *gorm.DB
}

// NewGormStore 基于 MySQL 的清理存储实现。
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (g *gormStore) DeleteCompleted(ctx context.Context) (int64, error) {
	res := g.db.WithContext(ctx).Where("complete = ?", true).Delete(&model.Task{})
	return res.RowsAffected, res.Error
}
