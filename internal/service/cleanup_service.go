package service

import (
	"context"
	"time"

	"github.com/user/filmrec/internal/logging"
)

// CleanupService 定时对账服务
type CleanupService struct {
	reconcile *ReconcileService
	interval  time.Duration
	apply     bool
	onApplied func()
}

// NewCleanupService 创建定时对账服务，apply 为 false 时只记录差异
func NewCleanupService(reconcile *ReconcileService, interval time.Duration, apply bool, onApplied func()) *CleanupService {
	return &CleanupService{reconcile: reconcile, interval: interval, apply: apply, onApplied: onApplied}
}

// Start 启动定时任务，ctx 取消后停止；interval 不为正数时不启动
func (s *CleanupService) Start(ctx context.Context) {
	if s.interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.runCleanup(ctx)
			}
		}
	}()
}

func (s *CleanupService) runCleanup(ctx context.Context) {
	logging.Info().Msg("[CleanupService] 开始对账...")

	report, err := s.reconcile.Reconcile(ctx, s.apply)
	if err != nil {
		logging.Error().Err(err).Msg("[CleanupService] 对账失败")
		return
	}
	if report.Applied && s.onApplied != nil {
		s.onApplied()
	}
}
