package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/jorgeaveraf/qbo-gateway/internal/pkg/config"
	"github.com/jorgeaveraf/qbo-gateway/internal/repository"
	"github.com/jorgeaveraf/qbo-gateway/internal/service"
)

// Scheduler 调度器
type Scheduler struct {
	cron          *cron.Cron
	logger        *zap.Logger
	qbo           *service.QBOService
	credRepo      repository.CredentialRepository
	lookahead     time.Duration
	cronSchedules map[string]cron.EntryID // 存储任务ID，便于管理
}

// NewScheduler 创建调度器
func NewScheduler(cfg *config.Config, qbo *service.QBOService, credRepo repository.CredentialRepository, logger *zap.Logger) *Scheduler {
	// 创建 cron 实例（带秒级支持）
	c := cron.New(cron.WithSeconds())

	return &Scheduler{
		cron:          c,
		logger:        logger,
		qbo:           qbo,
		credRepo:      credRepo,
		lookahead:     cfg.QBO.RefreshLookahead,
		cronSchedules: make(map[string]cron.EntryID),
	}
}

// Start 启动调度器
func (s *Scheduler) Start(cfg *config.Config) error {
	log := s.logger.Sugar()

	log.Info("启动定时任务调度器...")

	// cron 表达式格式: 秒 分 时 日 月 周
	cronExpr := cfg.Scheduler.RefreshCron
	if cronExpr == "" {
		cronExpr = "0 */15 * * * *" // 默认: 每15分钟
		log.Warn("未配置scheduler.refresh_cron，使用默认值", zap.String("cron", cronExpr))
	}

	entryID, err := s.cron.AddFunc(cronExpr, func() {
		log.Info("执行定时任务: 凭据预刷新")
		if err := s.RefreshExpiringCredentials(); err != nil {
			log.Errorf("凭据预刷新任务执行失败: %v", err)
		}
	})

	if err != nil {
		log.Errorf("注册凭据预刷新任务失败: cron=%v err=%v", cronExpr, err)
		return err
	}

	s.cronSchedules["credential_refresh"] = entryID
	log.Infof("凭据预刷新任务已注册: %s entry_id=%d", cronExpr, entryID)

	// 启动 cron
	s.cron.Start()
	log.Info("定时任务调度器启动成功")

	return nil
}

// Stop 停止调度器
func (s *Scheduler) Stop() {
	s.logger.Info("正在停止定时任务调度器...")

	// 停止 cron（等待正在执行的任务完成）
	ctx := s.cron.Stop()
	<-ctx.Done()

	s.logger.Info("定时任务调度器已停止")
}

// RefreshExpiringCredentials 扫描即将到期的凭据并提前刷新。
// 单条失败只记日志继续扫，避免一条坏凭据阻塞整批。
func (s *Scheduler) RefreshExpiringCredentials() error {
	deadline := time.Now().Add(s.lookahead)

	credentials, err := s.credRepo.ListExpiring(deadline)
	if err != nil {
		return err
	}
	if len(credentials) == 0 {
		return nil
	}

	s.logger.Info("credential_refresh_sweep",
		zap.Int("count", len(credentials)),
		zap.Time("deadline", deadline))

	for _, credential := range credentials {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		_, _, err := s.qbo.EnsureValidAccessToken(ctx, credential)
		cancel()

		if err != nil {
			s.logger.Warn("credential_refresh_failed",
				zap.String("credential_id", credential.ID.String()),
				zap.String("realm_id", credential.RealmID),
				zap.String("environment", credential.Environment),
				zap.Error(err))
			continue
		}

		s.logger.Info("credential_refreshed",
			zap.String("credential_id", credential.ID.String()),
			zap.String("realm_id", credential.RealmID),
			zap.String("environment", credential.Environment))
	}

	return nil
}
