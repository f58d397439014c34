package services

import (
	"time"

	"wellpulse/pkg/logger"

	"github.com/robfig/cron/v3"
)

// trialExpiredReason 试用到期自动停用时写入的原因
const trialExpiredReason = "试用期已结束"

// TrialChecker 试用到期巡检调度器
// 定时扫描注册表，把试用已到期的租户自动停用并驱逐其连接池
type TrialChecker struct {
	svc     *TenantService
	cron    *cron.Cron
	spec    string
	running bool
}

func NewTrialChecker(svc *TenantService, spec string) *TrialChecker {
	if spec == "" {
		spec = "0 * * * *" // 每小时整点
	}
	return &TrialChecker{
		svc:  svc,
		cron: cron.New(),
		spec: spec,
	}
}

// Start 启动巡检
func (c *TrialChecker) Start() error {
	if c.running {
		return nil
	}

	if _, err := c.cron.AddFunc(c.spec, c.CheckOnce); err != nil {
		return err
	}

	c.cron.Start()
	c.running = true
	logger.GetLogger().Infof("Trial expiry checker started (schedule: %s)", c.spec)
	return nil
}

// Stop 停止巡检
func (c *TrialChecker) Stop() {
	if !c.running {
		return
	}
	c.cron.Stop()
	c.running = false
	logger.GetLogger().Info("Trial expiry checker stopped")
}

// CheckOnce 执行一轮巡检（定时触发，也可手动调用）
func (c *TrialChecker) CheckOnce() {
	appLogger := logger.GetLogger()

	expired, err := c.svc.repo.FindExpiredTrials(time.Now())
	if err != nil {
		appLogger.Errorf("Trial expiry scan failed: %v", err)
		return
	}
	if len(expired) == 0 {
		return
	}

	var suspended int
	for _, tenant := range expired {
		if _, err := c.svc.Suspend(tenant.ID, trialExpiredReason); err != nil {
			appLogger.WithField("tenant_slug", tenant.Slug).
				Errorf("Failed to suspend expired trial: %v", err)
			continue
		}
		suspended++
	}

	appLogger.Infof("Trial expiry scan done: %d expired, %d suspended", len(expired), suspended)
}
