package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 核心子系统指标：租户连接池水位与开库结果
var (
	// TenantPoolsActive 当前缓存的租户连接池数量
	TenantPoolsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wellpulse_tenant_pools_active",
		Help: "Number of cached tenant connection pools",
	})

	// TenantPoolCreations 连接池创建结果计数
	TenantPoolCreations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wellpulse_tenant_pool_creations_total",
		Help: "Tenant pool creation attempts by result",
	}, []string{"result"})

	// ProvisioningTotal 租户数据库开通结果计数
	ProvisioningTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wellpulse_tenant_provisioning_total",
		Help: "Tenant database provisioning attempts by result",
	}, []string{"result"})

	// TenantsCreated 成功创建的租户计数
	TenantsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wellpulse_tenants_created_total",
		Help: "Total number of tenants created",
	})
)
