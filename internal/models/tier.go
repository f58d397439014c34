package models

import (
	"strings"

	"wellpulse/pkg/errors"
)

// Tier 订阅套餐，决定默认配额与功能开关
type Tier string

const (
	TierStarter        Tier = "starter"
	TierProfessional   Tier = "professional"
	TierEnterprise     Tier = "enterprise"
	TierEnterprisePlus Tier = "enterprise_plus"
)

// TierLimits 套餐默认配额与功能开关
type TierLimits struct {
	MaxWells       int
	MaxUsers       int
	StorageQuotaGB int
	Features       map[string]bool
}

// 套餐默认配置
var tierLimits = map[Tier]TierLimits{
	TierStarter: {
		MaxWells:       50,
		MaxUsers:       5,
		StorageQuotaGB: 10,
		Features: map[string]bool{
			"csv_import": true,
			"api_access": false, "scada_ingestion": false, "ml_predictions": false, "sso": false,
		},
	},
	TierProfessional: {
		MaxWells:       200,
		MaxUsers:       25,
		StorageQuotaGB: 100,
		Features: map[string]bool{
			"csv_import": true, "api_access": true, "scada_ingestion": true,
			"ml_predictions": false, "sso": false,
		},
	},
	TierEnterprise: {
		MaxWells:       1000,
		MaxUsers:       100,
		StorageQuotaGB: 1000,
		Features: map[string]bool{
			"csv_import": true, "api_access": true, "scada_ingestion": true,
			"ml_predictions": true, "sso": false,
		},
	},
	TierEnterprisePlus: {
		MaxWells:       5000,
		MaxUsers:       500,
		StorageQuotaGB: 10000,
		Features: map[string]bool{
			"csv_import": true, "api_access": true, "scada_ingestion": true,
			"ml_predictions": true, "sso": true,
		},
	},
}

// 套餐等级顺序，用于升降级判断
var tierRank = map[Tier]int{
	TierStarter:        0,
	TierProfessional:   1,
	TierEnterprise:     2,
	TierEnterprisePlus: 3,
}

// ParseTier 解析套餐字符串（大小写不敏感，兼容 "STARTER" 这类传参）
func ParseTier(s string) (Tier, error) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", errors.NewValidation("tier", "无效的订阅套餐: %s", s)
	}
	return t, nil
}

// Valid 是否为合法套餐
func (t Tier) Valid() bool {
	_, ok := tierRank[t]
	return ok
}

// Rank 套餐等级（用于比较升降级方向）
func (t Tier) Rank() int {
	return tierRank[t]
}

// IsPaid 是否付费套餐
// starter是入门档，视同免费档处理；professional及以上为付费档
func (t Tier) IsPaid() bool {
	return t.Rank() > tierRank[TierStarter]
}

// DefaultLimits 套餐默认配额
func (t Tier) DefaultLimits() TierLimits {
	limits := tierLimits[t]

	// 复制features，避免调用方改动共享map
	features := make(map[string]bool, len(limits.Features))
	for k, v := range limits.Features {
		features[k] = v
	}
	limits.Features = features
	return limits
}
