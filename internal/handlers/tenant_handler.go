package handlers

import (
	"errors"

	"wellpulse/internal/database"
	"wellpulse/internal/services"
	"wellpulse/pkg/pagination"
	"wellpulse/pkg/response"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// SuspendTenantRequest 停用请求
type SuspendTenantRequest struct {
	Reason string `json:"reason" binding:"required,max=200"`
}

// ChangeTierRequest 套餐变更请求
type ChangeTierRequest struct {
	Tier string `json:"tier" binding:"required"`
}

// UpdateContactRequest 联系信息更新请求
type UpdateContactRequest struct {
	ContactEmail string  `json:"contact_email" binding:"required,email"`
	ContactPhone *string `json:"contact_phone"`
	BillingEmail *string `json:"billing_email"`
}

// FeatureFlagRequest 功能开关请求
type FeatureFlagRequest struct {
	Key     string `json:"key" binding:"required"`
	Enabled bool   `json:"enabled"`
}

type TenantHandler struct {
	service *services.TenantService
	pools   *database.TenantPoolManager
}

func NewTenantHandler(service *services.TenantService, pools *database.TenantPoolManager) *TenantHandler {
	return &TenantHandler{
		service: service,
		pools:   pools,
	}
}

// Create 创建租户
// 响应里的secret_key是唯一一次看到明文密钥的机会
func (h *TenantHandler) Create(c *gin.Context) {
	var req services.CreateTenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误: "+err.Error())
		return
	}

	if userID, exists := c.Get("user_id"); exists {
		req.CreatedBy = userID.(uint)
	}

	tenant, secretKey, err := h.service.Create(c.Request.Context(), &req)
	if err != nil {
		response.HandleError(c, err)
		return
	}

	response.SuccessWithMessage(c, "租户创建成功，请妥善保存密钥（仅显示一次）", gin.H{
		"tenant":     tenant,
		"secret_key": secretKey,
	})
}

// GetAll 租户列表
func (h *TenantHandler) GetAll(c *gin.Context) {
	// 解析分页参数
	pageParams := pagination.ParsePageParams(c)

	// 支持按状态筛选、关键词搜索
	status := c.Query("status")
	keyword := c.Query("keyword")

	tenants, total, err := h.service.ListWithPage(status, keyword, pageParams.Page, pageParams.PageSize)
	if err != nil {
		response.ServerError(c, "查询失败")
		return
	}

	// 计算分页信息
	pageInfo := pagination.NewPageInfo(pageParams.Page, pageParams.PageSize, total)
	response.SuccessWithPage(c, tenants, pageInfo)
}

// GetByID 获取租户
func (h *TenantHandler) GetByID(c *gin.Context) {
	tenant, err := h.service.GetByID(c.Param("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			response.NotFound(c, "租户不存在")
			return
		}
		response.ServerError(c, "查询失败")
		return
	}

	response.Success(c, tenant)
}

// Activate 激活租户
func (h *TenantHandler) Activate(c *gin.Context) {
	tenant, err := h.service.Activate(c.Param("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			response.NotFound(c, "租户不存在")
			return
		}
		response.HandleError(c, err)
		return
	}

	response.SuccessWithMessage(c, "租户激活成功", tenant)
}

// Suspend 停用租户
func (h *TenantHandler) Suspend(c *gin.Context) {
	var req SuspendTenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误")
		return
	}

	tenant, err := h.service.Suspend(c.Param("id"), req.Reason)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			response.NotFound(c, "租户不存在")
			return
		}
		response.HandleError(c, err)
		return
	}

	response.SuccessWithMessage(c, "租户停用成功", tenant)
}

// Delete 删除租户（软删除，租户数据库保留）
func (h *TenantHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Param("id")); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			response.NotFound(c, "租户不存在")
			return
		}
		response.HandleError(c, err)
		return
	}

	response.Success(c, nil)
}

// Upgrade 升级套餐
func (h *TenantHandler) Upgrade(c *gin.Context) {
	var req ChangeTierRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误")
		return
	}

	tenant, err := h.service.UpgradeTier(c.Param("id"), req.Tier)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			response.NotFound(c, "租户不存在")
			return
		}
		response.HandleError(c, err)
		return
	}

	response.SuccessWithMessage(c, "套餐升级成功", tenant)
}

// Downgrade 降级套餐
func (h *TenantHandler) Downgrade(c *gin.Context) {
	var req ChangeTierRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误")
		return
	}

	tenant, err := h.service.DowngradeTier(c.Param("id"), req.Tier)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			response.NotFound(c, "租户不存在")
			return
		}
		response.HandleError(c, err)
		return
	}

	response.SuccessWithMessage(c, "套餐降级成功", tenant)
}

// RotateSecret 轮换密钥
func (h *TenantHandler) RotateSecret(c *gin.Context) {
	tenant, secretKey, err := h.service.RotateSecret(c.Param("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			response.NotFound(c, "租户不存在")
			return
		}
		response.HandleError(c, err)
		return
	}

	response.SuccessWithMessage(c, "密钥轮换成功，旧密钥已失效（新密钥仅显示一次）", gin.H{
		"tenant_id":  tenant.TenantID,
		"secret_key": secretKey,
	})
}

// UpdateContact 更新联系信息
func (h *TenantHandler) UpdateContact(c *gin.Context) {
	var req UpdateContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误")
		return
	}

	tenant, err := h.service.UpdateContact(c.Param("id"), req.ContactEmail, req.ContactPhone, req.BillingEmail)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			response.NotFound(c, "租户不存在")
			return
		}
		response.HandleError(c, err)
		return
	}

	response.Success(c, tenant)
}

// SetFeatureFlag 设置功能开关
func (h *TenantHandler) SetFeatureFlag(c *gin.Context) {
	var req FeatureFlagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误")
		return
	}

	tenant, err := h.service.SetFeatureFlag(c.Param("id"), req.Key, req.Enabled)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			response.NotFound(c, "租户不存在")
			return
		}
		response.HandleError(c, err)
		return
	}

	response.Success(c, tenant)
}

// GetPools 连接池快照（运维视图）
func (h *TenantHandler) GetPools(c *gin.Context) {
	response.Success(c, gin.H{
		"active": h.pools.ActiveConnectionCount(),
		"pools":  h.pools.Snapshot(),
	})
}
