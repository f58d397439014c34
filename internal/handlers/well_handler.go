package handlers

import (
	"errors"

	"wellpulse/internal/models"
	"wellpulse/internal/services"
	"wellpulse/pkg/pagination"
	"wellpulse/pkg/response"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type WellHandler struct {
	service *services.WellService
}

func NewWellHandler(service *services.WellService) *WellHandler {
	return &WellHandler{
		service: service,
	}
}

// currentTenant 从上下文取出租户（租户鉴权中间件写入）
func currentTenant(c *gin.Context) (*models.Tenant, bool) {
	value, exists := c.Get("tenant")
	if !exists {
		return nil, false
	}
	tenant, ok := value.(*models.Tenant)
	return tenant, ok
}

// Create 创建井
func (h *WellHandler) Create(c *gin.Context) {
	tenant, ok := currentTenant(c)
	if !ok {
		response.Unauthorized(c, "请先认证")
		return
	}

	var req services.CreateWellRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误: "+err.Error())
		return
	}

	well, err := h.service.Create(tenant, &req)
	if err != nil {
		response.HandleError(c, err)
		return
	}

	response.Success(c, well)
}

// GetAll 井列表
func (h *WellHandler) GetAll(c *gin.Context) {
	tenant, ok := currentTenant(c)
	if !ok {
		response.Unauthorized(c, "请先认证")
		return
	}

	// 解析分页参数
	pageParams := pagination.ParsePageParams(c)

	status := c.Query("status")
	field := c.Query("field")
	keyword := c.Query("keyword")

	wells, total, err := h.service.GetWithFiltersAndPage(tenant, status, field, keyword, pageParams.Page, pageParams.PageSize)
	if err != nil {
		response.HandleError(c, err)
		return
	}

	// 计算分页信息
	pageInfo := pagination.NewPageInfo(pageParams.Page, pageParams.PageSize, total)
	response.SuccessWithPage(c, wells, pageInfo)
}

// GetByID 获取井
func (h *WellHandler) GetByID(c *gin.Context) {
	tenant, ok := currentTenant(c)
	if !ok {
		response.Unauthorized(c, "请先认证")
		return
	}

	well, err := h.service.GetByID(tenant, c.Param("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			response.NotFound(c, "井不存在")
			return
		}
		response.HandleError(c, err)
		return
	}

	response.Success(c, well)
}

// Update 更新井
func (h *WellHandler) Update(c *gin.Context) {
	tenant, ok := currentTenant(c)
	if !ok {
		response.Unauthorized(c, "请先认证")
		return
	}

	var req services.UpdateWellRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误")
		return
	}

	well, err := h.service.Update(tenant, c.Param("id"), &req)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			response.NotFound(c, "井不存在")
			return
		}
		response.HandleError(c, err)
		return
	}

	response.Success(c, well)
}

// Delete 删除井
func (h *WellHandler) Delete(c *gin.Context) {
	tenant, ok := currentTenant(c)
	if !ok {
		response.Unauthorized(c, "请先认证")
		return
	}

	if err := h.service.Delete(tenant, c.Param("id")); err != nil {
		response.HandleError(c, err)
		return
	}

	response.Success(c, nil)
}
