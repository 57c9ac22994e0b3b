package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jorgeaveraf/qbo-gateway/internal/dto"
	"github.com/jorgeaveraf/qbo-gateway/internal/service"
	"github.com/jorgeaveraf/qbo-gateway/pkg/responses"
	"github.com/jorgeaveraf/qbo-gateway/pkg/utils"
)

type ClientHandler struct {
	clientService *service.ClientService
}

func NewClientHandler(clientService *service.ClientService) *ClientHandler {
	return &ClientHandler{
		clientService: clientService,
	}
}

// Create 创建客户端
func (h *ClientHandler) Create(c *gin.Context) {
	var req dto.CreateClientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		responses.ErrorWithDetail(c, responses.CodeValidationError, "请求参数错误", utils.FormatValidationError(err))
		return
	}

	resp, err := h.clientService.Create(&req)
	if err != nil {
		responses.Error(c, err)
		return
	}

	responses.SuccessWithStatus(c, 201, resp)
}

// Update 更新客户端
func (h *ClientHandler) Update(c *gin.Context) {
	id, err := uuid.Parse(c.Param("client_id"))
	if err != nil {
		responses.Error(c, responses.New(responses.CodeBadRequest, "无效的client_id"))
		return
	}

	var req dto.UpdateClientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		responses.ErrorWithDetail(c, responses.CodeValidationError, "请求参数错误", utils.FormatValidationError(err))
		return
	}

	resp, err := h.clientService.Update(id, &req)
	if err != nil {
		responses.Error(c, err)
		return
	}

	responses.Success(c, resp)
}

// Delete 删除客户端
func (h *ClientHandler) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("client_id"))
	if err != nil {
		responses.Error(c, responses.New(responses.CodeBadRequest, "无效的client_id"))
		return
	}

	if err := h.clientService.Delete(id); err != nil {
		responses.Error(c, err)
		return
	}

	responses.Success(c, gin.H{"deleted": true})
}

// Get 获取客户端详情
func (h *ClientHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("client_id"))
	if err != nil {
		responses.Error(c, responses.New(responses.CodeBadRequest, "无效的client_id"))
		return
	}

	resp, err := h.clientService.Get(id)
	if err != nil {
		responses.Error(c, err)
		return
	}

	responses.Success(c, resp)
}

// List 客户端列表
func (h *ClientHandler) List(c *gin.Context) {
	resp, err := h.clientService.List()
	if err != nil {
		responses.Error(c, err)
		return
	}

	responses.Success(c, resp)
}

// ListCredentials 客户端凭据摘要列表
func (h *ClientHandler) ListCredentials(c *gin.Context) {
	id, err := uuid.Parse(c.Param("client_id"))
	if err != nil {
		responses.Error(c, responses.New(responses.CodeBadRequest, "无效的client_id"))
		return
	}

	resp, err := h.clientService.ListCredentials(id)
	if err != nil {
		responses.Error(c, err)
		return
	}

	responses.Success(c, resp)
}
