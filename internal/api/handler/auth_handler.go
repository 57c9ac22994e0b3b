package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jorgeaveraf/qbo-gateway/internal/dto"
	"github.com/jorgeaveraf/qbo-gateway/internal/service"
	"github.com/jorgeaveraf/qbo-gateway/pkg/constants"
	"github.com/jorgeaveraf/qbo-gateway/pkg/responses"
	"github.com/jorgeaveraf/qbo-gateway/pkg/utils"
)

type AuthHandler struct {
	authService   *service.AuthService
	clientService *service.ClientService
}

func NewAuthHandler(authService *service.AuthService, clientService *service.ClientService) *AuthHandler {
	return &AuthHandler{
		authService:   authService,
		clientService: clientService,
	}
}

// Connect 发起OAuth授权，307跳转到Intuit授权页
func (h *AuthHandler) Connect(c *gin.Context) {
	var query dto.ConnectQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		responses.ErrorWithDetail(c, responses.CodeValidationError, "请求参数错误", utils.FormatValidationError(err))
		return
	}

	environment := query.Environment
	if environment == "" {
		environment = constants.EnvironmentSandbox
	}

	clientID, _ := uuid.Parse(query.ClientID)
	client, err := h.clientService.GetModel(clientID)
	if err != nil {
		responses.Error(c, err)
		return
	}

	url, err := h.authService.BuildConnectURL(client, environment)
	if err != nil {
		responses.Error(c, err)
		return
	}

	c.Redirect(http.StatusTemporaryRedirect, url)
}

// Callback OAuth回调，公开端点（Intuit直接回调，不带API Key）
func (h *AuthHandler) Callback(c *gin.Context) {
	var query dto.CallbackQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		responses.ErrorWithDetail(c, responses.CodeValidationError, "请求参数错误", utils.FormatValidationError(err))
		return
	}

	resp, err := h.authService.HandleCallback(c.Request.Context(), &query)
	if err != nil {
		responses.Error(c, err)
		return
	}

	responses.Success(c, resp)
}

// Rotate 强制轮换凭据
func (h *AuthHandler) Rotate(c *gin.Context) {
	clientID, err := uuid.Parse(c.Param("client_id"))
	if err != nil {
		responses.Error(c, responses.New(responses.CodeBadRequest, "无效的client_id"))
		return
	}

	environment := c.DefaultQuery("environment", constants.EnvironmentSandbox)
	if environment != constants.EnvironmentSandbox && environment != constants.EnvironmentProd {
		responses.Error(c, responses.New(responses.CodeBadRequest, "environment 只能是 sandbox 或 prod"))
		return
	}

	client, err := h.clientService.GetModel(clientID)
	if err != nil {
		responses.Error(c, err)
		return
	}

	resp, err := h.authService.RotateCredential(c.Request.Context(), client, environment)
	if err != nil {
		responses.Error(c, err)
		return
	}

	responses.Success(c, resp)
}
