package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jorgeaveraf/qbo-gateway/internal/dto"
	"github.com/jorgeaveraf/qbo-gateway/internal/model"
	"github.com/jorgeaveraf/qbo-gateway/internal/service"
	"github.com/jorgeaveraf/qbo-gateway/pkg/constants"
	"github.com/jorgeaveraf/qbo-gateway/pkg/responses"
	"github.com/jorgeaveraf/qbo-gateway/pkg/utils"
)

type QBOHandler struct {
	documentService *service.DocumentService
	clientService   *service.ClientService
}

func NewQBOHandler(documentService *service.DocumentService, clientService *service.ClientService) *QBOHandler {
	return &QBOHandler{
		documentService: documentService,
		clientService:   clientService,
	}
}

// documentContext 创建类接口的公共前置：客户端/凭据定位 + 幂等键校验
func (h *QBOHandler) documentContext(c *gin.Context) (*service.DocumentContext, bool) {
	var query dto.QBOWriteQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		responses.ErrorWithDetail(c, responses.CodeValidationError, "请求参数错误", utils.FormatValidationError(err))
		return nil, false
	}

	client, credential, ok := h.clientContext(c)
	if !ok {
		return nil, false
	}

	idempotencyKey := c.GetHeader(constants.HeaderIdempotencyKey)
	if idempotencyKey == "" {
		responses.Error(c, responses.ErrIdempotencyKeyRequired)
		return nil, false
	}

	return &service.DocumentContext{
		Client:         client,
		Credential:     credential,
		RequestID:      c.GetString(constants.HeaderRequestID),
		IdempotencyKey: idempotencyKey,
		AutoCreate:     query.AutoCreate,
	}, true
}

func (h *QBOHandler) clientContext(c *gin.Context) (*model.Client, *model.ClientCredential, bool) {
	clientID, err := uuid.Parse(c.Param("client_id"))
	if err != nil {
		responses.Error(c, responses.New(responses.CodeBadRequest, "无效的client_id"))
		return nil, nil, false
	}

	environment := c.DefaultQuery("environment", constants.EnvironmentSandbox)
	if environment != constants.EnvironmentSandbox && environment != constants.EnvironmentProd {
		responses.Error(c, responses.New(responses.CodeBadRequest, "environment 只能是 sandbox 或 prod"))
		return nil, nil, false
	}

	client, credential, err := h.clientService.GetActiveWithCredential(clientID, environment)
	if err != nil {
		responses.Error(c, err)
		return nil, nil, false
	}
	return client, credential, true
}

// CreateDeposit 创建存款
func (h *QBOHandler) CreateDeposit(c *gin.Context) {
	dc, ok := h.documentContext(c)
	if !ok {
		return
	}

	var req dto.DepositCreate
	if err := c.ShouldBindJSON(&req); err != nil {
		responses.ErrorWithDetail(c, responses.CodeValidationError, "请求参数错误", utils.FormatValidationError(err))
		return
	}

	resp, err := h.documentService.CreateDeposit(c.Request.Context(), dc, &req)
	if err != nil {
		responses.Error(c, err)
		return
	}

	responses.SuccessWithStatus(c, 201, resp)
}

// CreateSalesReceipt 创建销售收据
func (h *QBOHandler) CreateSalesReceipt(c *gin.Context) {
	dc, ok := h.documentContext(c)
	if !ok {
		return
	}

	var req dto.SalesReceiptCreate
	if err := c.ShouldBindJSON(&req); err != nil {
		responses.ErrorWithDetail(c, responses.CodeValidationError, "请求参数错误", utils.FormatValidationError(err))
		return
	}

	resp, err := h.documentService.CreateSalesReceipt(c.Request.Context(), dc, &req)
	if err != nil {
		responses.Error(c, err)
		return
	}

	responses.SuccessWithStatus(c, 201, resp)
}

// CreateInvoice 创建发票
func (h *QBOHandler) CreateInvoice(c *gin.Context) {
	dc, ok := h.documentContext(c)
	if !ok {
		return
	}

	var req dto.InvoiceCreate
	if err := c.ShouldBindJSON(&req); err != nil {
		responses.ErrorWithDetail(c, responses.CodeValidationError, "请求参数错误", utils.FormatValidationError(err))
		return
	}

	resp, err := h.documentService.CreateInvoice(c.Request.Context(), dc, &req)
	if err != nil {
		responses.Error(c, err)
		return
	}

	responses.SuccessWithStatus(c, 201, resp)
}

// CreateBill 创建账单
func (h *QBOHandler) CreateBill(c *gin.Context) {
	dc, ok := h.documentContext(c)
	if !ok {
		return
	}

	var req dto.BillCreate
	if err := c.ShouldBindJSON(&req); err != nil {
		responses.ErrorWithDetail(c, responses.CodeValidationError, "请求参数错误", utils.FormatValidationError(err))
		return
	}

	resp, err := h.documentService.CreateBill(c.Request.Context(), dc, &req)
	if err != nil {
		responses.Error(c, err)
		return
	}

	responses.SuccessWithStatus(c, 201, resp)
}

// CreatePayment 创建收款
func (h *QBOHandler) CreatePayment(c *gin.Context) {
	dc, ok := h.documentContext(c)
	if !ok {
		return
	}

	var req dto.PaymentCreate
	if err := c.ShouldBindJSON(&req); err != nil {
		responses.ErrorWithDetail(c, responses.CodeValidationError, "请求参数错误", utils.FormatValidationError(err))
		return
	}

	resp, err := h.documentService.CreatePayment(c.Request.Context(), dc, &req)
	if err != nil {
		responses.Error(c, err)
		return
	}

	responses.SuccessWithStatus(c, 201, resp)
}

// CreateBillPayment 创建付款
func (h *QBOHandler) CreateBillPayment(c *gin.Context) {
	dc, ok := h.documentContext(c)
	if !ok {
		return
	}

	var req dto.BillPaymentCreate
	if err := c.ShouldBindJSON(&req); err != nil {
		responses.ErrorWithDetail(c, responses.CodeValidationError, "请求参数错误", utils.FormatValidationError(err))
		return
	}

	resp, err := h.documentService.CreateBillPayment(c.Request.Context(), dc, &req)
	if err != nil {
		responses.Error(c, err)
		return
	}

	responses.SuccessWithStatus(c, 201, resp)
}

// CreateExpense 创建费用
func (h *QBOHandler) CreateExpense(c *gin.Context) {
	dc, ok := h.documentContext(c)
	if !ok {
		return
	}

	var req dto.ExpenseCreate
	if err := c.ShouldBindJSON(&req); err != nil {
		responses.ErrorWithDetail(c, responses.CodeValidationError, "请求参数错误", utils.FormatValidationError(err))
		return
	}

	resp, err := h.documentService.CreateExpense(c.Request.Context(), dc, &req)
	if err != nil {
		responses.Error(c, err)
		return
	}

	responses.SuccessWithStatus(c, 201, resp)
}

// CreateCustomer 创建客户主档
func (h *QBOHandler) CreateCustomer(c *gin.Context) {
	dc, ok := h.documentContext(c)
	if !ok {
		return
	}

	var req dto.CustomerCreate
	if err := c.ShouldBindJSON(&req); err != nil {
		responses.ErrorWithDetail(c, responses.CodeValidationError, "请求参数错误", utils.FormatValidationError(err))
		return
	}

	resp, err := h.documentService.CreateCustomer(c.Request.Context(), dc, &req)
	if err != nil {
		responses.Error(c, err)
		return
	}

	responses.SuccessWithStatus(c, 201, resp)
}

// CreateVendor 创建供应商主档
func (h *QBOHandler) CreateVendor(c *gin.Context) {
	dc, ok := h.documentContext(c)
	if !ok {
		return
	}

	var req dto.VendorCreate
	if err := c.ShouldBindJSON(&req); err != nil {
		responses.ErrorWithDetail(c, responses.CodeValidationError, "请求参数错误", utils.FormatValidationError(err))
		return
	}

	resp, err := h.documentService.CreateVendor(c.Request.Context(), dc, &req)
	if err != nil {
		responses.Error(c, err)
		return
	}

	responses.SuccessWithStatus(c, 201, resp)
}

// CreateItem 创建商品
func (h *QBOHandler) CreateItem(c *gin.Context) {
	dc, ok := h.documentContext(c)
	if !ok {
		return
	}

	var req dto.ItemCreate
	if err := c.ShouldBindJSON(&req); err != nil {
		responses.ErrorWithDetail(c, responses.CodeValidationError, "请求参数错误", utils.FormatValidationError(err))
		return
	}

	resp, err := h.documentService.CreateItem(c.Request.Context(), dc, &req)
	if err != nil {
		responses.Error(c, err)
		return
	}

	responses.SuccessWithStatus(c, 201, resp)
}

// ListEntities 列表查询，实体类型来自路由注册
func (h *QBOHandler) ListEntities(entityKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		_, credential, ok := h.clientContext(c)
		if !ok {
			return
		}

		var query dto.CollectionQuery
		if err := c.ShouldBindQuery(&query); err != nil {
			responses.ErrorWithDetail(c, responses.CodeValidationError, "请求参数错误", utils.FormatValidationError(err))
			return
		}

		var accountsQuery *dto.AccountsQuery
		if entityKey == "accounts" {
			accountsQuery = &dto.AccountsQuery{}
			if err := c.ShouldBindQuery(accountsQuery); err != nil {
				responses.ErrorWithDetail(c, responses.CodeValidationError, "请求参数错误", utils.FormatValidationError(err))
				return
			}
		}

		resp, err := h.documentService.ListEntities(c.Request.Context(), credential, entityKey, &query, accountsQuery)
		if err != nil {
			responses.Error(c, err)
			return
		}

		responses.Success(c, resp)
	}
}

// GetAccountDetail 获取科目详情
func (h *QBOHandler) GetAccountDetail(c *gin.Context) {
	_, credential, ok := h.clientContext(c)
	if !ok {
		return
	}

	resp, err := h.documentService.GetAccountDetail(c.Request.Context(), credential, c.Param("account_id"))
	if err != nil {
		responses.Error(c, err)
		return
	}

	responses.Success(c, resp)
}

// UpdateAccount 稀疏更新科目
func (h *QBOHandler) UpdateAccount(c *gin.Context) {
	_, credential, ok := h.clientContext(c)
	if !ok {
		return
	}

	var req dto.AccountUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		responses.ErrorWithDetail(c, responses.CodeValidationError, "请求参数错误", utils.FormatValidationError(err))
		return
	}

	resp, err := h.documentService.UpdateAccount(c.Request.Context(), credential, c.Param("account_id"), &req)
	if err != nil {
		responses.Error(c, err)
		return
	}

	responses.Success(c, resp)
}

// GetCompanyInfo 公司信息（连通性验证）
func (h *QBOHandler) GetCompanyInfo(c *gin.Context) {
	client, credential, ok := h.clientContext(c)
	if !ok {
		return
	}

	resp, err := h.documentService.CompanyInfo(c.Request.Context(), client, credential)
	if err != nil {
		responses.Error(c, err)
		return
	}

	responses.Success(c, resp)
}
