package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/jorgeaveraf/qbo-gateway/internal/dto"
	"github.com/jorgeaveraf/qbo-gateway/internal/model"
	"github.com/jorgeaveraf/qbo-gateway/pkg/constants"
	"github.com/jorgeaveraf/qbo-gateway/pkg/responses"
)

// queryEntityConfig 列表查询的实体级配置
type queryEntityConfig struct {
	table         string
	resultKey     string
	orderBy       string
	dateField     string
	updatedField  string
	customerField string
	vendorField   string
	docField      string
	statusField   string
	extraFilters  []string
}

var queryEntities = map[string]queryEntityConfig{
	"customers": {
		table: "Customer", resultKey: "Customer",
		orderBy: "MetaData.LastUpdatedTime DESC", dateField: "MetaData.CreateTime",
		updatedField: "MetaData.LastUpdatedTime", statusField: "Active",
	},
	"vendors": {
		table: "Vendor", resultKey: "Vendor",
		orderBy: "MetaData.LastUpdatedTime DESC", dateField: "MetaData.CreateTime",
		updatedField: "MetaData.LastUpdatedTime", statusField: "Active",
	},
	"items": {
		table: "Item", resultKey: "Item",
		orderBy: "MetaData.LastUpdatedTime DESC", dateField: "MetaData.CreateTime",
		updatedField: "MetaData.LastUpdatedTime", statusField: "Active",
	},
	"accounts": {
		table: "Account", resultKey: "Account",
		orderBy: "FullyQualifiedName ASC", updatedField: "MetaData.LastUpdatedTime",
	},
	"invoices": {
		table: "Invoice", resultKey: "Invoice",
		orderBy: "TxnDate DESC", dateField: "TxnDate", updatedField: "MetaData.LastUpdatedTime",
		customerField: "CustomerRef", docField: "DocNumber", statusField: "TxnStatus",
	},
	"payments": {
		table: "Payment", resultKey: "Payment",
		orderBy: "TxnDate DESC", dateField: "TxnDate", updatedField: "MetaData.LastUpdatedTime",
		customerField: "CustomerRef", docField: "PaymentRefNum", statusField: "TxnStatus",
	},
	"salesreceipts": {
		table: "SalesReceipt", resultKey: "SalesReceipt",
		orderBy: "TxnDate DESC", dateField: "TxnDate", updatedField: "MetaData.LastUpdatedTime",
		customerField: "CustomerRef", docField: "DocNumber", statusField: "TxnStatus",
	},
	"expenses": {
		table: "Purchase", resultKey: "Purchase",
		orderBy: "TxnDate DESC", dateField: "TxnDate", updatedField: "MetaData.LastUpdatedTime",
		vendorField: "EntityRef", docField: "DocNumber", statusField: "TxnStatus",
		extraFilters: []string{"PaymentType = 'Cash'"},
	},
	"bills": {
		table: "Bill", resultKey: "Bill",
		orderBy: "TxnDate DESC", dateField: "TxnDate", updatedField: "MetaData.LastUpdatedTime",
		vendorField: "VendorRef", docField: "DocNumber", statusField: "TxnStatus",
	},
	"billpayments": {
		table: "BillPayment", resultKey: "BillPayment",
		orderBy: "TxnDate DESC", dateField: "TxnDate", updatedField: "MetaData.LastUpdatedTime",
		vendorField: "VendorRef", docField: "DocNumber", statusField: "TxnStatus",
	},
	"deposits": {
		table: "Deposit", resultKey: "Deposit",
		orderBy: "TxnDate DESC", dateField: "TxnDate", updatedField: "MetaData.LastUpdatedTime",
		docField: "DocNumber", statusField: "TxnStatus",
	},
}

// DocumentContext 文档操作的请求级上下文
type DocumentContext struct {
	Client         *model.Client
	Credential     *model.ClientCredential
	RequestID      string
	IdempotencyKey string
	AutoCreate     bool
}

// DocumentService 业务文档编排：引用解析 → payload组装 → 幂等写入
type DocumentService struct {
	qbo    *QBOService
	txn    *TxnService
	logger *zap.Logger
	now    func() time.Time
}

func NewDocumentService(qbo *QBOService, txn *TxnService, logger *zap.Logger) *DocumentService {
	return &DocumentService{
		qbo:    qbo,
		txn:    txn,
		logger: logger,
		now:    time.Now,
	}
}

func (s *DocumentService) newResolver(credential *model.ClientCredential) *ReferenceResolver {
	return NewReferenceResolver(s.qbo, credential, s.logger)
}

// sandbox环境默认放开自动创建，正式环境必须显式开启
func allowAutoCreate(dc *DocumentContext) bool {
	return dc.AutoCreate || dc.Credential.Environment == constants.EnvironmentSandbox
}

// CreateDeposit 创建银行存款，多收入行归集入账
func (s *DocumentService) CreateDeposit(ctx context.Context, dc *DocumentContext, req *dto.DepositCreate) (*dto.QBOProxyResponse, error) {
	resolver := s.newResolver(dc.Credential)
	autoCreate := allowAutoCreate(dc)

	depositAccountRef, err := resolver.EnsureAccount(ctx, req.DepositToAccount, "Bank", "Checking", autoCreate)
	if err != nil {
		return nil, err
	}
	linePayloads, totalAmount, _, err := buildDepositLines(ctx, resolver, req.Lines, autoCreate, autoCreate)
	if err != nil {
		return nil, err
	}

	payload := map[string]interface{}{
		"TxnDate":             req.Date,
		"DepositToAccountRef": depositAccountRef.Map(),
		"Line":                linePayloads,
	}
	if err := s.applyDocExtras(ctx, resolver, payload, req.PrivateNote, req.DocNumber, req.ClassName); err != nil {
		return nil, err
	}

	fingerprint := BuildFingerprint(
		dc.Credential.RealmID,
		"Deposit",
		req.Date,
		totalAmount,
		depositAccountRef.Value,
		deref(req.TxnID),
	)
	return s.execute(ctx, dc, resolver, "deposit:create", "Deposit", "deposit", req, payload, fingerprint)
}

// CreateSalesReceipt 创建销售收据
func (s *DocumentService) CreateSalesReceipt(ctx context.Context, dc *DocumentContext, req *dto.SalesReceiptCreate) (*dto.QBOProxyResponse, error) {
	resolver := s.newResolver(dc.Credential)

	customerRef, err := resolver.ResolveCustomer(ctx, req.Customer, dc.AutoCreate)
	if err != nil {
		return nil, err
	}
	linePayloads, totalAmount, lineDescriptor, err := buildSalesLines(ctx, resolver, req.Lines)
	if err != nil {
		return nil, err
	}

	payload := map[string]interface{}{
		"TxnDate":     req.Date,
		"CustomerRef": customerRef.Map(),
		"Line":        linePayloads,
	}
	if err := s.applyDocExtras(ctx, resolver, payload, req.PrivateNote, req.DocNumber, req.ClassName); err != nil {
		return nil, err
	}

	descriptor := lineDescriptor
	if descriptor == "" {
		descriptor = deref(req.PrivateNote)
	}
	fingerprint := BuildFingerprint(
		dc.Credential.RealmID,
		"SalesReceipt",
		req.Date,
		totalAmount,
		customerRef.Value,
		descriptor,
		deref(req.DocNumber),
		deref(req.TxnID),
	)
	return s.execute(ctx, dc, resolver, "salesreceipt:create", "SalesReceipt", "salesreceipt", req, payload, fingerprint)
}

// CreateInvoice 创建应收发票
func (s *DocumentService) CreateInvoice(ctx context.Context, dc *DocumentContext, req *dto.InvoiceCreate) (*dto.QBOProxyResponse, error) {
	resolver := s.newResolver(dc.Credential)

	customerRef, err := resolver.ResolveCustomer(ctx, req.Customer, dc.AutoCreate)
	if err != nil {
		return nil, err
	}
	linePayloads, totalAmount, _, err := buildSalesLines(ctx, resolver, req.Lines)
	if err != nil {
		return nil, err
	}

	payload := map[string]interface{}{
		"TxnDate":     req.Date,
		"CustomerRef": customerRef.Map(),
		"Line":        linePayloads,
	}
	if err := s.applyDocExtras(ctx, resolver, payload, req.PrivateNote, req.DocNumber, req.ClassName); err != nil {
		return nil, err
	}

	fingerprint := BuildFingerprint(
		dc.Credential.RealmID,
		"Invoice",
		req.Date,
		totalAmount,
		customerRef.Value,
		deref(req.DocNumber),
		deref(req.TxnID),
	)
	return s.execute(ctx, dc, resolver, "invoice:create", "Invoice", "invoice", req, payload, fingerprint)
}

// CreateBill 创建应付账单
func (s *DocumentService) CreateBill(ctx context.Context, dc *DocumentContext, req *dto.BillCreate) (*dto.QBOProxyResponse, error) {
	resolver := s.newResolver(dc.Credential)

	vendorRef, err := resolver.ResolveVendor(ctx, req.Vendor, dc.AutoCreate)
	if err != nil {
		return nil, err
	}
	linePayloads, totalAmount, err := buildBillLines(ctx, resolver, req.Lines)
	if err != nil {
		return nil, err
	}

	payload := map[string]interface{}{
		"TxnDate":   req.Date,
		"VendorRef": vendorRef.Map(),
		"Line":      linePayloads,
	}
	if err := s.applyDocExtras(ctx, resolver, payload, req.PrivateNote, req.DocNumber, req.ClassName); err != nil {
		return nil, err
	}

	fingerprint := BuildFingerprint(
		dc.Credential.RealmID,
		"Bill",
		req.Date,
		totalAmount,
		vendorRef.Value,
		deref(req.DocNumber),
		deref(req.TxnID),
	)
	return s.execute(ctx, dc, resolver, "bill:create", "Bill", "bill", req, payload, fingerprint)
}

// CreatePayment 收款核销发票
func (s *DocumentService) CreatePayment(ctx context.Context, dc *DocumentContext, req *dto.PaymentCreate) (*dto.QBOProxyResponse, error) {
	resolver := s.newResolver(dc.Credential)

	customerRef, err := resolver.ResolveCustomer(ctx, req.Customer, dc.AutoCreate)
	if err != nil {
		return nil, err
	}
	linePayloads, totalAmount, refDocs, err := buildPaymentLines(ctx, resolver, req.Lines, "Invoice")
	if err != nil {
		return nil, err
	}

	payload := map[string]interface{}{
		"TxnDate":     req.Date,
		"CustomerRef": customerRef.Map(),
		"Line":        linePayloads,
		"TotalAmt":    amountValue(totalAmount),
	}
	if req.DocNumber != nil && *req.DocNumber != "" {
		payload["PaymentRefNum"] = *req.DocNumber
	}
	if req.PrivateNote != nil && *req.PrivateNote != "" {
		payload["PrivateNote"] = *req.PrivateNote
	}
	if req.DepositToAccount != nil && *req.DepositToAccount != "" {
		ref, err := resolver.ResolveAccount(ctx, *req.DepositToAccount, "")
		if err != nil {
			return nil, err
		}
		payload["DepositToAccountRef"] = ref.Map()
	}
	if req.ARAccount != nil && *req.ARAccount != "" {
		ref, err := resolver.ResolveAccount(ctx, *req.ARAccount, "")
		if err != nil {
			return nil, err
		}
		payload["ARAccountRef"] = ref.Map()
	}

	fingerprint := BuildFingerprint(
		dc.Credential.RealmID,
		"Payment",
		req.Date,
		totalAmount,
		customerRef.Value,
		refDocs,
		deref(req.TxnID),
	)
	return s.execute(ctx, dc, resolver, "payment:create", "Payment", "payment", req, payload, fingerprint)
}

// CreateBillPayment 付款核销账单，支持支票或信用卡
func (s *DocumentService) CreateBillPayment(ctx context.Context, dc *DocumentContext, req *dto.BillPaymentCreate) (*dto.QBOProxyResponse, error) {
	resolver := s.newResolver(dc.Credential)

	vendorRef, err := resolver.ResolveVendor(ctx, req.Vendor, dc.AutoCreate)
	if err != nil {
		return nil, err
	}
	linePayloads, totalAmount, refDocs, err := buildPaymentLines(ctx, resolver, req.Lines, "Bill")
	if err != nil {
		return nil, err
	}

	paymentType := req.PaymentType
	if paymentType == "" {
		paymentType = "Check"
	}
	accountType := "Bank"
	if paymentType == "CreditCard" {
		accountType = "Credit Card"
	}
	paymentAccountRef, err := resolver.ResolveAccount(ctx, req.BankAccount, accountType)
	if err != nil {
		return nil, err
	}

	payload := map[string]interface{}{
		"TxnDate":   req.Date,
		"VendorRef": vendorRef.Map(),
		"PayType":   paymentType,
		"Line":      linePayloads,
		"TotalAmt":  amountValue(totalAmount),
	}
	if req.DocNumber != nil && *req.DocNumber != "" {
		payload["DocNumber"] = *req.DocNumber
	}
	if req.PrivateNote != nil && *req.PrivateNote != "" {
		payload["PrivateNote"] = *req.PrivateNote
	}
	if req.APAccount != nil && *req.APAccount != "" {
		ref, err := resolver.ResolveAccount(ctx, *req.APAccount, "")
		if err != nil {
			return nil, err
		}
		payload["APAccountRef"] = ref.Map()
	}
	if paymentType == "CreditCard" {
		payload["CreditCardPayment"] = map[string]interface{}{"CCAccountRef": paymentAccountRef.Map()}
	} else {
		payload["CheckPayment"] = map[string]interface{}{"BankAccountRef": paymentAccountRef.Map()}
	}

	fingerprint := BuildFingerprint(
		dc.Credential.RealmID,
		"BillPayment",
		req.Date,
		totalAmount,
		vendorRef.Value,
		refDocs,
		deref(req.TxnID),
	)
	return s.execute(ctx, dc, resolver, "billpayment:create", "BillPayment", "billpayment", req, payload, fingerprint)
}

// CreateExpense 创建现金费用（QBO Purchase）
func (s *DocumentService) CreateExpense(ctx context.Context, dc *DocumentContext, req *dto.ExpenseCreate) (*dto.QBOProxyResponse, error) {
	resolver := s.newResolver(dc.Credential)
	autoCreate := allowAutoCreate(dc)

	vendorRef, err := resolver.ResolveVendor(ctx, req.Vendor, autoCreate)
	if err != nil {
		return nil, err
	}
	bankRef, err := resolver.EnsureAccount(ctx, req.BankAccount, "Bank", "Checking", autoCreate)
	if err != nil {
		return nil, err
	}
	linePayloads, totalAmount, lineDescriptor, err := buildExpenseLines(ctx, resolver, req.Lines, autoCreate)
	if err != nil {
		return nil, err
	}

	payload := map[string]interface{}{
		"TxnDate":     req.Date,
		"EntityRef":   vendorRef.Map(),
		"Line":        linePayloads,
		"AccountRef":  bankRef.Map(),
		"PaymentType": "Cash",
	}
	if req.PrivateNote != nil && *req.PrivateNote != "" {
		payload["PrivateNote"] = *req.PrivateNote
	}
	if req.DocNumber != nil && *req.DocNumber != "" {
		payload["DocNumber"] = *req.DocNumber
	}

	descriptor := lineDescriptor
	if descriptor == "" {
		descriptor = deref(req.PrivateNote)
	}
	fingerprint := BuildFingerprint(
		dc.Credential.RealmID,
		"Purchase",
		req.Date,
		totalAmount,
		vendorRef.Value,
		descriptor,
		deref(req.DocNumber),
	)
	return s.execute(ctx, dc, resolver, "expense:create", "Purchase", "purchase", req, payload, fingerprint)
}

// CreateCustomer 创建客户主档
func (s *DocumentService) CreateCustomer(ctx context.Context, dc *DocumentContext, req *dto.CustomerCreate) (*dto.QBOProxyResponse, error) {
	resolver := s.newResolver(dc.Credential)
	payload := buildContactPayload(req.DisplayName, req.Email, req.Phone, req.Address)
	fingerprint := BuildFingerprint(
		dc.Credential.RealmID,
		"Customer",
		req.DisplayName,
		firstNonEmpty(deref(req.Email), deref(req.Phone)),
	)
	return s.execute(ctx, dc, resolver, "customer:create", "Customer", "customer", req, payload, fingerprint)
}

// CreateVendor 创建供应商主档
func (s *DocumentService) CreateVendor(ctx context.Context, dc *DocumentContext, req *dto.VendorCreate) (*dto.QBOProxyResponse, error) {
	resolver := s.newResolver(dc.Credential)
	payload := buildContactPayload(req.DisplayName, req.Email, req.Phone, req.Address)
	fingerprint := BuildFingerprint(
		dc.Credential.RealmID,
		"Vendor",
		req.DisplayName,
		firstNonEmpty(deref(req.Email), deref(req.Phone)),
	)
	return s.execute(ctx, dc, resolver, "vendor:create", "Vendor", "vendor", req, payload, fingerprint)
}

// CreateItem 创建商品/服务，库存商品要求完整的库存三件套
func (s *DocumentService) CreateItem(ctx context.Context, dc *DocumentContext, req *dto.ItemCreate) (*dto.QBOProxyResponse, error) {
	resolver := s.newResolver(dc.Credential)

	incomeRef, err := resolver.ResolveAccount(ctx, req.IncomeAccount, "")
	if err != nil {
		return nil, err
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}
	payload := map[string]interface{}{
		"Name":             req.Name,
		"Type":             req.Type,
		"IncomeAccountRef": incomeRef.Map(),
		"Active":           active,
	}
	if req.Description != nil && *req.Description != "" {
		payload["Description"] = *req.Description
	}
	if req.SKU != nil && *req.SKU != "" {
		payload["Sku"] = *req.SKU
	}
	if req.ExpenseAccount != nil && *req.ExpenseAccount != "" {
		ref, err := resolver.ResolveAccount(ctx, *req.ExpenseAccount, "")
		if err != nil {
			return nil, err
		}
		payload["ExpenseAccountRef"] = ref.Map()
	}
	if req.Type == "Inventory" {
		if req.AssetAccount == nil || req.QuantityOnHand == nil || req.InventoryStartDate == nil {
			return nil, responses.New(responses.CodeValidationError,
				"库存商品必须提供 asset_account、quantity_on_hand 和 inventory_start_date")
		}
		assetRef, err := resolver.ResolveAccount(ctx, *req.AssetAccount, "")
		if err != nil {
			return nil, err
		}
		payload["AssetAccountRef"] = assetRef.Map()
		payload["TrackQtyOnHand"] = true
		payload["QtyOnHand"] = amountValue(*req.QuantityOnHand)
		payload["InvStartDate"] = *req.InventoryStartDate
	} else {
		payload["TrackQtyOnHand"] = false
	}

	fingerprint := BuildFingerprint(
		dc.Credential.RealmID,
		"Item",
		req.Name,
		req.Type,
		deref(req.SKU),
	)
	return s.execute(ctx, dc, resolver, "item:create", "Item", "item", req, payload, fingerprint)
}

// ListEntities 列表查询，过滤条件按实体配置白名单校验
func (s *DocumentService) ListEntities(ctx context.Context, credential *model.ClientCredential, entityKey string, query *dto.CollectionQuery, accountsQuery *dto.AccountsQuery) (*dto.QBOListResponse, error) {
	config, ok := queryEntities[entityKey]
	if !ok {
		return nil, responses.Newf(responses.CodeNotFound, "未知的实体类型: %s", entityKey)
	}
	resolver := s.newResolver(credential)

	start := query.StartPosition
	if start < 1 {
		start = 1
	}
	limit := query.MaxResults
	if limit < 1 {
		limit = constants.QBODefaultPageSize
	}
	if limit > constants.QBOMaxPageSize {
		limit = constants.QBOMaxPageSize
	}

	clauses := append([]string{}, config.extraFilters...)
	if query.UpdatedSince != "" {
		if config.updatedField == "" {
			return nil, responses.New(responses.CodeBadRequest, "该资源不支持 updated_since 过滤")
		}
		formatted, err := formatQueryDatetime(query.UpdatedSince)
		if err != nil {
			return nil, responses.Wrap(responses.CodeBadRequest, "updated_since 时间格式非法", err)
		}
		clauses = append(clauses, fmt.Sprintf("%s >= '%s'", config.updatedField, formatted))
	}
	if query.DateFrom != "" {
		if config.dateField == "" {
			return nil, responses.New(responses.CodeBadRequest, "该资源不支持 date_from 过滤")
		}
		clauses = append(clauses, fmt.Sprintf("%s >= '%s'", config.dateField, query.DateFrom))
	}
	if query.DateTo != "" {
		if config.dateField == "" {
			return nil, responses.New(responses.CodeBadRequest, "该资源不支持 date_to 过滤")
		}
		clauses = append(clauses, fmt.Sprintf("%s <= '%s'", config.dateField, query.DateTo))
	}
	if query.CustomerRef != "" {
		if config.customerField == "" {
			return nil, responses.New(responses.CodeBadRequest, "该资源不支持 customer_ref 过滤")
		}
		resolved, err := resolver.ResolveCustomer(ctx, query.CustomerRef, false)
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, fmt.Sprintf("%s = '%s'", config.customerField, escapeQueryValue(resolved.Value)))
	}
	if query.VendorRef != "" {
		if config.vendorField == "" {
			return nil, responses.New(responses.CodeBadRequest, "该资源不支持 vendor_ref 过滤")
		}
		resolved, err := resolver.ResolveVendor(ctx, query.VendorRef, false)
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, fmt.Sprintf("%s = '%s'", config.vendorField, escapeQueryValue(resolved.Value)))
	}
	if query.DocNumber != "" {
		if config.docField == "" {
			return nil, responses.New(responses.CodeBadRequest, "该资源不支持 doc_number 过滤")
		}
		clauses = append(clauses, fmt.Sprintf("%s = '%s'", config.docField, escapeQueryValue(query.DocNumber)))
	}
	if query.Status != "" {
		if config.statusField == "" {
			return nil, responses.New(responses.CodeBadRequest, "该资源不支持 status 过滤")
		}
		if config.statusField == "Active" {
			normalized := strings.ToLower(query.Status)
			if normalized != constants.ClientStatusActive && normalized != constants.ClientStatusInactive {
				return nil, responses.New(responses.CodeBadRequest, "status 只能是 active 或 inactive")
			}
			clauses = append(clauses, fmt.Sprintf("%s = %t", config.statusField, normalized == constants.ClientStatusActive))
		} else {
			clauses = append(clauses, fmt.Sprintf("%s = '%s'", config.statusField, escapeQueryValue(query.Status)))
		}
	}
	if entityKey == "accounts" && accountsQuery != nil {
		if accountsQuery.AccountType != "" {
			clauses = append(clauses, fmt.Sprintf("AccountType = '%s'", escapeQueryValue(accountsQuery.AccountType)))
		}
		if accountsQuery.Classification != "" {
			clauses = append(clauses, fmt.Sprintf("Classification = '%s'", escapeQueryValue(accountsQuery.Classification)))
		}
		if accountsQuery.Active != nil {
			clauses = append(clauses, fmt.Sprintf("Active = %t", *accountsQuery.Active))
		}
	}

	sql := "select * from " + config.table
	if len(clauses) > 0 {
		sql = sql + " where " + strings.Join(clauses, " AND ")
	}
	if config.orderBy != "" {
		sql = sql + " order by " + config.orderBy
	}

	data, refreshed, latencyMs, err := s.qbo.Query(ctx, credential, config.table, sql, start, limit)
	if err != nil {
		return nil, mapTxnError(err)
	}
	refreshed = refreshed || resolver.Refreshed()

	queryResponse, _ := data["QueryResponse"].(map[string]interface{})
	var items []interface{}
	switch raw := queryResponse[config.resultKey].(type) {
	case []interface{}:
		items = raw
	case map[string]interface{}:
		items = []interface{}{raw}
	}

	nextStart := computeNextStartPosition(queryResponse, start, limit, len(items))

	s.logger.Info("qbo_query_success",
		zap.String("entity", entityKey),
		zap.String("realm_id", credential.RealmID),
		zap.Int("items", len(items)),
		zap.Bool("refreshed", refreshed),
	)

	return &dto.QBOListResponse{
		Items:             items,
		NextStartPosition: nextStart,
		LatencyMs:         math.Round(latencyMs*100) / 100,
		Refreshed:         refreshed,
	}, nil
}

// GetAccountDetail 按Id/名称/全限定名取科目详情
func (s *DocumentService) GetAccountDetail(ctx context.Context, credential *model.ClientCredential, accountID string) (*dto.QBOAccountDetailResponse, error) {
	resolver := s.newResolver(credential)
	record, err := resolver.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return &dto.QBOAccountDetailResponse{
		Account:   record,
		LatencyMs: math.Round(resolver.LatencyMs()*100) / 100,
		Refreshed: resolver.Refreshed(),
	}, nil
}

// UpdateAccount 稀疏更新科目，SyncToken取自最新读取
func (s *DocumentService) UpdateAccount(ctx context.Context, credential *model.ClientCredential, accountID string, req *dto.AccountUpdate) (*dto.QBOAccountDetailResponse, error) {
	if !req.HasUpdates() {
		return nil, responses.New(responses.CodeValidationError, "至少提供一个待更新字段")
	}
	resolver := s.newResolver(credential)
	record, err := resolver.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	syncToken, ok := record["SyncToken"]
	if !ok || syncToken == nil {
		return nil, responses.New(responses.CodeUpstreamAPI, "账户payload缺少SyncToken")
	}

	acctNum := record["AcctNum"]
	if acctNum == nil {
		acctNum = record["AccountNumber"]
	}
	payload := map[string]interface{}{
		"Id":             record["Id"],
		"SyncToken":      syncToken,
		"sparse":         true,
		"Name":           record["Name"],
		"AcctNum":        acctNum,
		"Description":    record["Description"],
		"Active":         record["Active"],
		"AccountType":    record["AccountType"],
		"AccountSubType": record["AccountSubType"],
		"Classification": record["Classification"],
	}
	if parentRef, ok := record["ParentRef"]; ok && parentRef != nil {
		payload["ParentRef"] = parentRef
		payload["SubAccount"] = true
	}

	if req.Name != nil && *req.Name != "" {
		payload["Name"] = *req.Name
	}
	if req.AccountNumber != nil && *req.AccountNumber != "" {
		payload["AcctNum"] = *req.AccountNumber
	}
	if req.Description != nil && *req.Description != "" {
		payload["Description"] = *req.Description
	}
	if req.Active != nil {
		payload["Active"] = *req.Active
	}
	if req.ParentAccount != nil && *req.ParentAccount != "" {
		parentRecord, err := resolver.GetAccount(ctx, *req.ParentAccount)
		if err != nil {
			return nil, err
		}
		if stringValue(parentRecord["Id"]) == stringValue(record["Id"]) {
			return nil, responses.New(responses.CodeBadRequest, "账户不能作为自身的父账户")
		}
		parentRef := map[string]interface{}{"value": stringValue(parentRecord["Id"])}
		if name := stringValue(parentRecord["Name"]); name != "" {
			parentRef["name"] = name
		}
		payload["ParentRef"] = parentRef
		payload["SubAccount"] = true
	}

	for key, value := range payload {
		if value == nil {
			delete(payload, key)
		}
	}

	data, refreshed, latencyMs, _, err := s.qbo.Post(ctx, credential, "Account", "account?operation=update", payload)
	if err != nil {
		return nil, mapTxnError(err)
	}

	account, ok := data["Account"].(map[string]interface{})
	if !ok {
		account = data
	}
	return &dto.QBOAccountDetailResponse{
		Account:   account,
		LatencyMs: math.Round(latencyMs*100) / 100,
		Refreshed: resolver.Refreshed() || refreshed,
	}, nil
}

// CompanyInfo 连通性验证，成功即代表token链路健康
func (s *DocumentService) CompanyInfo(ctx context.Context, client *model.Client, credential *model.ClientCredential) (*dto.QBOProxyResponse, error) {
	data, refreshed, latencyMs, err := s.qbo.FetchCompanyInfo(ctx, credential)
	if err != nil {
		s.logger.Error("qbo_proxy_error",
			zap.String("client_id", client.ID.String()),
			zap.String("realm_id", credential.RealmID),
			zap.Error(err),
		)
		return nil, mapTxnError(err)
	}
	s.logger.Info("qbo_companyinfo_success",
		zap.String("client_id", client.ID.String()),
		zap.String("realm_id", credential.RealmID),
		zap.Bool("refreshed", refreshed),
	)
	return &dto.QBOProxyResponse{
		ClientID:    client.ID.String(),
		RealmID:     credential.RealmID,
		Environment: credential.Environment,
		FetchedAt:   s.now().UTC(),
		LatencyMs:   math.Round(latencyMs*100) / 100,
		Data:        data,
		Refreshed:   refreshed,
	}, nil
}

func (s *DocumentService) execute(ctx context.Context, dc *DocumentContext, resolver *ReferenceResolver, resourceType, entity, resource string, req interface{}, payload map[string]interface{}, fingerprint string) (*dto.QBOProxyResponse, error) {
	return s.txn.ExecutePost(ctx, &TxnInput{
		Client:            dc.Client,
		Credential:        dc.Credential,
		RequestID:         dc.RequestID,
		IdempotencyKey:    dc.IdempotencyKey,
		ResourceType:      resourceType,
		RequestPayload:    dtoToMap(req),
		Fingerprint:       fingerprint,
		Entity:            entity,
		Resource:          resource,
		Payload:           payload,
		ResolverRefreshed: resolver.Refreshed(),
	})
}

// applyDocExtras 附加备注/单号/分类，三个文档类共用
func (s *DocumentService) applyDocExtras(ctx context.Context, resolver *ReferenceResolver, payload map[string]interface{}, privateNote, docNumber, className *string) error {
	if privateNote != nil && *privateNote != "" {
		payload["PrivateNote"] = *privateNote
	}
	if docNumber != nil && *docNumber != "" {
		payload["DocNumber"] = *docNumber
	}
	if className != nil && *className != "" {
		classRef, err := resolver.ResolveClass(ctx, *className)
		if err != nil {
			return err
		}
		payload["ClassRef"] = classRef.Map()
	}
	return nil
}

// buildSalesLines 销售行：先按商品解析，404回退到账户
func buildSalesLines(ctx context.Context, resolver *ReferenceResolver, lines []dto.DocumentLine) ([]interface{}, decimal.Decimal, string, error) {
	payloadLines := make([]interface{}, 0, len(lines))
	totalAmount := decimal.Zero
	firstDescription := ""
	for _, line := range lines {
		if err := requirePositiveAmount(line.Amount); err != nil {
			return nil, decimal.Zero, "", err
		}
		totalAmount = totalAmount.Add(line.Amount)

		var salesDetail map[string]interface{}
		itemRef, err := resolver.ResolveItem(ctx, line.AccountOrItem)
		if err == nil {
			salesDetail = map[string]interface{}{"ItemRef": itemRef.Map()}
		} else if isNotFound(err) {
			accountRef, accErr := resolver.ResolveAccount(ctx, line.AccountOrItem, "")
			if accErr != nil {
				return nil, decimal.Zero, "", accErr
			}
			salesDetail = map[string]interface{}{"ItemAccountRef": accountRef.Map()}
		} else {
			return nil, decimal.Zero, "", err
		}

		if line.ClassName != nil && *line.ClassName != "" {
			classRef, err := resolver.ResolveClass(ctx, *line.ClassName)
			if err != nil {
				return nil, decimal.Zero, "", err
			}
			salesDetail["ClassRef"] = classRef.Map()
		}

		detail := map[string]interface{}{
			"Amount":              amountValue(line.Amount),
			"DetailType":          "SalesItemLineDetail",
			"SalesItemLineDetail": salesDetail,
		}
		if line.Description != nil && *line.Description != "" {
			detail["Description"] = *line.Description
			if firstDescription == "" {
				firstDescription = *line.Description
			}
		}
		payloadLines = append(payloadLines, detail)
	}
	return payloadLines, totalAmount, firstDescription, nil
}

// buildBillLines 账单行：商品行和账户行走不同的DetailType
func buildBillLines(ctx context.Context, resolver *ReferenceResolver, lines []dto.DocumentLine) ([]interface{}, decimal.Decimal, error) {
	payloadLines := make([]interface{}, 0, len(lines))
	totalAmount := decimal.Zero
	for _, line := range lines {
		if err := requirePositiveAmount(line.Amount); err != nil {
			return nil, decimal.Zero, err
		}
		totalAmount = totalAmount.Add(line.Amount)

		var detailType string
		var content map[string]interface{}
		itemRef, err := resolver.ResolveItem(ctx, line.AccountOrItem)
		if err == nil {
			detailType = "ItemBasedExpenseLineDetail"
			content = map[string]interface{}{"ItemRef": itemRef.Map()}
		} else if isNotFound(err) {
			accountRef, accErr := resolver.ResolveAccount(ctx, line.AccountOrItem, "")
			if accErr != nil {
				return nil, decimal.Zero, accErr
			}
			detailType = "AccountBasedExpenseLineDetail"
			content = map[string]interface{}{"AccountRef": accountRef.Map()}
		} else {
			return nil, decimal.Zero, err
		}

		if line.ClassName != nil && *line.ClassName != "" {
			classRef, err := resolver.ResolveClass(ctx, *line.ClassName)
			if err != nil {
				return nil, decimal.Zero, err
			}
			content["ClassRef"] = classRef.Map()
		}

		detail := map[string]interface{}{
			"Amount":     amountValue(line.Amount),
			"DetailType": detailType,
			detailType:   content,
		}
		if line.Description != nil && *line.Description != "" {
			detail["Description"] = *line.Description
		}
		payloadLines = append(payloadLines, detail)
	}
	return payloadLines, totalAmount, nil
}

// buildDepositLines 存款行：账户 → 商品收入账户 → 自动建收入账户 三级回退
func buildDepositLines(ctx context.Context, resolver *ReferenceResolver, lines []dto.DepositLine, autoCreateAccounts, autoCreateEntities bool) ([]interface{}, decimal.Decimal, string, error) {
	payloadLines := make([]interface{}, 0, len(lines))
	totalAmount := decimal.Zero
	firstDescription := ""
	for _, line := range lines {
		if err := requirePositiveAmount(line.Amount); err != nil {
			return nil, decimal.Zero, "", err
		}
		if (line.EntityType == nil) != (line.EntityName == nil) {
			return nil, decimal.Zero, "", responses.New(responses.CodeValidationError,
				"entity_name 和 entity_type 必须同时提供")
		}
		totalAmount = totalAmount.Add(line.Amount)

		accountRef, err := resolver.ResolveAccount(ctx, line.AccountOrItem, "")
		if err != nil {
			if !isNotFound(err) {
				return nil, decimal.Zero, "", err
			}
			accountRef, err = resolver.ResolveItemIncomeAccount(ctx, line.AccountOrItem)
			if err != nil {
				if isNotFound(err) && autoCreateAccounts {
					accountRef, err = resolver.EnsureAccount(ctx, line.AccountOrItem, "Income", "SalesOfProductIncome", true)
					if err != nil {
						return nil, decimal.Zero, "", err
					}
				} else {
					return nil, decimal.Zero, "", err
				}
			}
		}

		depositDetail := map[string]interface{}{
			"AccountRef": accountRef.Map(),
		}
		if line.EntityType != nil && line.EntityName != nil {
			entityRef, err := resolver.ResolveEntityWithAutoCreate(ctx, *line.EntityName, *line.EntityType, autoCreateEntities)
			if err != nil {
				return nil, decimal.Zero, "", err
			}
			depositDetail["Entity"] = entityRef.Map()
		}
		if line.ClassName != nil && *line.ClassName != "" {
			classRef, err := resolver.ResolveClass(ctx, *line.ClassName)
			if err != nil {
				return nil, decimal.Zero, "", err
			}
			depositDetail["ClassRef"] = classRef.Map()
		}

		detail := map[string]interface{}{
			"Amount":            amountValue(line.Amount),
			"DetailType":        "DepositLineDetail",
			"DepositLineDetail": depositDetail,
		}
		if line.Description != nil && *line.Description != "" {
			detail["Description"] = *line.Description
			if firstDescription == "" {
				firstDescription = *line.Description
			}
		}
		payloadLines = append(payloadLines, detail)
	}
	return payloadLines, totalAmount, firstDescription, nil
}

// buildPaymentLines 核销行：每行必须命中已有单据，指纹里带排序去重的单号集
func buildPaymentLines(ctx context.Context, resolver *ReferenceResolver, lines []dto.PaymentLine, txnType string) ([]interface{}, decimal.Decimal, string, error) {
	payloadLines := make([]interface{}, 0, len(lines))
	totalAmount := decimal.Zero
	docNumbers := make(map[string]struct{})
	for idx, line := range lines {
		if err := requirePositiveAmount(line.Amount); err != nil {
			return nil, decimal.Zero, "", err
		}
		totalAmount = totalAmount.Add(line.Amount)

		var txnRef *TxnReference
		var err error
		if txnType == "Bill" {
			txnRef, err = resolver.ResolveBillTxn(ctx, line.LinkedDoc)
		} else {
			txnRef, err = resolver.ResolveInvoiceTxn(ctx, line.LinkedDoc)
		}
		if err != nil {
			return nil, decimal.Zero, "", err
		}
		refID := txnRef.DocNumber
		if refID == "" {
			refID = txnRef.Value
		}
		docNumbers[refID] = struct{}{}

		detail := map[string]interface{}{
			"Amount": amountValue(line.Amount),
			"LinkedTxn": []interface{}{
				map[string]interface{}{
					"TxnId":   txnRef.Value,
					"TxnType": txnType,
				},
			},
		}
		if txnType == "Invoice" {
			detail["LineNum"] = idx + 1
		}
		if line.Description != nil && *line.Description != "" {
			detail["Description"] = *line.Description
		}
		payloadLines = append(payloadLines, detail)
	}
	sorted := lo.Keys(docNumbers)
	sort.Strings(sorted)
	return payloadLines, totalAmount, strings.Join(sorted, ","), nil
}

// buildExpenseLines 费用行：账户未命中且允许时自动建费用账户
func buildExpenseLines(ctx context.Context, resolver *ReferenceResolver, lines []dto.ExpenseLine, autoCreateAccounts bool) ([]interface{}, decimal.Decimal, string, error) {
	payloadLines := make([]interface{}, 0, len(lines))
	totalAmount := decimal.Zero
	firstDescription := ""
	for _, line := range lines {
		if err := requirePositiveAmount(line.Amount); err != nil {
			return nil, decimal.Zero, "", err
		}
		totalAmount = totalAmount.Add(line.Amount)

		accountRef, err := resolver.ResolveAccount(ctx, line.ExpenseAccount, "")
		if err != nil {
			if isNotFound(err) && autoCreateAccounts {
				accountRef, err = resolver.EnsureAccount(ctx, line.ExpenseAccount, "Expense", "OfficeGeneralAdministrativeExpenses", true)
				if err != nil {
					return nil, decimal.Zero, "", err
				}
			} else {
				return nil, decimal.Zero, "", err
			}
		}

		content := map[string]interface{}{
			"AccountRef": accountRef.Map(),
		}
		if line.ClassName != nil && *line.ClassName != "" {
			classRef, err := resolver.ResolveClass(ctx, *line.ClassName)
			if err != nil {
				return nil, decimal.Zero, "", err
			}
			content["ClassRef"] = classRef.Map()
		}

		detail := map[string]interface{}{
			"Amount":                        amountValue(line.Amount),
			"DetailType":                    "AccountBasedExpenseLineDetail",
			"AccountBasedExpenseLineDetail": content,
		}
		if line.Description != nil && *line.Description != "" {
			detail["Description"] = *line.Description
			if firstDescription == "" {
				firstDescription = *line.Description
			}
		}
		payloadLines = append(payloadLines, detail)
	}
	return payloadLines, totalAmount, firstDescription, nil
}

func buildContactPayload(displayName string, email, phone *string, address *dto.ContactAddress) map[string]interface{} {
	payload := map[string]interface{}{
		"DisplayName": displayName,
	}
	if email != nil && *email != "" {
		payload["PrimaryEmailAddr"] = map[string]interface{}{"Address": *email}
	}
	if phone != nil && *phone != "" {
		payload["PrimaryPhone"] = map[string]interface{}{"FreeFormNumber": *phone}
	}
	if address != nil {
		addr := map[string]interface{}{"Line1": address.Line1}
		if address.Line2 != nil && *address.Line2 != "" {
			addr["Line2"] = *address.Line2
		}
		if address.City != nil && *address.City != "" {
			addr["City"] = *address.City
		}
		if address.State != nil && *address.State != "" {
			addr["CountrySubDivisionCode"] = *address.State
		}
		if address.PostalCode != nil && *address.PostalCode != "" {
			addr["PostalCode"] = *address.PostalCode
		}
		if address.Country != nil && *address.Country != "" {
			addr["Country"] = *address.Country
		}
		payload["BillAddr"] = addr
	}
	return payload
}

// computeNextStartPosition 有totalCount按总数判断，否则满页即推定还有下一页
func computeNextStartPosition(queryResponse map[string]interface{}, startPosition, maxResults, itemCount int) *int {
	if itemCount == 0 {
		return nil
	}
	if reported, ok := queryResponse["startPosition"].(float64); ok {
		startPosition = int(reported)
	}
	candidate := startPosition + itemCount
	if totalCount, ok := queryResponse["totalCount"].(float64); ok {
		if candidate <= int(totalCount) {
			return &candidate
		}
		return nil
	}
	if itemCount == maxResults {
		return &candidate
	}
	return nil
}

// formatQueryDatetime 归一化成UTC的RFC3339，裸时间按UTC处理
func formatQueryDatetime(value string) (string, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"} {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed.UTC().Format("2006-01-02T15:04:05Z"), nil
		}
	}
	return "", fmt.Errorf("无法解析时间: %s", value)
}

func requirePositiveAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return responses.New(responses.CodeValidationError, "明细金额必须大于0")
	}
	return nil
}

func isNotFound(err error) bool {
	var appErr *responses.AppError
	return errors.As(err, &appErr) && appErr.Code == responses.CodeNotFound
}

func amountValue(amount decimal.Decimal) float64 {
	value, _ := amount.Float64()
	return value
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}

// dtoToMap 经JSON一轮转换拿到与线上请求体一致的map表示
func dtoToMap(value interface{}) map[string]interface{} {
	raw, err := json.Marshal(value)
	if err != nil {
		return map[string]interface{}{}
	}
	var result map[string]interface{}
	if err := json.Unmarshal(raw, &result); err != nil {
		return map[string]interface{}{}
	}
	return result
}
