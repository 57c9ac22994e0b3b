package dto

import (
	"time"

	"github.com/shopspring/decimal"
)

// QBOProxyResponse 代理写入响应，同时作为幂等回放的缓存体
type QBOProxyResponse struct {
	ClientID        string                 `json:"client_id"`
	RealmID         string                 `json:"realm_id"`
	Environment     string                 `json:"environment"`
	FetchedAt       time.Time              `json:"fetched_at"`
	LatencyMs       float64                `json:"latency_ms"`
	Data            map[string]interface{} `json:"data"`
	Refreshed       bool                   `json:"refreshed"`
	IdempotentReuse bool                   `json:"idempotent_reuse"`
}

// QBOListResponse 实体列表响应
type QBOListResponse struct {
	Items             []interface{} `json:"items"`
	NextStartPosition *int          `json:"next_startposition"`
	LatencyMs         float64       `json:"latency_ms"`
	Refreshed         bool          `json:"refreshed"`
}

// QBOAccountDetailResponse 账户详情响应
type QBOAccountDetailResponse struct {
	Account   map[string]interface{} `json:"account"`
	LatencyMs float64                `json:"latency_ms"`
	Refreshed bool                   `json:"refreshed"`
}

// CollectionQuery 交易/主数据列表查询参数
type CollectionQuery struct {
	Environment   string `form:"environment" binding:"omitempty,oneof=sandbox prod"`
	UpdatedSince  string `form:"updated_since" binding:"omitempty"`
	DateFrom      string `form:"date_from" binding:"omitempty,datetime=2006-01-02"`
	DateTo        string `form:"date_to" binding:"omitempty,datetime=2006-01-02"`
	StartPosition int    `form:"startposition" binding:"omitempty,min=1"`
	MaxResults    int    `form:"maxresults" binding:"omitempty,min=1,max=1000"`
	CustomerRef   string `form:"customer_ref"`
	VendorRef     string `form:"vendor_ref"`
	DocNumber     string `form:"doc_number"`
	Status        string `form:"status"`
}

// AccountsQuery 科目表查询参数
type AccountsQuery struct {
	Environment    string `form:"environment" binding:"omitempty,oneof=sandbox prod"`
	UpdatedSince   string `form:"updated_since" binding:"omitempty"`
	AccountType    string `form:"account_type"`
	Classification string `form:"classification"`
	Active         *bool  `form:"active"`
	StartPosition  int    `form:"startposition" binding:"omitempty,min=1"`
	MaxResults     int    `form:"maxresults" binding:"omitempty,min=1,max=1000"`
}

// QBOWriteQuery 写入操作的查询参数
type QBOWriteQuery struct {
	Environment string `form:"environment" binding:"omitempty,oneof=sandbox prod"`
	AutoCreate  bool   `form:"auto_create"`
}

// ContactAddress 客户/供应商地址
type ContactAddress struct {
	Line1      string  `json:"line1" binding:"required,max=500"`
	Line2      *string `json:"line2" binding:"omitempty,max=500"`
	City       *string `json:"city" binding:"omitempty,max=100"`
	State      *string `json:"state" binding:"omitempty,max=100"`
	PostalCode *string `json:"postal_code" binding:"omitempty,max=50"`
	Country    *string `json:"country" binding:"omitempty,max=100"`
}

// DocumentLine 交易明细行
// AccountOrItem先按商品解析，未命中再按账户解析
type DocumentLine struct {
	Amount        decimal.Decimal `json:"amount" binding:"required"`
	AccountOrItem string          `json:"account_or_item" binding:"required,max=255"`
	Description   *string         `json:"description" binding:"omitempty,max=4000"`
	ClassName     *string         `json:"class" binding:"omitempty,max=255"`
	LinkedDoc     *string         `json:"linked_doc" binding:"omitempty,max=100"`
}

// DepositLine 存款明细行，可选Received From来源
type DepositLine struct {
	DocumentLine
	EntityName *string `json:"entity_name" binding:"omitempty,max=255"`
	EntityType *string `json:"entity_type" binding:"omitempty,oneof=Vendor Customer Employee Other"`
}

// PaymentLine 收付款核销行，必须指向已有单据
type PaymentLine struct {
	Amount      decimal.Decimal `json:"amount" binding:"required"`
	LinkedDoc   string          `json:"linked_doc" binding:"required,max=100"`
	Description *string         `json:"description" binding:"omitempty,max=4000"`
}

// SalesReceiptCreate 销售收据创建请求
type SalesReceiptCreate struct {
	Date        string         `json:"date" binding:"required,datetime=2006-01-02"`
	Customer    string         `json:"customer" binding:"required,max=255"`
	Lines       []DocumentLine `json:"lines" binding:"required,min=1,dive"`
	DocNumber   *string        `json:"doc_number" binding:"omitempty,max=100"`
	PrivateNote *string        `json:"private_note" binding:"omitempty,max=4000"`
	ClassName   *string        `json:"class" binding:"omitempty,max=255"`
	TxnID       *string        `json:"txn_id" binding:"omitempty,max=150"`
}

// InvoiceCreate 发票创建请求
type InvoiceCreate struct {
	Date        string         `json:"date" binding:"required,datetime=2006-01-02"`
	Customer    string         `json:"customer" binding:"required,max=255"`
	Lines       []DocumentLine `json:"lines" binding:"required,min=1,dive"`
	DocNumber   *string        `json:"doc_number" binding:"omitempty,max=100"`
	PrivateNote *string        `json:"private_note" binding:"omitempty,max=4000"`
	ClassName   *string        `json:"class" binding:"omitempty,max=255"`
	TxnID       *string        `json:"txn_id" binding:"omitempty,max=150"`
}

// BillCreate 账单创建请求
type BillCreate struct {
	Date        string         `json:"date" binding:"required,datetime=2006-01-02"`
	Vendor      string         `json:"vendor" binding:"required,max=255"`
	Lines       []DocumentLine `json:"lines" binding:"required,min=1,dive"`
	DocNumber   *string        `json:"doc_number" binding:"omitempty,max=100"`
	PrivateNote *string        `json:"private_note" binding:"omitempty,max=4000"`
	ClassName   *string        `json:"class" binding:"omitempty,max=255"`
	TxnID       *string        `json:"txn_id" binding:"omitempty,max=150"`
}

// DepositCreate 存款创建请求
type DepositCreate struct {
	Date             string        `json:"date" binding:"required,datetime=2006-01-02"`
	DepositToAccount string        `json:"deposit_to_account" binding:"required,max=255"`
	Lines            []DepositLine `json:"lines" binding:"required,min=1,dive"`
	DocNumber        *string       `json:"doc_number" binding:"omitempty,max=100"`
	PrivateNote      *string       `json:"private_note" binding:"omitempty,max=4000"`
	ClassName        *string       `json:"class" binding:"omitempty,max=255"`
	TxnID            *string       `json:"txn_id" binding:"omitempty,max=150"`
}

// PaymentCreate 收款创建请求（核销发票）
type PaymentCreate struct {
	Date             string        `json:"date" binding:"required,datetime=2006-01-02"`
	Customer         string        `json:"customer" binding:"required,max=255"`
	Lines            []PaymentLine `json:"lines" binding:"required,min=1,dive"`
	DepositToAccount *string       `json:"deposit_to_account" binding:"omitempty,max=255"`
	ARAccount        *string       `json:"ar_account" binding:"omitempty,max=255"`
	DocNumber        *string       `json:"doc_number" binding:"omitempty,max=100"`
	PrivateNote      *string       `json:"private_note" binding:"omitempty,max=4000"`
	TxnID            *string       `json:"txn_id" binding:"omitempty,max=150"`
}

// BillPaymentCreate 付款创建请求（核销账单）
type BillPaymentCreate struct {
	Date        string        `json:"date" binding:"required,datetime=2006-01-02"`
	Vendor      string        `json:"vendor" binding:"required,max=255"`
	Lines       []PaymentLine `json:"lines" binding:"required,min=1,dive"`
	BankAccount string        `json:"bank_account" binding:"required,max=255"`
	APAccount   *string       `json:"ap_account" binding:"omitempty,max=255"`
	PaymentType string        `json:"payment_type" binding:"omitempty,oneof=Check CreditCard"`
	DocNumber   *string       `json:"doc_number" binding:"omitempty,max=100"`
	PrivateNote *string       `json:"private_note" binding:"omitempty,max=4000"`
	TxnID       *string       `json:"txn_id" binding:"omitempty,max=150"`
}

// ExpenseLine 费用明细行
type ExpenseLine struct {
	Amount         decimal.Decimal `json:"amount" binding:"required"`
	ExpenseAccount string          `json:"expense_account" binding:"required,max=255"`
	Description    *string         `json:"description" binding:"omitempty,max=4000"`
	ClassName      *string         `json:"class" binding:"omitempty,max=255"`
}

// ExpenseCreate 费用创建请求（QBO Purchase实体）
type ExpenseCreate struct {
	Date        string        `json:"date" binding:"required,datetime=2006-01-02"`
	Vendor      string        `json:"vendor" binding:"required,max=255"`
	BankAccount string        `json:"bank_account" binding:"required,max=255"`
	Lines       []ExpenseLine `json:"lines" binding:"required,min=1,dive"`
	PrivateNote *string       `json:"private_note" binding:"omitempty,max=4000"`
	DocNumber   *string       `json:"doc_number" binding:"omitempty,max=100"`
}

// CustomerCreate 客户创建请求
type CustomerCreate struct {
	DisplayName string          `json:"display_name" binding:"required,max=255"`
	Email       *string         `json:"email" binding:"omitempty,email"`
	Phone       *string         `json:"phone" binding:"omitempty,max=100"`
	Address     *ContactAddress `json:"address"`
}

// VendorCreate 供应商创建请求
type VendorCreate struct {
	DisplayName string          `json:"display_name" binding:"required,max=255"`
	Email       *string         `json:"email" binding:"omitempty,email"`
	Phone       *string         `json:"phone" binding:"omitempty,max=100"`
	Address     *ContactAddress `json:"address"`
}

// ItemCreate 商品创建请求
type ItemCreate struct {
	Name               string           `json:"name" binding:"required,max=255"`
	Type               string           `json:"type" binding:"required,oneof=Service NonInventory Inventory"`
	IncomeAccount      string           `json:"income_account" binding:"required,max=255"`
	ExpenseAccount     *string          `json:"expense_account" binding:"omitempty,max=255"`
	AssetAccount       *string          `json:"asset_account" binding:"omitempty,max=255"`
	QuantityOnHand     *decimal.Decimal `json:"quantity_on_hand"`
	InventoryStartDate *string          `json:"inventory_start_date" binding:"omitempty,datetime=2006-01-02"`
	Description        *string          `json:"description" binding:"omitempty,max=4000"`
	SKU                *string          `json:"sku" binding:"omitempty,max=100"`
	Active             *bool            `json:"active"`
}

// AccountUpdate 账户更新请求，至少携带一个字段
type AccountUpdate struct {
	Name          *string `json:"name" binding:"omitempty,min=1,max=255"`
	AccountNumber *string `json:"account_number" binding:"omitempty,min=1,max=100"`
	Description   *string `json:"description" binding:"omitempty,max=4000"`
	Active        *bool   `json:"active"`
	ParentAccount *string `json:"parent_account" binding:"omitempty,min=1,max=255"`
}

// HasUpdates 是否有至少一个待更新字段
func (u *AccountUpdate) HasUpdates() bool {
	return u.Name != nil || u.AccountNumber != nil || u.Description != nil ||
		u.Active != nil || u.ParentAccount != nil
}
