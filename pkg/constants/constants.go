package constants

// HTTP Header
const (
	HeaderAPIKey         = "X-API-Key"
	HeaderRequestID      = "X-Request-ID"
	HeaderIdempotencyKey = "Idempotency-Key"
)

// Environment QBO环境
const (
	EnvironmentSandbox = "sandbox"
	EnvironmentProd    = "prod"
)

// QBO端点与协议常量
const (
	QBOAuthURL         = "https://appcenter.intuit.com/connect/oauth2"
	QBOTokenURL        = "https://oauth.platform.intuit.com/oauth2/v1/tokens/bearer"
	QBOSandboxAPIBase  = "https://sandbox-quickbooks.api.intuit.com"
	QBOProdAPIBase     = "https://quickbooks.api.intuit.com"
	QBOScopeAccounting = "com.intuit.quickbooks.accounting"
	QBOMinorVersion    = "65"
)

// QBO Fault错误码
const (
	// QBOFaultDuplicateName 实体名称重复（并发创建时由对端返回）
	QBOFaultDuplicateName = "6240"
)

// 查询分页限制
const (
	QBOMaxPageSize     = 1000
	QBODefaultPageSize = 100
)

// ClientStatus 客户端状态
const (
	ClientStatusActive   = "active"
	ClientStatusInactive = "inactive"
)
