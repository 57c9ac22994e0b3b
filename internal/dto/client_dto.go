package dto

import "time"

// CreateClientRequest 创建客户端请求
type CreateClientRequest struct {
	Name     string                 `json:"name" binding:"required,max=255"`
	Status   string                 `json:"status" binding:"omitempty,oneof=active inactive"`
	Metadata map[string]interface{} `json:"metadata"`
}

// UpdateClientRequest 更新客户端请求
type UpdateClientRequest struct {
	Name     *string                `json:"name" binding:"omitempty,min=1,max=255"`
	Status   *string                `json:"status" binding:"omitempty,oneof=active inactive"`
	Metadata map[string]interface{} `json:"metadata"`
}

// ClientResponse 客户端信息
type ClientResponse struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Status    string                 `json:"status"`
	Metadata  map[string]interface{} `json:"metadata"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// CredentialSummary 凭据摘要，刷新token密文永不外露
type CredentialSummary struct {
	ID               string     `json:"id"`
	RealmID          string     `json:"realm_id"`
	Environment      string     `json:"environment"`
	AccessExpiresAt  *time.Time `json:"access_expires_at"`
	RefreshExpiresAt *time.Time `json:"refresh_expires_at"`
	Scopes           []string   `json:"scopes"`
	RefreshCounter   int        `json:"refresh_counter"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// ClientWithCredentialsResponse 客户端及其凭据摘要
type ClientWithCredentialsResponse struct {
	ClientResponse
	Credentials []CredentialSummary `json:"credentials"`
}

// CredentialListResponse 客户端凭据列表
type CredentialListResponse struct {
	ClientID    string              `json:"client_id"`
	Credentials []CredentialSummary `json:"credentials"`
}

// CredentialRotateResponse 凭据强制轮换结果
type CredentialRotateResponse struct {
	ClientID         string     `json:"client_id"`
	CredentialID     string     `json:"credential_id"`
	Refreshed        bool       `json:"refreshed"`
	AccessExpiresAt  *time.Time `json:"access_expires_at"`
	RefreshExpiresAt *time.Time `json:"refresh_expires_at"`
}
