package dto

import "time"

// ConnectQuery 授权跳转参数
type ConnectQuery struct {
	ClientID    string `form:"client_id" binding:"required,uuid"`
	Environment string `form:"env" binding:"omitempty,oneof=sandbox prod"`
}

// CallbackQuery OAuth回调参数，Intuit回传realmId驼峰命名
type CallbackQuery struct {
	Code             string `form:"code"`
	State            string `form:"state"`
	RealmID          string `form:"realmId"`
	Error            string `form:"error"`
	ErrorDescription string `form:"error_description"`
}

// CallbackResponse 回调完成结果
type CallbackResponse struct {
	Message          string         `json:"message"`
	Client           ClientResponse `json:"client"`
	CredentialID     string         `json:"credential_id"`
	RealmID          string         `json:"realm_id"`
	Environment      string         `json:"environment"`
	AccessExpiresAt  *time.Time     `json:"access_expires_at"`
	RefreshExpiresAt *time.Time     `json:"refresh_expires_at"`
	Scopes           []string       `json:"scopes"`
}
