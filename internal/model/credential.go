package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const ClientCredentialTableName = "client_credentials"

// ClientCredential QBO OAuth凭据，一个(客户端,环境)至多一行
//
// 说明：
// - refresh_token_enc: AES-GCM(base64) 密文，refresh token每次使用后轮换
// - 同一realm在同一环境下也只允许绑定一个客户端
type ClientCredential struct {
	BaseModel

	ClientID         uuid.UUID      `gorm:"type:char(36);not null;index;uniqueIndex:uq_client_environment,priority:1" json:"client_id"`
	RealmID          string         `gorm:"size:64;not null;index;uniqueIndex:uq_realm_environment,priority:1" json:"realm_id"`
	Environment      string         `gorm:"size:16;not null;default:sandbox;uniqueIndex:uq_client_environment,priority:2;uniqueIndex:uq_realm_environment,priority:2;index:ix_client_env_access_exp,priority:2" json:"environment"` // sandbox/prod
	RefreshTokenEnc  string         `gorm:"column:refresh_token_enc;type:text;not null" json:"-"`
	AccessToken      *string        `gorm:"type:text" json:"-"`
	AccessExpiresAt  *time.Time     `gorm:"index:ix_client_env_access_exp,priority:3" json:"access_expires_at,omitempty"`
	RefreshExpiresAt *time.Time     `json:"refresh_expires_at,omitempty"`
	Scopes           datatypes.JSON `gorm:"type:json" json:"scopes,omitempty"`
	RefreshCounter   int            `gorm:"not null;default:0" json:"refresh_counter"`
	LastErrorAt      *time.Time     `json:"last_error_at,omitempty"`

	Client *Client `gorm:"foreignKey:ClientID" json:"-"`
}

func (ClientCredential) TableName() string {
	return ClientCredentialTableName
}
