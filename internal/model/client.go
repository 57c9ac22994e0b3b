package model

import (
	"gorm.io/datatypes"
)

const ClientTableName = "clients"

// Client 接入网关的客户组织
type Client struct {
	BaseModel

	Name     string         `gorm:"size:255;not null" json:"name"`
	Status   string         `gorm:"size:16;not null;default:active" json:"status"` // active/inactive
	Metadata datatypes.JSON `gorm:"column:metadata;type:json" json:"metadata,omitempty"`

	Credentials []ClientCredential `gorm:"foreignKey:ClientID;constraint:OnDelete:CASCADE" json:"-"`
}

func (Client) TableName() string {
	return ClientTableName
}
