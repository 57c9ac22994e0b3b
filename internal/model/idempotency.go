package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const IdempotencyKeyTableName = "idempotency_keys"

// IdempotencyKey 幂等记录
//
// key全局唯一，不按客户端隔离；client_id在首次注册时为空，
// 操作成功落库response_body后记录视为不可变
type IdempotencyKey struct {
	ID           uuid.UUID      `gorm:"type:char(36);primaryKey" json:"id"`
	ClientID     *uuid.UUID     `gorm:"type:char(36);index" json:"client_id,omitempty"`
	Key          string         `gorm:"size:255;not null;uniqueIndex:uq_idempotency_key" json:"key"`
	ResourceType string         `gorm:"size:64;not null" json:"resource_type"`
	RequestHash  string         `gorm:"size:128;not null" json:"request_hash"`
	ResponseBody datatypes.JSON `gorm:"type:json" json:"response_body,omitempty"`
	CreatedAt    time.Time      `gorm:"not null;autoCreateTime" json:"created_at"`
}

func (IdempotencyKey) TableName() string {
	return IdempotencyKeyTableName
}

// BeforeCreate 自动生成UUID
func (r *IdempotencyKey) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// Resolved 是否已缓存成功响应
func (r *IdempotencyKey) Resolved() bool {
	return len(r.ResponseBody) > 0
}
