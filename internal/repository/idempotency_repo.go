package repository

import (
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jorgeaveraf/qbo-gateway/internal/model"
	pkgErrors "github.com/jorgeaveraf/qbo-gateway/pkg/responses"
)

// ErrDuplicateKey 幂等键唯一约束冲突（并发插入竞争的判定信号）
var ErrDuplicateKey = errors.New("idempotency key already exists")

type IdempotencyRepository interface {
	// GetByKey 未找到时返回(nil, nil)
	GetByKey(key string) (*model.IdempotencyKey, error)
	// Create 唯一键冲突时返回ErrDuplicateKey
	Create(record *model.IdempotencyKey) error
	Update(record *model.IdempotencyKey) error
	DeleteByClient(clientID uuid.UUID) error
}

type idempotencyRepository struct {
	db *gorm.DB
}

// NewIdempotencyRepository 创建幂等记录仓储
// 注册必须与外层事务同生共死，传入事务句柄而非全局连接
func NewIdempotencyRepository(db *gorm.DB) IdempotencyRepository {
	return &idempotencyRepository{db: db}
}

func (r *idempotencyRepository) GetByKey(key string) (*model.IdempotencyKey, error) {
	var record model.IdempotencyKey
	err := r.db.Where("`key` = ?", key).First(&record).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "查询幂等记录失败", err)
	}
	return &record, nil
}

func (r *idempotencyRepository) Create(record *model.IdempotencyKey) error {
	if err := r.db.Create(record).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateKey
		}
		return pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "创建幂等记录失败", err)
	}
	return nil
}

func (r *idempotencyRepository) Update(record *model.IdempotencyKey) error {
	if err := r.db.Save(record).Error; err != nil {
		return pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "更新幂等记录失败", err)
	}
	return nil
}

func (r *idempotencyRepository) DeleteByClient(clientID uuid.UUID) error {
	if err := r.db.Where("client_id = ?", clientID).Delete(&model.IdempotencyKey{}).Error; err != nil {
		return pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "删除幂等记录失败", err)
	}
	return nil
}
