package repository

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jorgeaveraf/qbo-gateway/internal/model"
	pkgErrors "github.com/jorgeaveraf/qbo-gateway/pkg/responses"
)

type CredentialRepository interface {
	GetByClientAndEnv(clientID uuid.UUID, environment string) (*model.ClientCredential, error)
	// GetOptional 未找到时返回(nil, nil)
	GetOptional(clientID uuid.UUID, environment string) (*model.ClientCredential, error)
	ListByClient(clientID uuid.UUID) ([]*model.ClientCredential, error)
	// ListExpiring 返回access token在deadline之前到期（或尚无token）的凭据
	ListExpiring(deadline time.Time) ([]*model.ClientCredential, error)
	Save(credential *model.ClientCredential) error
	TouchLastError(id uuid.UUID, at time.Time) error
}

type credentialRepository struct {
	db *gorm.DB
}

func NewCredentialRepository(db *gorm.DB) CredentialRepository {
	return &credentialRepository{db: db}
}

func (r *credentialRepository) GetByClientAndEnv(clientID uuid.UUID, environment string) (*model.ClientCredential, error) {
	credential, err := r.GetOptional(clientID, environment)
	if err != nil {
		return nil, err
	}
	if credential == nil {
		return nil, pkgErrors.ErrCredentialNotFound
	}
	return credential, nil
}

func (r *credentialRepository) GetOptional(clientID uuid.UUID, environment string) (*model.ClientCredential, error) {
	var credential model.ClientCredential
	err := r.db.Where("client_id = ? AND environment = ?", clientID, environment).First(&credential).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "查询凭据失败", err)
	}
	return &credential, nil
}

func (r *credentialRepository) ListByClient(clientID uuid.UUID) ([]*model.ClientCredential, error) {
	var list []*model.ClientCredential
	if err := r.db.Where("client_id = ?", clientID).Order("created_at DESC").Find(&list).Error; err != nil {
		return nil, pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "查询凭据列表失败", err)
	}
	return list, nil
}

func (r *credentialRepository) ListExpiring(deadline time.Time) ([]*model.ClientCredential, error) {
	var list []*model.ClientCredential
	err := r.db.
		Where("access_token IS NULL OR access_expires_at IS NULL OR access_expires_at <= ?", deadline).
		Find(&list).Error
	if err != nil {
		return nil, pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "查询到期凭据失败", err)
	}
	return list, nil
}

func (r *credentialRepository) Save(credential *model.ClientCredential) error {
	if err := r.db.Save(credential).Error; err != nil {
		if err == gorm.ErrDuplicatedKey {
			return pkgErrors.Wrap(pkgErrors.CodeConflict, "凭据冲突", err)
		}
		return pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "保存凭据失败", err)
	}
	return nil
}

func (r *credentialRepository) TouchLastError(id uuid.UUID, at time.Time) error {
	err := r.db.Model(&model.ClientCredential{}).Where("id = ?", id).Update("last_error_at", at).Error
	if err != nil {
		return pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "更新凭据错误时间失败", err)
	}
	return nil
}
