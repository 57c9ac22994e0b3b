package repository

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jorgeaveraf/qbo-gateway/internal/model"
	pkgErrors "github.com/jorgeaveraf/qbo-gateway/pkg/responses"
)

type ClientRepository interface {
	Create(client *model.Client) error
	Update(client *model.Client) error
	Delete(client *model.Client) error
	GetByID(id uuid.UUID) (*model.Client, error)
	List() ([]*model.Client, error)
	ListWithCredentials(environment string) ([]*model.Client, error)
}

type clientRepository struct {
	db *gorm.DB
}

func NewClientRepository(db *gorm.DB) ClientRepository {
	return &clientRepository{db: db}
}

func (r *clientRepository) Create(client *model.Client) error {
	if err := r.db.Create(client).Error; err != nil {
		return pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "创建客户端失败", err)
	}
	return nil
}

func (r *clientRepository) Update(client *model.Client) error {
	if err := r.db.Save(client).Error; err != nil {
		return pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "更新客户端失败", err)
	}
	return nil
}

func (r *clientRepository) Delete(client *model.Client) error {
	// 凭据与幂等记录随客户端级联删除
	if err := r.db.Select("Credentials").Delete(client).Error; err != nil {
		return pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "删除客户端失败", err)
	}
	return nil
}

func (r *clientRepository) GetByID(id uuid.UUID) (*model.Client, error) {
	var client model.Client
	if err := r.db.First(&client, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgErrors.ErrClientNotFound
		}
		return nil, pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "查询客户端失败", err)
	}
	return &client, nil
}

func (r *clientRepository) List() ([]*model.Client, error) {
	var list []*model.Client
	if err := r.db.Order("created_at DESC").Find(&list).Error; err != nil {
		return nil, pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "查询客户端列表失败", err)
	}
	return list, nil
}

func (r *clientRepository) ListWithCredentials(environment string) ([]*model.Client, error) {
	var list []*model.Client
	q := r.db.Order("updated_at DESC, created_at DESC")
	if environment != "" {
		q = q.Preload("Credentials", "environment = ?", environment)
	} else {
		q = q.Preload("Credentials")
	}
	if err := q.Find(&list).Error; err != nil {
		return nil, pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "查询客户端汇总失败", err)
	}
	return list, nil
}
