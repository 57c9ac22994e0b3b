package service

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"gorm.io/datatypes"

	"github.com/jorgeaveraf/qbo-gateway/internal/dto"
	"github.com/jorgeaveraf/qbo-gateway/internal/model"
	"github.com/jorgeaveraf/qbo-gateway/internal/repository"
	"github.com/jorgeaveraf/qbo-gateway/pkg/constants"
	"github.com/jorgeaveraf/qbo-gateway/pkg/responses"
)

// ClientService 客户端管理
type ClientService struct {
	clientRepo repository.ClientRepository
	credRepo   repository.CredentialRepository
}

func NewClientService(clientRepo repository.ClientRepository, credRepo repository.CredentialRepository) *ClientService {
	return &ClientService{
		clientRepo: clientRepo,
		credRepo:   credRepo,
	}
}

// Create 创建客户端
func (s *ClientService) Create(req *dto.CreateClientRequest) (*dto.ClientResponse, error) {
	client := &model.Client{
		Name:   req.Name,
		Status: req.Status,
	}
	if client.Status == "" {
		client.Status = constants.ClientStatusActive
	}
	if req.Metadata != nil {
		raw, err := json.Marshal(req.Metadata)
		if err != nil {
			return nil, responses.Wrap(responses.CodeBadRequest, "metadata序列化失败", err)
		}
		client.Metadata = datatypes.JSON(raw)
	}
	if err := s.clientRepo.Create(client); err != nil {
		return nil, err
	}
	response := toClientResponse(client)
	return &response, nil
}

// Update 更新客户端，仅覆盖携带的字段
func (s *ClientService) Update(id uuid.UUID, req *dto.UpdateClientRequest) (*dto.ClientResponse, error) {
	client, err := s.clientRepo.GetByID(id)
	if err != nil {
		return nil, err
	}
	if req.Name != nil {
		client.Name = *req.Name
	}
	if req.Status != nil {
		client.Status = *req.Status
	}
	if req.Metadata != nil {
		raw, err := json.Marshal(req.Metadata)
		if err != nil {
			return nil, responses.Wrap(responses.CodeBadRequest, "metadata序列化失败", err)
		}
		client.Metadata = datatypes.JSON(raw)
	}
	if err := s.clientRepo.Update(client); err != nil {
		return nil, err
	}
	response := toClientResponse(client)
	return &response, nil
}

// Delete 删除客户端，凭据级联删除
func (s *ClientService) Delete(id uuid.UUID) error {
	client, err := s.clientRepo.GetByID(id)
	if err != nil {
		return err
	}
	return s.clientRepo.Delete(client)
}

// Get 查询单个客户端，详情视图内联凭据摘要
func (s *ClientService) Get(id uuid.UUID) (*dto.ClientWithCredentialsResponse, error) {
	client, err := s.clientRepo.GetByID(id)
	if err != nil {
		return nil, err
	}
	credentials, err := s.credRepo.ListByClient(id)
	if err != nil {
		return nil, err
	}
	return &dto.ClientWithCredentialsResponse{
		ClientResponse: toClientResponse(client),
		Credentials: lo.Map(credentials, func(credential *model.ClientCredential, _ int) dto.CredentialSummary {
			return toCredentialSummary(credential)
		}),
	}, nil
}

// GetModel 取原始模型（编排流程内部用）
func (s *ClientService) GetModel(id uuid.UUID) (*model.Client, error) {
	return s.clientRepo.GetByID(id)
}

// GetActiveWithCredential 取活跃客户端及指定环境的凭据（代理调用入口）
func (s *ClientService) GetActiveWithCredential(id uuid.UUID, environment string) (*model.Client, *model.ClientCredential, error) {
	client, err := s.clientRepo.GetByID(id)
	if err != nil {
		return nil, nil, err
	}
	if client.Status != constants.ClientStatusActive {
		return nil, nil, responses.New(responses.CodeForbidden, "客户端已停用")
	}
	credential, err := s.credRepo.GetByClientAndEnv(id, environment)
	if err != nil {
		return nil, nil, err
	}
	return client, credential, nil
}

// List 客户端列表
func (s *ClientService) List() ([]dto.ClientResponse, error) {
	clients, err := s.clientRepo.List()
	if err != nil {
		return nil, err
	}
	return lo.Map(clients, func(client *model.Client, _ int) dto.ClientResponse {
		return toClientResponse(client)
	}), nil
}

// ListCredentials 客户端凭据摘要列表
func (s *ClientService) ListCredentials(id uuid.UUID) (*dto.CredentialListResponse, error) {
	if _, err := s.clientRepo.GetByID(id); err != nil {
		return nil, err
	}
	credentials, err := s.credRepo.ListByClient(id)
	if err != nil {
		return nil, err
	}
	return &dto.CredentialListResponse{
		ClientID: id.String(),
		Credentials: lo.Map(credentials, func(credential *model.ClientCredential, _ int) dto.CredentialSummary {
			return toCredentialSummary(credential)
		}),
	}, nil
}

func toClientResponse(client *model.Client) dto.ClientResponse {
	var metadata map[string]interface{}
	if len(client.Metadata) > 0 {
		_ = json.Unmarshal(client.Metadata, &metadata)
	}
	return dto.ClientResponse{
		ID:        client.ID.String(),
		Name:      client.Name,
		Status:    client.Status,
		Metadata:  metadata,
		CreatedAt: client.CreatedAt,
		UpdatedAt: client.UpdatedAt,
	}
}

func toCredentialSummary(credential *model.ClientCredential) dto.CredentialSummary {
	return dto.CredentialSummary{
		ID:               credential.ID.String(),
		RealmID:          credential.RealmID,
		Environment:      credential.Environment,
		AccessExpiresAt:  credential.AccessExpiresAt,
		RefreshExpiresAt: credential.RefreshExpiresAt,
		Scopes:           decodeScopes(credential.Scopes),
		RefreshCounter:   credential.RefreshCounter,
		CreatedAt:        credential.CreatedAt,
		UpdatedAt:        credential.UpdatedAt,
	}
}

func decodeScopes(raw datatypes.JSON) []string {
	if len(raw) == 0 {
		return nil
	}
	var scopes []string
	if err := json.Unmarshal(raw, &scopes); err != nil {
		return nil
	}
	return scopes
}
