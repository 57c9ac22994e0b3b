package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jorgeaveraf/qbo-gateway/internal/dto"
	"github.com/jorgeaveraf/qbo-gateway/internal/model"
	"github.com/jorgeaveraf/qbo-gateway/internal/pkg/oauthstate"
	"github.com/jorgeaveraf/qbo-gateway/internal/repository"
	"github.com/jorgeaveraf/qbo-gateway/pkg/constants"
	"github.com/jorgeaveraf/qbo-gateway/pkg/responses"
)

// AuthService OAuth授权流程编排
type AuthService struct {
	qbo         *QBOService
	clientRepo  repository.ClientRepository
	credRepo    repository.CredentialRepository
	stateSecret string
	logger      *zap.Logger
}

func NewAuthService(qbo *QBOService, clientRepo repository.ClientRepository, credRepo repository.CredentialRepository, stateSecret string, logger *zap.Logger) *AuthService {
	return &AuthService{
		qbo:         qbo,
		clientRepo:  clientRepo,
		credRepo:    credRepo,
		stateSecret: stateSecret,
		logger:      logger,
	}
}

// BuildConnectURL 生成授权跳转地址，state带签名防伪造
func (s *AuthService) BuildConnectURL(client *model.Client, environment string) (string, error) {
	if client.Status != constants.ClientStatusActive {
		return "", responses.New(responses.CodeForbidden, "客户端已停用")
	}

	state, err := oauthstate.Encode(s.stateSecret, client.ID.String(), environment)
	if err != nil {
		return "", responses.Wrap(responses.CodeInternalError, "生成state失败", err)
	}

	url := s.qbo.BuildAuthorizationURL(state)
	s.logger.Info("oauth_connect_redirect",
		zap.String("client_id", client.ID.String()),
		zap.String("environment", environment),
	)
	return url, nil
}

// HandleCallback 处理OAuth回调：校验state → 换token → 凭据落库
func (s *AuthService) HandleCallback(ctx context.Context, query *dto.CallbackQuery) (*dto.CallbackResponse, error) {
	if query.Error != "" {
		detail := query.ErrorDescription
		if detail == "" {
			detail = query.Error
		}
		return nil, responses.Newf(responses.CodeBadRequest, "OAuth error: %s", detail)
	}
	if query.Code == "" || query.State == "" || query.RealmID == "" {
		return nil, responses.New(responses.CodeBadRequest, "缺少必需的OAuth回调参数")
	}

	claims, err := oauthstate.Decode(s.stateSecret, query.State)
	if err != nil {
		return nil, responses.Wrap(responses.CodeBadRequest, "state校验失败", err)
	}

	client, err := s.getClient(claims.ClientID)
	if err != nil {
		return nil, err
	}

	bundle, err := s.qbo.ExchangeAuthorizationCode(ctx, query.Code)
	if err != nil {
		s.logger.Error("oauth_exchange_failed",
			zap.String("client_id", claims.ClientID),
			zap.String("environment", claims.Environment),
			zap.Error(err),
		)
		var oauthErr *QBOOAuthError
		if errors.As(err, &oauthErr) {
			return nil, responses.Wrap(responses.CodeUpstreamAuth, "授权码交换失败", err)
		}
		return nil, err
	}

	credential, err := s.qbo.UpsertCredential(client, claims.Environment, query.RealmID, bundle)
	if err != nil {
		return nil, err
	}

	s.logger.Info("oauth_callback_completed",
		zap.String("client_id", client.ID.String()),
		zap.String("realm_id", query.RealmID),
		zap.String("environment", claims.Environment),
	)

	return &dto.CallbackResponse{
		Message:          "OAuth flow completed",
		Client:           toClientResponse(client),
		CredentialID:     credential.ID.String(),
		RealmID:          credential.RealmID,
		Environment:      credential.Environment,
		AccessExpiresAt:  credential.AccessExpiresAt,
		RefreshExpiresAt: credential.RefreshExpiresAt,
		Scopes:           decodeScopes(credential.Scopes),
	}, nil
}

// RotateCredential 管理操作：强制刷新指定环境的凭据
func (s *AuthService) RotateCredential(ctx context.Context, client *model.Client, environment string) (*dto.CredentialRotateResponse, error) {
	credential, err := s.credRepo.GetByClientAndEnv(client.ID, environment)
	if err != nil {
		return nil, err
	}

	if err := s.qbo.RotateCredential(ctx, credential); err != nil {
		var oauthErr *QBOOAuthError
		if errors.As(err, &oauthErr) {
			return nil, responses.Wrap(responses.CodeUpstreamAuth, "凭据轮换失败", err)
		}
		return nil, err
	}

	return &dto.CredentialRotateResponse{
		ClientID:         client.ID.String(),
		CredentialID:     credential.ID.String(),
		Refreshed:        true,
		AccessExpiresAt:  credential.AccessExpiresAt,
		RefreshExpiresAt: credential.RefreshExpiresAt,
	}, nil
}

func (s *AuthService) getClient(clientID string) (*model.Client, error) {
	id, err := uuid.Parse(clientID)
	if err != nil {
		return nil, responses.Wrap(responses.CodeBadRequest, "client_id格式非法", err)
	}
	return s.clientRepo.GetByID(id)
}
