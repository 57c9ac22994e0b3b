package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/jorgeaveraf/qbo-gateway/internal/model"
	"github.com/jorgeaveraf/qbo-gateway/internal/pkg/config"
	"github.com/jorgeaveraf/qbo-gateway/internal/pkg/crypto"
	"github.com/jorgeaveraf/qbo-gateway/internal/pkg/httpx"
	pkgLogger "github.com/jorgeaveraf/qbo-gateway/internal/pkg/logger"
	"github.com/jorgeaveraf/qbo-gateway/internal/repository"
	"github.com/jorgeaveraf/qbo-gateway/pkg/constants"
)

// TokenBundle 一次OAuth交换的产物，随即并入凭据落库，自身不持久化
type TokenBundle struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	Scopes           []string
	TokenType        string
}

// QBOService QuickBooks对接服务：token生命周期 + 数据面query/post
type QBOService struct {
	cfg        *config.QBOConfig
	aesKey     string
	httpClient *httpx.Client
	credRepo   repository.CredentialRepository
	logger     *zap.Logger

	// 测试注入时钟
	now func() time.Time
}

func NewQBOService(cfg *config.QBOConfig, aesKey string, credRepo repository.CredentialRepository, logger *zap.Logger) *QBOService {
	return &QBOService{
		cfg:        cfg,
		aesKey:     aesKey,
		httpClient: httpx.NewClient(cfg.HTTPTimeout, cfg.RetryMaxAttempts, cfg.RetryMaxWait),
		credRepo:   credRepo,
		logger:     logger,
		now:        time.Now,
	}
}

// BuildAuthorizationURL 生成授权跳转地址
func (s *QBOService) BuildAuthorizationURL(state string) string {
	params := url.Values{}
	params.Set("client_id", s.cfg.ClientID)
	params.Set("redirect_uri", s.cfg.RedirectURI)
	params.Set("response_type", "code")
	params.Set("scope", constants.QBOScopeAccounting)
	params.Set("state", state)
	return s.cfg.AuthURL + "?" + params.Encode()
}

// ExchangeAuthorizationCode 授权码换token
func (s *QBOService) ExchangeAuthorizationCode(ctx context.Context, code string) (*TokenBundle, error) {
	data := url.Values{}
	data.Set("grant_type", "authorization_code")
	data.Set("code", code)
	data.Set("redirect_uri", s.cfg.RedirectURI)
	return s.tokenRequest(ctx, data)
}

// RefreshTokens refresh token换新token（每次使用后轮换，旧refresh token随即失效）
func (s *QBOService) RefreshTokens(ctx context.Context, refreshToken string) (*TokenBundle, error) {
	data := url.Values{}
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", refreshToken)
	return s.tokenRequest(ctx, data)
}

// UpsertCredential 授权回调后创建或更新凭据
func (s *QBOService) UpsertCredential(client *model.Client, environment, realmID string, bundle *TokenBundle) (*model.ClientCredential, error) {
	encrypted, err := crypto.EncryptSecret(s.aesKey, bundle.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("加密refresh token失败: %w", err)
	}

	credential, err := s.credRepo.GetOptional(client.ID, environment)
	if err != nil {
		return nil, err
	}

	scopes, _ := json.Marshal(bundle.Scopes)

	if credential == nil {
		credential = &model.ClientCredential{
			ClientID:         client.ID,
			RealmID:          realmID,
			Environment:      environment,
			RefreshTokenEnc:  encrypted,
			AccessToken:      &bundle.AccessToken,
			AccessExpiresAt:  &bundle.AccessExpiresAt,
			RefreshExpiresAt: &bundle.RefreshExpiresAt,
			Scopes:           datatypes.JSON(scopes),
		}
		if err := s.credRepo.Save(credential); err != nil {
			return nil, err
		}
		s.logger.Info("credential_created",
			zap.String("client_id", client.ID.String()),
			zap.String("realm_id", realmID),
			zap.String("environment", environment),
		)
		return credential, nil
	}

	credential.RealmID = realmID
	credential.RefreshTokenEnc = encrypted
	credential.AccessToken = &bundle.AccessToken
	credential.AccessExpiresAt = &bundle.AccessExpiresAt
	credential.RefreshExpiresAt = &bundle.RefreshExpiresAt
	credential.Scopes = datatypes.JSON(scopes)
	if err := s.credRepo.Save(credential); err != nil {
		return nil, err
	}
	s.logger.Info("credential_updated",
		zap.String("client_id", client.ID.String()),
		zap.String("realm_id", realmID),
		zap.String("environment", environment),
	)
	return credential, nil
}

// EnsureValidAccessToken 上游调用前确保access token可用
// 无token、无到期时间或到期时间落在提前刷新窗口内时先刷新
func (s *QBOService) EnsureValidAccessToken(ctx context.Context, credential *model.ClientCredential) (string, bool, error) {
	refreshed := false
	needsRefresh := credential.AccessToken == nil || credential.AccessExpiresAt == nil ||
		!credential.AccessExpiresAt.After(s.now().Add(s.cfg.RefreshLookahead))

	if needsRefresh {
		if err := s.refreshCredential(ctx, credential, false); err != nil {
			return "", false, err
		}
		refreshed = true
	}

	if credential.AccessToken == nil || *credential.AccessToken == "" {
		return "", refreshed, &QBOOAuthError{Message: "刷新后仍缺少access token"}
	}
	return *credential.AccessToken, refreshed, nil
}

// RotateCredential 管理操作：强制刷新轮换凭据
func (s *QBOService) RotateCredential(ctx context.Context, credential *model.ClientCredential) error {
	return s.refreshCredential(ctx, credential, true)
}

// Query 执行QBO查询语句，可选分页
func (s *QBOService) Query(ctx context.Context, credential *model.ClientCredential, entity, selectSQL string, startPosition, maxResults int) (map[string]interface{}, bool, float64, error) {
	statement := strings.TrimSpace(selectSQL)
	if startPosition > 0 {
		statement = fmt.Sprintf("%s STARTPOSITION %d", statement, startPosition)
	}
	if maxResults > 0 {
		statement = fmt.Sprintf("%s MAXRESULTS %d", statement, maxResults)
	}

	params := url.Values{}
	params.Set("query", statement)
	params.Set("minorversion", s.cfg.MinorVersion)

	data, refreshed, latencyMs, _, err := s.doJSON(ctx, credential, http.MethodGet, s.queryURL(credential), params, entity, nil)
	return data, refreshed, latencyMs, err
}

// Post 创建/更新实体
func (s *QBOService) Post(ctx context.Context, credential *model.ClientCredential, entity, resource string, payload map[string]interface{}) (map[string]interface{}, bool, float64, int, error) {
	params := url.Values{}
	params.Set("minorversion", s.cfg.MinorVersion)
	return s.doJSON(ctx, credential, http.MethodPost, s.entityURL(credential, resource), params, entity, payload)
}

// FetchCompanyInfo 拉取公司信息（连通性验证）
func (s *QBOService) FetchCompanyInfo(ctx context.Context, credential *model.ClientCredential) (map[string]interface{}, bool, float64, error) {
	params := url.Values{}
	params.Set("minorversion", s.cfg.MinorVersion)
	url := fmt.Sprintf("%s/companyinfo/%s", s.companyBaseURL(credential), credential.RealmID)
	data, refreshed, latencyMs, _, err := s.doJSON(ctx, credential, http.MethodGet, url, params, "CompanyInfo", nil)
	return data, refreshed, latencyMs, err
}

// doJSON 携带bearer token调用数据面
// 首次401触发一次强制刷新并原样重试，重试后仍失败按OAuth错误上抛
func (s *QBOService) doJSON(ctx context.Context, credential *model.ClientCredential, method, rawURL string, params url.Values, entity string, payload map[string]interface{}) (map[string]interface{}, bool, float64, int, error) {
	token, refreshed, err := s.EnsureValidAccessToken(ctx, credential)
	if err != nil {
		return nil, false, 0, 0, err
	}

	var body []byte
	if payload != nil {
		body, err = json.Marshal(payload)
		if err != nil {
			return nil, refreshed, 0, 0, fmt.Errorf("序列化payload失败: %w", err)
		}
	}

	resp, latencyMs, err := s.dataRequest(ctx, method, rawURL, params, token, body)
	if err != nil {
		return nil, refreshed, latencyMs, 0, err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		s.logger.Warn("qbo_unauthorized",
			zap.String("entity", entity),
			zap.String("client_id", credential.ClientID.String()),
			zap.String("realm_id", credential.RealmID),
			zap.String("environment", credential.Environment),
		)
		if err := s.refreshCredential(ctx, credential, true); err != nil {
			return nil, refreshed, latencyMs, 0, err
		}
		refreshed = true
		token = *credential.AccessToken

		resp, latencyMs, err = s.dataRequest(ctx, method, rawURL, params, token, body)
		if err != nil {
			return nil, refreshed, latencyMs, 0, err
		}
		if resp.StatusCode == http.StatusUnauthorized {
			resp.Body.Close()
			return nil, refreshed, latencyMs, resp.StatusCode, &QBOOAuthError{Message: "强制刷新后仍返回401"}
		}
	}

	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, refreshed, latencyMs, resp.StatusCode, fmt.Errorf("读取响应失败: %w", err)
	}

	if resp.StatusCode >= 400 {
		s.logger.Error("qbo_request_failed",
			zap.String("entity", entity),
			zap.Int("status", resp.StatusCode),
			zap.String("body", pkgLogger.Truncate(string(raw), 400)),
			zap.String("client_id", credential.ClientID.String()),
			zap.String("realm_id", credential.RealmID),
			zap.String("environment", credential.Environment),
		)
		return nil, refreshed, latencyMs, resp.StatusCode, &QBOAPIError{
			Entity:     entity,
			StatusCode: resp.StatusCode,
			Body:       string(raw),
		}
	}

	var data map[string]interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, refreshed, latencyMs, resp.StatusCode, fmt.Errorf("解析响应失败: %w", err)
	}
	return data, refreshed, latencyMs, resp.StatusCode, nil
}

func (s *QBOService) dataRequest(ctx context.Context, method, rawURL string, params url.Values, token string, body []byte) (*http.Response, float64, error) {
	start := time.Now()
	resp, err := s.httpClient.Do(ctx, func() (*http.Request, error) {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequest(method, rawURL+"?"+params.Encode(), reader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		return req, nil
	})
	latencyMs := float64(time.Since(start).Microseconds()) / 1000
	return resp, latencyMs, err
}

// refreshCredential 凭据刷新唯一入口：解密旧refresh token换新，重新加密落库
// 并发刷新不加锁，后写覆盖先写（可接受的容忍窗口）
func (s *QBOService) refreshCredential(ctx context.Context, credential *model.ClientCredential, force bool) error {
	refreshToken, err := crypto.DecryptSecret(s.aesKey, credential.RefreshTokenEnc)
	if err != nil {
		return &QBOOAuthError{Message: "refresh token密文非法", Err: err}
	}

	bundle, err := s.RefreshTokens(ctx, refreshToken)
	if err != nil {
		s.markRefreshError(credential.ID)
		return err
	}

	encrypted, err := crypto.EncryptSecret(s.aesKey, bundle.RefreshToken)
	if err != nil {
		return fmt.Errorf("加密refresh token失败: %w", err)
	}

	scopes, _ := json.Marshal(bundle.Scopes)
	credential.AccessToken = &bundle.AccessToken
	credential.AccessExpiresAt = &bundle.AccessExpiresAt
	credential.RefreshExpiresAt = &bundle.RefreshExpiresAt
	credential.RefreshTokenEnc = encrypted
	credential.Scopes = datatypes.JSON(scopes)
	credential.RefreshCounter = credential.RefreshCounter + 1

	if err := s.credRepo.Save(credential); err != nil {
		return err
	}

	s.logger.Info("credential_refreshed",
		zap.String("client_id", credential.ClientID.String()),
		zap.String("realm_id", credential.RealmID),
		zap.String("environment", credential.Environment),
		zap.Int("refresh_counter", credential.RefreshCounter),
		zap.Bool("force", force),
	)
	return nil
}

func (s *QBOService) markRefreshError(credentialID uuid.UUID) {
	if err := s.credRepo.TouchLastError(credentialID, s.now()); err != nil {
		s.logger.Warn("记录凭据错误时间失败", zap.Error(err))
	}
}

// tokenRequest 调用token端点，网关自身的client id/secret做basic auth
func (s *QBOService) tokenRequest(ctx context.Context, data url.Values) (*TokenBundle, error) {
	encoded := data.Encode()
	resp, err := s.httpClient.Do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodPost, s.cfg.TokenURL, strings.NewReader(encoded))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", s.basicAuthHeader())
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
	if err != nil {
		return nil, &QBOOAuthError{Message: "token端点请求失败", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &QBOOAuthError{Message: "读取token响应失败", Err: err}
	}

	if resp.StatusCode >= 400 {
		s.logger.Error("oauth_token_error",
			zap.Int("status", resp.StatusCode),
			zap.String("body", pkgLogger.Truncate(string(raw), 400)),
		)
		// 错误消息会进下游日志，响应体同样截断
		return nil, &QBOOAuthError{
			Message: fmt.Sprintf("token端点返回 %d: %s", resp.StatusCode, pkgLogger.Truncate(string(raw), 400)),
		}
	}

	return s.parseTokenResponse(raw)
}

func (s *QBOService) parseTokenResponse(raw []byte) (*TokenBundle, error) {
	var payload struct {
		AccessToken           string `json:"access_token"`
		RefreshToken          string `json:"refresh_token"`
		ExpiresIn             int    `json:"expires_in"`
		RefreshTokenExpiresIn int    `json:"x_refresh_token_expires_in"`
		Scope                 string `json:"scope"`
		TokenType             string `json:"token_type"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, &QBOOAuthError{Message: "token响应解析失败", Err: err}
	}
	if payload.AccessToken == "" || payload.RefreshToken == "" || payload.ExpiresIn == 0 {
		return nil, &QBOOAuthError{Message: "token响应字段不完整"}
	}

	tokenType := payload.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}

	now := s.now()
	return &TokenBundle{
		AccessToken:      payload.AccessToken,
		RefreshToken:     payload.RefreshToken,
		AccessExpiresAt:  now.Add(time.Duration(payload.ExpiresIn) * time.Second),
		RefreshExpiresAt: now.Add(time.Duration(payload.RefreshTokenExpiresIn) * time.Second),
		Scopes:           strings.Fields(payload.Scope),
		TokenType:        tokenType,
	}, nil
}

func (s *QBOService) basicAuthHeader() string {
	credentials := s.cfg.ClientID + ":" + s.cfg.ClientSecret
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(credentials))
}

func (s *QBOService) companyBaseURL(credential *model.ClientCredential) string {
	return fmt.Sprintf("%s/v3/company/%s", s.cfg.APIBase(credential.Environment), credential.RealmID)
}

func (s *QBOService) queryURL(credential *model.ClientCredential) string {
	return s.companyBaseURL(credential) + "/query"
}

func (s *QBOService) entityURL(credential *model.ClientCredential, resource string) string {
	return fmt.Sprintf("%s/%s", s.companyBaseURL(credential), resource)
}

// escapeQueryValue 查询值转义：单引号成对加倍，这是嵌入式查询语言唯一的注入防线
func escapeQueryValue(value string) string {
	return strings.ReplaceAll(value, "'", "''")
}
