package service

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/jorgeaveraf/qbo-gateway/internal/dto"
	"github.com/jorgeaveraf/qbo-gateway/internal/model"
	"github.com/jorgeaveraf/qbo-gateway/internal/pkg/logger"
	"github.com/jorgeaveraf/qbo-gateway/internal/repository"
	"github.com/jorgeaveraf/qbo-gateway/pkg/responses"
)

// TxnInput 一次代理写入的完整上下文
type TxnInput struct {
	Client     *model.Client
	Credential *model.ClientCredential
	RequestID  string

	IdempotencyKey string
	ResourceType   string
	// 调用方原始请求体，用于幂等哈希兜底和审计日志
	RequestPayload map[string]interface{}
	Fingerprint    string

	Entity   string
	Resource string
	// 引用解析完成后的QBO payload
	Payload map[string]interface{}

	// 引用解析阶段是否已触发过token刷新
	ResolverRefreshed bool
}

// TxnService 交易编排：幂等注册 → 上游写入 → 结果落库
//
// 单次写入的注册和落库在同一个事务里提交：上游失败时整个事务
// 回滚，幂等预留随之释放，同键的合法重试不会被一次瞬时故障卡死
type TxnService struct {
	db  *gorm.DB
	qbo *QBOService
	log *zap.Logger
	now func() time.Time

	// transact 划定单次代理写入的事务边界，回调内的仓储与事务同生共死。
	// 测试替换为内存实现
	transact func(fn func(repo repository.IdempotencyRepository) error) error
}

func NewTxnService(db *gorm.DB, qbo *QBOService, log *zap.Logger) *TxnService {
	s := &TxnService{
		db:  db,
		qbo: qbo,
		log: log,
		now: time.Now,
	}
	s.transact = func(fn func(repo repository.IdempotencyRepository) error) error {
		return s.db.Transaction(func(tx *gorm.DB) error {
			return fn(repository.NewIdempotencyRepository(tx))
		})
	}
	return s
}

// ExecutePost 执行代理写入
//
// 幂等键冲突直接上抛；命中已完成记录时回放缓存响应并标记
// idempotent_reuse，不再触达上游
func (s *TxnService) ExecutePost(ctx context.Context, in *TxnInput) (*dto.QBOProxyResponse, error) {
	txnID, docNumber := extractTxnIdentifiers(in.RequestPayload)
	fields := logger.TxnFields{
		RequestID:      in.RequestID,
		ClientID:       in.Client.ID.String(),
		RealmID:        in.Credential.RealmID,
		Environment:    in.Credential.Environment,
		TxnType:        in.Resource,
		TxnID:          txnID,
		DocNumber:      docNumber,
		IdempotencyKey: in.IdempotencyKey,
	}
	logger.TxnStarted(fields, in.RequestPayload)

	var response *dto.QBOProxyResponse
	err := s.transact(func(repo repository.IdempotencyRepository) error {
		idempotency := NewIdempotencyService(repo)

		record, reused, err := idempotency.Register(
			in.Client.ID,
			in.IdempotencyKey,
			in.RequestPayload,
			in.ResourceType,
			in.Fingerprint,
		)
		if err != nil {
			return err
		}

		if reused && record.Resolved() {
			var cached dto.QBOProxyResponse
			if err := json.Unmarshal(record.ResponseBody, &cached); err != nil {
				return responses.Wrap(responses.CodeInternalError, "缓存响应损坏", err)
			}
			cached.IdempotentReuse = true
			logger.TxnFinished(fields, http.StatusCreated, 0, 0, "success", "", "", "", true)
			response = &cached
			return nil
		}

		// 返回错误即回滚，上面注册的预留行不会留下来
		data, refreshed, latencyMs, qboStatus, err := s.qbo.Post(ctx, in.Credential, in.Entity, in.Resource, in.Payload)
		if err != nil {
			s.logUpstreamFailure(fields, qboStatus, err)
			return mapTxnError(err)
		}

		response = &dto.QBOProxyResponse{
			ClientID:        in.Client.ID.String(),
			RealmID:         in.Credential.RealmID,
			Environment:     in.Credential.Environment,
			FetchedAt:       s.now().UTC(),
			LatencyMs:       math.Round(latencyMs*100) / 100,
			Data:            data,
			Refreshed:       refreshed || in.ResolverRefreshed,
			IdempotentReuse: false,
		}

		if err := idempotency.StoreResponse(record, in.Client.ID, response); err != nil {
			s.log.Error("幂等响应落库失败",
				zap.String("idempotency_key", in.IdempotencyKey),
				zap.String("client_id", in.Client.ID.String()),
				zap.Error(err),
			)
			return err
		}

		logger.TxnFinished(fields, http.StatusCreated, qboStatus, latencyMs, "success", "", "", "", false)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return response, nil
}

func (s *TxnService) logUpstreamFailure(fields logger.TxnFields, qboStatus int, err error) {
	var apiErr *QBOAPIError
	if errors.As(err, &apiErr) {
		logger.TxnFinished(fields, http.StatusBadGateway, apiErr.StatusCode, 0, "failure",
			classifyUpstreamError(apiErr.StatusCode, err), err.Error(), apiErr.Body, false)
		return
	}
	logger.TxnFinished(fields, http.StatusBadGateway, qboStatus, 0, "failure",
		classifyUpstreamError(qboStatus, err), err.Error(), "", false)
}

func mapTxnError(err error) error {
	var oauthErr *QBOOAuthError
	if errors.As(err, &oauthErr) {
		return responses.Wrap(responses.CodeUpstreamAuth, oauthErr.Message, err)
	}
	var apiErr *QBOAPIError
	if errors.As(err, &apiErr) {
		return responses.Wrap(responses.CodeUpstreamAPI, "QuickBooks API error", err)
	}
	return responses.Wrap(responses.CodeUpstreamAPI, "QuickBooks request failed", err)
}

func classifyUpstreamError(statusCode int, err error) string {
	var oauthErr *QBOOAuthError
	if errors.As(err, &oauthErr) {
		return "qbo_oauth"
	}
	switch {
	case statusCode >= 500:
		return "qbo_5xx"
	case statusCode >= 400:
		return "qbo_4xx"
	default:
		return "unknown"
	}
}

// extractTxnIdentifiers 从原始请求体里兼容多种命名取交易号和单号
func extractTxnIdentifiers(payload map[string]interface{}) (string, string) {
	txnID := ""
	docNumber := ""
	for _, key := range []string{"txn_id", "TxnId", "txnId"} {
		if value, ok := payload[key]; ok {
			txnID = stringValue(value)
			break
		}
	}
	for _, key := range []string{"doc_number", "DocNumber", "docNumber"} {
		if value, ok := payload[key]; ok {
			docNumber = stringValue(value)
			break
		}
	}
	return txnID, docNumber
}
