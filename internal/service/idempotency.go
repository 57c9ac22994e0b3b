package service

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sort"

	"github.com/google/uuid"

	"github.com/jorgeaveraf/qbo-gateway/internal/model"
	"github.com/jorgeaveraf/qbo-gateway/internal/repository"
	pkgErrors "github.com/jorgeaveraf/qbo-gateway/pkg/responses"
)

// IdempotencyService 幂等协调器
//
// key在全租户范围内唯一（不按客户端隔离），两个客户端提交相同key
// 会被视为同一逻辑操作，这是既定对外语义，不做"修复"
type IdempotencyService struct {
	repo repository.IdempotencyRepository
}

func NewIdempotencyService(repo repository.IdempotencyRepository) *IdempotencyService {
	return &IdempotencyService{repo: repo}
}

// Register 注册幂等键
//
// fingerprint非空时哈希指纹，否则哈希规范化后的payload；返回的
// alreadyRegistered为true表示key已有归属，调用方须按缓存结果回放。
// 记录随外层事务提交后才算持久
func (s *IdempotencyService) Register(
	clientID uuid.UUID,
	key string,
	requestPayload interface{},
	resourceType string,
	fingerprint string,
) (*model.IdempotencyKey, bool, error) {
	serialized := fingerprint
	if serialized == "" {
		canonical, err := CanonicalJSON(requestPayload)
		if err != nil {
			return nil, false, pkgErrors.Wrap(pkgErrors.CodeInternalError, "序列化请求失败", err)
		}
		serialized = canonical
	}
	hashed := sha256Hex(serialized)

	existing, err := s.repo.GetByKey(key)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return s.checkExisting(existing, clientID, hashed)
	}

	record := &model.IdempotencyKey{
		ClientID:     nil,
		Key:          key,
		ResourceType: resourceType,
		RequestHash:  hashed,
	}
	if err := s.repo.Create(record); err != nil {
		if errors.Is(err, repository.ErrDuplicateKey) {
			// 并发插入竞争：唯一约束是唯一裁决来源，重新按key查一次即可收敛
			existing, err = s.repo.GetByKey(key)
			if err != nil {
				return nil, false, err
			}
			if existing == nil {
				return nil, false, pkgErrors.Wrap(pkgErrors.CodeInternalError, "幂等记录插入竞争后丢失", nil)
			}
			return s.checkExisting(existing, clientID, hashed)
		}
		return nil, false, err
	}
	return record, false, nil
}

// checkExisting 对已存在记录做冲突裁决
func (s *IdempotencyService) checkExisting(existing *model.IdempotencyKey, clientID uuid.UUID, hashed string) (*model.IdempotencyKey, bool, error) {
	if existing.RequestHash != hashed {
		// 同一key被复用到不同操作
		return nil, false, pkgErrors.ErrIdempotencyConflict
	}
	if !existing.Resolved() && (existing.ClientID == nil || *existing.ClientID != clientID) {
		// 另一在途请求仍占用该key
		return nil, false, pkgErrors.ErrIdempotencyInUse
	}
	return existing, true, nil
}

// StoreResponse 落库成功响应，每条记录只允许调用一次，且必须在事务提交前完成
func (s *IdempotencyService) StoreResponse(record *model.IdempotencyKey, clientID uuid.UUID, responseBody interface{}) error {
	body, err := json.Marshal(responseBody)
	if err != nil {
		return pkgErrors.Wrap(pkgErrors.CodeInternalError, "序列化响应失败", err)
	}
	record.ClientID = &clientID
	record.ResponseBody = body
	return s.repo.Update(record)
}

// CanonicalJSON 键排序+紧凑分隔符的规范化JSON，保证同义payload哈希一致
func CanonicalJSON(payload interface{}) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	var decoded interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", err
	}

	var sb bytes.Buffer
	if err := writeCanonical(&sb, decoded); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func writeCanonical(sb *bytes.Buffer, value interface{}) error {
	switch typed := value.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(typed))
		for key := range typed {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		sb.WriteByte('{')
		for i, key := range keys {
			if i > 0 {
				sb.WriteByte(',')
			}
			encodedKey, err := json.Marshal(key)
			if err != nil {
				return err
			}
			sb.Write(encodedKey)
			sb.WriteByte(':')
			if err := writeCanonical(sb, typed[key]); err != nil {
				return err
			}
		}
		sb.WriteByte('}')
		return nil
	case []interface{}:
		sb.WriteByte('[')
		for i, item := range typed {
			if i > 0 {
				sb.WriteByte(',')
			}
			if err := writeCanonical(sb, item); err != nil {
				return err
			}
		}
		sb.WriteByte(']')
		return nil
	default:
		encoded, err := json.Marshal(typed)
		if err != nil {
			return err
		}
		sb.Write(encoded)
		return nil
	}
}

func sha256Hex(value string) string {
	digest := sha256.Sum256([]byte(value))
	return hex.EncodeToString(digest[:])
}
