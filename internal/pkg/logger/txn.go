package logger

import (
	"strings"

	"go.uber.org/zap"
)

// 敏感字段名子串，出现即整体打码
var sensitiveKeys = []string{
	"authorization",
	"access_token",
	"refresh_token",
	"token",
	"secret",
	"password",
}

const redactedValue = "***redacted***"

// SanitizePayload 递归剔除payload中的敏感字段，保留业务字段
func SanitizePayload(payload interface{}) interface{} {
	switch value := payload.(type) {
	case map[string]interface{}:
		sanitized := make(map[string]interface{}, len(value))
		for key, val := range value {
			if isSensitiveKey(key) {
				if val == nil {
					sanitized[key] = ""
				} else {
					sanitized[key] = redactedValue
				}
			} else {
				sanitized[key] = SanitizePayload(val)
			}
		}
		return sanitized
	case []interface{}:
		sanitized := make([]interface{}, 0, len(value))
		for _, item := range value {
			sanitized = append(sanitized, SanitizePayload(item))
		}
		return sanitized
	default:
		return payload
	}
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, token := range sensitiveKeys {
		if strings.Contains(lower, token) {
			return true
		}
	}
	return false
}

// Truncate 截断对端响应体，避免日志膨胀
func Truncate(body string, limit int) string {
	if len(body) <= limit {
		return body
	}
	return body[:limit] + "..."
}

// TxnFields 交易生命周期日志的公共字段
type TxnFields struct {
	RequestID      string
	ClientID       string
	RealmID        string
	Environment    string
	TxnType        string
	TxnID          string
	DocNumber      string
	IdempotencyKey string
}

func (f TxnFields) zapFields() []zap.Field {
	return []zap.Field{
		zap.String("request_id", f.RequestID),
		zap.String("client_id", f.ClientID),
		zap.String("realm_id", f.RealmID),
		zap.String("environment", f.Environment),
		zap.String("txn_type", f.TxnType),
		zap.String("txn_id", f.TxnID),
		zap.String("doc_number", f.DocNumber),
		zap.String("idempotency_key", f.IdempotencyKey),
	}
}

// TxnStarted 交易尝试开始事件（payload已脱敏）
func TxnStarted(fields TxnFields, payload interface{}) {
	log.Info("qbo_txn_attempt_started",
		append(fields.zapFields(), zap.Any("payload", SanitizePayload(payload)))...)
}

// TxnFinished 交易尝试结束事件，成功与失败都要发
func TxnFinished(fields TxnFields, gatewayStatus, qboStatus int, latencyMs float64, result, errorCode, errorMessage, qboErrorDetails string, idempotentReuse bool) {
	log.Info("qbo_txn_attempt_finished",
		append(fields.zapFields(),
			zap.Int("gateway_status_code", gatewayStatus),
			zap.Int("qbo_status_code", qboStatus),
			zap.Float64("latency_ms", latencyMs),
			zap.String("result", result),
			zap.String("error_code", errorCode),
			zap.String("error_message", errorMessage),
			zap.String("qbo_error_details", Truncate(qboErrorDetails, 400)),
			zap.Bool("idempotent_reuse", idempotentReuse),
		)...)
}
