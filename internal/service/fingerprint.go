package service

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// BuildFingerprint 以业务字段生成确定性指纹
//
// 规则：
// - 各部分按入参顺序以"|"拼接，顺序敏感
// - decimal金额统一量化到两位小数（四舍五入进位），消除浮点噪声
// - nil一律序列化为空串，不得出现"None"/"null"字样
//
// 幂等协调器对交易类请求哈希的是该指纹而非原始payload，
// 这样两种不同的客户端编码描述同一笔业务时可以命中同一条记录
func BuildFingerprint(parts ...interface{}) string {
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		normalized = append(normalized, normalizePart(part))
	}
	return strings.Join(normalized, "|")
}

func normalizePart(part interface{}) string {
	switch value := part.(type) {
	case nil:
		return ""
	case decimal.Decimal:
		return normalizeAmount(value)
	case *decimal.Decimal:
		if value == nil {
			return ""
		}
		return normalizeAmount(*value)
	case string:
		return value
	case *string:
		if value == nil {
			return ""
		}
		return *value
	default:
		return fmt.Sprintf("%v", value)
	}
}

// normalizeAmount 金额规整到分，half-up进位
func normalizeAmount(value decimal.Decimal) string {
	return value.Round(2).StringFixed(2)
}
