package service

import "fmt"

// QBOOAuthError OAuth交换/刷新失败，或强制刷新后仍收到401
type QBOOAuthError struct {
	Message string
	Err     error
}

func (e *QBOOAuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("QBO OAuth error: %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("QBO OAuth error: %s", e.Message)
}

func (e *QBOOAuthError) Unwrap() error {
	return e.Err
}

// QBOAPIError 数据面调用返回不可恢复的4xx/5xx
type QBOAPIError struct {
	Entity     string
	StatusCode int
	Body       string
}

func (e *QBOAPIError) Error() string {
	return fmt.Sprintf("QBO API error for %s: %d %s", e.Entity, e.StatusCode, e.Body)
}
