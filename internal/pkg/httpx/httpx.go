package httpx

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"time"
)

// Client 带边界重试的HTTP客户端
// 仅对429与5xx重试；退避指数增长并受maxWait封顶，优先采用服务端Retry-After提示
type Client struct {
	httpClient  *http.Client
	maxAttempts int
	maxWait     time.Duration
}

// NewClient 创建客户端
func NewClient(timeout time.Duration, maxAttempts int, maxWait time.Duration) *Client {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		maxAttempts: maxAttempts,
		maxWait:     maxWait,
	}
}

// Do 执行请求，必要时重建请求体重试
// build在每次尝试前调用，保证body可重复读取
func (c *Client) Do(ctx context.Context, build func() (*http.Request, error)) (*http.Response, error) {
	var lastResp *http.Response

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		req, err := build()
		if err != nil {
			return nil, err
		}

		resp, err := c.httpClient.Do(req.WithContext(ctx))
		if err != nil {
			return nil, err
		}

		if !shouldRetry(resp.StatusCode) {
			return resp, nil
		}

		lastResp = resp
		if attempt == c.maxAttempts {
			break
		}

		wait := c.backoff(attempt, parseRetryAfter(resp))
		resp.Body.Close()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}

	// 重试预算耗尽，把最后一次响应交给调用方定性
	return lastResp, nil
}

func shouldRetry(statusCode int) bool {
	if statusCode == http.StatusTooManyRequests {
		return true
	}
	return statusCode >= 500 && statusCode < 600
}

// backoff 计算第attempt次失败后的等待时长
func (c *Client) backoff(attempt int, retryAfter time.Duration) time.Duration {
	if retryAfter > 0 {
		if retryAfter > c.maxWait {
			return c.maxWait
		}
		return retryAfter
	}

	wait := time.Duration(math.Pow(2, float64(attempt-1))) * time.Second
	if wait > c.maxWait {
		return c.maxWait
	}
	return wait
}

// parseRetryAfter 解析Retry-After头（秒数或HTTP日期两种格式）
func parseRetryAfter(resp *http.Response) time.Duration {
	header := resp.Header.Get("Retry-After")
	if header == "" {
		return 0
	}

	if seconds, err := strconv.ParseFloat(header, 64); err == nil {
		if seconds < 0 {
			return 0
		}
		return time.Duration(seconds * float64(time.Second))
	}

	if retryTime, err := http.ParseTime(header); err == nil {
		delta := time.Until(retryTime)
		if delta < 0 {
			return 0
		}
		return delta
	}

	return 0
}
