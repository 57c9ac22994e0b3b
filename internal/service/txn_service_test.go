package service

import (
	"context"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jorgeaveraf/qbo-gateway/internal/model"
	"github.com/jorgeaveraf/qbo-gateway/internal/pkg/config"
	"github.com/jorgeaveraf/qbo-gateway/internal/pkg/logger"
	"github.com/jorgeaveraf/qbo-gateway/pkg/responses"
)

func TestMain(m *testing.M) {
	// 交易日志走包级logger，测试前初始化
	_ = logger.Init(&config.LogConfig{Level: "error", Format: "console", Output: "stdout"})
	os.Exit(m.Run())
}

func newTxnHarness(t *testing.T) (*resolverHarness, *TxnService, *fakeIdempotencyRepo, *TxnInput) {
	t.Helper()
	h, resolver := newResolverHarness(t)
	repo := newFakeIdempotencyRepo()
	txn := &TxnService{
		qbo:      resolver.qbo,
		log:      zap.NewNop(),
		now:      time.Now,
		transact: repo.transact,
	}

	client := &model.Client{Name: "acme"}
	client.ID = uuid.New()

	in := &TxnInput{
		Client:         client,
		Credential:     resolver.credential,
		RequestID:      "req-1",
		IdempotencyKey: "dep-2024-03-01-001",
		ResourceType:   "deposit:create",
		RequestPayload: map[string]interface{}{
			"date":   "2024-03-01",
			"txn_id": "T-100",
		},
		Fingerprint: "realm|Deposit|2024-03-01|150.25|Checking|T-100",
		Entity:      "Deposit",
		Resource:    "deposit",
		Payload:     map[string]interface{}{"TxnDate": "2024-03-01"},
	}
	return h, txn, repo, in
}

func TestExecutePost(t *testing.T) {
	t.Run("Successful write stores response", func(t *testing.T) {
		h, txn, repo, in := newTxnHarness(t)
		h.onPost = func(resource string, payload map[string]interface{}) (int, interface{}) {
			assert.Equal(t, "deposit", resource)
			assert.Equal(t, "2024-03-01", payload["TxnDate"])
			return http.StatusOK, map[string]interface{}{
				"Deposit": map[string]interface{}{"Id": "310"},
			}
		}

		resp, err := txn.ExecutePost(context.Background(), in)
		require.NoError(t, err)
		assert.Equal(t, in.Client.ID.String(), resp.ClientID)
		assert.Equal(t, in.Credential.RealmID, resp.RealmID)
		assert.False(t, resp.IdempotentReuse)
		assert.Contains(t, resp.Data, "Deposit")

		record, err := repo.GetByKey(in.IdempotencyKey)
		require.NoError(t, err)
		require.NotNil(t, record)
		assert.True(t, record.Resolved())
		require.NotNil(t, record.ClientID)
		assert.Equal(t, in.Client.ID, *record.ClientID)
	})

	t.Run("Resolver refresh propagates to response", func(t *testing.T) {
		h, txn, _, in := newTxnHarness(t)
		h.onPost = func(_ string, _ map[string]interface{}) (int, interface{}) {
			return http.StatusOK, map[string]interface{}{"Deposit": map[string]interface{}{"Id": "311"}}
		}
		in.ResolverRefreshed = true

		resp, err := txn.ExecutePost(context.Background(), in)
		require.NoError(t, err)
		assert.True(t, resp.Refreshed)
	})

	t.Run("Replay returns cached response without upstream call", func(t *testing.T) {
		h, txn, _, in := newTxnHarness(t)
		h.onPost = func(_ string, _ map[string]interface{}) (int, interface{}) {
			return http.StatusOK, map[string]interface{}{"Deposit": map[string]interface{}{"Id": "312"}}
		}

		first, err := txn.ExecutePost(context.Background(), in)
		require.NoError(t, err)
		require.Len(t, h.posts, 1)

		second, err := txn.ExecutePost(context.Background(), in)
		require.NoError(t, err)
		assert.True(t, second.IdempotentReuse)
		assert.Equal(t, first.Data, second.Data)
		assert.Len(t, h.posts, 1, "cached replay must not touch upstream")
	})

	t.Run("Key conflict surfaces before upstream call", func(t *testing.T) {
		h, txn, _, in := newTxnHarness(t)
		h.onPost = func(_ string, _ map[string]interface{}) (int, interface{}) {
			return http.StatusOK, map[string]interface{}{"Deposit": map[string]interface{}{"Id": "313"}}
		}

		_, err := txn.ExecutePost(context.Background(), in)
		require.NoError(t, err)

		conflicting := *in
		conflicting.Fingerprint = "realm|Deposit|2024-03-02|999.99|Savings|T-999"
		_, err = txn.ExecutePost(context.Background(), &conflicting)
		assert.ErrorIs(t, err, responses.ErrIdempotencyConflict)
		assert.Len(t, h.posts, 1)
	})

	t.Run("Upstream failure rolls back the reservation", func(t *testing.T) {
		h, txn, repo, in := newTxnHarness(t)
		h.onPost = func(_ string, _ map[string]interface{}) (int, interface{}) {
			return http.StatusBadRequest, map[string]interface{}{
				"Fault": map[string]interface{}{"Error": []interface{}{map[string]interface{}{"code": "2010"}}},
			}
		}

		_, err := txn.ExecutePost(context.Background(), in)
		var appErr *responses.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, responses.CodeUpstreamAPI, appErr.Code)

		record, getErr := repo.GetByKey(in.IdempotencyKey)
		require.NoError(t, getErr)
		assert.Nil(t, record, "failed attempt must not leave a reservation behind")
	})

	t.Run("Retry after upstream failure succeeds", func(t *testing.T) {
		h, txn, repo, in := newTxnHarness(t)
		failing := true
		h.onPost = func(_ string, _ map[string]interface{}) (int, interface{}) {
			if failing {
				return http.StatusInternalServerError, map[string]interface{}{
					"Fault": map[string]interface{}{"Error": []interface{}{map[string]interface{}{"code": "10000"}}},
				}
			}
			return http.StatusOK, map[string]interface{}{"Deposit": map[string]interface{}{"Id": "314"}}
		}

		_, err := txn.ExecutePost(context.Background(), in)
		require.Error(t, err)

		// 上游恢复后，同一客户端同键同指纹的重试必须正常走完
		failing = false
		resp, err := txn.ExecutePost(context.Background(), in)
		require.NoError(t, err)
		assert.False(t, resp.IdempotentReuse)
		assert.Len(t, h.posts, 2)

		record, getErr := repo.GetByKey(in.IdempotencyKey)
		require.NoError(t, getErr)
		require.NotNil(t, record)
		assert.True(t, record.Resolved())
	})
}

func TestClassifyUpstreamError(t *testing.T) {
	assert.Equal(t, "qbo_oauth", classifyUpstreamError(401, &QBOOAuthError{Message: "x"}))
	assert.Equal(t, "qbo_5xx", classifyUpstreamError(502, &QBOAPIError{StatusCode: 502}))
	assert.Equal(t, "qbo_4xx", classifyUpstreamError(400, &QBOAPIError{StatusCode: 400}))
	assert.Equal(t, "unknown", classifyUpstreamError(0, context.DeadlineExceeded))
}

func TestMapTxnError(t *testing.T) {
	var appErr *responses.AppError

	err := mapTxnError(&QBOOAuthError{Message: "invalid_grant"})
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, responses.CodeUpstreamAuth, appErr.Code)

	err = mapTxnError(&QBOAPIError{StatusCode: 400})
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, responses.CodeUpstreamAPI, appErr.Code)

	err = mapTxnError(context.DeadlineExceeded)
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, responses.CodeUpstreamAPI, appErr.Code)
}

func TestExtractTxnIdentifiers(t *testing.T) {
	txnID, docNumber := extractTxnIdentifiers(map[string]interface{}{
		"txn_id":     "T-1",
		"doc_number": "INV-9",
	})
	assert.Equal(t, "T-1", txnID)
	assert.Equal(t, "INV-9", docNumber)

	txnID, docNumber = extractTxnIdentifiers(map[string]interface{}{"TxnId": float64(42)})
	assert.Equal(t, "42", txnID)
	assert.Empty(t, docNumber)
}
