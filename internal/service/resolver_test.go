package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jorgeaveraf/qbo-gateway/pkg/responses"
)

// resolverHarness 伪造QBO数据面：记录查询语句与写入payload，按注入规则应答
type resolverHarness struct {
	server  *httptest.Server
	queries []string
	posts   []map[string]interface{}

	onQuery func(index int, query string) interface{}
	onPost  func(resource string, payload map[string]interface{}) (int, interface{})
}

func newResolverHarness(t *testing.T) (*resolverHarness, *ReferenceResolver) {
	t.Helper()
	h := &resolverHarness{}

	h.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		if r.Method == http.MethodPost {
			var payload map[string]interface{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
			h.posts = append(h.posts, payload)

			parts := strings.Split(r.URL.Path, "/")
			resource := parts[len(parts)-1]
			status, body := http.StatusOK, interface{}(map[string]interface{}{})
			if h.onPost != nil {
				status, body = h.onPost(resource, payload)
			}
			w.WriteHeader(status)
			_ = json.NewEncoder(w).Encode(body)
			return
		}

		query := r.URL.Query().Get("query")
		h.queries = append(h.queries, query)
		body := interface{}(map[string]interface{}{"QueryResponse": map[string]interface{}{}})
		if h.onQuery != nil {
			body = h.onQuery(len(h.queries), query)
		}
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(h.server.Close)

	svc, _ := newTestQBOService("http://unused", h.server.URL)
	credential := newTestCredential(t, "AT-current", 10*time.Minute)
	resolver := NewReferenceResolver(svc, credential, zap.NewNop())
	return h, resolver
}

func queryResult(entity string, records ...map[string]interface{}) map[string]interface{} {
	items := make([]interface{}, 0, len(records))
	for _, record := range records {
		items = append(items, record)
	}
	return map[string]interface{}{
		"QueryResponse": map[string]interface{}{entity: items},
	}
}

func TestResolverNameMatching(t *testing.T) {
	t.Run("Customer matched case-insensitively", func(t *testing.T) {
		h, resolver := newResolverHarness(t)
		h.onQuery = func(_ int, _ string) interface{} {
			return queryResult("Customer", map[string]interface{}{"Id": "42", "DisplayName": "Acme Corp"})
		}

		reference, err := resolver.ResolveCustomer(context.Background(), "acme corp", false)
		require.NoError(t, err)
		assert.Equal(t, "42", reference.Value)
		assert.Equal(t, "Acme Corp", reference.Name)

		require.Len(t, h.queries, 1)
		assert.Contains(t, h.queries[0], "UPPER(DisplayName) = 'ACME CORP'")
	})

	t.Run("Item matched case-sensitively by FullyQualifiedName", func(t *testing.T) {
		h, resolver := newResolverHarness(t)
		h.onQuery = func(_ int, _ string) interface{} {
			return queryResult("Item", map[string]interface{}{"Id": "7", "FullyQualifiedName": "Consulting:Hourly"})
		}

		reference, err := resolver.ResolveItem(context.Background(), "Consulting:Hourly")
		require.NoError(t, err)
		assert.Equal(t, "7", reference.Value)

		require.Len(t, h.queries, 1)
		assert.Contains(t, h.queries[0], "FullyQualifiedName = 'Consulting:Hourly'")
		assert.NotContains(t, h.queries[0], "UPPER(")
	})

	t.Run("Single quotes doubled in query values", func(t *testing.T) {
		h, resolver := newResolverHarness(t)
		h.onQuery = func(_ int, _ string) interface{} {
			return queryResult("Customer", map[string]interface{}{"Id": "9", "DisplayName": "O'Brien Services"})
		}

		_, err := resolver.ResolveCustomer(context.Background(), "O'Brien Services", false)
		require.NoError(t, err)
		assert.Contains(t, h.queries[0], "O''BRIEN SERVICES")
	})

	t.Run("Miss without auto-create is not found", func(t *testing.T) {
		_, resolver := newResolverHarness(t)

		_, err := resolver.ResolveCustomer(context.Background(), "Ghost", false)
		var appErr *responses.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, responses.CodeNotFound, appErr.Code)
	})
}

func TestResolverNumericIdentifier(t *testing.T) {
	t.Run("Id query first then doc number fallback", func(t *testing.T) {
		h, resolver := newResolverHarness(t)
		h.onQuery = func(index int, _ string) interface{} {
			if index == 1 {
				return queryResult("Invoice")
			}
			return queryResult("Invoice", map[string]interface{}{"Id": "88", "DocNumber": "1045"})
		}

		txn, err := resolver.ResolveInvoiceTxn(context.Background(), "1045")
		require.NoError(t, err)
		assert.Equal(t, "88", txn.Value)
		assert.Equal(t, "1045", txn.DocNumber)

		require.Len(t, h.queries, 2)
		assert.Contains(t, h.queries[0], "Id = '1045'")
		assert.NotContains(t, h.queries[0], "DocNumber")
		assert.Contains(t, h.queries[1], "UPPER(DocNumber) = '1045'")
	})

	t.Run("Numeric Id from JSON float formatted without exponent", func(t *testing.T) {
		h, resolver := newResolverHarness(t)
		h.onQuery = func(_ int, _ string) interface{} {
			// 模拟json解码把Id数字化
			return map[string]interface{}{
				"QueryResponse": map[string]interface{}{
					"Customer": []interface{}{map[string]interface{}{"Id": float64(123456789), "DisplayName": "Big Id"}},
				},
			}
		}

		reference, err := resolver.ResolveCustomer(context.Background(), "Big Id", false)
		require.NoError(t, err)
		assert.Equal(t, "123456789", reference.Value)
		assert.Len(t, h.queries, 1)
	})
}

func TestResolverMemoization(t *testing.T) {
	h, resolver := newResolverHarness(t)
	h.onQuery = func(_ int, query string) interface{} {
		if strings.Contains(query, "from Customer") {
			return queryResult("Customer", map[string]interface{}{"Id": "1", "DisplayName": "ACME"})
		}
		return queryResult("Vendor", map[string]interface{}{"Id": "2", "DisplayName": "ACME"})
	}

	_, err := resolver.ResolveCustomer(context.Background(), "ACME", false)
	require.NoError(t, err)
	_, err = resolver.ResolveCustomer(context.Background(), "acme", false)
	require.NoError(t, err)
	assert.Len(t, h.queries, 1, "same customer resolved once per request")

	// 同名不同实体类型不共享缓存
	_, err = resolver.ResolveVendor(context.Background(), "ACME", false)
	require.NoError(t, err)
	assert.Len(t, h.queries, 2)
}

func TestResolverAutoCreate(t *testing.T) {
	h, resolver := newResolverHarness(t)
	h.onPost = func(resource string, payload map[string]interface{}) (int, interface{}) {
		assert.Equal(t, "customer", resource)
		return http.StatusOK, map[string]interface{}{
			"Customer": map[string]interface{}{"Id": "77", "DisplayName": payload["DisplayName"]},
		}
	}

	reference, err := resolver.ResolveCustomer(context.Background(), "Fresh Customer", true)
	require.NoError(t, err)
	assert.Equal(t, "77", reference.Value)
	assert.Equal(t, "Fresh Customer", reference.Name)

	require.Len(t, h.posts, 1)
	assert.Equal(t, "Fresh Customer", h.posts[0]["DisplayName"])

	// 创建结果进入缓存
	_, err = resolver.ResolveCustomer(context.Background(), "Fresh Customer", true)
	require.NoError(t, err)
	assert.Len(t, h.posts, 1)
}

func TestAccountResolution(t *testing.T) {
	t.Run("Falls back from qualified name to leaf then relaxes type", func(t *testing.T) {
		h, resolver := newResolverHarness(t)
		h.onQuery = func(index int, query string) interface{} {
			// 仅在放宽类型后的叶子名查询命中
			if index == 4 {
				return queryResult("Account", map[string]interface{}{
					"Id": "35", "Name": "Checking", "AccountType": "Bank",
					"FullyQualifiedName": "Assets:Checking",
				})
			}
			return queryResult("Account")
		}

		reference, err := resolver.ResolveAccount(context.Background(), "Assets:Checking", "Expense")
		require.NoError(t, err)
		assert.Equal(t, "35", reference.Value)

		require.Len(t, h.queries, 4)
		assert.Contains(t, h.queries[0], "FullyQualifiedName = 'Assets:Checking'")
		assert.Contains(t, h.queries[1], "AccountType = 'Expense'")
		assert.Contains(t, h.queries[1], "Name = 'Checking'")
		assert.Contains(t, h.queries[2], "FullyQualifiedName = 'Assets:Checking'")
		assert.Contains(t, h.queries[3], "Name = 'Checking'")
		assert.NotContains(t, h.queries[3], "AccountType")
	})

	t.Run("Duplicate name on create reuses existing account", func(t *testing.T) {
		h, resolver := newResolverHarness(t)
		h.onQuery = func(index int, _ string) interface{} {
			// 解析阶段两次未命中；6240后的恢复查询命中
			if index >= 3 {
				return queryResult("Account", map[string]interface{}{"Id": "60", "Name": "Payroll", "AccountType": "Expense"})
			}
			return queryResult("Account")
		}
		h.onPost = func(_ string, _ map[string]interface{}) (int, interface{}) {
			return http.StatusBadRequest, map[string]interface{}{
				"Fault": map[string]interface{}{
					"Error": []interface{}{map[string]interface{}{"code": "6240", "Message": "Duplicate Name Exists Error"}},
				},
			}
		}

		reference, err := resolver.EnsureAccount(context.Background(), "Payroll", "Expense", "", true)
		require.NoError(t, err)
		assert.Equal(t, "60", reference.Value)
		assert.Len(t, h.posts, 1)
	})

	t.Run("Other create errors surface as upstream API errors", func(t *testing.T) {
		h, resolver := newResolverHarness(t)
		h.onPost = func(_ string, _ map[string]interface{}) (int, interface{}) {
			return http.StatusBadRequest, map[string]interface{}{
				"Fault": map[string]interface{}{
					"Error": []interface{}{map[string]interface{}{"code": "2050"}},
				},
			}
		}

		_, err := resolver.EnsureAccount(context.Background(), "Payroll", "Expense", "", true)
		var appErr *responses.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, responses.CodeUpstreamAPI, appErr.Code)
		assert.Len(t, h.posts, 1)
	})

	t.Run("Parent path split on create", func(t *testing.T) {
		h, resolver := newResolverHarness(t)
		h.onQuery = func(_ int, query string) interface{} {
			if strings.Contains(query, "'Assets'") {
				return queryResult("Account", map[string]interface{}{"Id": "10", "Name": "Assets"})
			}
			return queryResult("Account")
		}
		h.onPost = func(_ string, payload map[string]interface{}) (int, interface{}) {
			return http.StatusOK, map[string]interface{}{
				"Account": map[string]interface{}{"Id": "90", "Name": payload["Name"]},
			}
		}

		reference, err := resolver.EnsureAccount(context.Background(), "Assets:Petty Cash", "Bank", "CashOnHand", true)
		require.NoError(t, err)
		assert.Equal(t, "90", reference.Value)

		require.Len(t, h.posts, 1)
		created := h.posts[0]
		assert.Equal(t, "Petty Cash", created["Name"])
		assert.Equal(t, "Bank", created["AccountType"])
		assert.Equal(t, "CashOnHand", created["AccountSubType"])
		parentRef := created["ParentRef"].(map[string]interface{})
		assert.Equal(t, "10", parentRef["value"])
	})
}

func TestResolveEntity(t *testing.T) {
	t.Run("Entity type mapped to QBO entity", func(t *testing.T) {
		h, resolver := newResolverHarness(t)
		h.onQuery = func(_ int, query string) interface{} {
			assert.Contains(t, query, "from OtherName")
			return queryResult("OtherName", map[string]interface{}{"Id": "5", "DisplayName": "Landlord"})
		}

		entityRef, err := resolver.ResolveEntity(context.Background(), "Landlord", "Other")
		require.NoError(t, err)
		assert.Equal(t, "Other", entityRef.Type)
		assert.Equal(t, "5", entityRef.Value)
	})

	t.Run("Unknown entity type rejected", func(t *testing.T) {
		_, resolver := newResolverHarness(t)
		_, err := resolver.ResolveEntity(context.Background(), "X", "Partner")
		var appErr *responses.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, responses.CodeBadRequest, appErr.Code)
	})
}

func TestResolveItemIncomeAccount(t *testing.T) {
	t.Run("Reads income account ref from item record", func(t *testing.T) {
		h, resolver := newResolverHarness(t)
		h.onQuery = func(_ int, _ string) interface{} {
			return queryResult("Item", map[string]interface{}{
				"Id": "7", "Name": "Consulting",
				"IncomeAccountRef": map[string]interface{}{"value": "44", "name": "Sales"},
			})
		}

		reference, err := resolver.ResolveItemIncomeAccount(context.Background(), "Consulting")
		require.NoError(t, err)
		assert.Equal(t, "44", reference.Value)
		assert.Equal(t, "Sales", reference.Name)
	})

	t.Run("Item without income account rejected", func(t *testing.T) {
		h, resolver := newResolverHarness(t)
		h.onQuery = func(_ int, _ string) interface{} {
			return queryResult("Item", map[string]interface{}{"Id": "7", "Name": "Consulting"})
		}

		_, err := resolver.ResolveItemIncomeAccount(context.Background(), "Consulting")
		var appErr *responses.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, responses.CodeBadRequest, appErr.Code)
	})
}

func TestBuildWhereClause(t *testing.T) {
	t.Run("Numeric identifier ors id and name", func(t *testing.T) {
		clause := buildWhereClause("123", "DocNumber", nil, true, true)
		assert.Equal(t, "Id = '123' OR UPPER(DocNumber) = '123'", clause)
	})

	t.Run("Numeric identifier without name match", func(t *testing.T) {
		clause := buildWhereClause("123", "Name", nil, false, false)
		assert.Equal(t, "Id = '123'", clause)
	})

	t.Run("Extra filters joined with and", func(t *testing.T) {
		clause := buildWhereClause("Checking", "Name", []string{"AccountType = 'Bank'"}, false, false)
		assert.Equal(t, "AccountType = 'Bank' AND Name = 'Checking'", clause)
	})
}

func TestSanitizeAccountName(t *testing.T) {
	name, parent := sanitizeAccountName("Assets:Petty Cash")
	assert.Equal(t, "Petty Cash", name)
	assert.Equal(t, "Assets", parent)

	name, parent = sanitizeAccountName("Top\r\nLevel")
	assert.Equal(t, "TopLevel", name)
	assert.Empty(t, parent)

	name, _ = sanitizeAccountName(":\t")
	assert.Equal(t, "Auto Account", name)
}

func TestExtractQBOErrorCode(t *testing.T) {
	assert.Equal(t, "6240", extractQBOErrorCode(`{"Fault":{"Error":[{"code":"6240"}]}}`))
	assert.Equal(t, "6240", extractQBOErrorCode(`{"Fault":{"Error":{"code":"6240"}}}`))
	assert.Empty(t, extractQBOErrorCode(`{"Fault":{}}`))
	assert.Empty(t, extractQBOErrorCode("not json"))
	assert.Empty(t, extractQBOErrorCode(""))
}

func TestCacheKey(t *testing.T) {
	assert.Equal(t, "id:123", cacheKey(" 123 "))
	assert.Equal(t, "name:acme corp", cacheKey("ACME Corp"))
}
