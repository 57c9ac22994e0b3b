package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/jorgeaveraf/qbo-gateway/internal/model"
	"github.com/jorgeaveraf/qbo-gateway/pkg/constants"
	"github.com/jorgeaveraf/qbo-gateway/pkg/responses"
)

// Reference QBO实体引用，直接内嵌到交易payload
type Reference struct {
	Value string
	Name  string
}

// Map 转为QBO要求的引用结构
func (r *Reference) Map() map[string]interface{} {
	m := map[string]interface{}{"value": r.Value}
	if r.Name != "" {
		m["name"] = r.Name
	}
	return m
}

// EntityReference 带类型的引用（Deposit明细等场景）
type EntityReference struct {
	Type  string
	Value string
	Name  string
}

// Map 转为QBO EntityRef结构
func (r *EntityReference) Map() map[string]interface{} {
	m := map[string]interface{}{
		"type":  r.Type,
		"value": r.Value,
	}
	if r.Name != "" {
		m["name"] = r.Name
	}
	return m
}

// TxnReference 已存在交易的引用（收付款核销用）
type TxnReference struct {
	Value     string
	DocNumber string
}

// resolveOptions 查询选项
type resolveOptions struct {
	nameField             string
	extraFilters          []string
	allowNumericNameMatch bool
	caseInsensitive       bool
}

// ReferenceResolver 引用解析器，生命周期限定在单次请求内
// 缓存键规则: 数字串 "id:<n>"，其余 "name:<小写>"；同一请求内重复引用不再回源
type ReferenceResolver struct {
	qbo        *QBOService
	credential *model.ClientCredential
	logger     *zap.Logger

	references map[string]map[string]*Reference
	records    map[string]map[string]map[string]interface{}

	// 本次请求内任一上游调用触发过token刷新
	refreshed bool
	// 累计上游耗时
	latencyMs float64
}

func NewReferenceResolver(qbo *QBOService, credential *model.ClientCredential, logger *zap.Logger) *ReferenceResolver {
	return &ReferenceResolver{
		qbo:        qbo,
		credential: credential,
		logger:     logger,
		references: make(map[string]map[string]*Reference),
		records:    make(map[string]map[string]map[string]interface{}),
	}
}

// Refreshed 解析过程是否发生过token刷新
func (r *ReferenceResolver) Refreshed() bool {
	return r.refreshed
}

// LatencyMs 解析过程累计的上游耗时
func (r *ReferenceResolver) LatencyMs() float64 {
	return r.latencyMs
}

// ResolveCustomer 客户名不区分大小写；未命中且允许时自动创建
func (r *ReferenceResolver) ResolveCustomer(ctx context.Context, identifier string, autoCreate bool) (*Reference, error) {
	reference, err := r.resolveEntityRef(ctx, "Customer", identifier, resolveOptions{
		nameField:       "DisplayName",
		caseInsensitive: true,
	})
	if err != nil {
		return nil, err
	}
	if reference != nil {
		return reference, nil
	}
	if autoCreate {
		return r.autoCreateNamed(ctx, "Customer", "customer", identifier)
	}
	return nil, responses.Newf(responses.CodeNotFound, "Customer '%s' not found", identifier)
}

// ResolveVendor 供应商名不区分大小写；未命中且允许时自动创建
func (r *ReferenceResolver) ResolveVendor(ctx context.Context, identifier string, autoCreate bool) (*Reference, error) {
	reference, err := r.resolveEntityRef(ctx, "Vendor", identifier, resolveOptions{
		nameField:       "DisplayName",
		caseInsensitive: true,
	})
	if err != nil {
		return nil, err
	}
	if reference != nil {
		return reference, nil
	}
	if autoCreate {
		return r.autoCreateNamed(ctx, "Vendor", "vendor", identifier)
	}
	return nil, responses.Newf(responses.CodeNotFound, "Vendor '%s' not found", identifier)
}

// ResolveItem QBO拒绝对Item使用UPPER()，只能按FullyQualifiedName区分大小写匹配
func (r *ReferenceResolver) ResolveItem(ctx context.Context, identifier string) (*Reference, error) {
	reference, err := r.resolveEntityRef(ctx, "Item", identifier, resolveOptions{
		nameField:       "FullyQualifiedName",
		caseInsensitive: false,
	})
	if err != nil {
		return nil, err
	}
	if reference == nil {
		return nil, responses.Newf(responses.CodeNotFound, "Item '%s' not found", identifier)
	}
	return reference, nil
}

// ResolveClass QBO同样拒绝对Class使用UPPER()，保持区分大小写
func (r *ReferenceResolver) ResolveClass(ctx context.Context, identifier string) (*Reference, error) {
	reference, err := r.resolveEntityRef(ctx, "Class", identifier, resolveOptions{
		nameField:       "FullyQualifiedName",
		caseInsensitive: false,
	})
	if err != nil {
		return nil, err
	}
	if reference == nil {
		return nil, responses.Newf(responses.CodeNotFound, "Class '%s' not found", identifier)
	}
	return reference, nil
}

// ResolveAccount 解析账户引用，未命中报404
func (r *ReferenceResolver) ResolveAccount(ctx context.Context, identifier, accountType string) (*Reference, error) {
	reference, err := r.resolveAccountReference(ctx, identifier, accountType)
	if err != nil {
		return nil, err
	}
	if reference == nil {
		return nil, responses.Newf(responses.CodeNotFound, "Account '%s' not found", identifier)
	}
	return reference, nil
}

// EnsureAccount 解析账户，未命中且允许时自动创建
func (r *ReferenceResolver) EnsureAccount(ctx context.Context, identifier, accountType, accountSubType string, autoCreate bool) (*Reference, error) {
	reference, err := r.resolveAccountReference(ctx, identifier, accountType)
	if err != nil {
		return nil, err
	}
	if reference != nil {
		return reference, nil
	}
	if !autoCreate {
		return nil, responses.Newf(responses.CodeNotFound, "Account '%s' not found", identifier)
	}
	return r.createAccount(ctx, identifier, accountType, accountSubType)
}

// GetAccount 取完整账户记录（SyncToken更新等需要完整payload的场景）
func (r *ReferenceResolver) GetAccount(ctx context.Context, identifier string) (map[string]interface{}, error) {
	normalized := strings.TrimSpace(identifier)
	key := cacheKey(normalized)
	if record, ok := r.records["Account"][key]; ok {
		return record, nil
	}

	var record map[string]interface{}
	if isDigits(normalized) {
		query := fmt.Sprintf("select * from Account where Id = '%s'", escapeQueryValue(normalized))
		data, err := r.query(ctx, "Account", query)
		if err != nil {
			return nil, err
		}
		record = extractEntity(data, "Account")
	}

	if record == nil {
		var err error
		record, err = r.resolveRecord(ctx, "Account", normalized, resolveOptions{
			nameField:             "FullyQualifiedName",
			allowNumericNameMatch: true,
			caseInsensitive:       false,
		})
		if err != nil {
			return nil, err
		}
	}

	if record == nil {
		var err error
		record, err = r.resolveRecord(ctx, "Account", normalized, resolveOptions{
			nameField:             "Name",
			allowNumericNameMatch: true,
			caseInsensitive:       false,
		})
		if err != nil {
			return nil, err
		}
	}

	if record == nil {
		return nil, responses.Newf(responses.CodeNotFound, "Account '%s' not found", identifier)
	}

	reference, err := buildReference(record, "Name")
	if err != nil {
		return nil, err
	}
	r.storeCache("Account", normalized, reference, record)
	return record, nil
}

// ResolveEntity Deposit明细的付款方引用，按entity_type映射QBO实体
func (r *ReferenceResolver) ResolveEntity(ctx context.Context, name, entityType string) (*EntityReference, error) {
	qboEntity, ok := map[string]string{
		"Customer": "Customer",
		"Vendor":   "Vendor",
		"Employee": "Employee",
		"Other":    "OtherName",
	}[entityType]
	if !ok {
		return nil, responses.Newf(responses.CodeBadRequest, "Invalid entity_type '%s'", entityType)
	}

	record, err := r.resolveRecord(ctx, qboEntity, name, resolveOptions{
		nameField:             "DisplayName",
		allowNumericNameMatch: true,
		caseInsensitive:       true,
	})
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, responses.Newf(responses.CodeBadRequest, "Unknown %s: %s", entityType, name)
	}

	reference, err := buildReference(record, "DisplayName")
	if err != nil {
		return nil, err
	}
	r.storeCache(qboEntity, name, reference, record)
	return &EntityReference{Type: entityType, Value: reference.Value, Name: reference.Name}, nil
}

// ResolveEntityWithAutoCreate 仅Customer/Vendor支持自动创建，其余走普通解析
func (r *ReferenceResolver) ResolveEntityWithAutoCreate(ctx context.Context, name, entityType string, autoCreate bool) (*EntityReference, error) {
	switch entityType {
	case "Customer":
		reference, err := r.ResolveCustomer(ctx, name, autoCreate)
		if err != nil {
			return nil, err
		}
		return &EntityReference{Type: entityType, Value: reference.Value, Name: reference.Name}, nil
	case "Vendor":
		reference, err := r.ResolveVendor(ctx, name, autoCreate)
		if err != nil {
			return nil, err
		}
		return &EntityReference{Type: entityType, Value: reference.Value, Name: reference.Name}, nil
	}
	return r.ResolveEntity(ctx, name, entityType)
}

// ResolveInvoiceTxn 按Id或单号定位发票（Payment核销用）
func (r *ReferenceResolver) ResolveInvoiceTxn(ctx context.Context, identifier string) (*TxnReference, error) {
	return r.resolveTxn(ctx, "Invoice", identifier)
}

// ResolveBillTxn 按Id或单号定位账单（BillPayment核销用）
func (r *ReferenceResolver) ResolveBillTxn(ctx context.Context, identifier string) (*TxnReference, error) {
	return r.resolveTxn(ctx, "Bill", identifier)
}

func (r *ReferenceResolver) resolveTxn(ctx context.Context, entity, identifier string) (*TxnReference, error) {
	record, err := r.resolveRecord(ctx, entity, identifier, resolveOptions{
		nameField:             "DocNumber",
		allowNumericNameMatch: true,
		caseInsensitive:       true,
	})
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, responses.Newf(responses.CodeNotFound, "%s '%s' not found", entity, identifier)
	}
	docNumber := stringValue(record["DocNumber"])
	if docNumber == "" {
		docNumber = stringValue(record["Id"])
	}
	return &TxnReference{
		Value:     stringValue(record["Id"]),
		DocNumber: docNumber,
	}, nil
}

// ResolveItemIncomeAccount 取商品挂接的收入账户引用（SalesReceipt明细回填用）
func (r *ReferenceResolver) ResolveItemIncomeAccount(ctx context.Context, identifier string) (*Reference, error) {
	record, err := r.resolveRecord(ctx, "Item", identifier, resolveOptions{
		nameField:       "Name",
		caseInsensitive: false,
	})
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, responses.Newf(responses.CodeNotFound, "Item '%s' not found", identifier)
	}
	accountRef, ok := record["IncomeAccountRef"].(map[string]interface{})
	if !ok {
		return nil, responses.Newf(responses.CodeBadRequest, "Item '%s' is missing an income account", identifier)
	}
	return &Reference{
		Value: stringValue(accountRef["value"]),
		Name:  stringValue(accountRef["name"]),
	}, nil
}

// autoCreateNamed 按DisplayName自动创建Customer/Vendor
func (r *ReferenceResolver) autoCreateNamed(ctx context.Context, entity, resource, identifier string) (*Reference, error) {
	payload := map[string]interface{}{"DisplayName": identifier}
	data, err := r.post(ctx, entity, resource, payload)
	if err != nil {
		return nil, err
	}
	created := extractEntity(data, entity)
	if created == nil {
		return nil, responses.Newf(responses.CodeUpstreamAPI, "Unable to auto-create %s in QuickBooks", strings.ToLower(entity))
	}
	reference, err := buildReference(created, "DisplayName")
	if err != nil {
		return nil, err
	}
	r.storeCache(entity, identifier, reference, created)
	return reference, nil
}

func (r *ReferenceResolver) resolveEntityRef(ctx context.Context, entity, identifier string, opts resolveOptions) (*Reference, error) {
	key := cacheKey(identifier)
	if reference, ok := r.references[entity][key]; ok {
		return reference, nil
	}

	record, err := r.resolveRecord(ctx, entity, identifier, opts)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, nil
	}
	reference, err := buildReference(record, opts.nameField)
	if err != nil {
		return nil, err
	}
	r.storeCache(entity, identifier, reference, record)
	return reference, nil
}

// resolveRecord 数字标识先按Id查，未命中再按名称字段回退
// 分两次查询而不用OR子句: QBO对跨字段OR的支持不稳定
func (r *ReferenceResolver) resolveRecord(ctx context.Context, entity, identifier string, opts resolveOptions) (map[string]interface{}, error) {
	key := cacheKey(identifier)
	if record, ok := r.records[entity][key]; ok {
		return record, nil
	}

	normalized := strings.TrimSpace(identifier)

	if isDigits(normalized) && opts.allowNumericNameMatch {
		escaped := escapeQueryValue(normalized)
		candidates := []string{fmt.Sprintf("Id = '%s'", escaped)}
		if opts.caseInsensitive {
			candidates = append(candidates, fmt.Sprintf("UPPER(%s) = '%s'", opts.nameField, strings.ToUpper(escaped)))
		} else {
			candidates = append(candidates, fmt.Sprintf("%s = '%s'", opts.nameField, escaped))
		}
		for _, clause := range candidates {
			where := strings.Join(append(append([]string{}, opts.extraFilters...), clause), " AND ")
			data, err := r.query(ctx, entity, fmt.Sprintf("select * from %s where %s", entity, where))
			if err != nil {
				return nil, err
			}
			record := extractEntity(data, entity)
			if record != nil {
				r.ensureEntityMaps(entity)
				r.records[entity][key] = record
				return record, nil
			}
		}
		return nil, nil
	}

	where := buildWhereClause(normalized, opts.nameField, opts.extraFilters, opts.allowNumericNameMatch, opts.caseInsensitive)
	data, err := r.query(ctx, entity, fmt.Sprintf("select * from %s where %s", entity, where))
	if err != nil {
		return nil, err
	}
	record := extractEntity(data, entity)
	if record != nil {
		r.ensureEntityMaps(entity)
		r.records[entity][key] = record
	}
	return record, nil
}

// resolveAccountReference 账户解析三段式: 全限定名 → 叶子名+类型 → 类型放宽
func (r *ReferenceResolver) resolveAccountReference(ctx context.Context, identifier, accountType string) (*Reference, error) {
	record, err := r.resolveAccountWithRetries(ctx, identifier, accountType, true)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, nil
	}
	reference, err := buildReference(record, "Name")
	if err != nil {
		return nil, err
	}
	r.storeCache("Account", identifier, reference, record)
	return reference, nil
}

func (r *ReferenceResolver) resolveAccountWithRetries(ctx context.Context, identifier, accountType string, allowTypeRelaxation bool) (map[string]interface{}, error) {
	candidates := []string{accountType}
	if accountType != "" && allowTypeRelaxation {
		candidates = append(candidates, "")
	}
	for _, candidate := range candidates {
		record, err := r.attemptAccountResolution(ctx, identifier, candidate)
		if err != nil {
			return nil, err
		}
		if record != nil {
			r.logAccountTypeMismatch(identifier, accountType, stringValue(record["AccountType"]))
			return record, nil
		}
	}
	return nil, nil
}

func (r *ReferenceResolver) attemptAccountResolution(ctx context.Context, identifier, accountType string) (map[string]interface{}, error) {
	normalized := strings.TrimSpace(identifier)

	if strings.Contains(normalized, ":") {
		record, err := r.queryAccount(ctx, normalized, "FullyQualifiedName", "")
		if err != nil || record != nil {
			return record, err
		}
		parts := strings.Split(normalized, ":")
		leaf := strings.TrimSpace(parts[len(parts)-1])
		return r.queryAccount(ctx, leaf, "Name", accountType)
	}

	return r.queryAccount(ctx, normalized, "Name", accountType)
}

func (r *ReferenceResolver) queryAccount(ctx context.Context, identifier, nameField, accountType string) (map[string]interface{}, error) {
	var filters []string
	if accountType != "" {
		filters = append(filters, fmt.Sprintf("AccountType = '%s'", escapeQueryValue(accountType)))
	}
	return r.resolveRecord(ctx, "Account", identifier, resolveOptions{
		nameField:       nameField,
		extraFilters:    filters,
		caseInsensitive: false,
	})
}

// createAccount 自动建账户；撞上重名错误(6240)时转为复用已有账户
func (r *ReferenceResolver) createAccount(ctx context.Context, name, accountType, accountSubType string) (*Reference, error) {
	finalName, parentIdentifier := sanitizeAccountName(name)
	payload := map[string]interface{}{"Name": finalName}
	if accountType != "" {
		payload["AccountType"] = accountType
	}
	if accountSubType != "" {
		payload["AccountSubType"] = accountSubType
	}
	if parentIdentifier != "" {
		parentRef, err := r.ResolveAccount(ctx, parentIdentifier, "")
		if err != nil {
			var appErr *responses.AppError
			if !errors.As(err, &appErr) || appErr.Code != responses.CodeNotFound {
				return nil, err
			}
			// 父账户缺失时退化为顶层账户
		} else {
			payload["ParentRef"] = parentRef.Map()
		}
	}

	r.logger.Info("account_create_attempt",
		zap.String("identifier", name),
		zap.String("payload_name", finalName),
		zap.String("parent_identifier", parentIdentifier),
		zap.String("account_type", accountType),
		zap.String("account_sub_type", accountSubType),
		zap.String("realm_id", r.credential.RealmID),
	)

	data, refreshed, latencyMs, _, err := r.qbo.Post(ctx, r.credential, "Account", "account", payload)
	r.refreshed = r.refreshed || refreshed
	r.latencyMs += latencyMs
	if err != nil {
		var apiErr *QBOAPIError
		if errors.As(err, &apiErr) {
			reused, recoverErr := r.recoverFromDuplicateAccount(ctx, apiErr, name, finalName, accountType)
			if recoverErr != nil {
				return nil, recoverErr
			}
			if reused != nil {
				return reused, nil
			}
		}
		return nil, r.mapUpstreamError(err)
	}

	account := extractEntity(data, "Account")
	if account == nil {
		return nil, responses.New(responses.CodeUpstreamAPI, "Unable to auto-create account in QuickBooks")
	}
	reference, err := buildReference(account, "Name")
	if err != nil {
		return nil, err
	}
	r.storeCache("Account", name, reference, account)
	return reference, nil
}

// recoverFromDuplicateAccount 仅处理400+6240（名称重复），其余错误不接管
func (r *ReferenceResolver) recoverFromDuplicateAccount(ctx context.Context, apiErr *QBOAPIError, originalIdentifier, payloadName, accountType string) (*Reference, error) {
	if apiErr.StatusCode != 400 || extractQBOErrorCode(apiErr.Body) != constants.QBOFaultDuplicateName {
		return nil, nil
	}

	r.logger.Warn("account_duplicate_detected",
		zap.String("identifier", originalIdentifier),
		zap.String("payload_name", payloadName),
		zap.String("account_type", accountType),
		zap.String("realm_id", r.credential.RealmID),
	)

	record, err := r.resolveAccountWithRetries(ctx, originalIdentifier, "", false)
	if err != nil {
		return nil, err
	}
	if record == nil && payloadName != originalIdentifier {
		record, err = r.resolveAccountWithRetries(ctx, payloadName, "", false)
		if err != nil {
			return nil, err
		}
	}
	if record == nil {
		r.logger.Error("account_duplicate_recovery_failed",
			zap.String("identifier", originalIdentifier),
			zap.String("payload_name", payloadName),
			zap.String("realm_id", r.credential.RealmID),
		)
		return nil, nil
	}

	reference, err := buildReference(record, "Name")
	if err != nil {
		return nil, err
	}
	r.storeCache("Account", originalIdentifier, reference, record)
	if payloadName != originalIdentifier {
		r.storeCache("Account", payloadName, reference, record)
	}
	r.logger.Info("account_duplicate_reused",
		zap.String("identifier", originalIdentifier),
		zap.String("reused_account_id", reference.Value),
		zap.String("realm_id", r.credential.RealmID),
	)
	return reference, nil
}

func (r *ReferenceResolver) logAccountTypeMismatch(identifier, expected, actual string) {
	if expected == "" || actual == "" {
		return
	}
	if strings.EqualFold(strings.TrimSpace(expected), strings.TrimSpace(actual)) {
		return
	}
	r.logger.Warn("account_type_mismatch",
		zap.String("identifier", identifier),
		zap.String("expected_account_type", expected),
		zap.String("actual_account_type", actual),
		zap.String("realm_id", r.credential.RealmID),
	)
}

func (r *ReferenceResolver) query(ctx context.Context, entity, selectSQL string) (map[string]interface{}, error) {
	data, refreshed, latencyMs, err := r.qbo.Query(ctx, r.credential, entity, selectSQL, 1, 1)
	r.refreshed = r.refreshed || refreshed
	r.latencyMs += latencyMs
	if err != nil {
		return nil, r.mapUpstreamError(err)
	}
	return data, nil
}

func (r *ReferenceResolver) post(ctx context.Context, entity, resource string, payload map[string]interface{}) (map[string]interface{}, error) {
	data, refreshed, latencyMs, _, err := r.qbo.Post(ctx, r.credential, entity, resource, payload)
	r.refreshed = r.refreshed || refreshed
	r.latencyMs += latencyMs
	if err != nil {
		return nil, r.mapUpstreamError(err)
	}
	return data, nil
}

func (r *ReferenceResolver) mapUpstreamError(err error) error {
	var oauthErr *QBOOAuthError
	if errors.As(err, &oauthErr) {
		return responses.Wrap(responses.CodeUpstreamAuth, "QuickBooks credentials are invalid or expired", err)
	}
	var apiErr *QBOAPIError
	if errors.As(err, &apiErr) {
		return responses.Wrap(responses.CodeUpstreamAPI, "QuickBooks API error", err)
	}
	return err
}

func (r *ReferenceResolver) storeCache(entity, identifier string, reference *Reference, record map[string]interface{}) {
	r.ensureEntityMaps(entity)
	key := cacheKey(identifier)
	r.references[entity][key] = reference
	if record != nil {
		r.records[entity][key] = record
	}
}

func (r *ReferenceResolver) ensureEntityMaps(entity string) {
	if r.references[entity] == nil {
		r.references[entity] = make(map[string]*Reference)
	}
	if r.records[entity] == nil {
		r.records[entity] = make(map[string]map[string]interface{})
	}
}

func buildWhereClause(identifier, nameField string, extraFilters []string, allowNumericNameMatch, caseInsensitive bool) string {
	normalized := strings.TrimSpace(identifier)
	filters := append([]string{}, extraFilters...)
	if isDigits(normalized) {
		escaped := escapeQueryValue(normalized)
		clauses := []string{fmt.Sprintf("Id = '%s'", escaped)}
		if allowNumericNameMatch {
			if caseInsensitive {
				clauses = append(clauses, fmt.Sprintf("UPPER(%s) = '%s'", nameField, strings.ToUpper(escaped)))
			} else {
				clauses = append(clauses, fmt.Sprintf("%s = '%s'", nameField, escaped))
			}
		}
		filters = append(filters, strings.Join(clauses, " OR "))
	} else if caseInsensitive {
		filters = append(filters, fmt.Sprintf("UPPER(%s) = '%s'", nameField, escapeQueryValue(strings.ToUpper(normalized))))
	} else {
		filters = append(filters, fmt.Sprintf("%s = '%s'", nameField, escapeQueryValue(normalized)))
	}
	return strings.Join(filters, " AND ")
}

// extractEntity 兼容查询响应和直接创建响应两种外层结构
func extractEntity(payload map[string]interface{}, entity string) map[string]interface{} {
	queryResponse, ok := payload["QueryResponse"]
	if !ok {
		if record, ok := payload[entity].(map[string]interface{}); ok {
			return record
		}
		return nil
	}
	wrapper, ok := queryResponse.(map[string]interface{})
	if !ok {
		return nil
	}
	switch items := wrapper[entity].(type) {
	case []interface{}:
		if len(items) == 0 {
			return nil
		}
		record, _ := items[0].(map[string]interface{})
		return record
	case map[string]interface{}:
		return items
	}
	return nil
}

func buildReference(record map[string]interface{}, nameField string) (*Reference, error) {
	value, ok := record["Id"]
	if !ok || value == nil {
		return nil, responses.ErrQBOMalformedEntity
	}
	name := ""
	if displayName, ok := record["DisplayName"]; ok {
		name = stringValue(displayName)
	} else {
		name = stringValue(record["Name"])
	}
	if nameField != "" {
		if fieldValue := stringValue(record[nameField]); fieldValue != "" {
			name = fieldValue
		}
	}
	return &Reference{Value: stringValue(value), Name: name}, nil
}

// extractQBOErrorCode 从Fault结构里取第一个错误码
func extractQBOErrorCode(body string) string {
	if body == "" {
		return ""
	}
	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return ""
	}
	fault, ok := payload["Fault"].(map[string]interface{})
	if !ok {
		return ""
	}
	var errorList []interface{}
	switch errs := fault["Error"].(type) {
	case []interface{}:
		errorList = errs
	case map[string]interface{}:
		errorList = []interface{}{errs}
	}
	for _, item := range errorList {
		entry, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		if code := stringValue(entry["code"]); code != "" {
			return code
		}
	}
	return ""
}

// sanitizeAccountName 拆出父账户路径，叶子名去掉控制字符
func sanitizeAccountName(name string) (string, string) {
	normalized := strings.TrimSpace(name)
	parentIdentifier := ""
	leaf := normalized
	if idx := strings.LastIndex(normalized, ":"); idx >= 0 {
		parentIdentifier = strings.TrimSpace(normalized[:idx])
		leaf = strings.TrimSpace(normalized[idx+1:])
	}
	cleaned := strings.Map(func(ch rune) rune {
		if ch == '\r' || ch == '\n' || ch == '\t' {
			return -1
		}
		return ch
	}, leaf)
	if cleaned == "" {
		cleaned = "Auto Account"
	}
	return cleaned, parentIdentifier
}

func cacheKey(identifier string) string {
	normalized := strings.TrimSpace(identifier)
	if isDigits(normalized) {
		return "id:" + normalized
	}
	return "name:" + strings.ToLower(normalized)
}

func isDigits(value string) bool {
	if value == "" {
		return false
	}
	for _, ch := range value {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return true
}

func stringValue(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		// QBO数字Id经json解码成float64
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%v", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}
