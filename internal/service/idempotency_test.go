package service

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jorgeaveraf/qbo-gateway/internal/model"
	"github.com/jorgeaveraf/qbo-gateway/internal/repository"
	"github.com/jorgeaveraf/qbo-gateway/pkg/responses"
)

// fakeIdempotencyRepo 内存实现，可注入Create冲突用于模拟并发竞争
type fakeIdempotencyRepo struct {
	records    map[string]*model.IdempotencyKey
	createErr  error
	createHook func()
}

func newFakeIdempotencyRepo() *fakeIdempotencyRepo {
	return &fakeIdempotencyRepo{records: make(map[string]*model.IdempotencyKey)}
}

func (r *fakeIdempotencyRepo) GetByKey(key string) (*model.IdempotencyKey, error) {
	record, ok := r.records[key]
	if !ok {
		return nil, nil
	}
	copied := *record
	return &copied, nil
}

func (r *fakeIdempotencyRepo) Create(record *model.IdempotencyKey) error {
	if r.createHook != nil {
		r.createHook()
	}
	if r.createErr != nil {
		return r.createErr
	}
	if _, ok := r.records[record.Key]; ok {
		return repository.ErrDuplicateKey
	}
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	copied := *record
	r.records[record.Key] = &copied
	return nil
}

func (r *fakeIdempotencyRepo) Update(record *model.IdempotencyKey) error {
	copied := *record
	r.records[record.Key] = &copied
	return nil
}

// transact 内存版事务边界：回调出错时恢复快照，等价于回滚
func (r *fakeIdempotencyRepo) transact(fn func(repository.IdempotencyRepository) error) error {
	snapshot := make(map[string]*model.IdempotencyKey, len(r.records))
	for key, record := range r.records {
		copied := *record
		snapshot[key] = &copied
	}
	if err := fn(r); err != nil {
		r.records = snapshot
		return err
	}
	return nil
}

func (r *fakeIdempotencyRepo) DeleteByClient(clientID uuid.UUID) error {
	for key, record := range r.records {
		if record.ClientID != nil && *record.ClientID == clientID {
			delete(r.records, key)
		}
	}
	return nil
}

func TestCanonicalJSON(t *testing.T) {
	t.Run("Key order irrelevant", func(t *testing.T) {
		a, err := CanonicalJSON(map[string]interface{}{"b": 1, "a": []interface{}{map[string]interface{}{"y": 2, "x": 1}}})
		require.NoError(t, err)
		b, err := CanonicalJSON(map[string]interface{}{"a": []interface{}{map[string]interface{}{"x": 1, "y": 2}}, "b": 1})
		require.NoError(t, err)
		assert.Equal(t, a, b)
		assert.Equal(t, `{"a":[{"x":1,"y":2}],"b":1}`, a)
	})

	t.Run("Array order preserved", func(t *testing.T) {
		a, err := CanonicalJSON([]interface{}{1, 2})
		require.NoError(t, err)
		b, err := CanonicalJSON([]interface{}{2, 1})
		require.NoError(t, err)
		assert.NotEqual(t, a, b)
	})
}

func TestIdempotencyRegister(t *testing.T) {
	clientID := uuid.New()
	otherClient := uuid.New()

	t.Run("First registration owns the key", func(t *testing.T) {
		svc := NewIdempotencyService(newFakeIdempotencyRepo())

		record, reused, err := svc.Register(clientID, "key-1", map[string]interface{}{"a": 1}, "deposit:create", "")
		require.NoError(t, err)
		assert.False(t, reused)
		assert.Equal(t, "key-1", record.Key)
		assert.Equal(t, "deposit:create", record.ResourceType)
		assert.NotEmpty(t, record.RequestHash)
		assert.False(t, record.Resolved())
	})

	t.Run("Fingerprint overrides payload for hashing", func(t *testing.T) {
		repo := newFakeIdempotencyRepo()
		svc := NewIdempotencyService(repo)

		_, _, err := svc.Register(clientID, "key-fp", map[string]interface{}{"a": 1}, "deposit:create", "realm|Deposit|2024-01-01|10.00")
		require.NoError(t, err)

		// 不同payload、相同指纹：落在同一条记录且无冲突
		_, _, err = svc.Register(clientID, "key-fp", map[string]interface{}{"totally": "different"}, "deposit:create", "realm|Deposit|2024-01-01|10.00")
		assert.NotErrorIs(t, err, responses.ErrIdempotencyConflict)
	})

	t.Run("Hash mismatch rejected", func(t *testing.T) {
		svc := NewIdempotencyService(newFakeIdempotencyRepo())

		_, _, err := svc.Register(clientID, "key-2", map[string]interface{}{"a": 1}, "deposit:create", "")
		require.NoError(t, err)

		_, _, err = svc.Register(clientID, "key-2", map[string]interface{}{"a": 2}, "deposit:create", "")
		assert.ErrorIs(t, err, responses.ErrIdempotencyConflict)
	})

	t.Run("Resolved record replays for any client", func(t *testing.T) {
		svc := NewIdempotencyService(newFakeIdempotencyRepo())

		record, _, err := svc.Register(clientID, "key-3", map[string]interface{}{"a": 1}, "deposit:create", "")
		require.NoError(t, err)
		require.NoError(t, svc.StoreResponse(record, clientID, map[string]interface{}{"data": "cached"}))

		replayed, reused, err := svc.Register(otherClient, "key-3", map[string]interface{}{"a": 1}, "deposit:create", "")
		require.NoError(t, err)
		assert.True(t, reused)
		assert.True(t, replayed.Resolved())
	})

	t.Run("In-flight key blocks other requests", func(t *testing.T) {
		svc := NewIdempotencyService(newFakeIdempotencyRepo())

		// 已注册但尚未落库响应
		_, _, err := svc.Register(clientID, "key-4", map[string]interface{}{"a": 1}, "deposit:create", "")
		require.NoError(t, err)

		_, _, err = svc.Register(otherClient, "key-4", map[string]interface{}{"a": 1}, "deposit:create", "")
		assert.ErrorIs(t, err, responses.ErrIdempotencyInUse)
	})

	t.Run("Create race converges via unique constraint", func(t *testing.T) {
		repo := newFakeIdempotencyRepo()
		svc := NewIdempotencyService(repo)

		// 首查为空，Create时另一请求已插入同key同hash并完成落库
		winner, _, err := svc.Register(clientID, "key-5", map[string]interface{}{"a": 1}, "deposit:create", "")
		require.NoError(t, err)
		require.NoError(t, svc.StoreResponse(winner, clientID, map[string]interface{}{"data": "ok"}))

		delete(repo.records, "key-5")
		stored := *winner
		repo.createHook = func() {
			repo.records["key-5"] = &stored
		}

		record, reused, err := svc.Register(otherClient, "key-5", map[string]interface{}{"a": 1}, "deposit:create", "")
		require.NoError(t, err)
		assert.True(t, reused)
		assert.True(t, record.Resolved())
	})
}
