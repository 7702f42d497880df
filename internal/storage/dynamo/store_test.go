package dynamo

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/yndnr/snapfn-go/internal/core/domain"
	"github.com/yndnr/snapfn-go/internal/core/service"
)

// fakeTable evaluates the condition expressions the store emits against an
// in-memory item map.
type fakeTable struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue
	err   error

	lastGet *dynamodb.GetItemInput
	puts    int
}

func newFakeTable() *fakeTable {
	return &fakeTable{items: make(map[string]map[string]types.AttributeValue)}
}

func tableKey(k map[string]types.AttributeValue) string {
	return k[AttrPartition].(*types.AttributeValueMemberS).Value + "|" + k[AttrSort].(*types.AttributeValueMemberS).Value
}

func num(av types.AttributeValue) int64 {
	n, _ := strconv.ParseInt(av.(*types.AttributeValueMemberN).Value, 10, 64)
	return n
}

func live(item map[string]types.AttributeValue, now int64) bool {
	if item == nil {
		return false
	}
	exp, ok := item[AttrExpiresAt]
	return !ok || num(exp) >= now
}

func (f *fakeTable) holds(expr string, item map[string]types.AttributeValue, values map[string]types.AttributeValue) bool {
	now := num(values[":now"])
	switch {
	case strings.HasPrefix(expr, "attribute_not_exists"):
		return !live(item, now)
	case strings.Contains(expr, "attribute_not_exists(#v)"):
		_, versioned := item[AttrVersion]
		return live(item, now) && !versioned
	case strings.HasPrefix(expr, "#v = :v"):
		return live(item, now) && num(item[AttrVersion]) == num(values[":v"])
	case strings.HasPrefix(expr, "attribute_exists"):
		if !live(item, now) {
			return false
		}
		if v, ok := values[":v"]; ok {
			return num(item[AttrVersion]) == num(v)
		}
		return true
	}
	return true
}

func (f *fakeTable) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastGet = in
	if f.err != nil {
		return nil, f.err
	}
	return &dynamodb.GetItemOutput{Item: f.items[tableKey(in.Key)]}, nil
}

func (f *fakeTable) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts++
	if f.err != nil {
		return nil, f.err
	}
	k := tableKey(in.Item)
	if in.ConditionExpression != nil && !f.holds(*in.ConditionExpression, f.items[k], in.ExpressionAttributeValues) {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
	}
	f.items[k] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeTable) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	k := tableKey(in.Key)
	old := f.items[k]
	if !f.holds(*in.ConditionExpression, old, in.ExpressionAttributeValues) {
		ccf := &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
		if in.ReturnValuesOnConditionCheckFailure == types.ReturnValuesOnConditionCheckFailureAllOld {
			ccf.Item = old
		}
		return nil, ccf
	}
	delete(f.items, k)
	return &dynamodb.DeleteItemOutput{}, nil
}

func newTestStore(t *testing.T, table *fakeTable) *Store {
	t.Helper()
	s, err := NewWithAPI(Config{Table: "people"}, table, nil)
	if err != nil {
		t.Fatalf("NewWithAPI: %v", err)
	}
	return s
}

func TestNew_RequiresTable(t *testing.T) {
	if _, err := NewWithAPI(Config{}, newFakeTable(), nil); !errors.Is(err, domain.ErrMissingArgument) {
		t.Errorf("NewWithAPI without table = %v, want ErrMissingArgument", err)
	}
}

func TestStore_PersonItemFromOtherProducer(t *testing.T) {
	table := newFakeTable()
	table.items["person#42|DETAILS"] = map[string]types.AttributeValue{
		AttrPartition: &types.AttributeValueMemberS{Value: "person#42"},
		AttrSort:      &types.AttributeValueMemberS{Value: "DETAILS"},
		"firstName":   &types.AttributeValueMemberS{Value: "Ada"},
		"lastName":    &types.AttributeValueMemberS{Value: "Lovelace"},
	}
	s := newTestStore(t, table)

	rec, err := s.Get(context.Background(), domain.NewKey("person#42", "DETAILS"), false)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(rec.Payload) != `{"firstName":"Ada","lastName":"Lovelace"}` {
		t.Errorf("Payload = %s", rec.Payload)
	}
	if rec.Version != 0 {
		t.Errorf("Version = %d, want 0 for an unversioned item", rec.Version)
	}
	if aws.ToBool(table.lastGet.ConsistentRead) {
		t.Error("read should be eventually consistent by default")
	}
}

func TestStore_GuardedWrites(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, newFakeTable())
	key := domain.NewKey("counter")
	rec := func(p string) *domain.StateRecord {
		return &domain.StateRecord{Key: key, Payload: []byte(p)}
	}

	v, err := s.Put(ctx, rec(`{"count":1}`), service.IfAbsent())
	if err != nil || v != 1 {
		t.Fatalf("Put(IfAbsent) = %d, %v", v, err)
	}
	if _, err := s.Put(ctx, rec(`{"count":9}`), service.IfAbsent()); !errors.Is(err, domain.ErrVersionConflict) {
		t.Fatalf("second Put(IfAbsent) = %v, want ErrVersionConflict", err)
	}
	if _, err := s.Put(ctx, rec(`{"count":9}`), service.IfVersion(3)); !errors.Is(err, domain.ErrVersionConflict) {
		t.Fatalf("Put(stale) = %v, want ErrVersionConflict", err)
	}

	v, err = s.Put(ctx, rec(`{"count":2}`), service.IfVersion(1))
	if err != nil || v != 2 {
		t.Fatalf("Put(IfVersion(1)) = %d, %v", v, err)
	}

	got, err := s.Get(ctx, key, true)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Version != 2 || string(got.Payload) != `{"count":2}` {
		t.Errorf("Get = %s v%d", got.Payload, got.Version)
	}
}

func TestStore_Overwrite(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, newFakeTable())
	key := domain.NewKey("person#1", "DETAILS")

	for want := uint64(1); want <= 3; want++ {
		v, err := s.Put(ctx, &domain.StateRecord{Key: key, Payload: []byte(`{"firstName":"A"}`)}, service.Unconditional())
		if err != nil {
			t.Fatalf("Put(Unconditional): %v", err)
		}
		if v != want {
			t.Errorf("version = %d, want %d", v, want)
		}
	}
}

func TestStore_OverwriteUnversionedItem(t *testing.T) {
	ctx := context.Background()
	table := newFakeTable()
	expires := time.Now().Add(time.Hour).Unix()
	table.items["person#1|DETAILS"] = map[string]types.AttributeValue{
		AttrPartition: &types.AttributeValueMemberS{Value: "person#1"},
		AttrSort:      &types.AttributeValueMemberS{Value: "DETAILS"},
		"firstName":   &types.AttributeValueMemberS{Value: "Ada"},
		"lastName":    &types.AttributeValueMemberS{Value: "Lovelace"},
		AttrExpiresAt: &types.AttributeValueMemberN{Value: strconv.FormatInt(expires, 10)},
	}
	s := newTestStore(t, table)
	key := domain.NewKey("person#1", "DETAILS")

	v, err := s.Put(ctx, &domain.StateRecord{Key: key, Payload: []byte(`{"firstName":"Augusta","lastName":"King"}`)}, service.Unconditional())
	if err != nil {
		t.Fatalf("Put(Unconditional) over unversioned item: %v", err)
	}
	if v != 1 {
		t.Errorf("version = %d, want 1", v)
	}

	got, err := s.Get(ctx, key, true)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Version != 1 || string(got.Payload) != `{"firstName":"Augusta","lastName":"King"}` {
		t.Errorf("Get = %s v%d", got.Payload, got.Version)
	}

	// Once versioned, the item no longer matches the unversioned guard.
	if _, err := s.Put(ctx, &domain.StateRecord{Key: key, Payload: []byte(`{}`)}, service.IfUnversioned()); !errors.Is(err, domain.ErrVersionConflict) {
		t.Errorf("Put(IfUnversioned) on versioned item = %v, want ErrVersionConflict", err)
	}
}

func TestStore_UnversionedGuard(t *testing.T) {
	ctx := context.Background()
	table := newFakeTable()
	table.items["person#2|DETAILS"] = map[string]types.AttributeValue{
		AttrPartition: &types.AttributeValueMemberS{Value: "person#2"},
		AttrSort:      &types.AttributeValueMemberS{Value: "DETAILS"},
		"firstName":   &types.AttributeValueMemberS{Value: "Grace"},
	}
	s := newTestStore(t, table)

	rec := &domain.StateRecord{Key: domain.NewKey("person#2", "DETAILS"), Payload: []byte(`{"firstName":"Grace","lastName":"Hopper"}`)}
	if v, err := s.Put(ctx, rec, service.IfUnversioned()); err != nil || v != 1 {
		t.Fatalf("Put(IfUnversioned) = %d, %v", v, err)
	}

	missing := &domain.StateRecord{Key: domain.NewKey("person#3", "DETAILS"), Payload: []byte(`{}`)}
	if _, err := s.Put(ctx, missing, service.IfUnversioned()); !errors.Is(err, domain.ErrVersionConflict) {
		t.Errorf("Put(IfUnversioned) on missing item = %v, want ErrVersionConflict", err)
	}
}

func TestStore_EmptyObjectPayload(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, newFakeTable())
	key := domain.NewKey("cfg")

	if _, err := s.Put(ctx, &domain.StateRecord{Key: key, Payload: []byte(`{}`)}, service.IfAbsent()); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := s.Get(ctx, key, false)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got.Payload) != `{}` {
		t.Errorf("Payload = %q, want {}", got.Payload)
	}
}

func TestStore_ExpiredItemIsAbsent(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s := newTestStore(t, newFakeTable())
	s.now = func() time.Time { return now }

	key := domain.NewKey("person#1", "DETAILS")
	_, err := s.Put(ctx, &domain.StateRecord{
		Key:       key,
		Payload:   []byte(`{"firstName":"A"}`),
		ExpiresAt: now.Add(120 * time.Second),
	}, service.Unconditional())
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	now = now.Add(10 * time.Minute)
	if _, err := s.Get(ctx, key, false); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Get(expired) = %v, want ErrNotFound", err)
	}
	if v, err := s.Put(ctx, &domain.StateRecord{Key: key, Payload: []byte(`{}`)}, service.IfAbsent()); err != nil || v != 1 {
		t.Errorf("Put(IfAbsent) over expired = %d, %v", v, err)
	}
}

func TestStore_Delete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, newFakeTable())
	key := domain.NewKey("k")

	if err := s.Delete(ctx, key, service.Unconditional()); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Delete(missing) = %v, want ErrNotFound", err)
	}

	s.Put(ctx, &domain.StateRecord{Key: key, Payload: []byte(`1`)}, service.IfAbsent())
	if err := s.Delete(ctx, key, service.IfVersion(5)); !errors.Is(err, domain.ErrVersionConflict) {
		t.Fatalf("Delete(stale) = %v, want ErrVersionConflict", err)
	}
	if err := s.Delete(ctx, key, service.IfVersion(1)); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, key, true); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Get after delete = %v, want ErrNotFound", err)
	}
}

func TestStore_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want *domain.DomainError
	}{
		{"throughput", &types.ProvisionedThroughputExceededException{Message: aws.String("slow down")}, domain.ErrStoreTransient},
		{"request limit", &types.RequestLimitExceeded{Message: aws.String("limit")}, domain.ErrStoreTransient},
		{"internal", &types.InternalServerError{Message: aws.String("oops")}, domain.ErrStoreTransient},
		{"throttling code", &smithy.GenericAPIError{Code: "ThrottlingException", Message: "Rate exceeded"}, domain.ErrStoreTransient},
		{"missing table", &types.ResourceNotFoundException{Message: aws.String("no table")}, domain.ErrStoreUnavailable},
		{"access denied", &smithy.GenericAPIError{Code: "AccessDeniedException", Fault: smithy.FaultClient}, domain.ErrStoreUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table := newFakeTable()
			table.err = tt.err
			s := newTestStore(t, table)

			_, err := s.Get(context.Background(), domain.NewKey("k"), false)
			if !errors.Is(err, tt.want) {
				t.Errorf("Get() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestStore_ReleaseAndReconnect(t *testing.T) {
	table := newFakeTable()
	s := newTestStore(t, table)
	ctx := context.Background()

	if err := s.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := s.Get(ctx, domain.NewKey("k"), false); !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Errorf("Get while released = %v, want ErrStoreUnavailable", err)
	}

	if err := s.Reconnect(ctx); err != nil {
		t.Fatalf("Reconnect: %v", err)
	}
	if _, err := s.Get(ctx, domain.NewKey("k"), false); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Get after reconnect = %v, want ErrNotFound", err)
	}
}
