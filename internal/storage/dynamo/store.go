package dynamo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/yndnr/snapfn-go/internal/core/domain"
	"github.com/yndnr/snapfn-go/internal/core/service"
)

// DefaultSortKey is the sort key value used for keys without a sort component.
const DefaultSortKey = "STATE"

// overwriteRounds bounds the read-then-conditional-write loop used by
// unconditional puts.
const overwriteRounds = 3

// Config configures the DynamoDB backend.
type Config struct {
	// Table is the table name. Required.
	Table string

	// Region overrides the region from the environment.
	Region string

	// Endpoint overrides the service endpoint (DynamoDB Local, LocalStack).
	Endpoint string

	// DefaultSortKey is used when a key has no sort component.
	DefaultSortKey string

	// RequestTimeout bounds each HTTP request.
	RequestTimeout time.Duration
}

// API is the subset of the DynamoDB client the store uses.
type API interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// Store implements service.StateRepository on a DynamoDB table.
type Store struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	// connect builds a fresh client. Replaced in tests.
	connect func(ctx context.Context) (API, *http.Transport, error)

	mu        sync.RWMutex
	api       API // nil while released
	transport *http.Transport
}

var _ service.StateRepository = (*Store)(nil)

// New creates a store and connects it.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	s, err := newStore(cfg, logger)
	if err != nil {
		return nil, err
	}
	s.connect = s.dial
	if err := s.Reconnect(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// NewWithAPI creates a store over an existing client.
func NewWithAPI(cfg Config, api API, logger *slog.Logger) (*Store, error) {
	s, err := newStore(cfg, logger)
	if err != nil {
		return nil, err
	}
	s.api = api
	s.connect = func(context.Context) (API, *http.Transport, error) {
		return api, nil, nil
	}
	return s, nil
}

func newStore(cfg Config, logger *slog.Logger) (*Store, error) {
	if cfg.Table == "" {
		return nil, domain.ErrMissingArgument.WithDetails("dynamodb table name is required")
	}
	if cfg.DefaultSortKey == "" {
		cfg.DefaultSortKey = DefaultSortKey
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{cfg: cfg, logger: logger, now: time.Now}, nil
}

// dial loads AWS configuration from the environment and builds a client
// with its own connection pool.
func (s *Store) dial(ctx context.Context) (API, *http.Transport, error) {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   2 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConnsPerHost: 16,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 3 * time.Second,
	}
	httpClient := &http.Client{Transport: transport, Timeout: s.cfg.RequestTimeout}

	opts := []func(*config.LoadOptions) error{config.WithHTTPClient(httpClient)}
	if s.cfg.Region != "" {
		opts = append(opts, config.WithRegion(s.cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, nil, domain.ErrStoreUnavailable.WithCause(err).WithDetails("load aws config: " + err.Error())
	}

	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if s.cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(s.cfg.Endpoint)
		}
		o.Retryer = aws.NopRetryer{}
	})
	return client, transport, nil
}

// Release drops the client, its cached credentials and pooled connections.
func (s *Store) Release(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.transport != nil {
		s.transport.CloseIdleConnections()
	}
	s.api = nil
	s.transport = nil
	return nil
}

// Reconnect builds a fresh client. It is a no-op when connected.
func (s *Store) Reconnect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.api != nil {
		return nil
	}
	api, transport, err := s.connect(ctx)
	if err != nil {
		return err
	}
	s.api = api
	s.transport = transport
	s.logger.Info("dynamodb client connected", "table", s.cfg.Table, "region", s.cfg.Region)
	return nil
}

// Close releases the client.
func (s *Store) Close() error {
	return s.Release(context.Background())
}

func (s *Store) client() (API, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.api == nil {
		return nil, domain.ErrStoreUnavailable.WithDetails("dynamodb client is released")
	}
	return s.api, nil
}

// Get reads an item. Expired items not yet removed by TTL are reported as
// not found.
func (s *Store) Get(ctx context.Context, key domain.Key, consistent bool) (*domain.StateRecord, error) {
	api, err := s.client()
	if err != nil {
		return nil, err
	}

	out, err := api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.cfg.Table),
		Key:            itemKey(key, s.cfg.DefaultSortKey),
		ConsistentRead: aws.Bool(consistent),
	})
	if err != nil {
		return nil, mapError(err)
	}
	if len(out.Item) == 0 {
		return nil, domain.ErrNotFound.WithDetails(key.String())
	}

	rec, err := decodeItem(key, out.Item)
	if err != nil {
		return nil, domain.ErrStoreUnavailable.WithCause(err).WithDetails("decode item " + key.String())
	}
	if rec.IsExpired(s.now()) {
		return nil, domain.ErrNotFound.WithDetails(key.String())
	}
	return rec, nil
}

// Put writes an item under cond.
func (s *Store) Put(ctx context.Context, rec *domain.StateRecord, cond service.Precondition) (uint64, error) {
	if err := rec.Validate(); err != nil {
		return 0, err
	}

	switch cond.Mode {
	case service.CondAbsent:
		return 1, s.putGuarded(ctx, rec, 1, cond)
	case service.CondVersion:
		return cond.Version + 1, s.putGuarded(ctx, rec, cond.Version+1, cond)
	case service.CondUnversioned:
		return 1, s.putGuarded(ctx, rec, 1, cond)
	}

	// Unconditional: read the current version, then write guarded on it.
	for round := 0; round < overwriteRounds; round++ {
		existing, err := s.Get(ctx, rec.Key, true)
		guard := service.IfAbsent()
		switch {
		case err == nil && existing.Version == 0:
			guard = service.IfUnversioned()
		case err == nil:
			guard = service.IfVersion(existing.Version)
		case !errors.Is(err, domain.ErrNotFound):
			return 0, err
		}

		next := service.NextVersion(existing)
		err = s.putGuarded(ctx, rec, next, guard)
		if err == nil {
			return next, nil
		}
		if !errors.Is(err, domain.ErrVersionConflict) {
			return 0, err
		}
	}
	return 0, domain.ErrStoreTransient.WithDetails("overwrite lost the race " + strconv.Itoa(overwriteRounds) + " times")
}

func (s *Store) putGuarded(ctx context.Context, rec *domain.StateRecord, version uint64, cond service.Precondition) error {
	api, err := s.client()
	if err != nil {
		return err
	}

	item, err := encodeItem(rec, version, s.cfg.DefaultSortKey)
	if err != nil {
		return err
	}

	expr, names, values := s.writeCondition(cond)
	_, err = api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 aws.String(s.cfg.Table),
		Item:                      item,
		ConditionExpression:       expr,
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return domain.ErrVersionConflict.WithCause(err).WithDetails(fmt.Sprintf("%s precondition %s failed", rec.Key, cond))
		}
		return mapError(err)
	}
	return nil
}

// writeCondition renders cond. Expired items count as absent.
func (s *Store) writeCondition(cond service.Precondition) (*string, map[string]string, map[string]types.AttributeValue) {
	now := &types.AttributeValueMemberN{Value: strconv.FormatInt(s.now().Unix(), 10)}

	switch cond.Mode {
	case service.CondAbsent:
		return aws.String("attribute_not_exists(#pk) OR #exp < :now"),
			map[string]string{"#pk": AttrPartition, "#exp": AttrExpiresAt},
			map[string]types.AttributeValue{":now": now}
	case service.CondVersion:
		return aws.String("#v = :v AND (attribute_not_exists(#exp) OR #exp >= :now)"),
			map[string]string{"#v": AttrVersion, "#exp": AttrExpiresAt},
			map[string]types.AttributeValue{
				":v":   &types.AttributeValueMemberN{Value: strconv.FormatUint(cond.Version, 10)},
				":now": now,
			}
	case service.CondUnversioned:
		return aws.String("attribute_exists(#pk) AND attribute_not_exists(#v) AND (attribute_not_exists(#exp) OR #exp >= :now)"),
			map[string]string{"#pk": AttrPartition, "#v": AttrVersion, "#exp": AttrExpiresAt},
			map[string]types.AttributeValue{":now": now}
	default:
		return nil, nil, nil
	}
}

// Delete removes an item under cond. The old item returned with a failed
// condition tells a missing item apart from a version mismatch.
func (s *Store) Delete(ctx context.Context, key domain.Key, cond service.Precondition) error {
	api, err := s.client()
	if err != nil {
		return err
	}

	names := map[string]string{"#pk": AttrPartition, "#exp": AttrExpiresAt}
	values := map[string]types.AttributeValue{
		":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(s.now().Unix(), 10)},
	}
	expr := "attribute_exists(#pk) AND (attribute_not_exists(#exp) OR #exp >= :now)"
	if cond.Mode == service.CondVersion {
		expr += " AND #v = :v"
		names["#v"] = AttrVersion
		values[":v"] = &types.AttributeValueMemberN{Value: strconv.FormatUint(cond.Version, 10)}
	}

	_, err = api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                           aws.String(s.cfg.Table),
		Key:                                 itemKey(key, s.cfg.DefaultSortKey),
		ConditionExpression:                 aws.String(expr),
		ExpressionAttributeNames:            names,
		ExpressionAttributeValues:           values,
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err == nil {
		return nil
	}

	var ccf *types.ConditionalCheckFailedException
	if !errors.As(err, &ccf) {
		return mapError(err)
	}
	if len(ccf.Item) == 0 {
		return domain.ErrNotFound.WithDetails(key.String())
	}
	old, decErr := decodeItem(key, ccf.Item)
	if decErr != nil || old.IsExpired(s.now()) {
		return domain.ErrNotFound.WithDetails(key.String())
	}
	return cond.Check(old)
}

// mapError classifies SDK errors. Throttling and server-side faults are
// transient; everything else is final.
func mapError(err error) error {
	var (
		throughput *types.ProvisionedThroughputExceededException
		limit      *types.RequestLimitExceeded
		internal   *types.InternalServerError
		missing    *types.ResourceNotFoundException
	)
	switch {
	case errors.As(err, &throughput), errors.As(err, &limit), errors.As(err, &internal):
		return domain.ErrStoreTransient.WithCause(err).WithDetails(err.Error())
	case errors.As(err, &missing):
		return domain.ErrStoreUnavailable.WithCause(err).WithDetails("table not found")
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "ServiceUnavailable", "TransactionConflictException":
			return domain.ErrStoreTransient.WithCause(err).WithDetails(apiErr.ErrorCode())
		}
		if apiErr.ErrorFault() == smithy.FaultServer {
			return domain.ErrStoreTransient.WithCause(err).WithDetails(apiErr.ErrorCode())
		}
		return domain.ErrStoreUnavailable.WithCause(err).WithDetails(apiErr.ErrorCode() + ": " + apiErr.ErrorMessage())
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return domain.ErrStoreTransient.WithCause(err).WithDetails(err.Error())
	}
	return err
}
