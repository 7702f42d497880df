package dynamo

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/yndnr/snapfn-go/internal/core/domain"
)

// Attribute names.
const (
	AttrPartition    = "PK"
	AttrSort         = "SK"
	AttrVersion      = "version"
	AttrLastModified = "lastModified"
	AttrExpiresAt    = "expiresAt"
	AttrRaw          = "_raw"
)

var reserved = map[string]bool{
	AttrPartition:    true,
	AttrSort:         true,
	AttrVersion:      true,
	AttrLastModified: true,
	AttrExpiresAt:    true,
	AttrRaw:          true,
}

// itemKey builds the primary key attributes.
func itemKey(k domain.Key, defaultSort string) map[string]types.AttributeValue {
	sk := k.Sort
	if sk == "" {
		sk = defaultSort
	}
	return map[string]types.AttributeValue{
		AttrPartition: &types.AttributeValueMemberS{Value: k.Partition},
		AttrSort:      &types.AttributeValueMemberS{Value: sk},
	}
}

// encodeItem converts a record into a full item.
func encodeItem(rec *domain.StateRecord, version uint64, defaultSort string) (map[string]types.AttributeValue, error) {
	item := itemKey(rec.Key, defaultSort)
	item[AttrVersion] = &types.AttributeValueMemberN{Value: strconv.FormatUint(version, 10)}
	if !rec.LastModified.IsZero() {
		item[AttrLastModified] = &types.AttributeValueMemberS{Value: rec.LastModified.UTC().Format(time.RFC3339Nano)}
	}
	if !rec.ExpiresAt.IsZero() {
		item[AttrExpiresAt] = &types.AttributeValueMemberN{Value: strconv.FormatInt(rec.ExpiresAt.Unix(), 10)}
	}

	payload := bytes.TrimSpace(rec.Payload)
	if len(payload) == 0 {
		return item, nil
	}

	// An empty object has no attributes to flatten into; keep it verbatim
	// so it does not read back as a missing payload.
	if payload[0] != '{' || isEmptyObject(payload) {
		item[AttrRaw] = &types.AttributeValueMemberS{Value: string(payload)}
		return item, nil
	}

	av, err := jsonToAttr(payload)
	if err != nil {
		return nil, err
	}
	for name, v := range av.(*types.AttributeValueMemberM).Value {
		if reserved[name] {
			return nil, domain.ErrRecordValidation.WithDetails(fmt.Sprintf("payload field %q is a reserved attribute", name))
		}
		item[name] = v
	}
	return item, nil
}

func isEmptyObject(payload []byte) bool {
	n := len(payload)
	return n >= 2 && payload[n-1] == '}' && len(bytes.TrimSpace(payload[1:n-1])) == 0
}

// decodeItem converts an item back into a record for key.
func decodeItem(key domain.Key, item map[string]types.AttributeValue) (*domain.StateRecord, error) {
	rec := &domain.StateRecord{Key: key}

	if v, ok := item[AttrVersion].(*types.AttributeValueMemberN); ok {
		n, err := strconv.ParseUint(v.Value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("decode version: %w", err)
		}
		rec.Version = n
	}
	if v, ok := item[AttrLastModified].(*types.AttributeValueMemberS); ok {
		if t, err := time.Parse(time.RFC3339Nano, v.Value); err == nil {
			rec.LastModified = t
		}
	}
	if v, ok := item[AttrExpiresAt].(*types.AttributeValueMemberN); ok {
		secs, err := strconv.ParseInt(v.Value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("decode expiresAt: %w", err)
		}
		rec.ExpiresAt = time.Unix(secs, 0).UTC()
	}

	if v, ok := item[AttrRaw].(*types.AttributeValueMemberS); ok {
		rec.Payload = json.RawMessage(v.Value)
		return rec, nil
	}

	fields := make(map[string]types.AttributeValue, len(item))
	for name, v := range item {
		if !reserved[name] {
			fields[name] = v
		}
	}
	if len(fields) == 0 {
		return rec, nil
	}

	var buf bytes.Buffer
	if err := writeAttrJSON(&buf, &types.AttributeValueMemberM{Value: fields}); err != nil {
		return nil, err
	}
	rec.Payload = json.RawMessage(buf.Bytes())
	return rec, nil
}

// jsonToAttr decodes JSON into an attribute value, keeping number text.
func jsonToAttr(data []byte) (types.AttributeValue, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, domain.ErrRecordValidation.WithCause(err).WithDetails("payload is not valid JSON")
	}
	return toAttr(v), nil
}

func toAttr(v any) types.AttributeValue {
	switch x := v.(type) {
	case nil:
		return &types.AttributeValueMemberNULL{Value: true}
	case bool:
		return &types.AttributeValueMemberBOOL{Value: x}
	case json.Number:
		return &types.AttributeValueMemberN{Value: x.String()}
	case string:
		return &types.AttributeValueMemberS{Value: x}
	case []any:
		list := make([]types.AttributeValue, len(x))
		for i, e := range x {
			list[i] = toAttr(e)
		}
		return &types.AttributeValueMemberL{Value: list}
	case map[string]any:
		m := make(map[string]types.AttributeValue, len(x))
		for k, e := range x {
			m[k] = toAttr(e)
		}
		return &types.AttributeValueMemberM{Value: m}
	default:
		return &types.AttributeValueMemberNULL{Value: true}
	}
}

// writeAttrJSON renders an attribute value as JSON with sorted object keys.
// Sets and binary values written by other producers are rendered as arrays
// and base64 strings.
func writeAttrJSON(w io.Writer, av types.AttributeValue) error {
	enc := func(v any) error {
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		_, err = w.Write(b)
		return err
	}

	switch x := av.(type) {
	case *types.AttributeValueMemberNULL:
		_, err := io.WriteString(w, "null")
		return err
	case *types.AttributeValueMemberBOOL:
		return enc(x.Value)
	case *types.AttributeValueMemberN:
		_, err := io.WriteString(w, x.Value)
		return err
	case *types.AttributeValueMemberS:
		return enc(x.Value)
	case *types.AttributeValueMemberB:
		return enc(x.Value)
	case *types.AttributeValueMemberSS:
		return enc(x.Value)
	case *types.AttributeValueMemberBS:
		return enc(x.Value)
	case *types.AttributeValueMemberNS:
		io.WriteString(w, "[")
		for i, n := range x.Value {
			if i > 0 {
				io.WriteString(w, ",")
			}
			io.WriteString(w, n)
		}
		_, err := io.WriteString(w, "]")
		return err
	case *types.AttributeValueMemberL:
		io.WriteString(w, "[")
		for i, e := range x.Value {
			if i > 0 {
				io.WriteString(w, ",")
			}
			if err := writeAttrJSON(w, e); err != nil {
				return err
			}
		}
		_, err := io.WriteString(w, "]")
		return err
	case *types.AttributeValueMemberM:
		keys := make([]string, 0, len(x.Value))
		for k := range x.Value {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		io.WriteString(w, "{")
		for i, k := range keys {
			if i > 0 {
				io.WriteString(w, ",")
			}
			if err := enc(k); err != nil {
				return err
			}
			io.WriteString(w, ":")
			if err := writeAttrJSON(w, x.Value[k]); err != nil {
				return err
			}
		}
		_, err := io.WriteString(w, "}")
		return err
	default:
		return fmt.Errorf("unsupported attribute type %T", av)
	}
}
