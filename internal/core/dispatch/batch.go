package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"github.com/yndnr/snapfn-go/internal/core/domain"
	"github.com/yndnr/snapfn-go/internal/telemetry/logger"
)

// DecodeBatch parses an SQS batch, either a bare message array or an SQS
// event with a Records field.
func DecodeBatch(raw []byte) ([]events.SQSMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, domain.ErrDecode.WithDetails("empty batch")
	}

	switch trimmed[0] {
	case '[':
		var msgs []events.SQSMessage
		if err := json.Unmarshal(trimmed, &msgs); err != nil {
			return nil, domain.ErrDecode.WithCause(err).WithDetails("batch: " + err.Error())
		}
		return msgs, nil
	case '{':
		var ev events.SQSEvent
		if err := json.Unmarshal(trimmed, &ev); err != nil {
			return nil, domain.ErrDecode.WithCause(err).WithDetails("batch: " + err.Error())
		}
		if ev.Records == nil {
			return nil, domain.ErrDecode.WithDetails("batch object has no Records")
		}
		return ev.Records, nil
	default:
		return nil, domain.ErrDecode.WithDetails("batch must be a JSON array or object")
	}
}

// IsBatch reports whether raw looks like an SQS batch rather than a single
// event envelope.
func IsBatch(raw []byte) bool {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return false
	}
	if trimmed[0] == '[' {
		return true
	}
	var probe struct {
		Records json.RawMessage `json:"Records"`
	}
	return trimmed[0] == '{' && json.Unmarshal(trimmed, &probe) == nil && len(probe.Records) > 0
}

// DispatchBatch dispatches each message body of an SQS batch in order under
// one deadline. Null results are dropped. The first failure aborts the batch
// and becomes its outcome; the success value is the array of non-null
// results.
func (d *Dispatcher) DispatchBatch(ctx context.Context, raw []byte, deadline time.Time) domain.Outcome {
	d.mu.Lock()
	defer d.mu.Unlock()

	done, err := d.gate.BeginInvocation()
	if err != nil {
		return domain.Failure(err)
	}
	defer done()

	ctx, batch := d.begin(ctx, deadline)

	msgs, err := DecodeBatch(raw)
	if err != nil {
		return d.finish(ctx, batch, domain.Failure(err))
	}

	results := make([]json.RawMessage, 0, len(msgs))
	for i, msg := range msgs {
		id := msg.MessageId
		if id == "" {
			id = fmt.Sprintf("%s/%d", batch.ID, i)
		}
		inv := &domain.Invocation{
			ID:        id,
			Deadline:  batch.Deadline,
			StartedAt: d.now(),
		}

		out := d.run(logger.WithRequestID(ctx, id), inv, []byte(msg.Body))
		if !out.OK() {
			de := out.Err.WithDetails(fmt.Sprintf("message %s: %s", id, out.Err.Details))
			return domain.Outcome{Err: de}
		}
		if bytes.Equal(bytes.TrimSpace(out.Value), []byte("null")) {
			continue
		}
		results = append(results, out.Value)
	}

	value, err := json.Marshal(results)
	if err != nil {
		return domain.Failure(err)
	}
	return domain.Success(value)
}
