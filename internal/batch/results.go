package batch

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/stancelab/hansard-cli/internal/model"
	"github.com/stancelab/hansard-cli/pkg/anthropic"
)

// ResultRecord is one request's outcome inside a completed batch, tagged
// with its correlation id and an HTTP-style status code.
type ResultRecord struct {
	CustomID   string
	StatusCode int
	Message    *anthropic.MessageResponse
}

// OK reports whether the request succeeded.
func (r ResultRecord) OK() bool {
	return r.StatusCode == 200
}

// statusCodeOf maps a per-request result type to an HTTP-style code.
func statusCodeOf(resultType string) int {
	switch resultType {
	case "succeeded":
		return 200
	case "expired":
		return 408
	case "canceled":
		return 499
	default:
		return 500
	}
}

// FetchResults retrieves and decodes every result record of a completed
// job. It fails with ErrNotReady for a job not yet completed and ErrNoOutput
// for a completed job without an output artifact. Records arrive in service
// order, which carries no relation to submission order; callers correlate
// via CustomID alone.
func (o *Orchestrator) FetchResults(ctx context.Context, batchID string) ([]ResultRecord, error) {
	o.mu.Lock()
	job, ok := o.jobs[batchID]
	o.mu.Unlock()
	if ok {
		if job.Status != model.BatchCompleted {
			return nil, eris.Wrapf(ErrNotReady, "batch %s status %s", batchID, job.Status)
		}
		if job.ResultsURL == "" {
			return nil, eris.Wrapf(ErrNoOutput, "batch %s", batchID)
		}
	}

	iter, err := o.client.GetBatchResults(ctx, batchID)
	if err != nil {
		return nil, eris.Wrapf(err, "batch: get results of %s", batchID)
	}
	defer iter.Close() //nolint:errcheck

	var records []ResultRecord
	for iter.Next() {
		item := iter.Item()
		records = append(records, ResultRecord{
			CustomID:   item.CustomID,
			StatusCode: statusCodeOf(item.Type),
			Message:    item.Message,
		})
	}
	if err := iter.Err(); err != nil {
		return nil, eris.Wrapf(err, "batch: read results of %s", batchID)
	}
	if len(records) == 0 {
		return nil, eris.Wrapf(ErrNoOutput, "batch %s", batchID)
	}

	return records, nil
}

// Retry resubmits a batch of failed requests as a new job, carrying the
// attempt count in the metadata. Once the attempt count reaches the
// configured maximum the requests are appended to the dead-letter ledger
// and an empty id is returned.
func (o *Orchestrator) Retry(ctx context.Context, failed []anthropic.BatchRequestItem, meta Metadata) (string, error) {
	if len(failed) == 0 {
		return "", nil
	}

	if meta.RetryAttempt >= o.cfg.MaxRetryAttempts {
		now := time.Now().UTC()

		o.mu.Lock()
		for _, req := range failed {
			o.deadLetters = append(o.deadLetters, DeadLetter{
				Request:   req,
				Metadata:  meta,
				Timestamp: now,
			})
		}
		err := o.deadFile.Save(o.deadLetters)
		o.mu.Unlock()
		if err != nil {
			return "", eris.Wrap(err, "batch: persist dead-letter ledger")
		}

		zap.L().Warn("retry budget exhausted, requests dead-lettered",
			zap.String("phase", string(meta.Phase)),
			zap.Int("member_id", meta.MemberID),
			zap.Int("requests", len(failed)),
			zap.Int("attempts", meta.RetryAttempt))
		return "", nil
	}

	meta.RetryAttempt++
	zap.L().Info("resubmitting failed requests",
		zap.String("phase", string(meta.Phase)),
		zap.Int("member_id", meta.MemberID),
		zap.Int("requests", len(failed)),
		zap.Int("attempt", meta.RetryAttempt))

	return o.Submit(ctx, failed, meta)
}
