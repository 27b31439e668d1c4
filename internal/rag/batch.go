package rag

import (
	"context"
	"fmt"
)

// UpsertBatchSize is the number of records sent per index write call.
const UpsertBatchSize = 100

// BatchError reports a chunked upsert that stopped partway through.
// Committed records stay in the index; nothing is rolled back.
type BatchError struct {
	// Committed is the number of records written before the failure.
	Committed int
	// Total is the number of records the caller asked to write.
	Total int
	// Err is the underlying failure of the chunk that aborted the upsert.
	Err error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("upsert aborted after %d/%d records: %v", e.Committed, e.Total, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// UpsertInBatches calls write once per chunk of at most size records,
// strictly one after another. The first error stops the loop and is
// returned as a *BatchError.
func UpsertInBatches(ctx context.Context, records []Record, size int, write func(context.Context, []Record) error) error {
	if size <= 0 {
		size = UpsertBatchSize
	}
	for start := 0; start < len(records); start += size {
		if err := ctx.Err(); err != nil {
			return &BatchError{Committed: start, Total: len(records), Err: err}
		}
		end := min(start+size, len(records))
		if err := write(ctx, records[start:end]); err != nil {
			return &BatchError{Committed: start, Total: len(records), Err: err}
		}
	}
	return nil
}
