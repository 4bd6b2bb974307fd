package engine

import (
	"context"
	"fmt"

	"paymaster/payout"
	"paymaster/safe"
)

// Submit preflights the treasury balance for every payout token, builds the
// transfer batch, and queues it in the multisig relay. Transfers already
// pending in the queue are skipped rather than re-proposed, so submitting the
// same run twice queues nothing the second time.
func (e *Engine) Submit(ctx context.Context, run *Run) (safe.SubmitResult, error) {
	if e.Paused() {
		e.metrics.RecordError("submit", "paused")
		return safe.SubmitResult{}, ErrPaused
	}
	reader, err := e.reader(run.Chain)
	if err != nil {
		return safe.SubmitResult{}, err
	}
	for _, token := range payout.Tokens(run.Records) {
		total := payout.Total(run.Records, token)
		if err := payout.Preflight(ctx, reader, token, run.Safe, total); err != nil {
			e.metrics.RecordError("submit", "preflight")
			return safe.SubmitResult{}, err
		}
	}
	batch, err := payout.BuildBatch(run.Records)
	if err != nil {
		e.metrics.RecordError("submit", "encode")
		return safe.SubmitResult{}, err
	}
	client, err := safe.NewClient(e.service, run.Safe, e.signer)
	if err != nil {
		return safe.SubmitResult{}, err
	}
	for _, t := range batch {
		client.Append(t, false)
	}
	result, err := client.Submit(ctx)
	e.metrics.RecordSubmission(run.Kind, len(result.Queued), len(result.Skipped))
	if err != nil {
		e.metrics.RecordError("submit", "relay")
		return result, fmt.Errorf("engine: submit run %s: %w", run.ID, err)
	}
	e.log.Info("submitted payout batch",
		"run", run.ID, "queued", len(result.Queued), "skipped", len(result.Skipped))
	return result, nil
}
