package gateway

import "context"

// Deduper makes webhook processing effectively once despite provider
// redelivery. The protocol is claim, process, then mark or release:
//
//	ok, _ := d.Claim(ctx, id)    // false: someone else has it, skip
//	err := process()
//	if err != nil { d.Release(ctx, id) }   // provider may redeliver
//	else          { d.MarkProcessed(ctx, id) }
//
// Claim holds an in-flight reservation so two concurrent deliveries of the
// same event cannot both process; only MarkProcessed makes the claim stick.
type Deduper interface {
	Claim(ctx context.Context, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, eventID string) error
	Release(ctx context.Context, eventID string) error
}
