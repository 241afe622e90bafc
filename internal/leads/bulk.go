package leads

import "context"

// BulkResult aggregates per-target outcomes of a multi-target send. A mixed
// outcome is a first-class result, not an error.
type BulkResult struct {
	Sent   int               `json:"sent"`
	Failed int               `json:"failed"`
	Errors map[string]string `json:"errors,omitempty"`
}

// BulkSender sequences a multi-target outreach send over a store.
type BulkSender struct {
	Store  *Store
	Logger Logger
}

// SendMany marks every id pending up front, then attempts each send
// strictly in the order supplied, one at a time. Failures are individually
// attributed and do not abort the remaining attempts. Exactly one store
// refresh is triggered afterwards if anything was sent, and the pending set
// is cleared regardless of the outcome mix.
func (b *BulkSender) SendMany(ctx context.Context, propertyIDs []string, templateName string) BulkResult {
	result := BulkResult{Errors: map[string]string{}}
	if len(propertyIDs) == 0 {
		return result
	}

	b.Store.markAllPending(propertyIDs)
	defer b.Store.clearPending()

	for _, id := range propertyIDs {
		if err := ctx.Err(); err != nil {
			result.Failed++
			result.Errors[id] = err.Error()
			continue
		}
		if err := b.Store.send(ctx, id, templateName); err != nil {
			result.Failed++
			result.Errors[id] = err.Error()
			sendTotal.WithLabelValues("failure").Inc()
			b.logf("bulk send to %s failed: %v", id, err)
			continue
		}
		result.Sent++
		sendTotal.WithLabelValues("success").Inc()
	}

	if result.Sent > 0 {
		_ = b.Store.Refresh(ctx)
	}
	return result
}

func (b *BulkSender) logf(format string, args ...any) {
	if b.Logger == nil {
		return
	}
	b.Logger.Printf(format, args...)
}
