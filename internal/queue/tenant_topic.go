package queue

import (
	"context"

	"github.com/technoprod/backend-gestion/internal/tenant"
)

// Topic returns a per-societe queue kind, e.g. "<societe>:webhook-delivery".
// Without tenant context the bare kind is returned.
func Topic(ctx context.Context, kind string) string {
	if t, ok := tenant.From(ctx); ok {
		return t + ":" + kind
	}
	return kind
}
