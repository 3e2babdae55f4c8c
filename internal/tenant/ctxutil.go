package tenant

import "context"

// With stores the societe identifier into the provided context.
func With(ctx context.Context, id string) context.Context {
	return WithTenant(ctx, id)
}

// From exposes the societe identifier retrieval helper.
func From(ctx context.Context) (string, bool) {
	return FromContext(ctx)
}

// PrefixKey creates a namespaced cache/queue key per societe slug or id.
func PrefixKey(societeSlugOrID, key string) string {
	if societeSlugOrID == "" {
		return key
	}
	return societeSlugOrID + ":" + key
}
