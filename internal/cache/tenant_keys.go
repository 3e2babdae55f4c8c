package cache

import (
	"context"

	"github.com/technoprod/backend-gestion/internal/tenant"
)

// KeyProduitList returns a per-societe cache key for produit catalogue lists.
func KeyProduitList(ctx context.Context, base string) string {
	id, ok := tenant.From(ctx)
	if !ok {
		return base
	}
	return id + ":" + base
}

// KeyProduit returns a per-societe key for a given produit id.
func KeyProduit(ctx context.Context, produitID string) string {
	id, ok := tenant.From(ctx)
	if !ok {
		return "produit:" + produitID
	}
	return id + ":produit:" + produitID
}

// KeyTheme returns a per-societe key for the theme document.
func KeyTheme(societeID string) string {
	return tenant.PrefixKey(societeID, "theme")
}
