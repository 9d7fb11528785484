package tenantctx

import "context"

type keyType string

const (
	TenantIDKey   keyType = "tenant_id"
	TenantSlugKey keyType = "tenant_slug"
)

func WithTenantID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, TenantIDKey, id)
}

func TenantID(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(TenantIDKey).(int64)
	return id, ok
}

func WithTenantSlug(ctx context.Context, slug string) context.Context {
	return context.WithValue(ctx, TenantSlugKey, slug)
}

func TenantSlug(ctx context.Context) (string, bool) {
	slug, ok := ctx.Value(TenantSlugKey).(string)
	return slug, ok
}
