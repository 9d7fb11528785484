package server

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/orderlens/internal/observability/context"
	tenantdomain "github.com/smallbiznis/orderlens/internal/tenant/domain"
	"github.com/smallbiznis/orderlens/pkg/tenantctx"
	"gorm.io/gorm"
)

const HeaderTenant = "X-Tenant-ID"

// TenantContext resolves the tenant named by the X-Tenant-ID header and
// stamps it on the request context. Every /api route sits behind it, so
// services can assume a tenant id is present.
func (s *Server) TenantContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(HeaderTenant))
		if raw == "" {
			AbortWithError(c, newValidationError("tenant", "missing_tenant_header", "X-Tenant-ID header is required"))
			return
		}
		tenantID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || tenantID <= 0 {
			AbortWithError(c, newValidationError("tenant", "invalid_tenant_id", "X-Tenant-ID must be a positive integer"))
			return
		}

		var tenant tenantdomain.Tenant
		err = s.db.WithContext(c.Request.Context()).
			Where("id = ? AND active = ?", tenantID, true).
			First(&tenant).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				AbortWithError(c, tenantdomain.ErrTenantNotFound)
				return
			}
			AbortWithError(c, err)
			return
		}

		ctx := tenantctx.WithTenantID(c.Request.Context(), tenant.ID)
		ctx = tenantctx.WithTenantSlug(ctx, tenant.Slug)
		ctx = obscontext.WithTenantID(ctx, strconv.FormatInt(tenant.ID, 10))
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}
