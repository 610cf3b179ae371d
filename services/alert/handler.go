package alert

import (
	"net/http"
	"time"

	"compliance-controlplane/pkg/config"
	"compliance-controlplane/pkg/errutil"
	"compliance-controlplane/pkg/middleware"

	"github.com/gin-gonic/gin"
)

type generateRequest struct {
	OrganizationID string `json:"organizationId"`
}

// GenerateHandler triggers a scan pass for one organization or all of them.
// The reference clock is captured here, once per invocation.
func (s *Service) GenerateHandler(c *gin.Context) {
	var req generateRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			_ = c.Error(errutil.BadRequest("invalid request body", errutil.WithErr(err)))
			return
		}
	}

	// A caller authorized by role may only scan inside their own
	// organization, except super admins.
	if id := middleware.GetIdentity(c); id != nil && id.Role != middleware.RoleSuperAdmin {
		if req.OrganizationID == "" || req.OrganizationID != id.OrganizationID {
			_ = c.Error(errutil.Forbidden("cannot generate alerts outside your organization"))
			return
		}
	}

	summary, err := s.Generate(c.Request.Context(), req.OrganizationID, time.Now())
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, summary)
}

// StatsHandler returns per-organization active alert counts.
func (s *Service) StatsHandler(c *gin.Context) {
	orgID := c.Query("organization_id")

	id := middleware.GetIdentity(c)
	if id != nil && id.Role != middleware.RoleSuperAdmin {
		orgID = id.OrganizationID
	}
	if orgID == "" {
		_ = c.Error(errutil.BadRequest("organization_id is required"))
		return
	}

	stats, err := s.Stats(c.Request.Context(), orgID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

func RegisterRoutes(engine *gin.Engine, cfg *config.Config, resolver middleware.IdentityResolver, svc *Service) {
	roles := []string{middleware.RoleConsultant, middleware.RoleSuperAdmin, middleware.RoleConsultantSSM}

	engine.POST("/alerts/generate",
		middleware.CronSecretOrRole(cfg.Cron.Secret, resolver, roles...),
		svc.GenerateHandler,
	)
	engine.GET("/alerts/stats",
		middleware.RequireRole(resolver, roles...),
		svc.StatsHandler,
	)
}
