package notify

import (
	"crypto/subtle"
	"net/http"

	"compliance-controlplane/pkg/config"
	"compliance-controlplane/pkg/errutil"
	"compliance-controlplane/pkg/middleware"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type sendRequest struct {
	OrganizationID string `json:"organizationId" binding:"required"`
}

// SendHandler is the manual dispatch trigger, gated to consultants of the
// target organization.
func (d *Dispatcher) SendHandler(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("organizationId is required", errutil.WithErr(err)))
		return
	}

	id := middleware.GetIdentity(c)
	if id == nil {
		_ = c.Error(errutil.Unauthorized("authentication required"))
		return
	}
	if id.Role != middleware.RoleSuperAdmin && id.OrganizationID != req.OrganizationID {
		_ = c.Error(errutil.Forbidden("not a consultant of the target organization"))
		return
	}

	res, err := d.DispatchOrg(c.Request.Context(), req.OrganizationID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, res)
}

// WebhookHandler receives delivery-status callbacks and inbound replies.
// The provider contract requires a 200 with an empty acknowledgment body
// regardless of internal outcome; internal failures are logged only,
// otherwise the provider retries in a storm.
func (r *Reconciler) WebhookHandler(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer c.Status(http.StatusOK)

		if secret != "" {
			got := c.GetHeader("X-Webhook-Secret")
			if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
				zap.L().Warn("webhook with invalid secret ignored", zap.String("remote", c.ClientIP()))
				return
			}
		}

		sid := c.PostForm("MessageSid")
		status := c.PostForm("MessageStatus")
		body := c.PostForm("Body")
		from := c.PostForm("From")

		switch {
		case sid != "" && status != "":
			if err := r.ApplyDeliveryStatus(c.Request.Context(), sid, status); err != nil {
				zap.L().Error("failed to apply delivery status", zap.String("provider_message_id", sid), zap.Error(err))
			}
		case from != "" && body != "":
			if _, err := r.ApplyInboundReply(c.Request.Context(), from, body); err != nil {
				zap.L().Error("failed to apply inbound reply", zap.Error(err))
			}
		default:
			zap.L().Debug("webhook without actionable fields ignored")
		}
	}
}

func RegisterRoutes(engine *gin.Engine, cfg *config.Config, resolver middleware.IdentityResolver, d *Dispatcher, r *Reconciler) {
	engine.POST("/alerts/send",
		middleware.RequireRole(resolver, middleware.RoleConsultant, middleware.RoleConsultantSSM, middleware.RoleSuperAdmin),
		d.SendHandler,
	)
	engine.POST("/webhooks/provider", r.WebhookHandler(cfg.Provider.WebhookSecret))
}
