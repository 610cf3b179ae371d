package batch

import (
	"errors"
	"net/http"

	"compliance-controlplane/pkg/errutil"
	"compliance-controlplane/pkg/middleware"

	"github.com/gin-gonic/gin"
)

type createRequest struct {
	Scope   string  `json:"scope"`
	JobType JobType `json:"jobType"`
}

// CreateHandler enqueues a new batch job.
func (s *Service) CreateHandler(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", errutil.WithErr(err)))
		return
	}

	createdBy := ""
	id := middleware.GetIdentity(c)
	if id != nil {
		createdBy = id.UserID
		// Non-super-admins may only target their own organization.
		if id.Role != middleware.RoleSuperAdmin {
			if req.Scope == "" || req.Scope == ScopeAll || req.Scope != id.OrganizationID {
				_ = c.Error(errutil.Forbidden("cannot create jobs outside your organization"))
				return
			}
		}
	}

	job, err := s.Enqueue(c.Request.Context(), req.Scope, req.JobType, createdBy)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, job)
}

// ListHandler returns recent jobs, newest first.
func (s *Service) ListHandler(c *gin.Context) {
	scope := c.Query("scope")
	if id := middleware.GetIdentity(c); id != nil && id.Role != middleware.RoleSuperAdmin {
		scope = id.OrganizationID
	}

	views, err := s.List(c.Request.Context(), scope, 0)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"jobs": views})
}

// StatusHandler returns one job with computed duration and progress.
func (s *Service) StatusHandler(c *gin.Context) {
	view, err := s.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}

	if id := middleware.GetIdentity(c); id != nil && id.Role != middleware.RoleSuperAdmin {
		if view.Scope != id.OrganizationID {
			_ = c.Error(errutil.Forbidden("job belongs to another organization"))
			return
		}
	}

	c.JSON(http.StatusOK, view)
}

type pipelineRequest struct {
	Action string `json:"action"`
}

// PipelineHandler applies lifecycle actions to a job. Retry is the only
// mutation a terminal job accepts.
func (s *Service) PipelineHandler(c *gin.Context) {
	var req pipelineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", errutil.WithErr(err)))
		return
	}
	if req.Action != "retry" {
		_ = c.Error(errutil.ValidationFailed("unsupported action, expected \"retry\""))
		return
	}

	createdBy := ""
	if id := middleware.GetIdentity(c); id != nil {
		createdBy = id.UserID
	}

	job, err := s.Retry(c.Request.Context(), c.Param("id"), createdBy)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, job)
}

type runRequest struct {
	JobID string `json:"jobId"`
}

// RunHandler executes an already-enqueued job inline; the scheduled caller
// owns the invocation budget.
func (s *Service) RunHandler(c *gin.Context) {
	var req runRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", errutil.WithErr(err)))
		return
	}
	if req.JobID == "" {
		_ = c.Error(errutil.ValidationFailed("jobId is required"))
		return
	}

	if err := s.Run(c.Request.Context(), req.JobID); err != nil {
		var be errutil.BaseError
		if !errors.As(err, &be) || be.Status() != errutil.StatusInternal {
			// The job never started (not pending, unknown id).
			_ = c.Error(err)
			return
		}
		// The row reached failed; hand the caller the terminal row under the
		// failure status so schedulers see the run did not succeed.
		view, verr := s.Status(c.Request.Context(), req.JobID)
		if verr != nil {
			_ = c.Error(verr)
			return
		}
		c.JSON(http.StatusInternalServerError, view)
		return
	}

	view, err := s.Status(c.Request.Context(), req.JobID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, view)
}

// DailyCheckHandler runs the full daily sweep inline: scan every active
// organization, then dispatch notifications for whatever the scan left
// active.
func (s *Service) DailyCheckHandler(c *gin.Context) {
	ctx := c.Request.Context()

	scan, err := s.RunInline(ctx, ScopeAll, JobAlertGeneration, "cron")
	if err != nil && scan == nil {
		_ = c.Error(err)
		return
	}

	dispatch, err := s.RunInline(ctx, ScopeAll, JobNotificationDispatch, "cron")
	if err != nil && dispatch == nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"scan":     scan,
		"dispatch": dispatch,
	})
}

func RegisterRoutes(engine *gin.Engine, p RouteParams) {
	roles := []string{middleware.RoleConsultant, middleware.RoleConsultantSSM, middleware.RoleSuperAdmin}

	engine.POST("/batch/create",
		middleware.RequireRole(p.Resolver, roles...),
		p.Service.CreateHandler,
	)
	engine.GET("/batch/status",
		middleware.RequireRole(p.Resolver, roles...),
		p.Service.ListHandler,
	)
	engine.GET("/batch/status/:id",
		middleware.RequireRole(p.Resolver, roles...),
		p.Service.StatusHandler,
	)
	engine.PATCH("/pipeline/:id",
		middleware.RequireRole(p.Resolver, roles...),
		p.Service.PipelineHandler,
	)
	engine.POST("/batch/run",
		middleware.CronSecret(p.Config.Cron.Secret),
		p.Service.RunHandler,
	)
	engine.GET("/cron/daily-check",
		middleware.CronSecret(p.Config.Cron.Secret),
		p.Service.DailyCheckHandler,
	)
}
