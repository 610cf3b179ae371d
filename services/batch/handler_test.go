package batch

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"compliance-controlplane/pkg/config"
	"compliance-controlplane/pkg/middleware"
	"compliance-controlplane/services/organization"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func newHandlerFixture(t *testing.T) (*fixture, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := newFixture(t, time.Minute)

	cfg := &config.Config{}
	cfg.Cron.Secret = "cron-secret"

	engine := gin.New()
	engine.Use(middleware.Error())
	RegisterRoutes(engine, RouteParams{Config: cfg, Resolver: f.orgs, Service: f.svc})
	return f, engine
}

func doJSON(engine *gin.Engine, method, path, body, bearer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func seedAdmin(t *testing.T, f *fixture) {
	t.Helper()
	require.NoError(t, f.db.Create(&organization.Member{
		ID: "admin-1", OrganizationID: "platform", UserID: "u-admin",
		Role: middleware.RoleSuperAdmin, AccessToken: "admin-token",
	}).Error)
}

func TestCreateEndpointRequiresAuth(t *testing.T) {
	_, engine := newHandlerFixture(t)

	w := doJSON(engine, http.MethodPost, "/batch/create", `{"jobType":"alert_generation"}`, "")
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreateEndpoint(t *testing.T) {
	f, engine := newHandlerFixture(t)
	seedAdmin(t, f)

	w := doJSON(engine, http.MethodPost, "/batch/create", `{"jobType":"alert_generation"}`, "admin-token")
	require.Equal(t, http.StatusCreated, w.Code)

	var job BatchJob
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &job))
	require.Equal(t, ScopeAll, job.Scope)
	require.Equal(t, StatusPending, job.Status)

	w = doJSON(engine, http.MethodPost, "/batch/create", `{"jobType":"vehicle_inspection"}`, "admin-token")
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRunEndpointCronSecret(t *testing.T) {
	f, engine := newHandlerFixture(t)
	seedAdmin(t, f)

	w := doJSON(engine, http.MethodPost, "/batch/create", `{"jobType":"alert_generation"}`, "admin-token")
	require.Equal(t, http.StatusCreated, w.Code)
	var job BatchJob
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &job))

	// Wrong secret is rejected before any work happens.
	w = doJSON(engine, http.MethodPost, "/batch/run", `{"jobId":"`+job.ID+`"}`, "wrong")
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(engine, http.MethodPost, "/batch/run", `{"jobId":"`+job.ID+`"}`, "cron-secret")
	require.Equal(t, http.StatusOK, w.Code)

	var view JobView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	require.Equal(t, StatusDone, view.Status)
}

func TestRunEndpointFailedRun(t *testing.T) {
	f, engine := newHandlerFixture(t)
	seedAdmin(t, f)

	w := doJSON(engine, http.MethodPost, "/batch/create", `{"jobType":"alert_generation"}`, "admin-token")
	require.Equal(t, http.StatusCreated, w.Code)
	var job BatchJob
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &job))

	require.NoError(t, f.db.Migrator().DropTable(&organization.Organization{}))

	// A run that fails reports 500 but still hands back the terminal row.
	w = doJSON(engine, http.MethodPost, "/batch/run", `{"jobId":"`+job.ID+`"}`, "cron-secret")
	require.Equal(t, http.StatusInternalServerError, w.Code)

	var view JobView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	require.Equal(t, StatusFailed, view.Status)
	require.NotEmpty(t, view.Errors)
}

func TestStatusEndpoint(t *testing.T) {
	f, engine := newHandlerFixture(t)
	seedAdmin(t, f)

	w := doJSON(engine, http.MethodPost, "/batch/create", `{"jobType":"usage_rollup"}`, "admin-token")
	require.Equal(t, http.StatusCreated, w.Code)
	var job BatchJob
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &job))

	w = doJSON(engine, http.MethodGet, "/batch/status/"+job.ID, "", "admin-token")
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(engine, http.MethodGet, "/batch/status/unknown-id", "", "admin-token")
	require.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(engine, http.MethodGet, "/batch/status", "", "admin-token")
	require.Equal(t, http.StatusOK, w.Code)
}

func TestPipelineRetryEndpoint(t *testing.T) {
	f, engine := newHandlerFixture(t)
	seedAdmin(t, f)

	w := doJSON(engine, http.MethodPost, "/batch/create", `{"jobType":"alert_generation"}`, "admin-token")
	require.Equal(t, http.StatusCreated, w.Code)
	var job BatchJob
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &job))

	// Retrying a pending job conflicts.
	w = doJSON(engine, http.MethodPatch, "/pipeline/"+job.ID, `{"action":"retry"}`, "admin-token")
	require.Equal(t, http.StatusConflict, w.Code)

	require.NoError(t, f.db.Model(&BatchJob{}).
		Where("id = ?", job.ID).
		Update("status", StatusFailed).Error)

	w = doJSON(engine, http.MethodPatch, "/pipeline/"+job.ID, `{"action":"retry"}`, "admin-token")
	require.Equal(t, http.StatusCreated, w.Code)

	var retry BatchJob
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &retry))
	require.Equal(t, job.ID, retry.RetryOf)

	w = doJSON(engine, http.MethodPatch, "/pipeline/"+job.ID, `{"action":"cancel"}`, "admin-token")
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDailyCheckEndpoint(t *testing.T) {
	f, engine := newHandlerFixture(t)
	f.seedOrgWithRecords(t)

	w := doJSON(engine, http.MethodGet, "/cron/daily-check", "", "cron-secret")
	require.Equal(t, http.StatusOK, w.Code)

	var out struct {
		Scan     JobView `json:"scan"`
		Dispatch JobView `json:"dispatch"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.Equal(t, StatusDone, out.Scan.Status)
	require.Equal(t, StatusDone, out.Dispatch.Status)

	w = doJSON(engine, http.MethodGet, "/cron/daily-check", "", "")
	require.Equal(t, http.StatusUnauthorized, w.Code)
}
