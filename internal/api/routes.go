package api

import (
	"errors"
	"net/http"

	"github.com/boltonhq/bolton/internal/models"
	"github.com/boltonhq/bolton/internal/registry"
	"github.com/boltonhq/bolton/internal/sandbox"
	"github.com/boltonhq/bolton/internal/store"
	"github.com/gin-gonic/gin"
)

// registerRoutes sets up all API routes on the Gin router.
func registerRoutes(router *gin.Engine, opts StartOpts) {
	apiGroup := router.Group("/api")

	apiGroup.GET("/integrations", handleIntegrationList(opts.Registry))
	apiGroup.GET("/integrations/categories", handleCategories(opts.Registry))

	apiGroup.POST("/jobs", handleJobCreate(opts.Store))
	apiGroup.GET("/jobs", handleJobList(opts.Store))
	apiGroup.GET("/jobs/:id", handleJobGet(opts.Store))
	apiGroup.POST("/jobs/:id/cancel", handleJobCancel(opts.Store))

	apiGroup.GET("/worker/status", handleWorkerStatus(opts))
	apiGroup.POST("/worker/start", handleWorkerStart(opts))
	apiGroup.POST("/worker/stop", handleWorkerStop(opts))

	apiGroup.POST("/sessions", handleSessionCreate(opts.Sandbox))
	apiGroup.GET("/sessions", handleSessionList(opts.Sandbox))
	apiGroup.DELETE("/sessions/:id", handleSessionDelete(opts.Sandbox))
	apiGroup.POST("/sessions/:id/apply", handleSessionApply(opts.Sandbox))
	apiGroup.GET("/sessions/:id/file", handleSessionFile(opts.Sandbox))
	apiGroup.GET("/sessions/:id/diff", handleSessionDiff(opts.Sandbox))
	apiGroup.GET("/sessions/:id/archive", handleSessionArchive(opts.Sandbox))
}

// jobView is the JSON shape for a job, with id lists decoded.
type jobView struct {
	ID             string   `json:"id"`
	Repo           string   `json:"repo"`
	Integrations   []string `json:"integrations"`
	Addons         []string `json:"addons,omitempty"`
	Status         string   `json:"status"`
	Branch         string   `json:"branch,omitempty"`
	PRURL          string   `json:"prUrl,omitempty"`
	FilesGenerated int      `json:"filesGenerated"`
	Error          string   `json:"error,omitempty"`
	Explanation    string   `json:"explanation,omitempty"`
	CreatedAt      int64    `json:"createdAt"`
	UpdatedAt      int64    `json:"updatedAt"`
	CompletedAt    int64    `json:"completedAt,omitempty"`
}

func toView(job *models.Job) jobView {
	integrations, _ := job.IntegrationIDs()
	addons, _ := job.AddonIDs()
	v := jobView{
		ID:             job.ID,
		Repo:           job.Repo,
		Integrations:   integrations,
		Addons:         addons,
		Status:         job.Status,
		Branch:         job.Branch,
		PRURL:          job.PRURL,
		FilesGenerated: job.FilesGenerated,
		Error:          job.Error,
		Explanation:    job.Explanation,
		CreatedAt:      job.CreatedAt.UnixMilli(),
		UpdatedAt:      job.UpdatedAt.UnixMilli(),
	}
	if job.CompletedAt != nil {
		v.CompletedAt = job.CompletedAt.UnixMilli()
	}
	return v
}

// fail writes a JSON error with a status derived from the error class.
func fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, sandbox.ErrSessionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, registry.ErrUnknownIntegration), errors.Is(err, store.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrInvalidTransition):
		status = http.StatusConflict
	case errors.Is(err, sandbox.ErrRepoUnavailable):
		status = http.StatusBadGateway
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func handleIntegrationList(reg *registry.Registry) gin.HandlerFunc {
	type bundleView struct {
		ID           string   `json:"id"`
		Name         string   `json:"name"`
		Category     string   `json:"category"`
		Kind         string   `json:"kind"`
		RequiredKeys []string `json:"requiredKeys"`
		Files        []string `json:"files"`
	}
	return func(c *gin.Context) {
		bundles := reg.List()
		out := make([]bundleView, 0, len(bundles))
		for _, b := range bundles {
			view := bundleView{
				ID:           b.ID,
				Name:         b.Name,
				Category:     b.Category,
				Kind:         b.Kind,
				RequiredKeys: b.RequiredKeys,
			}
			for path := range b.Files {
				view.Files = append(view.Files, path)
			}
			out = append(out, view)
		}
		c.JSON(http.StatusOK, out)
	}
}

func handleCategories(reg *registry.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, reg.Categories())
	}
}

func handleJobCreate(st *store.Store) gin.HandlerFunc {
	type createRequest struct {
		Repo         string   `json:"repo" binding:"required"`
		Integrations []string `json:"integrations" binding:"required"`
		Addons       []string `json:"addons"`
	}
	return func(c *gin.Context) {
		var req createRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		job, err := st.Create(store.CreateInput{
			Repo:         req.Repo,
			Integrations: req.Integrations,
			Addons:       req.Addons,
		})
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusCreated, toView(job))
	}
}

func handleJobList(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobs, err := st.List(c.Query("status"))
		if err != nil {
			fail(c, err)
			return
		}
		out := make([]jobView, 0, len(jobs))
		for i := range jobs {
			out = append(out, toView(&jobs[i]))
		}
		c.JSON(http.StatusOK, out)
	}
}

func handleJobGet(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		job, err := st.Get(c.Param("id"))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, toView(job))
	}
}

func handleJobCancel(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		job, err := st.RequestCancel(c.Param("id"))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, toView(job))
	}
}

func handleWorkerStatus(opts StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		if opts.Scheduler == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no worker configured"})
			return
		}
		status, err := opts.Scheduler.Status()
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, status)
	}
}

func handleWorkerStart(opts StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		if opts.Scheduler == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no worker configured"})
			return
		}
		opts.Scheduler.Start()
		c.JSON(http.StatusOK, gin.H{"running": true})
	}
}

func handleWorkerStop(opts StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		if opts.Scheduler == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no worker configured"})
			return
		}
		opts.Scheduler.Stop()
		c.JSON(http.StatusOK, gin.H{"running": false})
	}
}

func handleSessionCreate(mgr *sandbox.Manager) gin.HandlerFunc {
	type createRequest struct {
		Repo string `json:"repo" binding:"required"`
	}
	return func(c *gin.Context) {
		var req createRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		session, err := mgr.CreateDemoSession(c.Request.Context(), req.Repo)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"id": session.ID, "repo": session.Repo, "demo": true})
	}
}

func handleSessionList(mgr *sandbox.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, mgr.ListSessions())
	}
}

func handleSessionDelete(mgr *sandbox.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := mgr.DeleteSession(c.Param("id")); err != nil {
			fail(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func handleSessionApply(mgr *sandbox.Manager) gin.HandlerFunc {
	type applyRequest struct {
		Integrations []string          `json:"integrations" binding:"required"`
		Addons       []string          `json:"addons"`
		Values       map[string]string `json:"values"`
	}
	return func(c *gin.Context) {
		var req applyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		result, err := mgr.ApplyIntegrations(c.Param("id"), req.Integrations, req.Addons, req.Values)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func handleSessionFile(mgr *sandbox.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Query("path")
		if path == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "path is required"})
			return
		}
		content, err := mgr.FileContent(c.Param("id"), path)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"path": path, "content": content})
	}
}

func handleSessionDiff(mgr *sandbox.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Query("path")
		if path == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "path is required"})
			return
		}
		diff, err := mgr.DiffPath(c.Param("id"), path)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, diff)
	}
}

func handleSessionArchive(mgr *sandbox.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		data, err := mgr.ExportArchive(c.Param("id"))
		if err != nil {
			fail(c, err)
			return
		}
		c.Header("Content-Disposition", `attachment; filename="sandbox.tar.gz"`)
		c.Data(http.StatusOK, "application/gzip", data)
	}
}
