package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/fleetrun/internal/catalog"
	"github.com/loykin/fleetrun/internal/device"
	"github.com/loykin/fleetrun/internal/metrics"
	"github.com/loykin/fleetrun/internal/orchestrator"
	"github.com/loykin/fleetrun/internal/registry"
)

// Router provides the embeddable HTTP API for the orchestrator.
// Endpoints under basePath:
//
//	GET  /health            liveness probe
//	GET  /devices           configured device inventory
//	GET  /tests             test files discovered under the tests dir
//	POST /runs              start a run (202 + run id)
//	GET  /runs              all known runs, most recent first
//	GET  /runs/:id          full detail including captured output
//	POST /runs/:id/stop     request cancellation, returns current state
//	GET  /events            websocket live event stream
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	orch     *orchestrator.Orchestrator
	devices  device.Resolver
	hub      *Hub
	basePath string

	// TestsDir, when set before Handler, backs GET /tests with discovered
	// test files. Empty serves an empty catalog.
	TestsDir string
}

func NewRouter(orch *orchestrator.Orchestrator, devices device.Resolver, hub *Hub, basePath string) *Router {
	return &Router{orch: orch, devices: devices, hub: hub, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler powered by gin that can be mounted in any
// server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/health", r.handleHealth)
	group.GET("/devices", r.handleDevices)
	group.GET("/tests", r.handleListTests)
	group.POST("/runs", r.handleStartRun)
	group.GET("/runs", r.handleListRuns)
	group.GET("/runs/:id", r.handleGetRun)
	group.POST("/runs/:id/stop", r.handleStopRun)
	if r.hub != nil {
		group.GET("/events", r.hub.HandleWebSocket)
	}
	g.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
func NewServer(addr string, handler http.Handler) *http.Server {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

// StartRunRequest is the POST /runs body.
type StartRunRequest struct {
	TestTarget string               `json:"test_target" binding:"required"`
	DeviceIDs  []string             `json:"device_ids" binding:"required"`
	Options    orchestrator.Options `json:"options"`
}

func (r *Router) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "timestamp": time.Now().UTC()})
}

func (r *Router) handleDevices(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"devices": r.devices.List()})
}

func (r *Router) handleListTests(c *gin.Context) {
	tests, err := catalog.Discover(r.TestsDir)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	if tests == nil {
		tests = []catalog.Test{}
	}
	c.JSON(http.StatusOK, gin.H{"tests": tests})
}

func (r *Router) handleStartRun(c *gin.Context) {
	var req StartRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	targets := make([]device.Target, 0, len(req.DeviceIDs))
	for _, id := range req.DeviceIDs {
		t, err := r.devices.Resolve(id)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResp{Error: err.Error()})
			return
		}
		targets = append(targets, t)
	}
	runID, err := r.orch.Start(orchestrator.StartRequest{
		TestTarget: req.TestTarget,
		Devices:    targets,
		Options:    req.Options,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"run_id": runID})
}

func (r *Router) handleListRuns(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"runs": r.orch.Registry().List()})
}

func (r *Router) handleGetRun(c *gin.Context) {
	rn, err := r.orch.Registry().Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, rn.Detail())
}

func (r *Router) handleStopRun(c *gin.Context) {
	id := c.Param("id")
	if err := r.orch.Stop(id); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, registry.ErrNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, errorResp{Error: err.Error()})
		return
	}
	rn, err := r.orch.Registry().Get(id)
	if err != nil {
		c.JSON(http.StatusNotFound, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, rn.Summary())
}
