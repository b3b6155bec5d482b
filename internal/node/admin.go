package node

import (
	"net/http"
	"time"

	"github.com/barc/reactivemover/internal/observability"
	"github.com/barc/reactivemover/internal/perception"
	"github.com/barc/reactivemover/internal/subsumption"
	"github.com/barc/reactivemover/internal/transport"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// Status is the admin view of a running node.
type Status struct {
	NodeID   string                 `json:"node_id"`
	RunID    string                 `json:"run_id"`
	Uptime   string                 `json:"uptime"`
	Running  bool                   `json:"running"`
	Active   string                 `json:"active"`
	Priority []string               `json:"priority"`
	Snapshot perception.Snapshot    `json:"snapshot"`
	Engine   subsumption.Stats      `json:"engine"`
	Bridge   *transport.BridgeStats `json:"bridge,omitempty"`
}

func (n *Node) Status() Status {
	out := Status{
		NodeID:   n.cfg.NodeID,
		RunID:    n.runID,
		Uptime:   time.Since(n.created).Round(time.Millisecond).String(),
		Running:  n.engine.Running(),
		Priority: n.engine.Names(),
		Snapshot: n.store.Load(),
		Engine:   n.engine.Stats(),
	}
	out.Active, _ = n.engine.Active()
	if n.bridge != nil {
		stats := n.bridge.Stats()
		out.Bridge = &stats
	}
	return out
}

func (n *Node) newRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(n.logger.With().Str("component", "admin").Logger()))
	r.Use(observability.RequestMetricsMiddleware(n.metrics))
	if len(n.cfg.CorsOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins: n.cfg.CorsOrigins,
			AllowMethods: []string{"GET"},
			AllowHeaders: []string{"Origin", "Content-Type"},
			MaxAge:       12 * time.Hour,
		}))
	}
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	r.GET("/health", func(c *gin.Context) {
		status := http.StatusOK
		state := "ok"
		if !n.engine.Running() {
			status = http.StatusServiceUnavailable
			state = "stopped"
		}
		c.JSON(status, gin.H{
			"status":  state,
			"node_id": n.cfg.NodeID,
			"run_id":  n.runID,
			"uptime":  time.Since(n.created).Round(time.Millisecond).String(),
		})
	})
	r.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, n.Status())
	})
	r.GET("/metrics", gin.WrapH(n.metrics.Handler()))
	return r
}
