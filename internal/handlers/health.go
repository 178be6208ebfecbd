package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type healthResponse struct {
	Status      string `json:"status"`
	Database    string `json:"database"`
	Cache       string `json:"cache"`
	Snapshots   string `json:"snapshots"`
	Environment string `json:"environment"`
}

// Health always answers 200; a failed check marks the status degraded.
func (h HandlerSet) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{
		Status:      "ok",
		Database:    h.check(ctx, "database", h.db),
		Cache:       h.check(ctx, "cache", h.cache),
		Snapshots:   "waiting",
		Environment: h.cfg.Environment,
	}
	if _, ok := h.hub.Latest(); ok {
		resp.Snapshots = "ok"
	}
	if resp.Database == "error" || resp.Cache == "error" {
		resp.Status = "degraded"
	}

	c.JSON(http.StatusOK, resp)
}

func (h HandlerSet) check(ctx context.Context, name string, p Pinger) string {
	if p == nil {
		return "disabled"
	}
	if err := p.Ping(ctx); err != nil {
		h.log.Error().Err(err).Str("dependency", name).Msg("health ping failed")
		return "error"
	}
	return "ok"
}
