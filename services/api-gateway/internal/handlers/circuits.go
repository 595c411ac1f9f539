package handlers

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/DanielEsLoH/MediConnect-sub004/pkg/httpx"
	"github.com/DanielEsLoH/MediConnect-sub004/services/api-gateway/internal/breaker"
	"github.com/DanielEsLoH/MediConnect-sub004/services/api-gateway/internal/middlewares"
)

type CircuitHandler struct {
	breakers *breaker.Registry
}

func NewCircuitHandler(breakers *breaker.Registry) *CircuitHandler {
	return &CircuitHandler{breakers: breakers}
}

func (h *CircuitHandler) List(c *gin.Context) {
	snaps, err := h.breakers.Snapshots(c.Request.Context())
	if err != nil {
		log.Printf("[admin] snapshots: %v", err)
		httpx.Abort(c, http.StatusServiceUnavailable, httpx.CodeServiceUnavailable, "circuit state unavailable")
		return
	}
	c.JSON(http.StatusOK, gin.H{"circuits": snaps})
}

func (h *CircuitHandler) Reset(c *gin.Context) {
	name := c.Param("service")
	b, ok := h.breakers.Get(name)
	if !ok {
		httpx.Abort(c, http.StatusNotFound, httpx.CodeNotFound, "unknown service "+name)
		return
	}
	if err := b.Reset(c.Request.Context()); err != nil {
		log.Printf("[admin] reset %s: %v", name, err)
		httpx.Abort(c, http.StatusServiceUnavailable, httpx.CodeServiceUnavailable, "could not reset circuit")
		return
	}
	log.Printf("[admin] circuit %s reset by %s", name, c.GetString(middlewares.KeySub))
	snap, err := b.Snapshot(c.Request.Context())
	if err != nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, snap)
}
