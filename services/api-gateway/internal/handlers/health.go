package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/DanielEsLoH/MediConnect-sub004/services/api-gateway/internal/health"
)

type HealthHandler struct {
	checker *health.Checker
}

func NewHealthHandler(checker *health.Checker) *HealthHandler {
	return &HealthHandler{checker: checker}
}

// Health reports the aggregated downstream status.
func (h *HealthHandler) Health(c *gin.Context) {
	rep := h.checker.Check(c.Request.Context())
	c.JSON(rep.HTTPStatus(), rep)
}

func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
