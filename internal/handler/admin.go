package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"flowerpod/internal/service"
)

type AdminHandler struct {
	users  *service.AuthService
	guides *service.GuideService
}

func NewAdminHandler(users *service.AuthService, guides *service.GuideService) *AdminHandler {
	return &AdminHandler{users: users, guides: guides}
}

func (h *AdminHandler) Users(c *gin.Context) {
	users, err := h.users.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, users)
}

func (h *AdminHandler) Guides(c *gin.Context) {
	sums, err := h.guides.Summaries(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sums)
}

// Audit reports drift between guide rows and storage without changing anything.
func (h *AdminHandler) Audit(c *gin.Context) {
	report, err := h.guides.Audit(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"clean": report.Clean(), "report": report})
}
