package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"k8s.io/klog/v2"

	"flowerpod/internal/auth"
	"flowerpod/internal/service"
)

type AuthHandler struct {
	users    *service.AuthService
	tokens   *auth.TokenIssuer
	sessions *auth.Sessions
}

func NewAuthHandler(users *service.AuthService, tokens *auth.TokenIssuer, sessions *auth.Sessions) *AuthHandler {
	return &AuthHandler{users: users, tokens: tokens, sessions: sessions}
}

type credentials struct {
	Username string `json:"username" form:"username" binding:"required"`
	Password string `json:"password" form:"password" binding:"required"`
}

func (h *AuthHandler) Register(c *gin.Context) {
	var req credentials
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	user, err := h.users.Register(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, auth.PrincipalOf(user))
}

// Login returns a bearer token and also starts a cookie session.
func (h *AuthHandler) Login(c *gin.Context) {
	var req credentials
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	user, err := h.users.Authenticate(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}
	p := auth.PrincipalOf(user)
	token, err := h.tokens.Issue(p)
	if err != nil {
		respondError(c, err)
		return
	}
	if err := h.sessions.Save(c.Writer, c.Request, p); err != nil {
		klog.Warningf("save session for %s: %v", p.Username, err)
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "user": p})
}

func (h *AuthHandler) Logout(c *gin.Context) {
	if err := h.sessions.Clear(c.Writer, c.Request); err != nil {
		klog.Warningf("clear session: %v", err)
	}
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

func (h *AuthHandler) Me(c *gin.Context) {
	p, ok := auth.PrincipalFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "login required"})
		return
	}
	c.JSON(http.StatusOK, p)
}
