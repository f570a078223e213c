package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"

	"flowerpod/internal/auth"
	"flowerpod/internal/config"
	"flowerpod/internal/handler"
)

// Deps are the collaborators the routes are bound to.
type Deps struct {
	Tokens   *auth.TokenIssuer
	Sessions *auth.Sessions
	Home     *handler.HomeHandler
	Auth     *handler.AuthHandler
	Guides   *handler.GuideHandler
	Admin    *handler.AdminHandler
}

func Setup(cfg *config.Config, d Deps) *gin.Engine {
	switch cfg.Server.Mode {
	case gin.ReleaseMode, gin.TestMode:
		gin.SetMode(cfg.Server.Mode)
	}

	r := gin.Default()
	r.MaxMultipartMemory = cfg.MaxUploadBytes() * 2

	r.Use(cors.New(corsConfig(cfg.Server.AllowedOrigins)))
	r.Use(gzip.Gzip(gzip.DefaultCompression,
		gzip.WithExcludedExtensions([]string{".png", ".jpg", ".jpeg", ".gif"})))

	if cfg.Storage.Backend == "local" {
		r.Static("/static", cfg.Storage.PublicRoot)
	}

	r.Use(auth.Middleware(d.Tokens, d.Sessions))

	r.GET("/", d.Home.Landing)
	r.POST("/", d.Home.Speak)

	accounts := r.Group("")
	if cfg.Auth.LoginRateLimit > 0 {
		accounts.Use(handler.RateLimit(cfg.Auth.LoginRateLimit, time.Minute))
	}
	{
		accounts.POST("/register", d.Auth.Register)
		accounts.POST("/login", d.Auth.Login)
	}
	r.POST("/logout", d.Auth.Logout)

	user := r.Group("")
	user.Use(auth.RequireAuth())
	{
		user.GET("/me", d.Auth.Me)
		user.GET("/home", d.Guides.List)
		user.GET("/search", d.Guides.Search)

		guides := user.Group("/guides")
		{
			guides.GET("", d.Guides.List)
			guides.POST("", d.Guides.Create)
			guides.GET("/:id", d.Guides.Get)
			guides.POST("/:id/captions", d.Guides.Caption)
			guides.PUT("/:id", d.Guides.Edit)
			guides.DELETE("/:id", d.Guides.Delete)
		}
	}

	admin := r.Group("/admin")
	admin.Use(auth.RequireAdmin())
	{
		admin.GET("/users", d.Admin.Users)
		admin.GET("/guides", d.Admin.Guides)
		admin.GET("/audit", d.Admin.Audit)
	}

	return r
}

func corsConfig(origins []string) cors.Config {
	c := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 {
		c.AllowAllOrigins = true
		return c
	}
	for _, o := range origins {
		if o == "*" {
			c.AllowAllOrigins = true
			return c
		}
	}
	c.AllowOrigins = origins
	c.AllowCredentials = true
	return c
}
