package server

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/emilythestrangee/chainblog/backend/internal/config"
	"github.com/emilythestrangee/chainblog/backend/internal/database"
	"github.com/emilythestrangee/chainblog/backend/internal/handlers"
	"github.com/emilythestrangee/chainblog/backend/internal/metrics"
	"github.com/emilythestrangee/chainblog/backend/internal/middleware"
)

type Server struct {
	cfg     *config.Config
	db      database.Service
	handler *handlers.Handler
}

// NewServer creates and configures a new server. db may be nil when no
// upload store is configured.
func NewServer(cfg *config.Config, db database.Service, deps handlers.Deps) *http.Server {
	deps.Local = cfg.IsLocal()

	newServer := &Server{
		cfg:     cfg,
		db:      db,
		handler: handlers.NewHandler(deps),
	}

	// Writes wait for the transaction to be mined, so the write timeout
	// has to outlast the ledger timeout.
	writeTimeout := 30 * time.Second
	if cfg.LedgerTimeout+30*time.Second > writeTimeout {
		writeTimeout = cfg.LedgerTimeout + 30*time.Second
	}

	server := &http.Server{
		Addr:         "0.0.0.0:" + cfg.Port,
		Handler:      newServer.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: writeTimeout,
	}

	log.Info().Str("port", cfg.Port).Str("env", cfg.Env).Msg("Server configured")
	return server
}

// RegisterRoutes sets up all application routes
func (s *Server) RegisterRoutes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger())

	// CORS configuration
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	// Health check endpoint
	r.GET("/health", s.health)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := r.Group("/api")
	{
		// Post routes
		api.GET("/getallpost", s.handler.Post.GetAllPosts)
		api.GET("/getpostofuser/:address", s.handler.Post.GetPostsOfUser)
		api.GET("/getpostbyid/:postId", s.handler.Post.GetPostByID)

		// Comment routes
		api.GET("/comments/:postId", s.handler.Comment.GetCommentsFromPost)
		api.GET("/comments/user/:address", s.handler.Comment.GetCommentsOfUser)
		api.GET("/comment/:commentId/post", s.handler.Comment.GetPostOfComment)

		api.GET("/reactions/:targetType/:targetId/:address", s.handler.Reaction.GetReaction)

		api.POST("/uploadPostToIPFS", s.handler.Upload.UploadPostToIPFS)
		api.GET("/uploads", s.handler.Upload.ListUploads)

		// Server-signed writes, token protected when a secret is set
		protected := api.Group("")
		if s.cfg.JWTSecret != "" {
			protected.Use(middleware.AuthMiddleware([]byte(s.cfg.JWTSecret)))
		}
		{
			protected.POST("/uploadPostToBlockchain", s.handler.Post.CreatePostOnBlockchain)
		}
	}

	return r
}

func (s *Server) health(c *gin.Context) {
	if s.db == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}

	stats := s.db.Health()
	status := http.StatusOK
	if stats["status"] != "up" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"status": stats["status"], "database": stats})
}
