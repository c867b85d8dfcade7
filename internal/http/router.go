package http

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type RouterConfig struct {
	AllowedOrigins []string `mapstructure:"AllowedOrigins"`
	LoopbackOnly   bool     `mapstructure:"LoopbackOnly"`
	// Token, when set, must accompany every message in the X-QW-Extension
	// header.
	Token string `mapstructure:"-"`
}

// NewRouter mounts the message surface, health and, when gatherer is
// non-nil, the metrics endpoint.
func NewRouter(s *Server, cfg RouterConfig, gatherer prometheus.Gatherer) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	if len(cfg.AllowedOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins: cfg.AllowedOrigins,
			AllowMethods: []string{"GET", "POST", "OPTIONS"},
			AllowHeaders: []string{"Origin", "Content-Type", extensionTokenHeader},
			MaxAge:       10 * time.Minute,
		}))
	}
	if cfg.LoopbackOnly {
		r.Use(loopbackOnly())
	}

	api := r.Group("/api")
	{
		api.GET("/health", s.Health)
		api.GET("/messages", func(c *gin.Context) {
			c.JSON(http.StatusOK, Response{Success: true, Value: s.Types()})
		})
		api.POST("/message", pairedOnly(cfg.Token), s.Message)
	}

	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
	return r
}

func (s *Server) Health(c *gin.Context) {
	c.JSON(http.StatusOK, healthResp{
		Status:      "ok",
		TabID:       s.wallet.TabID(),
		Initialized: s.wallet.IsInitialized(),
		Leader:      s.wallet.IsLeader(),
	})
}

// POST /api/message
func (s *Server) Message(c *gin.Context) {
	var req Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Error: HTTPErrorInvalidJSONText})
		return
	}
	c.JSON(http.StatusOK, s.Handle(c.Request.Context(), req))
}
