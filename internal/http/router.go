package http

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	requestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"
)

// RouterOptions configures SetupRouter.
type RouterOptions struct {
	// AllowedOrigins for CORS; empty allows all origins.
	AllowedOrigins []string
	// MaxBodyBytes caps request bodies; zero disables the cap.
	MaxBodyBytes int64
	Log          logrus.FieldLogger
}

// SetupRouter creates and configures the Gin router.
func SetupRouter(handler *Handler, opts RouterOptions) *gin.Engine {
	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}

	router := gin.New()
	router.Use(gin.Recovery(), requestID(), accessLog(log))
	if opts.MaxBodyBytes > 0 {
		router.Use(limitBody(opts.MaxBodyBytes))
	}

	// Setup CORS middleware.
	corsConfig := cors.DefaultConfig()
	if len(opts.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = opts.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.ExposeHeaders = []string{requestIDHeader}
	router.Use(cors.New(corsConfig))

	// API v1 routes.
	v1 := router.Group("/v1")

	catalog := v1.Group("/catalog")
	catalog.GET("", handler.GetCatalog)
	catalog.GET("/availability", handler.GetAvailability)

	clip := v1.Group("/clip")
	clip.POST("", handler.PostClip)
	clip.POST("/batch", handler.PostClipBatch)

	analysis := v1.Group("/analysis")
	analysis.POST("/summary", handler.PostSummary)
	analysis.POST("/bivariate", handler.PostBivariate)

	datasets := v1.Group("/datasets")
	datasets.GET("/inspect", handler.GetInspect)
	datasets.GET("/probe", handler.GetProbe)

	v1.POST("/retrievals", handler.PostRetrieval)

	// Health check.
	router.GET("/health", handler.HealthCheck)

	return router
}

// requestID propagates an incoming X-Request-ID or assigns a new one.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func accessLog(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		entry := log.WithFields(logrus.Fields{
			"request_id": c.GetString(requestIDKey),
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"duration":   time.Since(start).String(),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Warn("request served")
			return
		}
		entry.Info("request served")
	}
}

func limitBody(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		}
		c.Next()
	}
}
