package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/xpanvictor/aisly/internal/history"
	"github.com/xpanvictor/aisly/internal/session"
	"github.com/xpanvictor/aisly/pkg/Logger"
)

// Controller is the orchestrator surface exposed over HTTP.
type Controller interface {
	Status() session.Status
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Ask(ctx context.Context, text string) (session.Ticket, error)
	Resubmit(ctx context.Context, recordID uuid.UUID, edited string) (session.Ticket, error)
	History(ctx context.Context) ([]history.Record, error)
	Record(ctx context.Context, id uuid.UUID) (history.Record, error)
	ClearHistory(ctx context.Context) error
	SetUseLegend(enabled bool)
	Subscribe(buffer int) (<-chan session.Event, func())
}

type Dependencies struct {
	Controller Controller
	// Gatherer serves /metrics; nil disables the route.
	Gatherer prometheus.Gatherer
	Logger   *Logger.Logger
}

// RoutesManager holds the handlers of the control API.
type RoutesManager struct {
	deps Dependencies
}

func NewRoutesManager(deps Dependencies) *RoutesManager {
	return &RoutesManager{deps: deps}
}

var upgrader = websocket.Upgrader{
	// the API binds to loopback by default
	CheckOrigin: func(r *http.Request) bool { return true },
}

func InitializeRoutes(r *gin.Engine, deps Dependencies) {
	r.GET("/health", func(ctx *gin.Context) { ctx.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	rm := NewRoutesManager(deps)

	r.GET("/status", rm.handleStatus)

	listen := r.Group("/listen")
	listen.POST("/start", rm.handleStart)
	listen.POST("/stop", rm.handleStop)

	r.POST("/ask", rm.handleAsk)
	r.PUT("/legend", rm.handleLegend)

	hist := r.Group("/history")
	hist.GET("", rm.handleListHistory)
	hist.DELETE("", rm.handleClearHistory)
	hist.GET("/:id", rm.handleGetRecord)
	hist.POST("/:id/resend", rm.handleResend)

	r.GET("/events", rm.handleEvents)

	if deps.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}
}

// NewRouter builds a gin engine with the control API mounted.
func NewRouter(deps Dependencies, debug bool) *gin.Engine {
	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	InitializeRoutes(r, deps)
	return r
}
