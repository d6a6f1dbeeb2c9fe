package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/annel0/starfleet/internal/engine"
	"github.com/annel0/starfleet/internal/eventbus"
	"github.com/annel0/starfleet/internal/logging"
	"github.com/annel0/starfleet/internal/middleware"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// RestServer REST API галактики
type RestServer struct {
	router     *gin.Engine
	engine     *engine.Engine
	bus        eventbus.EventBus
	webhooks   *WebhookForwarder
	stats      *ProcessStats
	port       int
	httpServer *http.Server
}

// Config содержит конфигурацию для REST сервера
type Config struct {
	Port     int                  // порт для запуска сервера
	Engine   *engine.Engine       // движок с галактикой
	Bus      eventbus.EventBus    // шина для SystemAdded; может быть nil
	Webhooks *WebhookForwarder    // для /api/webhooks; может быть nil
	Registry *prometheus.Registry // метрики HTTP и /metrics; nil - свой реестр
	Logger   *logging.Logger      // лог запросов; nil - глобальный
}

// GenericResponse общий ответ API
type GenericResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// NewRestServer создаёт REST API сервер
func NewRestServer(cfg Config) *RestServer {
	if cfg.Port == 0 {
		cfg.Port = 8088
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}

	if gin.Mode() == gin.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()        // без стандартного logger/recovery
	router.Use(gin.Recovery()) // добавим только recovery

	router.Use(otelgin.Middleware("starfleet_api"))
	router.Use(middleware.NewRequestLogger(cfg.Logger).Handler())

	promMw := middleware.NewPrometheusMiddleware("starfleet_api", cfg.Registry)
	router.Use(promMw.Handler())
	promMw.RegisterMetricsEndpoint(router, cfg.Registry)

	rs := &RestServer{
		router:   router,
		engine:   cfg.Engine,
		bus:      cfg.Bus,
		webhooks: cfg.Webhooks,
		stats:    NewProcessStats(),
		port:     cfg.Port,
	}
	rs.setupRoutes()
	return rs
}

// setupRoutes настраивает маршруты REST API
func (rs *RestServer) setupRoutes() {
	rs.router.GET("/health", rs.handleHealth)

	api := rs.router.Group("/api")
	{
		api.GET("/stats", rs.handleStats)

		api.GET("/systems", rs.handleListSystems)
		api.POST("/systems", rs.handleAddSystem)
		api.GET("/systems/near", rs.handleSystemsNear)
		api.GET("/systems/:name/entities", rs.handleEntities)
		api.POST("/systems/:name/entities", rs.handleSpawn)

		api.POST("/snapshot", rs.handleSave)
		api.POST("/snapshot/load", rs.handleLoad)

		api.GET("/webhooks", rs.handleWebhooks)
	}
}

// Handler http.Handler сервера (для httptest и встраивания)
func (rs *RestServer) Handler() http.Handler {
	return rs.router
}

// Start слушает порт в отдельной горутине
func (rs *RestServer) Start() error {
	rs.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", rs.port),
		Handler: rs.router,
	}

	go func() {
		if err := rs.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("❌ Ошибка REST API сервера: %v", err)
		}
	}()

	logging.Info("✅ REST API сервер запущен на http://localhost:%d", rs.port)
	logging.Debug("📋 Эндпоинты: /health, /metrics, /api/stats, /api/systems[/near|/:name/entities], /api/snapshot[/load], /api/webhooks")
	return nil
}

// Shutdown останавливает HTTP сервер, дожидаясь активных запросов
func (rs *RestServer) Shutdown(ctx context.Context) error {
	if rs.httpServer == nil {
		return nil
	}
	return rs.httpServer.Shutdown(ctx)
}
