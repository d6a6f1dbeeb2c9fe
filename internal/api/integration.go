package api

import (
	"context"
	"errors"
	"time"

	"github.com/annel0/starfleet/internal/config"
	"github.com/annel0/starfleet/internal/engine"
	"github.com/annel0/starfleet/internal/eventbus"
	"github.com/annel0/starfleet/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
)

// ServerIntegration связывает REST API, gRPC health и пересылку webhook
// с движком и отвечает за их запуск и остановку.
type ServerIntegration struct {
	restServer *RestServer
	health     *HealthServer
	webhooks   *WebhookForwarder
	bus        eventbus.EventBus
	ctx        context.Context
	cancel     context.CancelFunc
}

// IntegrationConfig содержит конфигурацию для интеграции
type IntegrationConfig struct {
	Server   config.ServerConfig
	ServerID string
	Engine   *engine.Engine
	Bus      eventbus.EventBus
	Registry *prometheus.Registry
}

// NewServerIntegration собирает серверы; ничего не слушает до Start
func NewServerIntegration(cfg IntegrationConfig) (*ServerIntegration, error) {
	if cfg.Engine == nil {
		return nil, errors.New("api: engine is required")
	}
	if len(cfg.Server.Webhooks) > 0 && cfg.Bus == nil {
		return nil, errors.New("api: webhooks require an event bus")
	}

	ctx, cancel := context.WithCancel(context.Background())
	si := &ServerIntegration{
		bus:    cfg.Bus,
		ctx:    ctx,
		cancel: cancel,
		health: NewHealthServer(cfg.Server.GetGRPCPort()),
	}
	if len(cfg.Server.Webhooks) > 0 {
		si.webhooks = NewWebhookForwarder(cfg.ServerID, cfg.Server.Webhooks)
	}

	si.restServer = NewRestServer(Config{
		Port:     cfg.Server.GetRESTPort(),
		Engine:   cfg.Engine,
		Bus:      cfg.Bus,
		Webhooks: si.webhooks,
		Registry: cfg.Registry,
		Logger:   logging.GetAPILogger(),
	})
	return si, nil
}

// Start запускает пересылку webhook, gRPC health и REST API
func (si *ServerIntegration) Start() error {
	if si.webhooks != nil {
		if err := si.webhooks.Start(si.bus); err != nil {
			return err
		}
	}
	if err := si.health.Listen(); err != nil {
		return err
	}
	if err := si.restServer.Start(); err != nil {
		return err
	}
	si.health.SetServing(true)
	return nil
}

// Stop останавливает серверы; активным запросам даётся до 30 секунд
func (si *ServerIntegration) Stop() error {
	logging.Info("🛑 Остановка API...")
	si.health.SetServing(false)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := si.restServer.Shutdown(ctx)
	if err != nil {
		logging.Error("❌ Ошибка при остановке HTTP сервера: %v", err)
	}
	si.health.Stop()
	if si.webhooks != nil {
		si.webhooks.Stop()
	}
	si.cancel()

	logging.Info("✅ API остановлен")
	return err
}

// GetRestServer возвращает REST сервер
func (si *ServerIntegration) GetRestServer() *RestServer {
	return si.restServer
}

// IsHealthy false после Stop
func (si *ServerIntegration) IsHealthy() bool {
	select {
	case <-si.ctx.Done():
		return false
	default:
		return true
	}
}
