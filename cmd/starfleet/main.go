package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/annel0/starfleet/internal/api"
	"github.com/annel0/starfleet/internal/codec"
	"github.com/annel0/starfleet/internal/config"
	"github.com/annel0/starfleet/internal/engine"
	"github.com/annel0/starfleet/internal/eventbus"
	"github.com/annel0/starfleet/internal/galaxy"
	"github.com/annel0/starfleet/internal/gen"
	"github.com/annel0/starfleet/internal/logging"
	"github.com/annel0/starfleet/internal/metrics"
	"github.com/annel0/starfleet/internal/observability"
	"github.com/annel0/starfleet/internal/storage"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	configPath := flag.String("config", "", "путь к YAML конфигурации (по умолчанию $STARFLEET_CONFIG)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ Ошибка загрузки конфигурации: %v", err)
	}

	setupLogging(cfg.Logging)
	if err := logging.InitDefaultLogger("starfleet"); err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	defer logging.CloseDefaultLogger()

	if err := run(cfg); err != nil {
		logging.Error("❌ %v", err)
		logging.CloseDefaultLogger()
		os.Exit(1)
	}
}

func setupLogging(cfg config.LoggingConfig) {
	console, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		log.Printf("⚠️ %v, используется INFO", err)
	}
	file, err := logging.ParseLevel(cfg.FileLevel)
	if err != nil {
		log.Printf("⚠️ %v, используется INFO", err)
	}
	logging.Configure(logging.Options{Dir: cfg.Dir, ConsoleLevel: console, FileLevel: file})
}

func run(cfg *config.Config) error {
	logging.Info("🚀 Запуск Starfleet: галактика %s, хранилище %s, шина %s",
		cfg.Galaxy.Bounds, cfg.Storage.Backend, cfg.EventBus.Backend)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// === Телеметрия и метрики ===
	shutdownTelemetry, err := observability.InitTelemetry(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			logging.Warn("⚠️ Остановка OpenTelemetry: %v", err)
		}
	}()

	reg := prometheus.NewRegistry()
	if err := metrics.Register(reg, collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	indexMetrics := metrics.NewIndexMetrics(reg)
	engineMetrics := metrics.NewEngineMetrics(reg)

	// === Хранилище и шина событий ===
	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer store.Close()

	bus, err := eventbus.Open(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("eventbus: %w", err)
	}
	if bus != nil {
		defer bus.Close()
		eventbus.Init(bus)
		if _, err := eventbus.StartLoggingListener(bus); err != nil {
			return fmt.Errorf("eventbus listener: %w", err)
		}
		exporter := eventbus.NewMetricsExporter(bus, reg)
		exporter.Start()
		defer exporter.Stop()
	}

	// === Галактика и движок ===
	g, err := galaxy.New(galaxy.ConfigFrom(cfg.Galaxy), galaxy.WithMetrics(indexMetrics))
	if err != nil {
		return fmt.Errorf("galaxy: %w", err)
	}

	snapshotCodec, err := codec.ByName(cfg.Engine.Codec)
	if err != nil {
		return err
	}
	compressor, err := codec.CompressorByName(cfg.Engine.Compression)
	if err != nil {
		return err
	}

	schedule := engine.NewSchedule().Add("stats", engine.StatsReporter(1000))
	eng := engine.New(g, schedule,
		engine.WithTickInterval(cfg.Engine.TickInterval()),
		engine.WithAutosave(uint64(cfg.Engine.AutosaveTicks)),
		engine.WithStore(store, cfg.Engine.SnapshotKey),
		engine.WithCodec(snapshotCodec, compressor),
		engine.WithEventBus(bus),
		engine.WithMetrics(engineMetrics, indexMetrics),
	)

	if err := bootstrap(ctx, cfg, eng); err != nil {
		return err
	}

	// === Серверы ===
	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.GetMetricsPort()),
		Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("❌ Сервер метрик: %v", err)
		}
	}()

	integration, err := api.NewServerIntegration(api.IntegrationConfig{
		Server:   cfg.Server,
		ServerID: uuid.NewString(),
		Engine:   eng,
		Bus:      bus,
		Registry: reg,
	})
	if err != nil {
		return fmt.Errorf("api: %w", err)
	}
	if err := integration.Start(); err != nil {
		return fmt.Errorf("api: %w", err)
	}

	logging.Info("✅ Все сервисы запущены")
	logging.Info("   🌐 REST API: http://localhost:%d", cfg.Server.GetRESTPort())
	logging.Info("   🩺 gRPC health: :%d", cfg.Server.GetGRPCPort())
	logging.Info("   📈 Метрики: http://localhost:%d/metrics", cfg.Server.GetMetricsPort())

	runErr := eng.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logging.Error("❌ Движок завершился с ошибкой: %v", runErr)
	}
	logging.Info("📡 Получен сигнал завершения, остановка...")

	// === GRACEFUL SHUTDOWN ===
	if err := integration.Stop(); err != nil {
		logging.Error("❌ Ошибка остановки API: %v", err)
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logging.Warn("⚠️ Остановка сервера метрик: %v", err)
	}

	if info, err := eng.Save(shutdownCtx); err != nil {
		logging.Error("❌ Финальное сохранение не удалось: %v", err)
	} else {
		logging.Info("💾 Финальный снимок %s: %d систем, %d сущностей", info.Key, info.Systems, info.Entities)
	}

	logging.Info("👋 Сервер успешно остановлен")
	return nil
}

// bootstrap восстанавливает галактику из снимка или генерирует новую
func bootstrap(ctx context.Context, cfg *config.Config, eng *engine.Engine) error {
	if cfg.Engine.RestoreOnBoot {
		_, err := eng.Load(ctx)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, storage.ErrNotFound):
			logging.Info("📂 Снимка %s нет, генерируем галактику", cfg.Engine.SnapshotKey)
		default:
			return fmt.Errorf("restore: %w", err)
		}
	}

	g := eng.Galaxy()
	g.Lock()
	defer g.Unlock()
	if _, err := gen.FromConfig(cfg.Galaxy).Populate(g); err != nil {
		if !errors.Is(err, gen.ErrExhausted) {
			return fmt.Errorf("generate: %w", err)
		}
		logging.Warn("⚠️ Генерация неполная: %v", err)
	}
	return nil
}
