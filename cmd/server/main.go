package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/annel0/shiku-server/internal/api"
	"github.com/annel0/shiku-server/internal/auth"
	"github.com/annel0/shiku-server/internal/blueprint"
	"github.com/annel0/shiku-server/internal/cache"
	"github.com/annel0/shiku-server/internal/conductor"
	"github.com/annel0/shiku-server/internal/config"
	"github.com/annel0/shiku-server/internal/eventbus"
	"github.com/annel0/shiku-server/internal/logging"
	"github.com/annel0/shiku-server/internal/metrics"
	"github.com/annel0/shiku-server/internal/network"
	"github.com/annel0/shiku-server/internal/observability"
)

func main() {
	configPath := flag.String("config", "", "путь к YAML конфигурации")
	flag.Parse()

	// Инициализируем систему логирования
	if err := logging.InitDefaultLogger("server"); err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	defer logging.CloseDefaultLogger()

	logging.Info("🎮 Запуск Shiku Server...")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Error("❌ Ошибка чтения конфигурации: %v", err)
		log.Fatalf("❌ Ошибка чтения конфигурации: %v", err)
	}
	if cfg == nil {
		cfg = &config.Config{}
		logging.Warn("Конфигурация не задана, используются значения по умолчанию")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// === ТЕЛЕМЕТРИЯ ===
	if cfg.Telemetry.Enabled {
		serviceName := cfg.Telemetry.ServiceName
		if serviceName == "" {
			serviceName = "shiku-server"
		}
		shutdownTelemetry, err := observability.InitTelemetry(ctx, serviceName, cfg.Telemetry.Endpoint)
		if err != nil {
			logging.Error("Телеметрия не поднялась: %v", err)
		} else {
			defer func() {
				_ = shutdownTelemetry(context.Background())
			}()
		}
	}

	// === ХРАНИЛИЩЕ ГОСТЕЙ ===
	repo, err := buildRepository(ctx, &cfg.Persistence)
	if err != nil {
		logging.Error("❌ Хранилище гостей не поднялось: %v", err)
		log.Fatalf("❌ Хранилище гостей не поднялось: %v", err)
	}

	// Горячий кэш поверх хранилища (опционально)
	if cfg.Cache.RedisAddr != "" {
		ttl := time.Duration(cfg.Cache.TTLSeconds) * time.Second
		if ttl <= 0 {
			ttl = 5 * time.Minute
		}
		cached, err := cache.NewGuestCache(ctx, repo, cfg.Cache.RedisAddr, cfg.Cache.RedisPassword, ttl)
		if err != nil {
			logging.Warn("Redis-кэш недоступен, работаем напрямую: %v", err)
		} else {
			repo = cached
			logging.Info("🗄️ Redis-кэш записей гостей включён (%s)", cfg.Cache.RedisAddr)
		}
	}
	defer func() {
		_ = repo.Close(context.Background())
	}()

	// === ЛОГИН ===
	login := auth.NewLoginManager(repo, cfg.Game.JoinThreshold(), 0)
	if cfg.Auth.TwitchClientID != "" {
		login.RegisterProvider("twitch", auth.NewTwitchClient(
			cfg.Auth.TwitchClientID,
			cfg.Auth.TwitchClientSecret,
			cfg.Auth.TwitchRedirectURL,
		))
		logging.Info("🔑 Провайдер Twitch зарегистрирован")
	}
	tickets := auth.NewAdminTickets(cfg.Auth.TicketSecret, cfg.Auth.AdminPasswordHash)

	// === ШИНА СОБЫТИЙ ===
	hostname, _ := os.Hostname()
	var bus eventbus.EventBus
	if cfg.EventBus.URL != "" {
		retention := time.Duration(cfg.EventBus.Retention) * time.Hour
		if retention <= 0 {
			retention = 24 * time.Hour
		}
		js, err := eventbus.NewJetStreamBus(cfg.EventBus.URL, cfg.EventBus.Stream, retention)
		if err != nil {
			logging.Warn("JetStream недоступен, используется локальная шина: %v", err)
			bus = eventbus.NewMemoryBus(1024)
		} else {
			bus = js
			defer js.Close()
			logging.Info("📨 JetStream шина подключена (%s)", cfg.EventBus.URL)
		}
	} else {
		bus = eventbus.NewMemoryBus(1024)
	}
	eventbus.Init(bus)

	// === МЕТРИКИ ===
	m := metrics.New()
	metricsSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.GetMetricsPort()),
		Handler:           m.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logging.Info("📊 Prometheus метрики на %s/metrics", metricsSrv.Addr)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("Сервер метрик упал: %v", err)
		}
	}()

	// === КОНДУКТОР ===
	root := cfg.Game.BlueprintRoot
	if root == "" {
		root = "content"
	}
	cond, err := conductor.New(conductor.Options{
		Loader:          blueprint.NewLoader(root),
		Login:           login,
		Tickets:         tickets,
		Bus:             bus,
		Metrics:         m,
		Frame:           cfg.Game.FrameDuration(),
		GuestTimeout:    cfg.Game.GuestTimeout(),
		InstanceTimeout: cfg.Game.InstanceTimeout(),
		Source:          hostname,
	})
	if err != nil {
		logging.Error("❌ Кондуктор не собрался: %v", err)
		log.Fatalf("❌ Кондуктор не собрался: %v", err)
	}
	go cond.Run(ctx)

	// === ТРАНСПОРТ И REST ===
	ws := network.NewServer(cond.Sink())
	restSrv := api.NewServer(cfg.Server.GetRESTPort(), api.Deps{
		Network:         ws,
		ProviderLogin:   cond.SubmitProviderCallback,
		MintAdminTicket: cond.MintAdminTicket,
	})
	restSrv.Start()

	logging.Info("✅ Все сервисы запущены")
	logging.Info("   🌐 Websocket: ws://localhost:%d/ws", cfg.Server.GetRESTPort())
	logging.Info("   ❤️  Health check: http://localhost:%d/health", cfg.Server.GetRESTPort())
	logging.Info("   📊 Метрики: http://localhost:%d/metrics", cfg.Server.GetMetricsPort())

	// Ждём сигнала ОС
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logging.Info("📡 Получен сигнал %v, завершение работы...", sig)

	// === GRACEFUL SHUTDOWN ===
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := restSrv.Shutdown(shutdownCtx); err != nil {
		logging.Error("Ошибка остановки REST: %v", err)
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logging.Error("Ошибка остановки метрик: %v", err)
	}

	logging.Info("👋 Сервер успешно остановлен")
}

// buildRepository выбирает долговечное хранилище по конфигурации
func buildRepository(ctx context.Context, cfg *config.PersistenceConfig) (auth.GuestRepository, error) {
	switch cfg.Backend {
	case "", "badger":
		path := cfg.BadgerPath
		if path == "" {
			path = "data/guests"
		}
		logging.Info("💾 Хранилище гостей: Badger (%s)", path)
		return auth.NewBadgerRepository(path)
	case "memory":
		logging.Warn("💾 Хранилище гостей: память (записи пропадут при рестарте)")
		return auth.NewMemoryRepository(), nil
	case "mongo":
		logging.Info("💾 Хранилище гостей: MongoDB (%s)", cfg.MongoDatabase)
		return auth.NewMongoRepository(ctx, cfg.MongoURI, cfg.MongoDatabase)
	case "maria":
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
			cfg.MariaUsername, cfg.MariaPassword, cfg.MariaHost, cfg.MariaPort, cfg.MariaDatabase)
		logging.Info("💾 Хранилище гостей: MariaDB (%s:%d)", cfg.MariaHost, cfg.MariaPort)
		return auth.NewMariaRepository(ctx, dsn)
	default:
		return nil, fmt.Errorf("неизвестный backend хранилища: %q", cfg.Backend)
	}
}
