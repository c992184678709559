package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/httprate"

	config "github.com/avvvet/gamehost-services/configs"
	"github.com/avvvet/gamehost-services/internal/comm"
	"github.com/avvvet/gamehost-services/internal/gamesvc/broker"
	settings "github.com/avvvet/gamehost-services/internal/gamesvc/config"
	"github.com/avvvet/gamehost-services/internal/gamesvc/db"
	handlers "github.com/avvvet/gamehost-services/internal/gamesvc/handlers"
	"github.com/avvvet/gamehost-services/internal/gamesvc/runtime"
	"github.com/avvvet/gamehost-services/internal/gamesvc/service"
	"github.com/avvvet/gamehost-services/internal/gamesvc/store"
	"github.com/avvvet/gamehost-services/internal/gamesvc/versions"
	"github.com/avvvet/gamehost-services/internal/gamesvc/volume"
	nats "github.com/avvvet/gamehost-services/internal/nats"
	log "github.com/sirupsen/logrus"
)

const SERVICE_NAME = "game"

var instanceId string

func init() {
	config.LoadEnv(SERVICE_NAME)
	instanceId = config.CreateUniqueInstance(SERVICE_NAME)
}

func main() {
	cfg, err := settings.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	config.Logging(SERVICE_NAME+"_service_"+instanceId, cfg.Debug)

	if err := cfg.RequirePostgres(); err != nil {
		log.Fatal(err)
	}

	// pg connection
	dbpool, err := db.Connect(cfg.PostgresURL)
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer dbpool.Close()
	log.Printf("pg connection established successfully")

	if err := db.Migrate(context.Background(), dbpool); err != nil {
		log.Fatalf("Failed to migrate DB: %v", err)
	}

	// Connect to NATS
	n, err := nats.Connect(cfg.NatsURL, cfg.NatsToken, SERVICE_NAME+"_service_"+instanceId)
	if err != nil {
		log.Errorf("Error: unable to connect to NATS server %v", err)
		os.Exit(1)
	}
	defer n.Conn.Close()
	log.Printf("NATS connection established successfully %s", n.Url)

	userStore := store.NewUserStore(dbpool)
	sessionStore := store.NewSessionStore(dbpool)
	userService := service.NewUserService(userStore, sessionStore, cfg.SessionTTL)

	// the broker answers socket service requests and publishes game events
	b := broker.NewBroker(n.Conn, userService)

	docker := runtime.NewDocker(cfg.DockerBin, cfg.RuntimeTimeout, cfg.DockerEcho)
	volumes := volume.NewOsManager(cfg.VolumeRoot)
	gameStore := store.NewGameStore(dbpool)
	gameService := service.NewGameService(gameStore, docker, volumes, b, service.Config{
		Image:        cfg.GameImage,
		Namespace:    cfg.Namespace,
		PortAttempts: cfg.PortAllocAttempts,
	})
	b.GameService = gameService

	var cache versions.Cache
	if cfg.RedisURL != "" {
		redisCache, err := versions.NewRedisCache(cfg.RedisURL)
		if err != nil {
			log.Errorf("versions cache disabled: %v", err)
		} else {
			defer redisCache.Close()
			cache = redisCache
		}
	}
	versionLister := versions.NewLister(cfg.GameImage, cache, cfg.VersionsCacheTTL)

	sub, err := b.QueueSubscribeSocketService(comm.SocketTopic, comm.ServiceQueue)
	if err != nil {
		log.Errorf("Error: unable to subscribe to queue %v", err)
		os.Exit(1)
	}

	// Setup router
	r := chi.NewRouter()
	c := config.CORS(cfg.CORSOrigins)

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(config.CustomLoggerMiddleware())
	r.Use(middleware.Recoverer)
	r.Use(c.Handler)

	// to protect the service api from any over requests
	r.Use(httprate.LimitByIP(cfg.RateLimit, 1*time.Minute))

	// Init handlers and routes
	h := handlers.NewHandler(userService, gameService, versionLister, cfg.GameServicePort, cfg.Debug)
	h.InitAuth(cfg.JWTSecret)
	h.SetRoutes(r)

	// provisioning pulls images, so the write timeout follows the runtime timeout
	server := &http.Server{
		Addr:         ":" + cfg.GameServicePort,
		Handler:      r,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 3*cfg.RuntimeTimeout + 60*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("ListenAndServe(): %v", err)
		}
	}()
	log.Infof("%s service running at port %s", SERVICE_NAME, server.Addr)

	// Wait for interrupt signal to gracefully shutdown the server
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	sub.Unsubscribe()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("%s service shutdown Failed:%+v", SERVICE_NAME, err)
	}
	log.Infof("%s service gracefully stopped", SERVICE_NAME)
}
