package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/avvvet/gamehost-services/internal/comm"
	settings "github.com/avvvet/gamehost-services/internal/gamesvc/config"
	"github.com/avvvet/gamehost-services/internal/nats"
	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/httprate"
	log "github.com/sirupsen/logrus"

	config "github.com/avvvet/gamehost-services/configs"

	"github.com/avvvet/gamehost-services/internal/socketsvc/broker"
	"github.com/avvvet/gamehost-services/internal/socketsvc/handlers"
	"github.com/avvvet/gamehost-services/internal/socketsvc/routes"
	"github.com/avvvet/gamehost-services/internal/socketsvc/ws"
)

const SERVICE_NAME = "socket"

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

	// Connect to NATS
	n, err := nats.Connect(cfg.NatsURL, cfg.NatsToken, SERVICE_NAME+"_service_"+instanceId)
	if err != nil {
		log.Errorf("Error: unable to connect to NATS server %v", err)
		os.Exit(1)
	}

	defer n.Conn.Close()
	log.Printf("NATS connection established successfully %s", n.Url)

	// Setup router
	r := chi.NewRouter()
	c := config.CORS(cfg.CORSOrigins)

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(config.CustomLoggerMiddleware())
	r.Use(c.Handler)

	// to protect the service api from any over requests
	r.Use(httprate.LimitByIP(cfg.RateLimit, 1*time.Minute))

	// Initialize websocket handler
	s := ws.NewWs()

	// Initialize broker, the hub is injected so replies reach the right socket
	b := broker.NewBroker(n.Conn, s)
	s.Broker = b // set broker reference for websocket handler logic

	h := handlers.NewHandler(s, cfg.SocketServicePort, cfg.CORSOrigins)
	routes.SetRoutes(r, h, routes.InitAuth(cfg.JWTSecret))

	// replies from the game service
	subReplies, err := b.SubscribeGameService(comm.ServiceTopic)
	if err != nil {
		log.Errorf("Error: unable to subscribe to %s %v", comm.ServiceTopic, err)
		os.Exit(1)
	}

	// lifecycle events pushed to the game owners
	subEvents, err := b.SubscribeEvents(comm.EventsTopic)
	if err != nil {
		log.Errorf("Error: unable to subscribe to %s %v", comm.EventsTopic, err)
		os.Exit(1)
	}

	// websocket connections are hijacked, the timeouts only cover the handshake
	server := &http.Server{
		Addr:         ":" + cfg.SocketServicePort,
		Handler:      r,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
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

	subReplies.Unsubscribe()
	subEvents.Unsubscribe()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("%s service shutdown Failed:%+v", SERVICE_NAME, err)
	}
	log.Infof("%s service gracefully stopped", SERVICE_NAME)
}
