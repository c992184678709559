package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"

	config "github.com/avvvet/gamehost-services/configs"
	"github.com/avvvet/gamehost-services/internal/audit"
	"github.com/avvvet/gamehost-services/internal/comm"
	"github.com/avvvet/gamehost-services/internal/ctl"
	mongodb "github.com/avvvet/gamehost-services/internal/db"
	"github.com/avvvet/gamehost-services/internal/gamesvc/allocator"
	"github.com/avvvet/gamehost-services/internal/gamesvc/broker"
	settings "github.com/avvvet/gamehost-services/internal/gamesvc/config"
	"github.com/avvvet/gamehost-services/internal/gamesvc/db"
	"github.com/avvvet/gamehost-services/internal/gamesvc/runtime"
	"github.com/avvvet/gamehost-services/internal/gamesvc/store"
	natscli "github.com/avvvet/gamehost-services/internal/nats"
)

const SERVICE_NAME = "ctl"

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

	// Connect to NATS
	n, err := natscli.Connect(cfg.NatsURL, cfg.NatsToken, SERVICE_NAME+"_service_"+instanceId)
	if err != nil {
		log.Errorf("Error: unable to connect to NATS server %v", err)
		os.Exit(1)
	}
	defer n.Conn.Close()
	log.Printf("NATS connection established successfully %s", n.Url)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	controller := ctl.NewController(
		store.NewSessionStore(dbpool),
		store.NewGameStore(dbpool),
		runtime.NewDocker(cfg.DockerBin, cfg.RuntimeTimeout, cfg.DockerEcho),
		broker.NewBroker(n.Conn, nil), // publish only
		allocator.NewNamer(cfg.Namespace),
		cfg.CtlPruneOrphans,
	).WithOrphanGrace(ctl.OrphanGrace(cfg.RuntimeTimeout))

	// API initiated transitions are not drift
	sub, err := n.Conn.Subscribe(comm.EventsTopic, func(m *nats.Msg) {
		msg, event, err := comm.Decode(m.Data)
		if err != nil {
			log.Errorf("Error decoding event: %s", err)
			return
		}
		controller.Observe(msg.Type, event)
	})
	if err != nil {
		log.Errorf("Error: unable to subscribe to %s %v", comm.EventsTopic, err)
		os.Exit(1)
	}
	defer sub.Unsubscribe()

	if cfg.MongoURI != "" {
		database, disconnect, err := mongodb.ConnectToDB(cfg.MongoURI, cfg.AuditDatabase)
		if err != nil {
			log.Fatalf("Failed to connect to MongoDB: %v", err)
		}
		defer disconnect()

		sink, err := audit.NewMongoSink(ctx, database)
		if err != nil {
			log.Fatalf("Failed to prepare audit collection: %v", err)
		}
		auditSub, err := audit.NewRecorder(sink, cfg.AuditTTL).Subscribe(n.Conn, comm.EventsTopic)
		if err != nil {
			log.Errorf("Error: unable to subscribe to %s %v", comm.EventsTopic, err)
			os.Exit(1)
		}
		defer auditSub.Unsubscribe()
		log.Infof("audit log enabled, events kept for %s", cfg.AuditTTL)
	} else {
		log.Warn("MONGODB_URI is not set, audit log disabled")
	}

	log.Infof("%s service reconciling every %s", SERVICE_NAME, cfg.CtlInterval)
	controller.Run(ctx, cfg.CtlInterval)
	log.Infof("%s service gracefully stopped", SERVICE_NAME)
}
