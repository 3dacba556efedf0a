package bootstrap

import (
	"context"
	"log"
	"time"

	"regnxt-workbook-be/internal/client"
	"regnxt-workbook-be/internal/config"
	"regnxt-workbook-be/internal/controller"
	"regnxt-workbook-be/internal/handler"
	"regnxt-workbook-be/internal/pkg/logger"
	"regnxt-workbook-be/internal/repository/memory"
	"regnxt-workbook-be/internal/repository/unitofwork"
	"regnxt-workbook-be/internal/service"
	"regnxt-workbook-be/internal/websocket"

	pktNats "regnxt-workbook-be/pkg/nats"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type Container struct {
	// Controllers
	WorkbookController controller.IWorkbookController

	// Background Services (Exposed for main.go to run)
	ConsumerService     service.IConsumerService
	NotificationService *service.NotificationService

	// WebSockets
	SessionEventsHandler *handler.SessionEventsHandler
	WebSocketHub         *websocket.Hub

	Logger logger.ILogger

	sessions *memory.SessionRepository
	natsPub  *pktNats.Publisher
	natsSub  *pktNats.Subscriber
	pubSub   *gochannel.GoChannel
	rdb      *redis.Client
}

// NewContainer wires every dependency. db may be nil, which disables the save
// audit trail; NATS and Redis failures degrade to single-instance operation.
func NewContainer(db *gorm.DB, cfg *config.Config) *Container {
	// 1. Core Facades
	sysLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.App.Environment == "production")

	sessions := memory.NewSessionRepository(cfg.Session.TTL, cfg.Session.CleanupInterval)
	sessions.OnEvicted(func(sessionID string) {
		sysLogger.Info("SESSIONS", "Session evicted", map[string]interface{}{"session_id": sessionID})
	})

	workbookClient := client.NewWorkbookClient(cfg.Backend.BaseURL, cfg.Backend.RequestTimeout)

	// 2. Event Bus
	watermillLogger := watermill.NewStdLogger(false, false)
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{},
		watermillLogger,
	)

	var (
		uowFactory     unitofwork.RepositoryFactory
		auditPublisher service.IPublisherService
		consumer       service.IConsumerService
	)
	if db != nil {
		uowFactory = unitofwork.NewRepositoryFactory(db)
		auditPublisher = service.NewPublisherService(cfg.Keys.AuditTopic, pubSub)
		consumer = service.NewConsumerService(pubSub, cfg.Keys.AuditTopic, uowFactory, sysLogger)
	} else {
		log.Printf("[INFO] No database configured, save audit trail disabled")
	}

	// NATS
	var eventPublisher service.EventPublisher
	natsPub, err := pktNats.NewPublisher(cfg.App.NatsURL)
	if err != nil {
		log.Printf("[WARN] Failed to connect to NATS Publisher: %v", err)
	} else {
		eventPublisher = natsPub
	}
	natsSub, err := pktNats.NewSubscriber(cfg.App.NatsURL)
	if err != nil {
		log.Printf("[WARN] Failed to connect to NATS Subscriber: %v", err)
	}

	// Redis
	opt, err := redis.ParseURL(cfg.App.RedisURL)
	if err != nil {
		log.Printf("[WARN] Failed to parse Redis URL: %v. Using direct Addr", err)
		opt = &redis.Options{
			Addr: cfg.App.RedisURL,
		}
	}
	rdb := connectRedis(opt)

	// WebSocket Hub
	wsLogger := logger.NewIsolatedLogger(cfg.App.WsLogFilePath)
	wsHub := websocket.NewHub(rdb, wsLogger)
	go wsHub.Run()

	// 3. Services
	workbookService := service.NewWorkbookService(
		sessions,
		workbookClient,
		eventPublisher,
		auditPublisher,
		uowFactory,
		wsHub,
		sysLogger,
	)

	var notifService *service.NotificationService
	if natsSub != nil {
		notifService = service.NewNotificationService(sessions, natsSub, wsHub, wsLogger)
	}

	// 4. Controllers
	return &Container{
		WorkbookController:   controller.NewWorkbookController(workbookService),
		SessionEventsHandler: handler.NewSessionEventsHandler(workbookService, wsHub, cfg.App.JwtSecret, wsLogger),
		WebSocketHub:         wsHub,
		ConsumerService:      consumer,
		NotificationService:  notifService,
		Logger:               sysLogger,

		sessions: sessions,
		natsPub:  natsPub,
		natsSub:  natsSub,
		pubSub:   pubSub,
		rdb:      rdb,
	}
}

// connectRedis returns nil when the server does not answer, so the hub stays
// local instead of paying a failed publish on every event.
func connectRedis(opt *redis.Options) *redis.Client {
	rdb := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Printf("[WARN] Failed to connect to Redis: %v. Session events stay on this instance", err)
		_ = rdb.Close()
		return nil
	}
	return rdb
}

// SessionCount reports how many editor sessions are open on this instance.
func (c *Container) SessionCount() int {
	return c.sessions.Count()
}

// Close releases the bus connections.
func (c *Container) Close() {
	c.WebSocketHub.Stop()
	if c.natsSub != nil {
		c.natsSub.Close()
	}
	if c.natsPub != nil {
		c.natsPub.Close()
	}
	if err := c.pubSub.Close(); err != nil {
		log.Printf("[WARN] Failed to close audit bus: %v", err)
	}
	if c.rdb != nil {
		if err := c.rdb.Close(); err != nil {
			log.Printf("[WARN] Failed to close Redis: %v", err)
		}
	}
	c.Logger.Sync()
}
