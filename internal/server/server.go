package server

import (
	"context"
	"log/slog"

	"backend-livetrack/internal/auth"
	"backend-livetrack/internal/config"
	"backend-livetrack/internal/connectivity"
	"backend-livetrack/internal/site"
	"backend-livetrack/internal/storage"
	"backend-livetrack/internal/stream"
	"backend-livetrack/internal/tracking"
	"backend-livetrack/internal/violation"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

type Server struct {
	App     *fiber.App
	Cfg     config.Config
	DB      *pgxpool.Pool
	Redis   *redis.Client
	Store   *storage.Store
	Stream  *stream.Hub
	Watcher *connectivity.Watcher
	Monitor *violation.Monitor
	Tracker *tracking.Tracker

	logger      *slog.Logger
	unsubscribe func()
}

// NewServer wires the tracking core to its collaborators. A nil pool runs
// the daemon permanently offline: fixes are safety-checked and landings
// queued locally.
func NewServer(cfg config.Config, db *pgxpool.Pool, redisClient *redis.Client, store *storage.Store, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}

	app := fiber.New()
	app.Use(recover.New())
	app.Use(logger.New())

	s := &Server{
		App:    app,
		Cfg:    cfg,
		DB:     db,
		Redis:  redisClient,
		Store:  store,
		Stream: stream.NewHub(redisClient, log),
		logger: log,
	}

	var (
		remote tracking.Remote = tracking.Unreachable{}
		sink   violation.AlertSink
		sites  tracking.SiteResolver
	)
	watcherOpts := []connectivity.Option{connectivity.WithLogger(log.With("component", "connectivity"))}
	if db != nil {
		remote = tracking.NewPGRemote(db)
		sink = violation.NewPGSink(db)
		sites = site.NewResolver(db, cfg.TakeoffRadiusKm)
		watcherOpts = append(watcherOpts, connectivity.WithPing(db.Ping, cfg.PingInterval))
	}
	s.Watcher = connectivity.NewWatcher(watcherOpts...)

	hub := s.Stream
	s.Monitor = violation.NewMonitor(violation.Options{
		MaxAltitudeM: cfg.MaxAltitudeM,
		DedupWindow:  cfg.AlertDedupWindow,
		Sink:         sink,
		Store:        store,
		OnAlert: func(a violation.Alert) {
			go hub.BroadcastJSON(a.UID, stream.EventAlert, a)
		},
		Logger: log.With("component", "violation"),
	})

	s.Tracker = tracking.NewTracker(tracking.Options{
		Store:        store,
		Remote:       remote,
		Safety:       s.Monitor,
		Connectivity: s.Watcher,
		Sites:        sites,
		Publisher:    hub,
		Throttle:     tracking.Throttle{Interval: cfg.UploadInterval, DistanceM: cfg.UploadDistanceM},
		SyncInterval: cfg.SyncInterval,
		Logger:       log,
	})

	registerRoutes(s)
	return s
}

func registerRoutes(s *Server) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":        "ok",
			"online":        s.Watcher.IsOnline(),
			"pending":       s.Tracker.Status().PendingCount,
			"pendingAlerts": s.Monitor.PendingAlerts(),
		})
	})

	guard := auth.ControlGuard(s.Cfg.ControlSecret)
	tracking.RegisterRoutes(s.App.Group("/tracking"), s.Tracker, s.Watcher, guard)
	stream.RegisterRoutes(s.App.Group("/stream"), s.Stream)
}

// Start runs the connectivity ping and the sync daemon until ctx ends.
func (s *Server) Start(ctx context.Context) {
	go s.Watcher.Run(ctx)
	s.Tracker.Start(ctx)
	s.unsubscribe = s.Watcher.OnConnectivityChanged(func(online bool) {
		if online {
			go func() { _ = s.Monitor.ForceSyncPendingAlerts(ctx) }()
		}
	})

	if snap, ok := s.Tracker.RecoveredSession(); ok {
		s.logger.Warn("previous flight was not stopped; start tracking again to resume",
			"uid", snap.UID, "flight_start", snap.FlightStartTime)
	}
}

// Close shuts the tracking core down and persists the durable queue.
func (s *Server) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	s.Tracker.Close()
	s.Stream.Close()
}
