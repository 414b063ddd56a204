package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo"
	"github.com/labstack/echo/middleware"
	nats "github.com/nats-io/nats.go"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/memovia/callkeeper/config"
	"github.com/memovia/callkeeper/pkg/api"
	"github.com/memovia/callkeeper/pkg/callcontrol"
	"github.com/memovia/callkeeper/pkg/store"
	memorystore "github.com/memovia/callkeeper/pkg/store/memory"
	postgresstore "github.com/memovia/callkeeper/pkg/store/postgres"
	redisstore "github.com/memovia/callkeeper/pkg/store/redis"
)

type callControlServer struct {
	cfg    *config.Config
	quitCh chan bool
	doneCh chan bool

	nc      *nats.Conn
	store   store.Interface
	monitor *callcontrol.Monitor
	errCh   chan error
	wg      sync.WaitGroup
}

func init() {
	formatter := &logrus.TextFormatter{
		FullTimestamp: true,
	}
	logrus.SetFormatter(formatter)

	log.SetOutput(os.Stdout)
	log.SetLevel(log.InfoLevel)
}

func newCallControlServer(cfg *config.Config) (*callControlServer, error) {
	s := &callControlServer{
		cfg:    cfg,
		quitCh: make(chan bool),
		doneCh: make(chan bool),

		errCh: make(chan error, 1),
		wg:    sync.WaitGroup{},
	}

	nc, err := nats.Connect(cfg.NATSServerURL,
		nats.DrainTimeout(10*time.Second),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			log.Errorf("nats error handler: %s", err)
			s.errCh <- err
		}),
		nats.DisconnectHandler(func(_ *nats.Conn) {
			log.Warn("nats disconnected")
			syscall.Kill(syscall.Getpid(), syscall.SIGINT)
		}))
	if err != nil {
		return nil, err
	}
	s.nc = nc

	st, err := newStore(cfg)
	if err != nil {
		return nil, err
	}
	s.store = st

	return s, nil
}

// newStore selects the session store backend from the configuration.
func newStore(cfg *config.Config) (store.Interface, error) {
	ttl := time.Duration(cfg.SessionTTL) * time.Second

	switch cfg.StoreBackend {
	case "", "memory":
		return memorystore.NewStore(ttl), nil
	case "redis":
		opts, err := goredis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		return redisstore.NewStore(goredis.NewClient(opts), ttl), nil
	case "postgres":
		db, err := sqlx.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := db.Ping(); err != nil {
			return nil, err
		}
		return postgresstore.NewStore(db, ttl), nil
	}

	return nil, fmt.Errorf("unknown store backend '%s'", cfg.StoreBackend)
}

func (s *callControlServer) Serve() {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(logger())

	// Create the controller
	registry := callcontrol.NewRegistry()
	ctrl := callcontrol.NewController(s.nc, s.store, registry, s.cfg.Namespace)
	if err := ctrl.Subscribe(); err != nil {
		log.Error("failed to subscribe controller: ", err)
	}

	// Register the call control endpoint
	callControlHandler := callcontrol.NewHandler(ctrl)
	callControlHandler.RegisterRoutes(e)

	// Register API endpoints
	apiHandler := api.NewHandler(s.store, registry)
	apiHandler.RegisterRoutes(e)

	// Start the heartbeat/sweep/snapshot loop
	s.monitor = callcontrol.NewMonitor(ctrl, callcontrol.MonitorConfig{
		HeartbeatInterval: time.Duration(s.cfg.HeartbeatInterval) * time.Second,
		SweepInterval:     time.Duration(s.cfg.SweepInterval) * time.Second,
		SnapshotInterval:  time.Duration(s.cfg.MonitorInterval) * time.Second,
	})
	s.monitor.Start()

	go func() {
		log.WithFields(log.Fields{
			"host": s.cfg.BindHost,
			"port": s.cfg.BindPort,
		}).Info("Starting server")

		if err := e.Start(fmt.Sprintf("%s:%d", s.cfg.BindHost, s.cfg.BindPort)); err != nil {
			e.Logger.Info("Shutting down the server")
		}
	}()

	// Wait until receiving the quit signal
	<-s.quitCh
	log.Info("Shutdown signal received")

	s.monitor.Stop()

	// Create a 10 second timeout context
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Shutdown the echo web server
	if err := e.Shutdown(ctx); err != nil {
		e.Logger.Error(err)
	}

	// We've done!
	s.doneCh <- true
}

// Logger returns a middleware that logs HTTP requests.
func logger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			res := c.Response()
			start := time.Now()

			var err error
			if err = next(c); err != nil {
				c.Error(err)
			}
			stop := time.Now()

			id := req.Header.Get(echo.HeaderXRequestID)
			if id == "" {
				id = res.Header().Get(echo.HeaderXRequestID)
			}
			reqSizeStr := req.Header.Get(echo.HeaderContentLength)
			if reqSizeStr == "" {
				reqSizeStr = "0"
			}
			reqSize, err := strconv.ParseInt(reqSizeStr, 10, 0)
			if err != nil {
				reqSize = -1
			}
			errMsg := ""
			if err != nil {
				errMsg = err.Error()
			}

			log.WithFields(log.Fields{
				"timestamp":     stop.Format(time.RFC3339),
				"id":            id,
				"remote_ip":     c.RealIP(),
				"host":          req.Host,
				"method":        req.Method,
				"uri":           req.RequestURI,
				"protocol":      req.Proto,
				"user_agent":    req.UserAgent(),
				"status":        res.Status,
				"status_text":   http.StatusText(res.Status),
				"referer":       req.Referer(),
				"error":         errMsg,
				"bytes_in":      reqSize,
				"bytes_out":     res.Size,
				"latency":       stop.Sub(start).Nanoseconds(),
				"latency_human": stop.Sub(start).String(),
			}).Infof("%s %s %s %d %s", req.Method, req.RequestURI, req.Proto,
				res.Status, strconv.FormatInt(res.Size, 10))

			return err
		}
	}
}

func (s *callControlServer) Shutdown() {
	if s.nc != nil {
		s.nc.Drain()
	}

	// Send the quit signal to the server.Serve() routine
	s.quitCh <- true

	// Wait up to 10 seconds
	select {
	case <-s.doneCh:
		log.Info("Shutdown server successful")
	case <-time.After(10 * time.Second):
		log.Error("Shutdown server failed")
	}
}

// RunServeCallControl starts the call control server and blocks until an
// interrupt signal arrives.
func RunServeCallControl(cfg *config.Config) func(cmd *cobra.Command, args []string) {
	return func(cmd *cobra.Command, args []string) {
		s, err := newCallControlServer(cfg)
		if err != nil {
			log.Error("failed to create new server instance: ", err)
			os.Exit(1)
		}

		go s.Serve()

		// Wait for interrupt signal to gracefully shutdown the server
		quitCh := make(chan os.Signal, 1)
		signal.Notify(quitCh, os.Interrupt)
		<-quitCh

		// Shutdown the server
		s.Shutdown()
	}
}
