package main

import (
	"context"
	"expvar"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	echoapi "github.com/trezcool/campus/apps/api/echo"
	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/identity"
	"github.com/trezcool/campus/core/otpflow"
	"github.com/trezcool/campus/core/session"
	emailsvc "github.com/trezcool/campus/services/email"
	logsvc "github.com/trezcool/campus/services/logger"
	metricsvc "github.com/trezcool/campus/services/metrics"
	"github.com/trezcool/campus/storage/database"
	inmemdb "github.com/trezcool/campus/storage/database/inmem"
	sqlxrepos "github.com/trezcool/campus/storage/database/sqlx"
	redisstore "github.com/trezcool/campus/storage/redis"
)

func main() {
	// =========================================================================
	// Set up Dependencies

	conf := core.NewConfig()

	// set up loggers
	logger := logsvc.NewRollbarLogger(logsvc.NewZerolog(conf), conf)
	logger.Enable(!conf.Debug && conf.RollbarToken != "")

	// set up DB
	repo, closeDB := setUpRepository(conf, logger)
	defer closeDB()

	// set up flow store & lockout
	flowStore, lockout, closeRedis := setUpRedis(conf, logger)
	defer closeRedis()

	// set up services
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	identity.InitValidators(validate, translator)

	sessions := session.NewIssuer(conf)
	svc := identity.NewService(identity.ServiceDeps{
		Repo:     repo,
		Lockout:  lockout,
		MailSvc:  emailsvc.NewService(conf, logger),
		Sessions: sessions,
		Metrics:  metricsvc.NewCollector(registry),
		Logger:   logger,
		Conf:     conf,
		Validate: validate,
	})
	flows := otpflow.NewManager(flowStore, svc, conf, logger)

	// =========================================================================
	// Initialize App

	logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
	defer logger.Info("Application stopped")

	if err := core.ParseEmailTemplates(); err != nil {
		logger.Fatal(fmt.Sprintf("parsing email templates: %v", err), err)
	}

	// =========================================================================
	// Start Debug Service
	//
	// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
	// /debug/vars - Added to the default mux by importing the expvar package.

	// Expose important info under /debug/vars.
	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)

	go func() {
		if err := http.ListenAndServe(conf.Server.DebugHost, http.DefaultServeMux); err != nil {
			logger.Error(fmt.Sprintf("debug server closed: %v", err), err)
		}
	}()

	// =========================================================================
	// Start API Service

	server := echoapi.NewServer(
		echoapi.ServerDeps{
			Conf:       conf,
			Logger:     logger,
			Identity:   svc,
			Flows:      flows,
			Sessions:   sessions,
			Validate:   validate,
			Translator: translator,
			Metrics:    registry,
		},
	)

	go func() {
		server.Start()
	}()

	// =========================================================================
	// Shutdown

	select {
	case err := <-server.Errors():
		logger.Error(fmt.Sprintf("server error: %v", err), err)

	case sig := <-server.ShutdownSignal():
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

		// give outstanding requests a deadline for completion
		ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
		defer cancel()

		// asking listener to shutdown and shed load
		if err := server.Shutdown(ctx); err != nil {
			logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

			if err = server.Close(); err != nil {
				logger.Error(fmt.Sprintf("could not force stop server: %v", err), err)
			}
		}
	}
}

func setUpRepository(conf *core.Config, logger core.Logger) (identity.Repository, func()) {
	if !conf.Database.IsConfigured() {
		logger.Warn("no database configured: using in-memory storage")
		return inmemdb.NewIdentityRepository(), func() {}
	}

	db, err := setUpDB(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	return sqlxrepos.NewIdentityRepository(db), func() {
		if err := db.Close(); err != nil {
			logger.Error(fmt.Sprintf("closing database: %v", err), err)
		}
	}
}

func setUpDB(conf *core.Config) (*sqlx.DB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := database.CreateIfNotExist(ctx, conf); err != nil {
		return nil, err
	}

	db, err := database.Open(ctx, conf)
	if err != nil {
		return nil, err
	}

	if err = database.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func setUpRedis(conf *core.Config, logger core.Logger) (otpflow.Store, identity.Lockout, func()) {
	if conf.Redis.Address == "" {
		logger.Warn("no redis configured: flows and lockouts are kept in memory")
		store := otpflow.NewMemoryStore()
		stop := make(chan struct{})
		go purgeExpiredFlows(store, conf.OTP.FlowTTL, stop)
		return store, identity.NewMemoryLockout(conf.OTP.MaxAttempts, conf.OTP.Cooldown), func() { close(stop) }
	}

	client, err := redisstore.New(context.Background(), conf.Redis)
	if err != nil {
		logger.Fatal(fmt.Sprintf("connecting to redis: %v", err), err)
	}
	return redisstore.NewFlowStore(client),
		redisstore.NewLockout(client, conf.OTP.MaxAttempts, conf.OTP.Cooldown),
		func() {
			if err := client.Close(); err != nil {
				logger.Error(fmt.Sprintf("closing redis: %v", err), err)
			}
		}
}

func purgeExpiredFlows(store *otpflow.MemoryStore, every time.Duration, stop <-chan struct{}) {
	if every <= 0 {
		every = time.Minute
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			store.Purge()
		case <-stop:
			return
		}
	}
}
