package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bookline/reminder-engine/internal/billing"
	"github.com/bookline/reminder-engine/internal/config"
	"github.com/bookline/reminder-engine/internal/handlers"
	"github.com/bookline/reminder-engine/internal/meter"
	"github.com/bookline/reminder-engine/internal/queue"
	"github.com/bookline/reminder-engine/internal/repository"
	"github.com/bookline/reminder-engine/internal/services"
	xhttp "github.com/bookline/reminder-engine/pkg/http"
	"github.com/bookline/reminder-engine/pkg/logger"
	"github.com/bookline/reminder-engine/pkg/pg"
	"github.com/bookline/reminder-engine/pkg/redis"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {

	err := config.Load(argContainsEnvPath())
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return
	}

	// transport (tcp for now)
	s := xhttp.NewServer(xhttp.DefaultServerOption)
	s.Server.ReadBufferSize = 1024 * 16
	s.Server.WriteBufferSize = 1024 * 16
	s.Use(xhttp.CompressMiddleware(6))
	s.Use(xhttp.TimeoutMiddleware(time.Second * 5))
	s.Use(xhttp.RequestLoggerMiddleware)
	s.Use(xhttp.RecoverMiddleware)
	s.Router = xhttp.CreateDefaultRouter()

	readConf := pg.Config{
		User:     config.Get().PostgresReadUser,
		Host:     config.Get().PostgresReadHost,
		Port:     config.Get().PostgresReadPort,
		Password: config.Get().PostgresReadPassword,
		Database: config.Get().PostgresReadDatabase,
	}
	writeConf := pg.Config{
		User:     config.Get().PostgresWriteUser,
		Host:     config.Get().PostgresWriteHost,
		Port:     config.Get().PostgresWritePort,
		Password: config.Get().PostgresWritePassword,
		Database: config.Get().PostgresWriteDatabase,
	}

	pgDebug := false
	if config.Get().AppEnv == "dev" {
		pgDebug = true
	}
	db, err := pg.CreateReadWrite(readConf, writeConf, pgDebug)
	if err != nil {
		logger.Error("failed connecting to pg", "error", err)
		return
	}

	redisAdap, err := redis.NewRedisAdapter("default", config.Get().RedisUniversalKeyPrefix, &redis.Options{
		Addrs:      []string{config.Get().RedisAddr},
		ClientName: "default",
		DB:         config.Get().RedisDatabase,
		Username:   config.Get().RedisUsername,
		Password:   config.Get().RedisPassword,
	})
	if err != nil {
		logger.Error("failed connecting to redis", "error", err)
		return
	}

	// appointment event intake publishes here; the dispatcher side
	// consumes with the same name and group
	q, err := queue.NewQueue(redisAdap, queue.QueueConfig{
		Name:              config.Get().QueueName,
		ConsumerGroup:     config.Get().QueueConsumerGroup,
		ConsumerName:      config.Get().QueueConsumerName,
		MaxRetries:        config.Get().QueueMaxRetries,
		VisibilityTimeout: config.Get().QueueVisibilityTimeout,
		PollInterval:      config.Get().QueuePollInterval,
		BatchSize:         config.Get().QueueBatchSize,
		MaxLen:            config.Get().QueueMaxLen,
		EnableDLQ:         config.Get().QueueEnableDLQ,
	})
	if err != nil {
		logger.Error("failed creating queue", "error", err)
	}

	scheduleRepo := repository.NewScheduleRepository(db)
	attemptRepo := repository.NewAttemptRepository(db)
	planRepo := repository.NewPlanRepository(db)
	cycleRepo := repository.NewCycleRepository(db)
	usageRepo := repository.NewUsageRepository(db)

	usageMeter := meter.New(usageRepo, scheduleRepo, planRepo, cycleRepo, db)

	processorClient, err := billing.NewProcessorClient(billing.ProcessorClientConfig{
		URL: config.Get().BillingProcessorUrl,
	})
	if err != nil {
		logger.Error("failed creating billing processor client", "error", err)
		return
	}
	billingConf := billing.DefaultConfig()
	if config.Get().BillingGrace > 0 {
		billingConf.Grace = config.Get().BillingGrace
	}
	if config.Get().BillingRunInterval > 0 {
		billingConf.RunInterval = config.Get().BillingRunInterval
	}
	if config.Get().BillingUnbilledAlertAge > 0 {
		billingConf.UnbilledAlertAfter = config.Get().BillingUnbilledAlertAge
	}
	// the admin close endpoint goes through the same reconciler code
	// path as the periodic pass; the cron itself runs in the dispatcher
	reconciler := billing.New(cycleRepo, usageRepo, processorClient, billingConf)

	// services
	adminService := services.NewAdminService(scheduleRepo, attemptRepo, planRepo, usageMeter, reconciler, q)
	healthService := services.NewHealthService(db, redisAdap)

	// v1 handlers
	adminHandler := handlers.NewAdminHandler(adminService)
	healthHandler := handlers.NewHealthHandler(healthService)

	g := s.Router.Group("/api/v1")
	handlers.RegisterAdminRoutes(g, adminHandler)
	handlers.RegisterHealthRoutes(g, healthHandler)

	// Create new server
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		var err = s.ListenAndServe(config.Get().HttpListenAddr)
		if err != nil {
			logger.Error("error in running http-server", "error", err)
		}
	}()

	select {
	case <-c:
		s.Shutdown()
	}
}

func argContainsEnvPath() string {
	for _, v := range os.Args {
		if strings.Contains(v, "--env=") {
			s := strings.Split(v, "=")
			if _, err := os.Open(s[1]); err != nil {
				logger.Error("failed to open the passed env file, got error" + err.Error())
				return ""
			}
			return s[1]
		}
	}
	return ""
}
