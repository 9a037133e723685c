package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bookline/reminder-engine/internal/billing"
	"github.com/bookline/reminder-engine/internal/config"
	"github.com/bookline/reminder-engine/internal/dispatch"
	"github.com/bookline/reminder-engine/internal/events"
	"github.com/bookline/reminder-engine/internal/gateway"
	"github.com/bookline/reminder-engine/internal/meter"
	"github.com/bookline/reminder-engine/internal/model"
	"github.com/bookline/reminder-engine/internal/repository"
	"github.com/bookline/reminder-engine/internal/scheduler"
	"github.com/bookline/reminder-engine/pkg/logger"
	"github.com/bookline/reminder-engine/pkg/pg"
	"github.com/bookline/reminder-engine/pkg/prom"
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

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	scheduleRepo := repository.NewScheduleRepository(db)
	attemptRepo := repository.NewAttemptRepository(db)
	planRepo := repository.NewPlanRepository(db)
	cycleRepo := repository.NewCycleRepository(db)
	usageRepo := repository.NewUsageRepository(db)

	usageMeter := meter.New(usageRepo, scheduleRepo, planRepo, cycleRepo, db)

	sched, err := scheduler.New(scheduleRepo, scheduler.Config{
		Offsets: config.Get().Offsets(scheduler.DefaultConfig().Offsets),
	})
	if err != nil {
		logger.Error("failed to create scheduler", "error", err)
		return
	}

	registry, err := buildRegistry()
	if err != nil {
		logger.Error("failed to build channel registry", "error", err)
		return
	}

	renderer, err := gateway.NewRenderer()
	if err != nil {
		logger.Error("failed to create renderer", "error", err)
		return
	}

	guard := dispatch.NewDispatchGuard(redisAdap, dispatch.DefaultGuardConfig())

	dispatchConf := dispatch.DefaultConfig()
	if config.Get().DispatchPollInterval > 0 {
		dispatchConf.PollInterval = config.Get().DispatchPollInterval
	}
	if config.Get().DispatchBatchSize > 0 {
		dispatchConf.BatchSize = config.Get().DispatchBatchSize
	}
	if config.Get().DispatchWorkers > 0 {
		dispatchConf.Workers = config.Get().DispatchWorkers
	}
	if config.Get().DispatchMaxAttempts > 0 {
		dispatchConf.MaxAttempts = config.Get().DispatchMaxAttempts
	}
	if config.Get().DispatchRetryBase > 0 {
		dispatchConf.RetryBase = config.Get().DispatchRetryBase
	}
	if config.Get().DispatchRetryCap > 0 {
		dispatchConf.RetryCap = config.Get().DispatchRetryCap
	}
	if config.Get().DispatchStaleAfter > 0 {
		dispatchConf.StaleAfter = config.Get().DispatchStaleAfter
	}
	dispatcher := dispatch.New(sched, scheduleRepo, attemptRepo, usageMeter, registry, renderer, guard, dispatchConf)

	// appointment event intake
	eventService, err := events.NewEventService(redisAdap)
	if err != nil {
		logger.Error("failed to create event service", "error", err)
		return
	}
	eventService.RegisterProcessor(events.NewAppointmentEventProcessor(sched))

	// billing reconciliation runs alongside dispatch
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
	reconciler := billing.New(cycleRepo, usageRepo, processorClient, billingConf)

	var hostname string
	hostname, err = os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	err = prom.Create(hostname, config.Get().AppEnv, config.Get().PromNamespace)
	if err != nil {
		logger.Error("failed to create prometheus metrics", "error", err)
		return
	}

	go func() {
		prom.ListenAndServer(":9100", "/metrics")
	}()

	go func() {
		if err := eventService.Start(); err != nil {
			logger.Error("failed to start event service", "error", err)
		}
	}()

	if err := dispatcher.Start(); err != nil {
		logger.Error("failed to start dispatcher", "error", err)
		return
	}

	if err := reconciler.Start(); err != nil {
		logger.Error("failed to start billing reconciler", "error", err)
		return
	}

	select {
	case <-c:
		reconciler.Stop()
		dispatcher.Stop()
		eventService.Stop()
	}
}

func buildRegistry() (*gateway.Registry, error) {
	var channels []gateway.Channel

	if config.Get().SMSProviderPrimaryUrl != "" {
		providers := []gateway.ProviderConfig{
			{Name: "primary", URL: config.Get().SMSProviderPrimaryUrl, Weight: 100},
		}
		if config.Get().SMSProviderSecondaryUrl != "" {
			providers = append(providers, gateway.ProviderConfig{
				Name: "secondary", URL: config.Get().SMSProviderSecondaryUrl, Weight: 80,
			})
		}
		sms, err := gateway.NewHTTPChannel(gateway.HTTPChannelConfig{
			Channel:                 model.ChannelSMS,
			Providers:               providers,
			Timeout:                 time.Second * 5,
			MaxConns:                1000,
			CircuitBreakerThreshold: 5,
			CircuitBreakerTimeout:   60 * time.Second,
		})
		if err != nil {
			return nil, err
		}
		channels = append(channels, sms)
	}

	if config.Get().PushProviderUrl != "" {
		push, err := gateway.NewHTTPChannel(gateway.HTTPChannelConfig{
			Channel: model.ChannelPush,
			Providers: []gateway.ProviderConfig{
				{Name: "push", URL: config.Get().PushProviderUrl, Weight: 100},
			},
			Timeout:                 time.Second * 5,
			MaxConns:                1000,
			CircuitBreakerThreshold: 5,
			CircuitBreakerTimeout:   60 * time.Second,
		})
		if err != nil {
			return nil, err
		}
		channels = append(channels, push)
	}

	if config.Get().SMTPHost != "" {
		email, err := gateway.NewEmailChannel(gateway.EmailConfig{
			Host:     config.Get().SMTPHost,
			Port:     config.Get().SMTPPort,
			Username: config.Get().SMTPUsername,
			Password: config.Get().SMTPPassword,
			From:     config.Get().SMTPFrom,
		})
		if err != nil {
			return nil, err
		}
		channels = append(channels, email)
	}

	return gateway.NewRegistry(channels...), nil
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
