// Package app wires repositories, queue, leases and services from config.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Raymond9734/wa-campaign-dispatcher/internal/config"
	"github.com/Raymond9734/wa-campaign-dispatcher/internal/gateway"
	"github.com/Raymond9734/wa-campaign-dispatcher/internal/lease"
	"github.com/Raymond9734/wa-campaign-dispatcher/internal/queue"
	"github.com/Raymond9734/wa-campaign-dispatcher/internal/repository"
	"github.com/Raymond9734/wa-campaign-dispatcher/internal/schedule"
	"github.com/Raymond9734/wa-campaign-dispatcher/internal/service"
	"github.com/Raymond9734/wa-campaign-dispatcher/internal/worker"
)

// Callback paths served by the API and targeted by the delay queue
const (
	BatchCallbackPath   = "/internal/queue/process-batch"
	MessageCallbackPath = "/internal/queue/send-message"
)

// App holds the wired components shared by the API and the worker
type App struct {
	Queue      queue.Client
	RedisQueue *queue.RedisQueue
	Redis      *redis.Client
	Deliverer  *queue.Deliverer

	Advancer  *worker.Advancer
	Processor *worker.MessageProcessor

	Campaigns  service.CampaignService
	Messages   service.MessageService
	Devices    service.DeviceService
	Blacklists service.BlacklistService

	closers []func() error
}

// New builds the application graph on an open database
func New(cfg *config.Config, database *sql.DB, logger *slog.Logger) (*App, error) {
	a := &App{}

	a.Deliverer = queue.NewDeliverer(nil, cfg.Auth.QueueSecret, logger)

	switch cfg.Queue.Backend {
	case config.QueueBackendLocal:
		logger.Warn("using in-process delay queue; scheduled jobs are lost on restart")
		local := queue.NewLocalQueue(a.Deliverer, logger)
		a.Queue = local
		a.closers = append(a.closers, local.Close)
	default:
		rq, err := queue.NewRedisQueue(queue.RedisConfig{
			URL:       cfg.Queue.RedisURL,
			QueueName: cfg.Queue.QueueName,
		}, logger)
		if err != nil {
			return nil, err
		}
		a.Queue = rq
		a.RedisQueue = rq
		a.Redis = rq.Redis()
		a.closers = append(a.closers, rq.Close)
	}

	leases, err := a.leaseManager(cfg, database)
	if err != nil {
		a.Close()
		return nil, err
	}

	loc := cfg.Location()
	now := worker.SystemClock(loc)
	rng := worker.NewRand(time.Now().UnixNano())

	campaignRepo := repository.NewCampaignRepository(database)
	messageRepo := repository.NewCampaignMessageRepository(database)
	deviceRepo := repository.NewDeviceRepository(database)
	blacklistRepo := repository.NewBlacklistRepository(database)

	gw := gateway.NewClient(gateway.Config{
		BaseURL:    cfg.Gateway.BaseURL,
		APIKey:     cfg.Gateway.APIKey,
		Timeout:    cfg.Gateway.Timeout,
		MaxRetries: cfg.Gateway.MaxRetries,
	}, logger)

	var sender worker.MessageSender
	if cfg.Gateway.DryRun {
		logger.Warn("gateway dry run enabled; messages are not delivered")
		sender = worker.NewDryRunSender(cfg.Gateway.DryRunSuccess)
	} else {
		sender = worker.NewGatewaySender(gw)
	}

	workerCfg := worker.DefaultConfig()
	workerCfg.BatchSize = cfg.Scheduling.BatchSize
	workerCfg.LeaseTTL = cfg.Scheduling.LeaseTTL
	workerCfg.Location = loc

	enqueuer := worker.NewEnqueuer(a.Queue, worker.Callbacks{
		BatchURL:   cfg.API.PublicBaseURL + BatchCallbackPath,
		MessageURL: cfg.API.PublicBaseURL + MessageCallbackPath,
	}, cfg.Queue.Retries)

	templateSvc := service.NewTemplateService(rng)
	arbiter := worker.NewDeviceArbiter(campaignRepo, deviceRepo, messageRepo, rng, now, logger)
	a.Advancer = worker.NewAdvancer(campaignRepo, messageRepo, leases, enqueuer, workerCfg, rng, now, logger)
	a.Processor = worker.NewMessageProcessor(
		messageRepo, campaignRepo, arbiter, leases, enqueuer,
		sender, templateSvc, workerCfg, rng, now, logger,
	)

	a.Campaigns = service.NewCampaignService(
		campaignRepo, messageRepo, deviceRepo, blacklistRepo,
		templateSvc, arbiter, a.Advancer, leases,
		schedule.NewCalculator(rng),
		service.CampaignConfig{
			DefaultCountryCode: cfg.Scheduling.DefaultCountryCode,
			LeaseTTL:           cfg.Scheduling.LeaseTTL,
		},
		now, logger,
	)
	a.Messages = service.NewMessageService(messageRepo, campaignRepo, logger)
	a.Devices = service.NewDeviceService(deviceRepo, gw, logger)
	a.Blacklists = service.NewBlacklistService(blacklistRepo, cfg.Scheduling.DefaultCountryCode, logger)

	return a, nil
}

func (a *App) leaseManager(cfg *config.Config, database *sql.DB) (lease.Manager, error) {
	if cfg.Scheduling.LeaseBackend == config.LeaseBackendPostgres {
		return lease.NewPostgresManager(database), nil
	}

	if a.Redis == nil {
		opts, err := redis.ParseURL(cfg.Queue.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
		}
		client := redis.NewClient(opts)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to connect to Redis for leases: %w", err)
		}
		a.Redis = client
		a.closers = append(a.closers, client.Close)
	}
	return lease.NewRedisManager(a.Redis), nil
}

// Close releases the queue and Redis connections
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
