package platform

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/IBM/sarama"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/minio/minio-go/v7"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ivankudzin/creditpay/internal/config"
	kafkainfra "github.com/ivankudzin/creditpay/internal/infra/kafka"
	s3infra "github.com/ivankudzin/creditpay/internal/infra/s3"
	tginfra "github.com/ivankudzin/creditpay/internal/infra/telegram"
	"github.com/ivankudzin/creditpay/internal/infra/yookassa"
	pgrepo "github.com/ivankudzin/creditpay/internal/repo/postgres"
	redrepo "github.com/ivankudzin/creditpay/internal/repo/redis"
	"github.com/ivankudzin/creditpay/internal/services/catalog"
	"github.com/ivankudzin/creditpay/internal/services/events"
	"github.com/ivankudzin/creditpay/internal/services/gateway"
	"github.com/ivankudzin/creditpay/internal/services/reconcile"
)

// Platform owns the connections and stores shared by the api, the worker
// and ledgerctl. Backends that fail to open are logged and left nil, the
// way the api has always started in degraded mode.
type Platform struct {
	Config config.Config
	Logger *zap.Logger

	Postgres *pgxpool.Pool
	Redis    *goredis.Client
	S3       *minio.Client
	Kafka    sarama.SyncProducer

	Payments *pgrepo.PaymentRepo
	Balances *pgrepo.BalanceRepo
	Ledger   *pgrepo.LedgerRepo

	Catalog   *catalog.Catalog
	Publisher *events.Publisher
	Alerter   reconcile.Alerter
	Gateway   *gateway.Client
	Engine    *reconcile.Engine
}

func Open(ctx context.Context, cfg config.Config, log *zap.Logger) (*Platform, error) {
	if log == nil {
		return nil, fmt.Errorf("logger is nil")
	}
	p := &Platform{Config: cfg, Logger: log}

	if pool, err := pgrepo.NewPool(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxConns); err != nil {
		log.Warn("postgres init failed, continuing in degraded mode", zap.Error(err))
	} else {
		p.Postgres = pool
	}

	if client, err := redrepo.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB); err != nil {
		log.Warn("redis init failed, continuing in degraded mode", zap.Error(err))
	} else {
		p.Redis = client
	}

	p.Payments = pgrepo.NewPaymentRepo(p.Postgres)
	p.Balances = pgrepo.NewBalanceRepo(p.Postgres)
	p.Ledger = pgrepo.NewLedgerRepo(p.Postgres)
	p.Catalog = catalog.New(cfg.Catalog)
	p.Publisher = events.NewPublisher(log, p.sinks()...)

	if cfg.Alerts.TelegramToken != "" {
		if alerter, err := tginfra.NewAlerter(cfg.Alerts.TelegramToken, cfg.Alerts.ChatID); err != nil {
			log.Warn("telegram alerter init failed, alerts go to the log only", zap.Error(err))
		} else {
			p.Alerter = alerter
		}
	}

	var provider gateway.Provider
	if yk, err := yookassa.NewProvider(cfg.Gateway.ShopID, cfg.Gateway.SecretKey); err != nil {
		log.Warn("payment provider not configured", zap.Error(err))
	} else {
		provider = yk
	}
	p.Gateway = gateway.NewClient(provider, gateway.Options{
		RequestTimeout:  cfg.Gateway.RequestTimeout,
		MaxAttempts:     cfg.Gateway.MaxAttempts,
		InitialInterval: cfg.Gateway.RetryInitialInterval,
	}, log)

	p.Engine = reconcile.NewEngine(reconcile.Dependencies{
		Payments:   p.Payments,
		Credits:    p.Balances,
		Catalog:    p.Catalog,
		Publisher:  p.Publisher,
		Alerter:    p.Alerter,
		Logger:     log,
		SweepGrace: cfg.Worker.SweepGrace,
	})

	return p, nil
}

func (p *Platform) sinks() []events.Sink {
	out := make([]events.Sink, 0, len(p.Config.Events.Sinks))
	for _, name := range p.Config.Events.Sinks {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "redis":
			if p.Redis == nil {
				p.Logger.Warn("redis event sink skipped, redis is unavailable")
				continue
			}
			out = append(out, redrepo.NewBalanceEventsRepo(p.Redis, p.Config.Events.RedisChannel))
		case "kafka":
			producer, err := kafkainfra.NewSyncProducer(p.Config.Kafka.Brokers, p.Config.Kafka.ClientID)
			if err != nil {
				p.Logger.Warn("kafka event sink skipped", zap.Error(err))
				continue
			}
			p.Kafka = producer
			out = append(out, kafkainfra.NewBalanceProducer(producer, p.Config.Events.KafkaTopic))
		case "":
		default:
			p.Logger.Warn("unknown event sink ignored", zap.String("sink", name))
		}
	}
	return out
}

// Archive opens the S3 bucket used for ledger exports.
func (p *Platform) Archive() (*s3infra.ArchiveStorage, error) {
	if p.S3 == nil {
		client, err := s3infra.NewClient(s3infra.Config{
			Endpoint:  p.Config.S3.Endpoint,
			AccessKey: p.Config.S3.AccessKey,
			SecretKey: p.Config.S3.SecretKey,
			UseSSL:    p.Config.S3.UseSSL,
		})
		if err != nil {
			return nil, err
		}
		p.S3 = client
	}
	return s3infra.NewArchiveStorage(p.S3, p.Config.S3.Bucket), nil
}

func (p *Platform) Close() error {
	var errs []error
	if p.Kafka != nil {
		if err := p.Kafka.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close kafka producer: %w", err))
		}
	}
	if p.Redis != nil {
		if err := p.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if p.Postgres != nil {
		p.Postgres.Close()
	}
	return errors.Join(errs...)
}
