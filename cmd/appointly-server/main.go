package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sourcegraph/conc"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"appointly/internal/config"
	"appointly/internal/logging"
	"appointly/internal/mail"
	"appointly/internal/notify"
	"appointly/internal/service/appointments"
	"appointly/internal/store"
	"appointly/internal/store/memory"
	"appointly/internal/store/postgres"
	grpcTransport "appointly/internal/transport/grpc"
)

type storage struct {
	users store.UserRepository
	appts store.AppointmentRepository
	notes store.NotificationRepository
	close func()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	log = log.With(zap.String("service", "appointly-server"))
	defer func() { _ = log.Sync() }()

	log.Info("starting",
		zap.String("grpc_addr", cfg.GRPCAddr()),
		zap.String("log_level", cfg.LogLevel),
		zap.String("storage_driver", cfg.StorageDriver),
		zap.String("mail_dispatch", cfg.MailDispatch),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStorage(ctx, cfg, log)
	if err != nil {
		log.Error("storage init failed", zap.Error(err))
		os.Exit(1)
	}
	defer st.close()

	var background conc.WaitGroup
	bgCtx, stopBackground := context.WithCancel(context.Background())

	mailer, err := buildMailer(bgCtx, cfg, log, &background)
	if err != nil {
		log.Error("mail init failed", zap.Error(err))
		os.Exit(1)
	}

	notifier, err := notify.New(st.notes, mailer, notify.Config{
		Locale:    cfg.NotifyLocale,
		Location:  cfg.Location(),
		Workers:   cfg.NotifyWorkers,
		QueueSize: cfg.NotifyQueueSize,
	}, log.With(zap.String("component", "notify")))
	if err != nil {
		log.Error("notifier init failed", zap.Error(err))
		os.Exit(1)
	}

	svc := appointments.NewService(st.users, st.appts, notifier,
		appointments.WithLogger(log.With(zap.String("component", "service.appointments"))),
	)

	limiter := grpcTransport.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	background.Go(func() { limiter.Run(bgCtx) })

	grpcServer, healthServer := grpcTransport.NewServer(svc, grpcTransport.ServerConfig{
		RequestTimeout: cfg.GRPCRequestTimeout,
		JWTSecret:      cfg.JWTSecret,
		Limiter:        limiter,
	}, log)

	lis, err := net.Listen("tcp", cfg.GRPCAddr())
	if err != nil {
		log.Error("grpc listen failed", zap.Error(err), zap.String("grpc_addr", cfg.GRPCAddr()))
		os.Exit(1)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- grpcServer.Serve(lis)
	}()

	log.Info("grpc server started", zap.String("grpc_addr", cfg.GRPCAddr()))

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
		healthServer.Shutdown()
		shutdown(log, grpcServer, cfg.ShutdownTimeout)
	case err := <-errCh:
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.Error("grpc server stopped with error", zap.Error(err))
		}
	}

	notifier.Close()
	stopBackground()
	background.Wait()
	log.Info("stopped")
}

func openStorage(ctx context.Context, cfg config.Config, log *zap.Logger) (storage, error) {
	if cfg.StorageDriver == config.StorageDriverMemory {
		log.Warn("using in-memory storage; data is lost on restart")
		st := memory.New()
		return storage{users: st, appts: st, notes: st, close: func() {}}, nil
	}

	log.Info("connecting to database", databaseLogFields(cfg.DatabaseURL)...)
	db, err := postgres.Open(ctx, cfg.DatabaseURL, postgres.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
		ConnMaxIdleTime: cfg.DBConnMaxIdleTime,
	})
	if err != nil {
		return storage{}, err
	}
	closeDB := func() {
		if err := postgres.Close(db); err != nil {
			log.Warn("database close failed", zap.Error(err))
		}
	}

	if cfg.DatabaseMigrate {
		if err := postgres.Migrate(ctx, db); err != nil {
			closeDB()
			return storage{}, err
		}
	}
	if version, err := postgres.MigrationVersion(ctx, db); err == nil {
		log.Info("database ready", zap.Int64("schema_version", version))
	} else {
		log.Warn("schema version unavailable", zap.Error(err))
	}

	return storage{
		users: postgres.NewUserRepo(db),
		appts: postgres.NewAppointmentRepo(db),
		notes: postgres.NewNotificationRepo(db),
		close: closeDB,
	}, nil
}

// buildMailer returns the sender the notifier uses. In queue mode a worker
// delivering through SMTP runs on background until ctx is canceled.
func buildMailer(ctx context.Context, cfg config.Config, log *zap.Logger, background *conc.WaitGroup) (mail.Sender, error) {
	mailLog := log.With(zap.String("component", "mail"))
	if cfg.MailDispatch == config.MailDispatchLog {
		return mail.NewLogSender(mailLog), nil
	}

	smtp, err := mail.NewSMTPSender(mail.SMTPConfig{
		Host:        cfg.SMTPHost,
		Port:        cfg.SMTPPort,
		Username:    cfg.SMTPUsername,
		Password:    cfg.SMTPPassword,
		FromName:    cfg.SMTPFromName,
		FromAddress: cfg.SMTPFromAddress,
		TLS:         cfg.SMTPTLS,
	})
	if err != nil {
		return nil, err
	}
	if cfg.MailDispatch == config.MailDispatchSync {
		return smtp, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.RedisAddr, err)
	}

	queue := mail.NewQueue(client, cfg.MailQueueKey)
	worker := mail.NewWorker(queue, smtp, mail.WorkerConfig{}, mailLog.With(zap.String("queue", cfg.MailQueueKey)))
	background.Go(func() {
		defer func() { _ = client.Close() }()
		if err := worker.Run(ctx); err != nil {
			mailLog.Error("mail worker stopped", zap.Error(err))
		}
	})
	return queue, nil
}

func shutdown(log *zap.Logger, s *grpc.Server, timeout time.Duration) {
	log.Info("shutting down grpc server", zap.Duration("timeout", timeout))

	done := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		log.Info("grpc server stopped")
	case <-timer.C:
		log.Warn("grpc graceful shutdown timed out; forcing stop")
		s.Stop()
	}
}

func databaseLogFields(databaseURL string) []zap.Field {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return []zap.Field{zap.String("db_url", "invalid")}
	}
	name := strings.TrimPrefix(u.Path, "/")
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		port = "default"
	}
	if host == "" {
		host = "unknown"
	}
	if name == "" {
		name = "unknown"
	}
	return []zap.Field{
		zap.String("db_host", host),
		zap.String("db_port", port),
		zap.String("db_name", name),
	}
}
