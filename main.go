package main

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/pccr10001/softphone/internal/api"
	"github.com/pccr10001/softphone/internal/auth"
	"github.com/pccr10001/softphone/internal/calling"
	"github.com/pccr10001/softphone/internal/config"
	"github.com/pccr10001/softphone/internal/events"
	"github.com/pccr10001/softphone/internal/model"
	"github.com/pccr10001/softphone/internal/repository"
	"github.com/pccr10001/softphone/internal/verto"
	"github.com/pccr10001/softphone/pkg/logger"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func main() {
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. Load Config
	config.LoadConfig()
	cfg := config.AppConfig

	// 2. Init Logger
	logger.InitLogger(cfg.Log.Level)
	defer logger.Sync()
	logger.Log.Info("Starting Softphone Dashboard...")

	auth.Configure(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)

	// 3. Init Database
	db := initDB()
	users := repository.NewUserRepository(db)

	// 4. Event fan-out
	sink := events.NewSink(initPublisher(rootCtx), logger.Named("events"), events.SinkOptions{})
	defer sink.Close()

	// 5. Phones
	factory, err := verto.NewFactory(verto.Config{
		URL:            cfg.Signaling.URL,
		STUNServers:    cfg.Signaling.STUNServers,
		UDPPortMin:     cfg.Signaling.UDPPortMin,
		UDPPortMax:     cfg.Signaling.UDPPortMax,
		EventBuffer:    cfg.Signaling.EventBuffer,
		RequestTimeout: cfg.Signaling.RequestTimeout,
		DTMFMode:       cfg.Signaling.DTMFMode,
	}, logger.Named("verto"))
	if err != nil {
		logger.Log.Fatalf("Failed to init signaling client: %v", err)
	}

	policy := calling.DefaultLogPolicy()
	if from, ok := calling.ParseCallState(cfg.Calling.LogOutboundFrom); ok {
		policy.OutboundFrom = from
	} else {
		logger.Log.Warnf("Unknown calling.log_outbound_from %q, using %s", cfg.Calling.LogOutboundFrom, policy.OutboundFrom)
	}

	phones := calling.NewManager(calling.PhoneOptions{
		Factory:      factory,
		HistoryLimit: cfg.Calling.HistoryLimit,
		Policy:       policy,
	}, sink, logger.Named("phone"))
	defer func() {
		if err := phones.CloseAll(); err != nil {
			logger.Log.Warnf("Close phones: %v", err)
		}
	}()

	// 6. Init Router
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := api.NewRouter(users, phones, cfg.Signaling.CallerName)

	srv := &http.Server{
		Addr:              cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Log.Infof("Server listening on %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Fatalf("Server failed to start: %v", err)
		}
	}()

	<-rootCtx.Done()
	logger.Log.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Log.Errorf("HTTP shutdown failed: %v", err)
	}
}

func initPublisher(ctx context.Context) events.Publisher {
	ec := config.AppConfig.Events
	pubs := events.Multi{events.NewLoggingPublisher(logger.Named("events"))}

	if ec.RedisAddr != "" {
		rdb, err := events.OpenRedis(ctx, events.RedisConfig{
			Addr:     ec.RedisAddr,
			Password: ec.RedisPassword,
			DB:       ec.RedisDB,
		})
		if err != nil {
			logger.Log.Warnf("Redis unavailable, events will not be published: %v", err)
		} else {
			logger.Log.Infof("Publishing phone events to redis %s", ec.RedisAddr)
			pubs = append(pubs, events.NewRedisPublisher(rdb, ec.ChannelPrefix, config.AppConfig.Calling.HistoryLimit))
		}
	}

	if ec.Webhook.URL != "" {
		wh, err := events.NewWebhookPublisher(events.WebhookConfig{
			URL:       ec.Webhook.URL,
			Platform:  ec.Webhook.Platform,
			Template:  ec.Webhook.Template,
			ChannelID: ec.Webhook.ChannelID,
		}, logger.Named("webhook"))
		if err != nil {
			logger.Log.Warnf("Webhook disabled: %v", err)
		} else {
			pubs = append(pubs, wh)
		}
	}
	return pubs
}

func initDB() *gorm.DB {
	var db *gorm.DB
	var err error

	driver := config.AppConfig.Database.Driver
	dsn := config.AppConfig.Database.DSN

	switch driver {
	case "mysql":
		db, err = gorm.Open(mysql.Open(dsn), &gorm.Config{})
	default:
		// Default to SQLite (pure Go)
		if dsn == "" {
			dsn = "softphone.db"
		}
		db, err = gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	}

	if err != nil {
		logger.Log.Fatalf("Failed to connect database (%s): %v", driver, err)
	}

	if err := db.AutoMigrate(&model.User{}); err != nil {
		logger.Log.Fatalf("Failed to migrate database: %v", err)
	}

	// Init Admin
	users := repository.NewUserRepository(db)
	count, err := users.Count()
	if err != nil {
		logger.Log.Fatalf("Failed to count users: %v", err)
	}
	if count == 0 {
		randPw := randomPassword(12)
		hash, err := auth.HashPassword(randPw)
		if err != nil {
			logger.Log.Fatalf("Failed to hash password: %v", err)
		}
		admin := model.User{
			Username:     "admin",
			PasswordHash: hash,
			Role:         model.RoleAdmin,
		}
		if err := users.Create(&admin); err != nil {
			logger.Log.Fatalf("Failed to create admin: %v", err)
		}
		logger.Log.Warnf("INITIAL ADMIN CREATED. Username: admin, Password: %s", randPw)
	}

	return db
}

func randomPassword(n int) string {
	const chars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	ret := make([]byte, n)
	for i := range ret {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(chars))))
		if err != nil {
			logger.Log.Fatalf("Failed to generate random password: %v", err)
		}
		ret[i] = chars[num.Int64()]
	}
	return string(ret)
}
