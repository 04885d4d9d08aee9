// The guildchat broker: terminates websocket sessions, persists room
// history in PostgreSQL and fans frames out across nodes through Redis.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"guildchat/realtime/internal/models"
	"guildchat/realtime/internal/ratelimit"
	"guildchat/realtime/internal/server/handler"
	"guildchat/realtime/internal/server/hub"
	"guildchat/realtime/internal/server/storage"
)

const (
	quotaLimit  = 10
	quotaWindow = time.Minute

	shutdownTimeout = 10 * time.Second
)

func main() {
	addr := pflag.String("addr", ":8080", "listen address")
	logLevel := pflag.String("log-level", "info", "zerolog level")
	seedGuild := pflag.String("seed-guild", "", "create a guild room with this name and exit")
	pflag.Parse()

	// Absent .env is fine in containers; everything can come from real
	// environment variables.
	_ = godotenv.Load()

	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()

	if err := run(&logger, *addr, *seedGuild); err != nil {
		logger.Fatal().Err(err).Msg("broker exited")
	}
}

func run(logger *zerolog.Logger, addr, seedGuild string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, rdb, err := setupDependencies(ctx, logger)
	if err != nil {
		return err
	}

	store := storage.NewService(db, rdb)
	if seedGuild != "" {
		room, err := store.CreateGuildRoom(seedGuild, "", nil)
		if err != nil {
			return err
		}
		logger.Info().Str("room", room.RoomID).Str("name", room.Name).Msg("guild room created")
		return nil
	}

	general, err := store.EnsureGeneralRoom()
	if err != nil {
		return err
	}
	logger.Info().Str("room", general.RoomID).Msg("general room ready")

	quota := ratelimit.NewRedisLimiter(rdb, "quota:", quotaLimit, quotaWindow)
	h := hub.New(hub.Config{Storage: store, Quota: quota, Logger: logger})
	go h.Run(ctx)

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		return errors.New("JWT_SECRET is not set")
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	api := handler.New(h, store, handler.NewTokenIssuer([]byte(secret), "guildchat-broker"), logger)
	api.Routes(r)

	server := &http.Server{
		Addr:           addr,
		Handler:        r,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("broker listening")
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func setupDependencies(ctx context.Context, logger *zerolog.Logger) (*gorm.DB, *redis.Client, error) {
	dsn := os.Getenv("DATABASE_DSN")
	if dsn == "" {
		dsn = "host=localhost user=user password=password dbname=guildchat port=5432 sslmode=disable"
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, nil, err
	}
	if err := db.AutoMigrate(&models.RoomRecord{}, &models.MessageRecord{}); err != nil {
		return nil, nil, err
	}

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: os.Getenv("REDIS_PASSWORD"),
	})
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		return nil, nil, err
	}

	logger.Info().Msg("postgres and redis connections established")
	return db, rdb, nil
}
