package main

import (
	"log"
	"net/http"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/peertransfer/ledger/internal/api"
	"github.com/peertransfer/ledger/internal/auth"
	"github.com/peertransfer/ledger/internal/config"
	"github.com/peertransfer/ledger/internal/ledger"
	"github.com/peertransfer/ledger/internal/query"
	"github.com/peertransfer/ledger/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := buildLogger(cfg.Env)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	accounts, err := store.NewStore(cfg.DBSource)
	if err != nil {
		logger.Fatal("database unavailable", zap.Error(err))
	}
	defer accounts.Close()

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
	}

	// Initialize layers
	transferLedger := ledger.New(accounts.Db, accounts, logger, cfg.LockTimeout)
	queries := query.NewService(accounts.Db, query.NewCache(rdb, logger), logger)
	gateway := auth.NewGateway(accounts.Db, []byte(cfg.JWTSecret), cfg.TokenTTL)
	handler := api.NewHandler(transferLedger, queries, accounts, gateway, logger)

	logger.Info("server starting", zap.String("port", cfg.Port), zap.String("env", cfg.Env))
	if err := http.ListenAndServe(":"+cfg.Port, handler.Routes()); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func buildLogger(env string) (*zap.Logger, error) {
	if env == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
