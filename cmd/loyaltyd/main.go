package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"cantina/config"
	"cantina/loyalty"
	"cantina/models"
	"cantina/observability"
	"cantina/observability/logging"
)

func main() {
	var (
		cfgPath string
		audit   bool
	)
	flag.StringVar(&cfgPath, "config", "loyaltyd.toml", "path to loyaltyd configuration")
	flag.BoolVar(&audit, "audit", false, "verify every account balance against its ledger and exit")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger := logging.Setup("loyaltyd", cfg.Environment)

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{TranslateError: true})
	if err != nil {
		log.Fatalf("database connection error: %v", err)
	}
	if err := models.AutoMigrate(db); err != nil {
		log.Fatalf("auto migrate error: %v", err)
	}

	engine := loyalty.New(db, logger, nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if audit {
		if err := runAudit(ctx, engine); err != nil {
			log.Fatalf("audit error: %v", err)
		}
		return
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("database handle error: %v", err)
	}

	router := chi.NewRouter()
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	router.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := sqlDB.PingContext(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	router.Method(http.MethodGet, "/metrics", observability.Handler())

	server := &http.Server{Addr: cfg.ListenAddress, Handler: router}
	go func() {
		logger.Info("loyaltyd listening", "addr", cfg.ListenAddress)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace())
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "err", err)
		os.Exit(1)
	}
}

// runAudit recomputes every account's balance from its ledger and reports
// drift. Exits non-zero when any account disagrees with its history.
func runAudit(ctx context.Context, engine *loyalty.Engine) error {
	accounts, err := engine.ListAccounts(ctx)
	if err != nil {
		return err
	}
	drift := 0
	for _, account := range accounts {
		if err := engine.VerifyBalance(ctx, account.CustomerID); err != nil {
			log.Printf("audit: %v", err)
			drift++
		}
	}
	log.Printf("audit: checked %d accounts, %d with drift", len(accounts), drift)
	if drift > 0 {
		return errors.New("ledger drift detected")
	}
	return nil
}
