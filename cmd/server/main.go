package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"qshop_backend/internal/config"
	httpd "qshop_backend/internal/delivery/http"
	"qshop_backend/internal/events"
	"qshop_backend/internal/mpesa"
	"qshop_backend/internal/repository"
	"qshop_backend/internal/usecase"
)

var Version = "dev"

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:     "server",
		Short:   "M-Pesa STK push bridge for the student marketplace",
		Version: Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "Optional YAML config file; environment variables take precedence")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("Shutting down...")
		cancel()
	}()

	repo, err := repository.NewPaymentRepo(cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer repo.Close()

	tokens, closeTokens, err := buildTokenSource(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeTokens()

	gateway := mpesa.NewClient(&cfg.Mpesa, tokens, mpesa.NewTransport("stkpush", &cfg.Mpesa, nil))

	pub := events.New(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	defer pub.Close()
	if len(cfg.Kafka.Brokers) > 0 {
		log.Printf("Publishing payment events to %s on %v", cfg.Kafka.Topic, cfg.Kafka.Brokers)
	}

	uc := usecase.NewPaymentUsecase(gateway, repo, pub)
	h := httpd.NewHandler(uc, httpd.RouterConfig{
		AllowedOrigins: cfg.AllowedOrigins,
		CallbackToken:  cfg.Mpesa.CallbackToken,
		Location:       cfg.Mpesa.Location,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.AppPort,
		Handler:           h.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.Mpesa.HTTPTimeout*2 + 10*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Server listening on %s (env=%s, origins=%v)", srv.Addr, cfg.Environment, cfg.AllowedOrigins)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 15*time.Second)
	defer stop()
	return srv.Shutdown(shutdownCtx)
}

// buildTokenSource returns the token provider selected by MPESA_TOKEN_CACHE,
// plus a function releasing whatever it holds open.
func buildTokenSource(ctx context.Context, cfg *config.Config) (mpesa.TokenSource, func(), error) {
	provider := mpesa.NewTokenProvider(&cfg.Mpesa, mpesa.NewTransport("token", &cfg.Mpesa, nil))
	noop := func() {}

	switch cfg.TokenCache.Mode {
	case config.TokenCacheMemory:
		log.Printf("Caching access tokens in memory (margin %s)", cfg.TokenCache.ExpiryMargin)
		return mpesa.NewCachingTokenProvider(provider, mpesa.NewMemoryTokenStore(), cfg.Mpesa.ConsumerKey, cfg.TokenCache.ExpiryMargin), noop, nil

	case config.TokenCacheRedis:
		store := mpesa.NewRedisTokenStore(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := store.Ping(pingCtx); err != nil {
			store.Close()
			return nil, nil, fmt.Errorf("redis token cache at %s: %w", cfg.Redis.Addr, err)
		}
		log.Printf("Caching access tokens in redis at %s (margin %s)", cfg.Redis.Addr, cfg.TokenCache.ExpiryMargin)
		closer := func() {
			if err := store.Close(); err != nil {
				log.Printf("close redis: %v", err)
			}
		}
		return mpesa.NewCachingTokenProvider(provider, store, cfg.Mpesa.ConsumerKey, cfg.TokenCache.ExpiryMargin), closer, nil

	default:
		return provider, noop, nil
	}
}
