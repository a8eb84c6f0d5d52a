package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"fintrack/internal/auth"
	"fintrack/internal/cache"
	"fintrack/internal/cli"
	"fintrack/internal/config"
	"fintrack/internal/core"
	apphttp "fintrack/internal/http"
	"fintrack/internal/log"
	"fintrack/internal/receipt"
	"fintrack/internal/receipt/gcs"
	"fintrack/internal/receipt/gemini"
	"fintrack/internal/services"
)

func main() {
	cfg, logger := cli.Bootstrap(log.ComponentApp, cli.ModeServer, os.Stdout)

	ctx, cancel := cli.ShutdownContext(logger)
	defer cancel()

	be := cli.OpenBackend(ctx, cfg, logger)
	defer cli.CloseBackend(be, logger)

	// Summary cache, evicted in the background
	caches := cache.NewManager()
	var summaryCache *cache.LRUCache[services.Report]
	if cfg.SharedStore && cfg.SummaryCacheSize > 0 {
		logger.Info("Summary cache disabled for shared store", "summary_cache_size", cfg.SummaryCacheSize)
	}
	if cfg.SummaryCacheEnabled() {
		summaryCache = cache.NewLRUCache[services.Report](cfg.SummaryCacheSize, cfg.SummaryCacheTTL)
		caches.Register("summary", summaryCache)
		caches.StartCleanup(cfg.SummaryCacheTTL)
	}
	defer caches.Stop()

	policy, err := core.ParseStatusPolicy(cfg.SummaryStatusPolicy)
	if err != nil {
		logger.Error("Invalid summary status policy", log.FieldError, err.Error())
		os.Exit(1)
	}

	opts := services.Options{
		Timeout:   cfg.StoreTimeout,
		Publisher: be.Publisher(),
		Logger:    logger,
	}
	summary := services.NewSummaryService(be.Store, policy, summaryCache, opts)
	opts.Invalidator = summary

	ledgerSvc := services.NewLedgerService(be.Store, opts)

	extractor, attachments, closeReceipts := newReceiptBackends(ctx, cfg, logger)
	defer closeReceipts()

	svc := apphttp.Services{
		Ledger:    ledgerSvc,
		Summary:   summary,
		Accounts:  services.NewAccountService(be.Store, opts),
		Receipts:  services.NewReceiptService(extractor, attachments, ledgerSvc, be.Store, opts),
		Provision: services.NewProvisioningService(be.Store, opts),
	}

	authn, err := newAuthenticator(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize authentication", log.FieldError, err.Error(), "auth_mode", cfg.AuthMode)
		os.Exit(1)
	}

	srv := apphttp.NewServer(apphttp.Config{
		Addr:               ":" + cfg.Port,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
	}, svc, be.Store, authn, logger)
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	// Graceful shutdown handling
	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err.Error())
		}
	}()

	logger.Info("Starting fintrack server",
		"port", cfg.Port,
		"backend", cfg.DataBackend,
		"auth_mode", cfg.AuthMode,
		"status_policy", string(policy),
		"receipts_enabled", extractor != nil,
		"events_enabled", be.Events != nil)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", log.FieldError, err.Error(), "port", cfg.Port)
		cancel()
		<-done
		cli.CloseBackend(be, logger)
		os.Exit(1)
	}

	<-done
	logger.Info("Server stopped gracefully")
}

func newAuthenticator(ctx context.Context, cfg *config.Config, logger *log.Logger) (auth.Authenticator, error) {
	if cfg.AuthMode == "dev" {
		logger.Warn("Development authentication enabled: requests are trusted by header",
			"header", auth.HeaderDevUser)
		return auth.DevAuthenticator{Fallback: auth.DefaultDevUser}, nil
	}
	return auth.NewFirebaseAuthenticator(ctx, auth.FirebaseConfig{
		ProjectID: cfg.FirebaseProjectID,
		JSON:      cfg.FirebaseServiceAccountJSON,
		Base64:    cfg.FirebaseServiceAccountBase64,
	})
}

// newReceiptBackends returns nil interfaces for whatever is not configured,
// so the receipt service can tell disabled from broken.
func newReceiptBackends(ctx context.Context, cfg *config.Config, logger *log.Logger) (receipt.Extractor, receipt.AttachmentStore, func()) {
	if !cfg.ReceiptsEnabled() {
		logger.Info("Receipt scanning disabled - no GEMINI_API_KEY provided")
		return nil, nil, func() {}
	}

	ext, err := gemini.New(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	if err != nil {
		logger.Warn("Failed to initialize receipt extractor, scanning disabled", log.FieldError, err.Error())
		return nil, nil, func() {}
	}
	var extractor receipt.Extractor = ext

	if cfg.ReceiptBucket == "" {
		return extractor, nil, func() {}
	}
	store, err := gcs.New(ctx, cfg.ReceiptBucket)
	if err != nil {
		logger.Warn("Failed to initialize receipt storage, images will not be kept",
			log.FieldError, err.Error(), "bucket", cfg.ReceiptBucket)
		return extractor, nil, func() {}
	}
	logger.Info("Receipt attachments enabled", "bucket", cfg.ReceiptBucket)
	return extractor, store, func() {
		if err := store.Close(); err != nil {
			logger.Warn("Failed to close receipt storage", log.FieldError, err.Error())
		}
	}
}
