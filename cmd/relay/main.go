package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/twilio-se-anz/demo-crelay-snow-sub001/internal/calllog"
	"github.com/twilio-se-anz/demo-crelay-snow-sub001/internal/config"
	"github.com/twilio-se-anz/demo-crelay-snow-sub001/internal/crm"
	"github.com/twilio-se-anz/demo-crelay-snow-sub001/internal/httpapi"
	"github.com/twilio-se-anz/demo-crelay-snow-sub001/internal/notify"
	"github.com/twilio-se-anz/demo-crelay-snow-sub001/internal/observability"
	"github.com/twilio-se-anz/demo-crelay-snow-sub001/internal/relay"
	"github.com/twilio-se-anz/demo-crelay-snow-sub001/internal/responder"
	"github.com/twilio-se-anz/demo-crelay-snow-sub001/internal/session"
	"github.com/twilio-se-anz/demo-crelay-snow-sub001/internal/tools"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	audit, err := calllog.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("call log init failed: %v", err)
	}
	defer audit.Close()

	adapter, err := responder.NewAdapter(responder.AdapterConfig{
		Mode:    cfg.ModelBackendMode,
		URL:     cfg.ModelBackendURL,
		APIKey:  cfg.ModelAPIKey,
		ModelID: cfg.ModelID,
		Timeout: cfg.ModelTimeout,
	})
	if err != nil {
		log.Fatalf("model adapter init failed: %v", err)
	}

	sms := notify.NewTwilioClient(notify.TwilioConfig{
		BaseURL:    cfg.TwilioAPIBaseURL,
		AccountSID: cfg.TwilioAccountSID,
		AuthToken:  cfg.TwilioAuthToken,
		FromNumber: cfg.TwilioFromNumber,
	})
	customers := crm.NewClient(cfg.CRMBaseURL, cfg.CRMTimeout)

	dispatcher := tools.NewDispatcher()
	err = tools.RegisterDefaults(dispatcher, tools.Deps{
		SMS:   sms,
		CRM:   customers,
		Codes: tools.NewVerificationCodes(),
	})
	if err != nil {
		log.Fatalf("tool registration failed: %v", err)
	}

	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	sessions.SetExpireHook(func(_ *session.Session) {
		metrics.SessionEvents.WithLabelValues("expired").Inc()
	})

	gateway := relay.NewGateway(relay.Deps{
		Sessions:   sessions,
		Adapter:    adapter,
		Tools:      dispatcher,
		Customers:  customers,
		Audit:      audit,
		Metrics:    metrics,
		Silence:    cfg.SilenceSoftThreshold,
		RetryLimit: cfg.SilenceRetryLimit,
	})

	api := httpapi.New(cfg, sessions, gateway, audit, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	sessions.StartJanitor(runCtx, 5*time.Second)

	go func() {
		log.Printf("relay listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
