package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/wedogs/backend/internal/config"
	"github.com/wedogs/backend/internal/db"
	"github.com/wedogs/backend/internal/events"
	"go.uber.org/zap"
)

// Notify Bridge subscribes to donation events and forwards confirmed
// donations to the downstream webhook (badge minting, notifications).

var forwarded = map[string]bool{
	events.EventDonationCorroborated: true,
	events.EventProgressionUpdated:   true,
}

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	if cfg.NotifyWebhookURL == "" {
		log.Fatal("NOTIFY_WEBHOOK_URL is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, uint64(max(cfg.StartupAttempts, 1)), log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	subscriber := events.NewRedisSubscriber(rdb, log)
	httpClient := &http.Client{Timeout: 10 * time.Second}

	err = subscriber.Subscribe(ctx, events.StreamDonations, func(event events.Event) {
		if !forwarded[event.Type] {
			return
		}
		log.Info("forwarding event", zap.String("type", event.Type), zap.String("campaign_id", event.CampaignID()))
		if err := forward(ctx, httpClient, cfg.NotifyWebhookURL, event); err != nil {
			log.Warn("failed to forward event", zap.String("type", event.Type), zap.Error(err))
		}
	})
	if err != nil {
		log.Fatal("failed to subscribe", zap.Error(err))
	}

	log.Info("notify-bridge started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down notify-bridge")
	cancel()
}

// forward posts the event, retrying 5xx and network errors a few times.
func forward(ctx context.Context, client *http.Client, url string, event events.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	backoff := retry.WithMaxRetries(2, retry.NewExponential(500*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode >= 500:
			return retry.RetryableError(fmt.Errorf("webhook returned %d", resp.StatusCode))
		case resp.StatusCode >= 300:
			return fmt.Errorf("webhook returned %d", resp.StatusCode)
		}
		return nil
	})
}
