package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
	"trading_engine/internal/config"
	"trading_engine/internal/core"
	"trading_engine/pkg/httpx"
)

// Backfill fetches recent bar history over REST and replays it through
// the same raw handler the live feed uses, so strategies start with a
// warm window instead of waiting long_period bars. The HTTP client
// retries transient failures and trips its circuit breaker on a dead
// endpoint; a backfill failure is not fatal.
func Backfill(ctx context.Context, cfg config.FeedConfig, handler RawHandler, logger core.ILogger) error {
	if cfg.HistoryURL == "" || cfg.BackfillBars <= 0 {
		return nil
	}
	log := logger.WithField("component", "feed_backfill")

	client := httpx.NewClient(cfg.HistoryURL, 10*time.Second)
	for _, inst := range cfg.Instruments {
		body, err := client.Get(ctx, "/v1/bars", map[string]string{
			"instrument": inst,
			"limit":      strconv.Itoa(cfg.BackfillBars),
		})
		if err != nil {
			return fmt.Errorf("backfill %s: %w", inst, err)
		}

		var frames []json.RawMessage
		if err := json.Unmarshal(body, &frames); err != nil {
			return fmt.Errorf("backfill %s: decode response: %w", inst, err)
		}

		applied := 0
		for _, frame := range frames {
			if err := handler(cfg.Source, frame); err != nil {
				log.Warn("Backfill frame rejected", "instrument", inst, "error", err)
				continue
			}
			applied++
		}
		log.Info("Backfill complete", "instrument", inst, "bars", applied)
	}
	return nil
}
