package config

import (
	"fmt"
	"strings"
)

func validate(c *Config) error {
	if strings.TrimSpace(c.Challenge.ID) == "" {
		return fmt.Errorf("challenge.id cannot be empty")
	}
	if c.Challenge.StartBalance <= 0 {
		return fmt.Errorf("challenge.start_balance must be > 0")
	}
	if c.Challenge.MaxDrawdownPct < 0 || c.Challenge.MaxDrawdownPct >= 100 {
		return fmt.Errorf("challenge.max_drawdown_pct must be in [0, 100)")
	}
	if c.Challenge.FeeBps < 0 {
		return fmt.Errorf("challenge.fee_bps must be >= 0")
	}
	if strings.TrimSpace(c.Ledger.BaseURL) == "" {
		return fmt.Errorf("ledger.base_url cannot be empty")
	}
	if strings.TrimSpace(c.Rules.BaseURL) == "" {
		return fmt.Errorf("rules.base_url cannot be empty")
	}
	switch c.PriceFeed.Provider {
	case ProviderAPI:
		if strings.TrimSpace(c.PriceFeed.BaseURL) == "" {
			return fmt.Errorf("price_feed.base_url is required for provider %q", ProviderAPI)
		}
	case ProviderBinance:
		// SDK carries its own default endpoint.
	default:
		return fmt.Errorf("price_feed.provider must be %q or %q, got %q",
			ProviderAPI, ProviderBinance, c.PriceFeed.Provider)
	}
	return nil
}
