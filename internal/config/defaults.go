package config

import "time"

const (
	defaultAppEnv       = "dev"
	defaultAppLogLevel  = "info"
	defaultAppHTTPAddr  = ":9980"
	defaultLedgerTO     = 15 * time.Second
	defaultFeedProvider = ProviderAPI
	defaultFeedTO       = 10 * time.Second
	defaultRulesTO      = 10 * time.Second

	defaultPollActive = 3 * time.Second
	defaultPollOpen   = 5 * time.Second
	defaultPollRisk   = 2 * time.Second
	defaultPollResync = 15 * time.Second
	defaultSubmitTO   = 15 * time.Second
)

func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = defaultAppEnv
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = defaultAppLogLevel
	}
	if c.App.HTTPAddr == "" {
		c.App.HTTPAddr = defaultAppHTTPAddr
	}
	if c.Ledger.Timeout <= 0 {
		c.Ledger.Timeout = defaultLedgerTO
	}
	if c.PriceFeed.Provider == "" {
		c.PriceFeed.Provider = defaultFeedProvider
	}
	if c.PriceFeed.Timeout <= 0 {
		c.PriceFeed.Timeout = defaultFeedTO
	}
	if c.Rules.Timeout <= 0 {
		c.Rules.Timeout = defaultRulesTO
	}
	if c.Poll.ActivePrice <= 0 {
		c.Poll.ActivePrice = defaultPollActive
	}
	if c.Poll.OpenPrices <= 0 {
		c.Poll.OpenPrices = defaultPollOpen
	}
	if c.Poll.Risk <= 0 {
		c.Poll.Risk = defaultPollRisk
	}
	if c.Poll.Resync <= 0 {
		c.Poll.Resync = defaultPollResync
	}
	if c.Poll.SubmitTimeout <= 0 {
		c.Poll.SubmitTimeout = defaultSubmitTO
	}
}
