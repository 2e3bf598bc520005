package app

import (
	"fmt"

	"propeval/internal/config"
	"propeval/internal/engine"
	"propeval/internal/gateway/ledger"
	"propeval/internal/gateway/pricefeed"
	"propeval/internal/gateway/rules"
	"propeval/internal/journal"
	"propeval/internal/logger"
	transport "propeval/internal/transport/http"
	"propeval/internal/types"
)

func build(cfg *config.Config) (*App, error) {
	ledgerClient, err := ledger.NewClient(ledger.Config{
		BaseURL: cfg.Ledger.BaseURL,
		APIKey:  cfg.Ledger.APIKey,
		Timeout: cfg.Ledger.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("building ledger client failed: %w", err)
	}

	rulesClient, err := rules.NewClient(rules.Config{
		BaseURL: cfg.Rules.BaseURL,
		APIKey:  cfg.Rules.APIKey,
		Timeout: cfg.Rules.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("building rules client failed: %w", err)
	}

	feed, err := buildFeed(cfg.PriceFeed)
	if err != nil {
		return nil, err
	}

	var store *journal.Store
	if cfg.Journal.Path != "" {
		store, err = journal.New(cfg.Journal.Path)
		if err != nil {
			return nil, fmt.Errorf("opening journal failed: %w", err)
		}
	} else {
		logger.Warnf("app: journal disabled, recovery depends entirely on the ledger")
	}

	eng := engine.New(engine.Config{
		ChallengeID:   cfg.Challenge.ID,
		ActiveSymbol:  cfg.Challenge.ActiveSymbol,
		FeeBps:        cfg.Challenge.FeeBps,
		SubmitTimeout: cfg.Poll.SubmitTimeout,
	}, ledgerClient, feed, rulesClient, store, types.Account{
		ChallengeID:     cfg.Challenge.ID,
		StartBalance:    cfg.Challenge.StartBalance,
		Equity:          cfg.Challenge.StartBalance,
		Status:          types.StatusActive,
		ProfitTargetPct: cfg.Challenge.ProfitTargetPct,
		MaxDrawdownPct:  cfg.Challenge.MaxDrawdownPct,
	})

	return &App{
		cfg:   cfg,
		eng:   eng,
		http:  transport.NewServer(cfg.App.HTTPAddr, eng),
		store: store,
	}, nil
}

func buildFeed(cfg config.PriceFeedConfig) (pricefeed.Feed, error) {
	switch cfg.Provider {
	case config.ProviderBinance:
		return pricefeed.NewBinanceFeed(pricefeed.BinanceConfig{
			RESTBaseURL: cfg.BaseURL,
			HTTPTimeout: cfg.Timeout,
		}), nil
	case config.ProviderAPI:
		feed, err := pricefeed.NewClient(pricefeed.Config{
			BaseURL: cfg.BaseURL,
			Timeout: cfg.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("building price feed failed: %w", err)
		}
		return feed, nil
	default:
		return nil, fmt.Errorf("unknown price feed provider %q", cfg.Provider)
	}
}
