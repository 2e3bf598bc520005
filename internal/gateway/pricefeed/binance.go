package pricefeed

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/futures"
)

// BinanceConfig holds the SDK-backed feed settings.
type BinanceConfig struct {
	RESTBaseURL string
	HTTPTimeout time.Duration
}

// BinanceFeed implements Feed on top of the Binance futures REST API, for
// challenges trading crypto instruments. Quote hits the cheap mark-price
// endpoint; Tick fetches the latest 1m kline so callers also get the candle
// whose close is the canonical price.
type BinanceFeed struct {
	client *futures.Client
}

func NewBinanceFeed(cfg BinanceConfig) *BinanceFeed {
	client := futures.NewClient("", "")
	if base := strings.TrimSpace(cfg.RESTBaseURL); base != "" {
		client.BaseURL = base
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client.HTTPClient = &http.Client{Timeout: timeout}
	return &BinanceFeed{client: client}
}

func (f *BinanceFeed) Quote(ctx context.Context, symbol string) (Tick, error) {
	clean := binanceSymbol(symbol)
	prices, err := f.client.NewListPricesService().Symbol(clean).Do(ctx)
	if err != nil {
		return Tick{}, err
	}
	if len(prices) == 0 || prices[0] == nil {
		return Tick{}, fmt.Errorf("%w: %s", ErrNoQuote, symbol)
	}
	price := parseFloat(prices[0].Price)
	if price <= 0 {
		return Tick{}, fmt.Errorf("%w: %s", ErrNoQuote, symbol)
	}
	return Tick{
		Symbol:    symbol,
		Price:     price,
		Timestamp: time.Now().UTC(),
		Source:    SourceLive,
	}, nil
}

func (f *BinanceFeed) Tick(ctx context.Context, symbol string) (Tick, error) {
	clean := binanceSymbol(symbol)
	kls, err := f.client.NewKlinesService().Symbol(clean).Interval("1m").Limit(1).Do(ctx)
	if err != nil {
		return Tick{}, err
	}
	if len(kls) == 0 || kls[0] == nil {
		return Tick{}, fmt.Errorf("%w: %s", ErrNoQuote, symbol)
	}
	kl := kls[0]
	candle := &Candle{
		Open:  parseFloat(kl.Open),
		High:  parseFloat(kl.High),
		Low:   parseFloat(kl.Low),
		Close: parseFloat(kl.Close),
		Start: time.UnixMilli(kl.OpenTime).UTC(),
	}
	if candle.Close <= 0 {
		return Tick{}, fmt.Errorf("%w: %s", ErrNoQuote, symbol)
	}
	return Tick{
		Symbol:    symbol,
		Price:     candle.Close,
		Timestamp: time.Now().UTC(),
		Candle:    candle,
		Source:    SourceLive,
	}, nil
}

// Binance wants symbols without separators (ETH/USDT -> ETHUSDT).
func binanceSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	s = strings.ReplaceAll(s, "/", "")
	return strings.ReplaceAll(s, "-", "")
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}
