package broker

import (
	"fmt"
	"strings"
	"time"

	"alphadesk/internal/config"
)

// NewFromConfig 按配置构造底层适配器并包上 Guarded。
func NewFromConfig(cfg config.BrokerConfig, contractSize float64) (*Guarded, error) {
	var inner Adapter
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	switch strings.ToLower(strings.TrimSpace(cfg.Kind)) {
	case "", "paper":
		inner = NewPaperBroker(PaperOptions{
			Balance:      cfg.PaperBalance,
			Spread:       cfg.PaperSpread,
			ContractSize: contractSize,
			Volatility:   0.0005,
			Seed:         time.Now().UnixNano(),
		})
	case "http":
		hb, err := NewHTTPBridge(cfg.BaseURL, cfg.APIKey, timeout)
		if err != nil {
			return nil, err
		}
		inner = hb
	default:
		return nil, fmt.Errorf("unsupported broker kind: %s", cfg.Kind)
	}
	return NewGuarded(inner, GuardOptions{
		Timeout:         timeout,
		FetchAttempts:   cfg.FetchRetries,
		BreakerFailures: cfg.BreakerFails,
		BreakerCooldown: time.Duration(cfg.BreakerCoolSec) * time.Second,
	}), nil
}
