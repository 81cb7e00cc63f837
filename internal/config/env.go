package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"dex-copy-engine/internal/domain"
)

// LoadDotEnv loads .env files into the process environment.
// Variables already set take precedence. Missing files are not an error.
func LoadDotEnv(files ...string) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		_ = godotenv.Load(f)
	}
}

// GetEnv returns the variable or def when unset.
func GetEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// GetEnvInt returns the integer variable or def when unset or invalid.
func GetEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

// GetEnvFloat returns the float variable or def when unset or invalid.
func GetEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

// GetEnvBool returns the boolean variable or def when unset or invalid.
func GetEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// GetEnvDuration returns the duration variable or def when unset or invalid.
func GetEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// SplitAndTrim splits a comma separated list, dropping empty items.
func SplitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// ApplyEnv overrides secrets and endpoints from the environment.
// RPC endpoints are read from <CHAIN>_RPC_ENDPOINTS, e.g. BSC_RPC_ENDPOINTS.
func (c *Config) ApplyEnv() {
	for name, cc := range c.Chains {
		if eps := SplitAndTrim(os.Getenv(strings.ToUpper(name) + "_RPC_ENDPOINTS")); len(eps) > 0 {
			cc.RPCEndpoints = eps
		}
		for i := range cc.Venues {
			if cc.Venues[i].Type == domain.VenueAggregator {
				cc.Venues[i].APIKey = GetEnv("AGGREGATOR_API_KEY", cc.Venues[i].APIKey)
			}
		}
		c.Chains[name] = cc
	}

	c.MarketData.BaseURL = GetEnv("MARKET_DATA_URL", c.MarketData.BaseURL)
	c.MarketData.APIKey = GetEnv("MARKET_DATA_API_KEY", c.MarketData.APIKey)
	c.MarketData.StreamURL = GetEnv("MARKET_DATA_STREAM_URL", c.MarketData.StreamURL)
	c.Signer.URL = GetEnv("SIGNER_URL", c.Signer.URL)
	c.Signer.Token = GetEnv("SIGNER_TOKEN", c.Signer.Token)
	c.Events.AMQPURL = GetEnv("RABBITMQ_URL", c.Events.AMQPURL)

	c.Safety.LiquidityCheck = GetEnvBool("SAFETY_LIQUIDITY_CHECK", c.Safety.LiquidityCheck)
	c.Safety.ReasonabilityCheck = GetEnvBool("SAFETY_REASONABILITY_CHECK", c.Safety.ReasonabilityCheck)
	c.Safety.ImpactCheck = GetEnvBool("SAFETY_IMPACT_CHECK", c.Safety.ImpactCheck)
	c.Safety.DeviationAbort = GetEnvBool("SAFETY_DEVIATION_ABORT", c.Safety.DeviationAbort)
}
