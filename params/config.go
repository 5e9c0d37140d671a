package params

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/uhyunpark/hypermargin/pkg/apperrors"
	"github.com/uhyunpark/hypermargin/pkg/crypto"
)

type Chain struct {
	RPCURL     string
	Commitment string
	// RPC budget shared by every fetch in a round
	RatePerSec float64
	RateBurst  int
}

type Programs struct {
	Margin string
	Perp   string
	Lend   string
}

type Crank struct {
	GroupAddress string
	// LiquidatorAccount is the crank's own margin account. Empty runs the
	// crank in observe-only mode: verdicts are recorded, nothing is submitted.
	LiquidatorAccount string
	Interval          time.Duration
	Concurrency       int
	// AccrueAfter is how stale the bank may get before the crank submits
	// an interest accrual; 0 disables accrual
	AccrueAfter time.Duration
	WatchFile   string
	Watch             []WatchEntry
}

// WatchEntry is one account the crank sweeps
type WatchEntry struct {
	Address string `yaml:"address"`
	Label   string `yaml:"label,omitempty"`
}

type Config struct {
	Chain    Chain
	Programs Programs
	Crank    Crank
	DBPath   string
	APIAddr  string
	LogFile  string
	LogLevel string
}

func Default() Config {
	return Config{
		Chain: Chain{
			RPCURL:     "http://127.0.0.1:8899",
			Commitment: "confirmed",
			RatePerSec: 20,
			RateBurst:  40,
		},
		Crank: Crank{
			Interval:    2 * time.Second,
			Concurrency: 8,
			AccrueAfter: time.Minute,
		},
		DBPath:   "./data/crank",
		APIAddr:  ":8080",
		LogLevel: "info",
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	// Try to load .env file (optional - won't fail if not exists)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	cfg.Chain.RPCURL = getEnv("RPC_URL", cfg.Chain.RPCURL)
	cfg.Chain.Commitment = getEnv("RPC_COMMITMENT", cfg.Chain.Commitment)
	if rate := os.Getenv("RPC_RATE_PER_SEC"); rate != "" {
		if v, err := strconv.ParseFloat(rate, 64); err == nil {
			cfg.Chain.RatePerSec = v
		}
	}
	if burst := os.Getenv("RPC_RATE_BURST"); burst != "" {
		if v, err := strconv.Atoi(burst); err == nil {
			cfg.Chain.RateBurst = v
		}
	}

	cfg.Programs.Margin = getEnv("PROGRAM_ID", cfg.Programs.Margin)
	cfg.Programs.Perp = getEnv("PERP_PROGRAM_ID", cfg.Programs.Perp)
	cfg.Programs.Lend = getEnv("LEND_PROGRAM_ID", cfg.Programs.Lend)

	cfg.Crank.GroupAddress = getEnv("GROUP_ADDRESS", cfg.Crank.GroupAddress)
	cfg.Crank.LiquidatorAccount = getEnv("LIQUIDATOR_ACCOUNT", cfg.Crank.LiquidatorAccount)
	if interval := os.Getenv("CRANK_INTERVAL_MS"); interval != "" {
		if ms, err := strconv.Atoi(interval); err == nil {
			cfg.Crank.Interval = time.Duration(ms) * time.Millisecond
		}
	}
	if n := os.Getenv("CRANK_CONCURRENCY"); n != "" {
		if v, err := strconv.Atoi(n); err == nil {
			cfg.Crank.Concurrency = v
		}
	}
	if after := os.Getenv("CRANK_ACCRUE_AFTER_S"); after != "" {
		if sec, err := strconv.Atoi(after); err == nil {
			cfg.Crank.AccrueAfter = time.Duration(sec) * time.Second
		}
	}
	cfg.Crank.WatchFile = getEnv("WATCH_FILE", cfg.Crank.WatchFile)
	// Comma-separated list, merged with the watch file
	if accounts := os.Getenv("WATCH_ACCOUNTS"); accounts != "" {
		for _, a := range strings.Split(accounts, ",") {
			if a = strings.TrimSpace(a); a != "" {
				cfg.Crank.Watch = append(cfg.Crank.Watch, WatchEntry{Address: a})
			}
		}
	}

	cfg.DBPath = getEnv("DB_PATH", cfg.DBPath)
	cfg.APIAddr = getEnv("API_ADDR", cfg.APIAddr)
	cfg.LogFile = getEnv("LOG_FILE", cfg.LogFile)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)

	return cfg
}

type watchFile struct {
	Accounts []WatchEntry `yaml:"accounts"`
}

// LoadWatchFile appends the accounts listed in the YAML file at
// Crank.WatchFile, if one is set
func (c *Config) LoadWatchFile() error {
	if c.Crank.WatchFile == "" {
		return nil
	}
	data, err := os.ReadFile(c.Crank.WatchFile)
	if err != nil {
		return fmt.Errorf("read watch file: %w", err)
	}
	var wf watchFile
	if err := yaml.Unmarshal(data, &wf); err != nil {
		return fmt.Errorf("parse watch file %s: %w", c.Crank.WatchFile, err)
	}
	c.Crank.Watch = append(c.Crank.Watch, wf.Accounts...)
	return nil
}

// Resolved holds the parsed addresses of a validated config
type Resolved struct {
	MarginProgram crypto.Pubkey
	PerpProgram   crypto.Pubkey
	LendProgram   crypto.Pubkey
	Group         crypto.Pubkey
	Liquidator    crypto.Pubkey // zero in observe-only mode
	Watch         []crypto.Pubkey
}

// Resolve parses every address and checks the crank settings. Duplicate
// watch entries are dropped.
func (c Config) Resolve() (Resolved, error) {
	var r Resolved
	var err error
	parse := func(name, s string, dst *crypto.Pubkey) {
		if err != nil {
			return
		}
		if *dst, err = crypto.ParsePubkey(s); err != nil {
			err = fmt.Errorf("%s: %w", name, err)
		}
	}
	parse("PROGRAM_ID", c.Programs.Margin, &r.MarginProgram)
	parse("PERP_PROGRAM_ID", c.Programs.Perp, &r.PerpProgram)
	parse("LEND_PROGRAM_ID", c.Programs.Lend, &r.LendProgram)
	parse("GROUP_ADDRESS", c.Crank.GroupAddress, &r.Group)
	if c.Crank.LiquidatorAccount != "" {
		parse("LIQUIDATOR_ACCOUNT", c.Crank.LiquidatorAccount, &r.Liquidator)
	}
	seen := make(map[crypto.Pubkey]bool)
	for i, w := range c.Crank.Watch {
		var k crypto.Pubkey
		parse(fmt.Sprintf("watch[%d] %s", i, w.Label), w.Address, &k)
		if err == nil && !seen[k] {
			seen[k] = true
			r.Watch = append(r.Watch, k)
		}
	}
	if err != nil {
		return Resolved{}, err
	}

	if c.Crank.Interval <= 0 {
		return Resolved{}, fmt.Errorf("crank interval %s: %w", c.Crank.Interval, apperrors.ErrInvalidConfig)
	}
	if c.Crank.Concurrency < 1 {
		return Resolved{}, fmt.Errorf("crank concurrency %d: %w", c.Crank.Concurrency, apperrors.ErrInvalidConfig)
	}
	if c.Crank.AccrueAfter < 0 {
		return Resolved{}, fmt.Errorf("accrue after %s: %w", c.Crank.AccrueAfter, apperrors.ErrInvalidConfig)
	}
	if c.Chain.RatePerSec <= 0 || c.Chain.RateBurst < 1 {
		return Resolved{}, fmt.Errorf("rpc rate %.2f/s burst %d: %w", c.Chain.RatePerSec, c.Chain.RateBurst, apperrors.ErrInvalidConfig)
	}
	if r.PerpProgram == r.LendProgram {
		return Resolved{}, fmt.Errorf("perp and lend share program %s: %w", r.PerpProgram, apperrors.ErrInvalidConfig)
	}
	return r, nil
}

// Validate fails on anything Resolve rejects
func (c Config) Validate() error {
	_, err := c.Resolve()
	return err
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
