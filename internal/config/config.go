package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	maxRateLimit       = 200
	minRateLimit       = 0
	maxHTTPRetries     = 10
	minHTTPRetries     = 0
	minBackoffBase     = 10 * time.Millisecond
	maxBackoffBase     = 10 * time.Second
	minRPCTimeout      = 100 * time.Millisecond
	maxRPCTimeout      = 30 * time.Minute
	minReceiptPoll     = 100 * time.Millisecond
	maxReceiptPoll     = time.Minute
	defaultCacheDir    = ".ledgermirror"
	defaultListenAddr  = ":8080"
	defaultExportTable = "ledger_transactions"
)

// MemoryCacheDir as CACHE_DIR keeps the count cache in memory only.
const MemoryCacheDir = ":memory:"

// Config holds 12-factor configuration used across binaries. Values come from
// the environment, optionally layered over the YAML file named by CONFIG_FILE.
type Config struct {
	ProviderURL     string
	WalletURL       string
	ContractAddress string
	RateLimit       int
	HTTPRetries     int
	HTTPBackoffBase time.Duration
	RPCTimeout      time.Duration
	ReceiptPoll     time.Duration
	CacheDir        string
	DisplayTZ       string
	DisplayLayout   string
	ListenAddr      string
	AllowedOrigins  []string
	LogLevel        string
	ClickHouseDSN   string
	ClickHouseTable string
}

// source reads keys through viper. Environment variables win over the file;
// empty variables count as unset.
type source struct {
	v *viper.Viper
}

func newSource(file string) (source, error) {
	v := viper.New()
	v.AutomaticEnv()
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return source{}, err
		}
	}
	return source{v: v}, nil
}

func (s source) str(key, def string) string {
	if v := strings.TrimSpace(s.v.GetString(key)); v != "" {
		return v
	}
	return def
}

func (s source) intOr(key string, def int) int {
	v := s.str(key, "")
	if v == "" {
		return def
	}
	if i, err := strconv.Atoi(v); err == nil {
		return i
	}
	return def
}

func (s source) durOr(key string, def time.Duration) time.Duration {
	v := s.str(key, "")
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	return def
}

func (s source) list(key string) []string {
	var out []string
	for _, part := range strings.Split(s.str(key, ""), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func clampDuration(v, min, max time.Duration) time.Duration {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// BuildClickHouseDSN assembles a ClickHouse DSN from the environment.
// Prefers CLICKHOUSE_DSN; otherwise combines CLICKHOUSE_URL/DB/USER/PASS.
func BuildClickHouseDSN() string {
	s, _ := newSource("")
	return buildClickHouseDSN(s)
}

func buildClickHouseDSN(s source) string {
	if dsn := s.str("CLICKHOUSE_DSN", ""); dsn != "" {
		return dsn
	}
	base := s.str("CLICKHOUSE_URL", "") // e.g., http://localhost:8123
	db := s.str("CLICKHOUSE_DB", "")
	user := s.str("CLICKHOUSE_USER", "")
	pass := s.str("CLICKHOUSE_PASS", "")
	if base == "" || db == "" {
		return ""
	}
	u, err := url.Parse(base)
	if err != nil {
		return strings.TrimRight(base, "/") + "/" + db
	}
	if user != "" {
		if pass != "" {
			u.User = url.UserPassword(user, pass)
		} else {
			u.User = url.User(user)
		}
	}
	p := strings.TrimRight(u.Path, "/")
	switch {
	case p == "":
		u.Path = "/" + db
	case strings.HasSuffix(p, "/"+db):
		u.Path = p
	default:
		u.Path = p + "/" + db
	}
	return u.String()
}

// RedactDSN hides credentials in DSN-like URLs to avoid logging secrets.
func RedactDSN(s string) string {
	if s == "" {
		return s
	}
	if u, err := url.Parse(s); err == nil && u.User != nil {
		if name := u.User.Username(); name != "" {
			u.User = url.UserPassword(name, "***")
		} else {
			u.User = url.User("***")
		}
		return u.String()
	}
	// Unparsable or opaque forms: mask "user:pass@" by hand.
	if i := strings.Index(s, "//"); i >= 0 {
		j := strings.Index(s[i+2:], "@")
		if j > 0 {
			prefix := s[:i+2]
			creds := s[i+2 : i+2+j]
			if strings.Contains(creds, ":") {
				user := strings.SplitN(creds, ":", 2)[0]
				return prefix + user + ":***@" + s[i+2+j+1:]
			}
		}
	}
	return s
}

// Load reads configuration and applies defaults. Invalid numbers and
// durations fall back to their defaults; out-of-range values are clamped.
// Only an unreadable CONFIG_FILE is an error.
func Load() (Config, error) {
	s, err := newSource(strings.TrimSpace(os.Getenv("CONFIG_FILE")))
	if err != nil {
		return Config{}, fmt.Errorf("config file: %w", err)
	}
	provider := s.str("ETH_PROVIDER_URL", "")
	return Config{
		ProviderURL:     provider,
		WalletURL:       s.str("WALLET_URL", provider),
		ContractAddress: s.str("CONTRACT_ADDRESS", ""),
		RateLimit:       clampInt(s.intOr("RATE_LIMIT", 0), minRateLimit, maxRateLimit),
		HTTPRetries:     clampInt(s.intOr("HTTP_RETRIES", 2), minHTTPRetries, maxHTTPRetries),
		HTTPBackoffBase: clampDuration(s.durOr("HTTP_BACKOFF_BASE", 100*time.Millisecond), minBackoffBase, maxBackoffBase),
		RPCTimeout:      clampDuration(s.durOr("RPC_TIMEOUT", 30*time.Second), minRPCTimeout, maxRPCTimeout),
		ReceiptPoll:     clampDuration(s.durOr("RECEIPT_POLL_INTERVAL", time.Second), minReceiptPoll, maxReceiptPoll),
		CacheDir:        s.str("CACHE_DIR", defaultCacheDir),
		DisplayTZ:       s.str("DISPLAY_TZ", "Local"),
		DisplayLayout:   s.str("DISPLAY_LAYOUT", ""),
		ListenAddr:      s.str("LISTEN_ADDR", defaultListenAddr),
		AllowedOrigins:  s.list("CORS_ALLOWED_ORIGINS"),
		LogLevel:        s.str("LOG_LEVEL", "info"),
		ClickHouseDSN:   buildClickHouseDSN(s),
		ClickHouseTable: s.str("CLICKHOUSE_TABLE", defaultExportTable),
	}, nil
}
