package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	cfgpkg "github.com/AIAleph/mvp_ledger_mirror/internal/config"
	"github.com/AIAleph/mvp_ledger_mirror/internal/contract"
	"github.com/AIAleph/mvp_ledger_mirror/internal/eth"
	"github.com/AIAleph/mvp_ledger_mirror/internal/export"
	"github.com/AIAleph/mvp_ledger_mirror/internal/logging"
	"github.com/AIAleph/mvp_ledger_mirror/internal/normalize"
	"github.com/AIAleph/mvp_ledger_mirror/internal/store"
	"github.com/AIAleph/mvp_ledger_mirror/pkg/ch"
)

// kvStore is the durable cache handle the binary owns.
type kvStore interface {
	store.KV
	Close() error
}

var (
	// version is set via -ldflags "-X main.version=..."
	version = "dev"
	// exit is aliased to os.Exit to allow overriding in tests.
	exit = os.Exit
	// function variables allow tests to inject stubs
	newProvider   func(endpoint string, rate int, retries int, backoff time.Duration) (eth.Provider, error)
	openStore     func(dir string) (kvStore, error)
	newExportSink func(dsn string) (export.Sink, error)
	serveHTTP     func(ctx context.Context, srv *http.Server) error
)

func defaultNewProvider(endpoint string, rate int, retries int, backoff time.Duration) (eth.Provider, error) {
	return eth.NewProvider(endpoint, rate, retries, backoff)
}

func defaultOpenStore(dir string) (kvStore, error) {
	return store.OpenBadger(dir)
}

func defaultNewExportSink(dsn string) (export.Sink, error) {
	return ch.New(dsn)
}

// defaultServeHTTP runs srv until ctx ends, then drains it.
func defaultServeHTTP(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func wireDefaults() {
	newProvider = defaultNewProvider
	openStore = defaultOpenStore
	newExportSink = defaultNewExportSink
	serveHTTP = defaultServeHTTP
}

func init() { wireDefaults() }

var modes = []string{"status", "connect", "list", "count", "send", "serve"}

func validMode(m string) bool {
	for _, v := range modes {
		if v == m {
			return true
		}
	}
	return false
}

// printUsage prints a detailed CLI help with env mappings and examples.
func printUsage() {
	out := flag.CommandLine.Output()
	fmt.Fprintf(out, "\nUsage:\n  %s [--mode %s] [flags]\n\n", os.Args[0], strings.Join(modes, "|"))
	fmt.Fprintln(out, "Flags:")
	flag.PrintDefaults()
	fmt.Fprintln(out, "\nEnvironment variables (defaults):")
	fmt.Fprintln(out, "  CONFIG_FILE            Optional YAML file with the keys below")
	fmt.Fprintln(out, "  ETH_PROVIDER_URL       JSON-RPC endpoint for ledger reads (default empty)")
	fmt.Fprintln(out, "  WALLET_URL             Account-holding JSON-RPC endpoint (default ETH_PROVIDER_URL)")
	fmt.Fprintln(out, "  CONTRACT_ADDRESS       Ledger contract address (0x...)")
	fmt.Fprintln(out, "  RATE_LIMIT             RPC rate limit (req/s, default 0 = unlimited)")
	fmt.Fprintln(out, "  HTTP_RETRIES           HTTP retries on 5xx/429/network (default 2)")
	fmt.Fprintln(out, "  HTTP_BACKOFF_BASE      Backoff base for retries (default 100ms)")
	fmt.Fprintln(out, "  RPC_TIMEOUT            Per-command timeout (default 30s)")
	fmt.Fprintln(out, "  RECEIPT_POLL_INTERVAL  Receipt polling interval (default 1s)")
	fmt.Fprintln(out, "  CACHE_DIR              Count cache directory (default .ledgermirror, :memory: to disable)")
	fmt.Fprintln(out, "  DISPLAY_TZ             Time zone for timestamps (default Local)")
	fmt.Fprintln(out, "  DISPLAY_LAYOUT         Go time layout for timestamps")
	fmt.Fprintln(out, "  LISTEN_ADDR            HTTP listen address for serve (default :8080)")
	fmt.Fprintln(out, "  CORS_ALLOWED_ORIGINS   Comma-separated origins (default *)")
	fmt.Fprintln(out, "  LOG_LEVEL              debug|info|warn|error (default info)")
	fmt.Fprintln(out, "  CLICKHOUSE_DSN         ClickHouse DSN for snapshot export (preferred if set)")
	fmt.Fprintln(out, "  CLICKHOUSE_URL/DB/USER/PASS  Parts used when CLICKHOUSE_DSN is empty")
	fmt.Fprintln(out, "  CLICKHOUSE_TABLE       Export table (default ledger_transactions)")
	fmt.Fprintln(out, "\nExamples:")
	fmt.Fprintln(out, "  List the ledger and export a snapshot:")
	fmt.Fprintln(out, "    ledgermirror --mode list --contract 0xabc... --provider $ETH_PROVIDER_URL")
	fmt.Fprintln(out, "  Send 0.01 and record it:")
	fmt.Fprintln(out, "    ledgermirror --mode send --to 0xdef... --amount 0.01 --message hi --keyword gift")
	fmt.Fprintln(out, "  Serve the UI API:")
	fmt.Fprintln(out, "    ledgermirror --mode serve --listen :8080")
}

type options struct {
	mode        string
	providerURL string
	walletURL   string
	contract    string
	rateLimit   int
	timeout     time.Duration
	cacheDir    string
	tz          string
	layout      string
	listen      string
	chDSN       string
	chTable     string
	to          string
	amount      string
	message     string
	keyword     string
}

func usageErr(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	exit(2)
}

// ledgermirror entrypoint: keeps a local mirror of the on-chain ledger and
// drives the wallet actions from the command line or over HTTP.
func main() {
	defaults, err := cfgpkg.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		exit(2)
		return
	}
	var (
		o           options
		logLevel    string
		dryRun      bool
		showVersion bool
	)

	flag.Usage = printUsage
	flag.StringVar(&o.mode, "mode", "status", "Mode: "+strings.Join(modes, " | "))
	flag.StringVar(&o.providerURL, "provider", defaults.ProviderURL, "Ethereum RPC provider URL (ETH_PROVIDER_URL)")
	flag.StringVar(&o.walletURL, "wallet", defaults.WalletURL, "Wallet RPC URL (WALLET_URL)")
	flag.StringVar(&o.contract, "contract", defaults.ContractAddress, "Ledger contract address (CONTRACT_ADDRESS)")
	flag.IntVar(&o.rateLimit, "rate-limit", defaults.RateLimit, "RPC rate limit (req/s, 0 = unlimited)")
	flag.DurationVar(&o.timeout, "timeout", defaults.RPCTimeout, "Command timeout (ignored by serve)")
	flag.StringVar(&o.cacheDir, "cache-dir", defaults.CacheDir, "Count cache directory (CACHE_DIR)")
	flag.StringVar(&o.tz, "tz", defaults.DisplayTZ, "Display time zone (DISPLAY_TZ)")
	flag.StringVar(&o.listen, "listen", defaults.ListenAddr, "HTTP listen address (LISTEN_ADDR)")
	flag.StringVar(&o.chDSN, "clickhouse", defaults.ClickHouseDSN, "ClickHouse DSN for list exports (CLICKHOUSE_DSN)")
	flag.StringVar(&o.to, "to", "", "Recipient address for --mode send")
	flag.StringVar(&o.amount, "amount", "", "Amount in ether for --mode send (e.g. 0.01)")
	flag.StringVar(&o.message, "message", "", "Message recorded with the transfer")
	flag.StringVar(&o.keyword, "keyword", "", "Keyword recorded with the transfer")
	flag.StringVar(&logLevel, "log-level", defaults.LogLevel, "Log level: debug | info | warn | error")
	flag.BoolVar(&dryRun, "dry-run", false, "Print plan and exit")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()
	o.layout = defaults.DisplayLayout
	o.chTable = defaults.ClickHouseTable

	if showVersion {
		fmt.Println(version)
		return
	}

	o.mode = strings.ToLower(strings.TrimSpace(o.mode))
	if !validMode(o.mode) {
		usageErr("unknown --mode %q (use %s)", o.mode, strings.Join(modes, "|"))
		return
	}
	o.contract = strings.TrimSpace(o.contract)
	if o.contract != "" && !contract.ValidAddress(o.contract) {
		usageErr("invalid --contract; expected 0x-prefixed 40 hex chars")
		return
	}
	if o.contract == "" && (o.mode == "list" || o.mode == "count" || o.mode == "send") {
		usageErr("missing --contract (0x...) for --mode %s; see --help", o.mode)
		return
	}
	if o.mode == "send" {
		if !contract.ValidAddress(strings.TrimSpace(o.to)) {
			usageErr("invalid --to; expected 0x-prefixed 40 hex chars")
			return
		}
		if _, err := normalize.ParseAmount(o.amount); err != nil {
			usageErr("invalid --amount: %v", err)
			return
		}
	}
	if o.rateLimit < 0 {
		usageErr("--rate-limit must be >= 0")
		return
	}
	format, err := normalize.NewFormatter(o.tz, o.layout)
	if err != nil {
		usageErr("invalid --tz %q: %v", o.tz, err)
		return
	}

	if dryRun {
		// Print a compact JSON plan and exit.
		plan := map[string]any{
			"mode":           o.mode,
			"provider":       cfgpkg.RedactDSN(o.providerURL),
			"wallet":         cfgpkg.RedactDSN(o.walletURL),
			"contract":       o.contract,
			"rate_limit":     o.rateLimit,
			"timeout":        o.timeout.String(),
			"cache_dir":      o.cacheDir,
			"tz":             o.tz,
			"listen":         o.listen,
			"clickhouse_dsn": cfgpkg.RedactDSN(o.chDSN),
			"export_table":   o.chTable,
		}
		if o.mode == "send" {
			plan["send"] = map[string]string{"to": o.to, "amount": o.amount, "message": o.message, "keyword": o.keyword}
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(plan)
		return
	}

	logging.SetLogger(logging.New(os.Stderr, logging.ParseLevel(logLevel)))

	a, err := build(o, defaults, format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "setup error: %v\n", err)
		exit(1)
		return
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if o.mode != "serve" {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}
	if err := a.run(ctx, o, defaults); err != nil {
		fmt.Fprintf(os.Stderr, "%s error: %v\n", o.mode, err)
		a.close()
		exit(1)
		return
	}
}
