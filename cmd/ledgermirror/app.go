package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/AIAleph/mvp_ledger_mirror/internal/api"
	cfgpkg "github.com/AIAleph/mvp_ledger_mirror/internal/config"
	"github.com/AIAleph/mvp_ledger_mirror/internal/contract"
	"github.com/AIAleph/mvp_ledger_mirror/internal/eth"
	"github.com/AIAleph/mvp_ledger_mirror/internal/export"
	"github.com/AIAleph/mvp_ledger_mirror/internal/logging"
	"github.com/AIAleph/mvp_ledger_mirror/internal/mirror"
	"github.com/AIAleph/mvp_ledger_mirror/internal/normalize"
	"github.com/AIAleph/mvp_ledger_mirror/internal/session"
	"github.com/AIAleph/mvp_ledger_mirror/internal/store"
)

// app is the wired object graph of one invocation.
type app struct {
	ledger  *contract.Ledger
	mirror  *mirror.Mirror
	session *session.Session
	kv      kvStore

	closeOnce sync.Once
}

func build(o options, cfg cfgpkg.Config, format normalize.Formatter) (*app, error) {
	var reader eth.Provider
	if strings.TrimSpace(o.providerURL) != "" {
		p, err := newProvider(o.providerURL, o.rateLimit, cfg.HTTPRetries, cfg.HTTPBackoffBase)
		if err != nil {
			return nil, fmt.Errorf("provider: %w", err)
		}
		reader = p
	}
	// The wallet endpoint defaults to the provider.
	signer := reader
	if w := strings.TrimSpace(o.walletURL); w != "" && w != strings.TrimSpace(o.providerURL) {
		p, err := newProvider(w, o.rateLimit, cfg.HTTPRetries, cfg.HTTPBackoffBase)
		if err != nil {
			return nil, fmt.Errorf("wallet: %w", err)
		}
		signer = p
	}

	a := &app{}
	// Appends are signed by the wallet endpoint; reads go to the provider.
	var ml mirror.Ledger
	var appender session.Appender
	if o.contract != "" {
		if reader != nil {
			l, err := contract.NewLedger(reader, o.contract, cfg.ReceiptPoll)
			if err != nil {
				return nil, err
			}
			a.ledger, ml = l, l
		}
		if signer != nil {
			l, err := contract.NewLedger(signer, o.contract, cfg.ReceiptPoll)
			if err != nil {
				return nil, err
			}
			appender = session.LedgerAppender(l)
		}
	}

	dir := o.cacheDir
	if dir == cfgpkg.MemoryCacheDir {
		dir = ""
	}
	kv, err := openStore(dir)
	if err != nil {
		return nil, err
	}
	a.kv = kv

	var wallet session.Wallet
	if signer != nil {
		wallet = eth.NewWallet(signer, cfg.ReceiptPoll)
	}
	a.mirror = mirror.New(context.Background(), ml, store.NewCountCache(kv), format)
	a.session = session.New(wallet, appender, a.mirror)
	return a, nil
}

func (a *app) close() {
	a.closeOnce.Do(func() {
		if a.kv != nil {
			if err := a.kv.Close(); err != nil {
				logging.Logger().Warn("store_close_failed", "component", "cmd", "error", err.Error())
			}
		}
	})
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func (a *app) run(ctx context.Context, o options, cfg cfgpkg.Config) error {
	switch o.mode {
	case "status":
		err := a.session.Init(ctx)
		printJSON(a.session.Snapshot())
		return err
	case "connect":
		acct, err := a.session.ConnectWallet(ctx)
		if err != nil {
			return err
		}
		fmt.Println(acct)
		return nil
	case "count":
		if err := a.mirror.RefreshCount(ctx); err != nil {
			return err
		}
		n, _ := a.mirror.CachedCount()
		fmt.Println(n)
		return nil
	case "list":
		if err := a.mirror.Refresh(ctx); err != nil {
			return err
		}
		txs := a.mirror.Transactions()
		printJSON(txs)
		return a.export(ctx, o, txs)
	case "send":
		return a.send(ctx, o)
	case "serve":
		if err := a.session.Init(ctx); err != nil {
			logging.Logger().Warn("startup_checks_failed", "component", "cmd", "error", err.Error())
		}
		srv := api.NewServer(o.listen, a.session, api.Options{AllowedOrigins: cfg.AllowedOrigins})
		logging.Logger().Info("http_listening", "component", "cmd", "addr", o.listen)
		return serveHTTP(ctx, srv)
	}
	return fmt.Errorf("unknown mode %q", o.mode)
}

func (a *app) send(ctx context.Context, o options) error {
	if _, err := a.session.ConnectWallet(ctx); err != nil {
		return err
	}
	fields := map[string]string{
		session.FieldSendTo:  strings.TrimSpace(o.to),
		session.FieldAmount:  o.amount,
		session.FieldMessage: o.message,
		session.FieldKeyword: o.keyword,
	}
	for name, v := range fields {
		if err := a.session.HandleChange(name, v); err != nil {
			return err
		}
	}
	res, err := a.session.SendTransaction(ctx)
	if res != nil {
		// Printed on failure too: the transfer may already be on chain.
		printJSON(res)
	}
	if err != nil {
		return err
	}
	return nil
}

func (a *app) export(ctx context.Context, o options, txs []normalize.DisplayTransaction) error {
	if strings.TrimSpace(o.chDSN) == "" {
		return nil
	}
	sink, err := newExportSink(o.chDSN)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	exp := export.New(sink, o.chTable)
	if err := exp.EnsureTable(ctx); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	n, err := exp.Export(ctx, a.ledger.Address(), txs)
	if err != nil {
		return err
	}
	logging.Logger().Info("snapshot_exported", "component", "cmd", "table", o.chTable, "rows", n)
	return nil
}
