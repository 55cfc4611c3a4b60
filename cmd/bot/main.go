package main

import (
	"context"
	"crypto/rsa"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/sdibella/boxarb/internal/alert"
	"github.com/sdibella/boxarb/internal/config"
	"github.com/sdibella/boxarb/internal/coordinator"
	"github.com/sdibella/boxarb/internal/edge"
	"github.com/sdibella/boxarb/internal/execution"
	"github.com/sdibella/boxarb/internal/interval"
	"github.com/sdibella/boxarb/internal/journal"
	"github.com/sdibella/boxarb/internal/mapping"
	"github.com/sdibella/boxarb/internal/metrics"
	"github.com/sdibella/boxarb/internal/position"
	"github.com/sdibella/boxarb/internal/quote"
	"github.com/sdibella/boxarb/internal/reconcile"
	"github.com/sdibella/boxarb/internal/risk"
	"github.com/sdibella/boxarb/internal/settlement"
	"github.com/sdibella/boxarb/internal/venuek"
	"github.com/sdibella/boxarb/internal/venuep"
	"github.com/sdibella/boxarb/internal/volatility"
)

// maxRetainedMappings bounds the mapping store's interval history, the way
// the teacher bounds its single markets map via cleanupMarket — a handful
// of 15-minute intervals is plenty since only the current and next are
// ever read.
const maxRetainedMappings = 4

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	dryRun := flag.Bool("dry-run", false, "paper trade only (no real orders)")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	baseHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.New(baseHandler).Error("config error", "err", err)
		os.Exit(1)
	}
	if *dryRun {
		cfg.DryRun = true
	}

	notifier, err := alert.NewNotifier(alert.Config{
		BotToken: cfg.Alert.BotToken,
		ChatID:   alert.ParseChatID(cfg.Alert.ChatID),
	}, slog.New(baseHandler))
	if err != nil {
		slog.New(baseHandler).Error("telegram notifier init failed", "err", err)
		os.Exit(1)
	}
	logger := slog.New(alert.NewHandler(baseHandler, notifier))
	slog.SetDefault(logger)

	logger.Info("boxarb starting", "venue_k_env", cfg.VenueK.Env, "dry_run", cfg.DryRun)

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		go startMetricsServer(logger, m, cfg.Metrics.Addr)
	}

	j, err := journal.New(cfg.Journal.Path)
	if err != nil {
		logger.Error("journal init failed", "err", err)
		os.Exit(1)
	}
	defer j.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mappings := mapping.New(maxRetainedMappings)

	var wsP *venuep.WSClient
	var wsK *venuek.WSClient
	quotes := quote.New(
		func() {
			cur, ok := mappings.Current(time.Now())
			if !ok || wsP == nil {
				return
			}
			ids := make([]string, 0, 2)
			if cur.P.UpTokenID != "" {
				ids = append(ids, cur.P.UpTokenID)
			}
			if cur.P.DownTokenID != "" {
				ids = append(ids, cur.P.DownTokenID)
			}
			if len(ids) > 0 {
				_ = wsP.Subscribe(ids)
			}
		},
		func() {
			cur, ok := mappings.Current(time.Now())
			if !ok || wsK == nil || cur.K.MarketTicker == "" {
				return
			}
			_ = wsK.Subscribe([]string{cur.K.MarketTicker})
		},
	)
	go quotes.WatchStaleness(ctx.Done())

	// Venue P (Polymarket-shaped)
	auth, err := venuep.NewAuth(cfg.VenueP.Wallet.PrivateKey, cfg.VenueP.Wallet.ChainID)
	if err != nil {
		logger.Error("venue P auth init failed", "err", err)
		os.Exit(1)
	}
	pClient := venuep.New(venuep.Config{
		BaseURL:     cfg.VenueP.BaseURL,
		GammaURL:    cfg.VenueP.GammaURL,
		SlugPrefix:  cfg.VenueP.SlugPrefix,
		ChainID:     cfg.VenueP.Wallet.ChainID,
		HTTPTimeout: cfg.VenueP.HTTPTimeout,
	}, auth, cfg.DryRun)

	if cfg.VenueP.APIKey != "" {
		auth.SetCredentials(venuep.Credentials{
			APIKey:     cfg.VenueP.APIKey,
			Secret:     cfg.VenueP.APISecret,
			Passphrase: cfg.VenueP.Passphrase,
		})
	} else if !cfg.DryRun {
		if err := pClient.DeriveAPIKey(ctx); err != nil {
			logger.Error("venue P api key derivation failed", "err", err)
			os.Exit(1)
		}
	}

	wsP = venuep.NewWSClient(cfg.VenueP.WSURL, quotes.Publish, logger)
	pAdapter := venuep.NewAdapter(pClient, wsP)

	// Venue K (Kalshi-shaped)
	var kPrivKey *rsa.PrivateKey
	if cfg.VenueK.PrivKeyPath != "" {
		kPrivKey, err = venuek.LoadPrivateKey(cfg.VenueK.PrivKeyPath)
		if err != nil {
			logger.Error("venue K private key load failed", "err", err)
			os.Exit(1)
		}
	}
	kCreds := venuek.Credentials{AccessKeyID: cfg.VenueK.AccessKeyID, PrivateKey: kPrivKey}
	kClient := venuek.New(venuek.Config{
		BaseURL:        cfg.VenueK.BaseURL,
		BasePathPrefix: cfg.VenueK.BasePathPrefix,
		SeriesTicker:   cfg.VenueK.SeriesTicker,
		Credentials:    kCreds,
		HTTPTimeout:    cfg.VenueK.HTTPTimeout,
	}, cfg.DryRun)

	wsK = venuek.NewWSClient(cfg.VenueK.WSBaseURL, kCreds, quotes.Publish, logger)
	kAdapter := venuek.NewAdapter(kClient, wsK)

	go func() {
		if err := wsP.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("venue P websocket stopped", "err", err)
		}
	}()
	go func() {
		if err := wsK.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("venue K websocket stopped", "err", err)
		}
	}()

	var balP decimal.Decimal
	var balKCents int64
	if !cfg.DryRun {
		balP, err = pClient.GetBalance(ctx)
		if err != nil {
			logger.Error("venue P auth check failed", "err", err)
			os.Exit(1)
		}
		balK, err := kClient.GetBalance(ctx)
		if err != nil {
			logger.Error("venue K auth check failed", "err", err)
			os.Exit(1)
		}
		balKCents = balK.Mul(decimal.NewFromInt(100)).IntPart()
		logger.Info("authenticated", "balance_p", balP.String(), "balance_k_cents", balKCents)
	}
	_ = j.Log(journal.NewSessionStart(cfg.VenueK.Env, cfg.DryRun, balP, balKCents))

	minQtyP := func(price decimal.Decimal) decimal.Decimal {
		if price.IsZero() {
			return decimal.Zero
		}
		return decimal.NewFromFloat(cfg.Risk.MinOrderNotionalP).Div(price)
	}

	guard := risk.New(risk.Config{
		MinEdgeNet:           decimal.NewFromFloat(cfg.Risk.MinEdgeNet),
		MinLegSize:           decimal.NewFromFloat(cfg.Risk.MinLegSize),
		Cooldown:             cfg.Risk.Cooldown,
		CooldownAfterKill:    cfg.Risk.CooldownAfterKill,
		MaxDailyLoss:         decimal.NewFromFloat(cfg.Risk.MaxDailyLoss),
		MaxNotional:          decimal.NewFromFloat(cfg.Risk.MaxNotional),
		MaxOpenOrdersP:       cfg.Risk.MaxOpenOrdersP,
		MaxOpenOrdersK:       cfg.Risk.MaxOpenOrdersK,
		MinMsUntilRollover:   cfg.Risk.MinMsUntilRollover,
		MaxQuoteAge:          cfg.Risk.MaxQuoteAge,
		MaxPositionImbalance: decimal.NewFromFloat(cfg.Risk.MaxPositionImbalance),
	}, logger)

	tracker := position.New()

	execEngine := execution.New(execution.Config{
		LegOrderTimeout:   cfg.Execution.LegOrderTimeout,
		MinPartialFillQty: decimal.NewFromFloat(cfg.Execution.MinPartialFillQty),
		UnwindRetries:     cfg.Execution.UnwindRetries,
		UnwindRetryDelay:  cfg.Execution.UnwindRetryDelay,
		MinQtyP:           minQtyP,
	}, guard, tracker, pAdapter, kAdapter, logger)

	sellerGlue := &seller{p: pAdapter, k: kAdapter}
	volManager := volatility.New(volatility.Config{
		ActiveWindow:          cfg.Volatility.ActiveWindow,
		CrossingsToTrigger:    cfg.Volatility.CrossingsToTrigger,
		RangeThresholdUSD:     decimal.NewFromFloat(cfg.Volatility.RangeThresholdUSD),
		FailedTriggerCooldown: cfg.Volatility.FailedTriggerCooldown,
		SecondLegTimeout:      cfg.Volatility.SecondLegTimeout,
		SecondLegMinProfit:    decimal.NewFromFloat(cfg.Volatility.SecondLegMinProfit),
		HaltWindow:            cfg.Volatility.HaltWindow,
	}, sellerGlue, logger)

	correctiveGlue := &correctiveExecutor{p: pAdapter, k: kAdapter, tracker: tracker, dryRun: cfg.DryRun}
	if m != nil {
		correctiveGlue.metrics = m
	}
	correctiveGlue.journal = j

	volManager.SetOnSellComplete(func(sc volatility.SellCompletion) {
		if sc.Err != nil {
			return
		}
		_ = j.Log(journal.NewVolatilityExit(sc.Interval, sc.Stage, sc.Side, execution.Fill{Price: sc.Price, Qty: sc.Qty}, cfg.DryRun))
		if m != nil {
			m.IncVolatilityExit(sc.Stage)
		}
	})
	reconciler := reconcile.New(reconcile.Config{
		TickInterval:       cfg.Reconcile.TickInterval,
		PostExecutionGrace: cfg.Reconcile.PostExecutionGrace,
		MinMsUntilRollover: cfg.Reconcile.MinMsUntilRollover,
	}, guard, tracker, volManager, correctiveGlue, pAdapter.ReadPositions, kAdapter.ReadPositions, logger)

	onResolved := func(res settlement.Result) {
		pnlFloat, _ := res.RealizedPnL.Float64()
		logger.Info("settlement resolved",
			"execution_id", res.Pending.ExecutionID,
			"realized_pnl", pnlFloat,
			"oracles_agree", res.OraclesAgree,
			"dead_zone_hit", res.DeadZoneHit)
		_ = j.Log(journal.NewSettlement(res))
		if m != nil {
			m.IncSettlement(res.RealizedPnL.IsPositive())
			if res.DeadZoneHit {
				m.IncDeadZoneHit()
			}
		}
	}
	resolver := settlement.New(settlement.Config{
		PollInterval: cfg.Settlement.PollInterval,
		GiveUpAfter:  cfg.Settlement.GiveUpAfter,
	}, pAdapter, kAdapter, onResolved, logger)
	go func() {
		ticker := time.NewTicker(cfg.Settlement.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				resolver.Tick(ctx, time.Now())
				if m != nil {
					m.SetSettlementPollLag(float64(resolver.PendingCount()))
				}
			}
		}
	}()

	edgeParams := edge.Params{
		Fee: edge.FeeConfig{
			KalshiTakerFeeRate:   0.07,
			PolymarketFeeRateBps: 0,
		},
		Slippage: edge.SlippageConfig{
			BufferPerLeg: decimal.NewFromFloat(0.001),
		},
		MinEdgeNet:        decimal.NewFromFloat(cfg.Risk.MinEdgeNet),
		MinQtyP:           minQtyP,
		RemainingNotional: decimal.NewFromFloat(cfg.Risk.MaxNotional),
		MaxPerTradeQty:    decimal.NewFromFloat(cfg.Risk.MaxPerTradeQty),
	}

	coord := coordinator.New(coordinator.Config{
		DiscoveryInterval: cfg.Coordinator.DiscoveryInterval,
		PrefetchWindow:    cfg.Coordinator.PrefetchWindow,
		ReconcileInterval: cfg.Coordinator.ReconcileInterval,
		RefTolerance:      cfg.Coordinator.RefTolerance,
		DailyLossResetAt:  cfg.Coordinator.DailyLossResetAt,
		DryRun:            cfg.DryRun,
	}, mappings, quotes, guard, tracker, execEngine, reconciler, volManager,
		pAdapter, kAdapter, pAdapter, kAdapter, edgeParams, logger)
	coord.SetSettler(resolver)
	coord.SetJournal(j)
	if m != nil {
		coord.SetMetrics(m)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	dashboardCmd := startDashboard(logger)

	go notifier.StartEventListener(func() string {
		return fmt.Sprintf("kill_switch=%v cooldown=%v interval=%s",
			guard.IsKillSwitchActive(), guard.IsInCooldown(), interval.Current(time.Now()))
	}, func() {
		guard.Kill("telegram /stop command")
	})

	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)
		if dashboardCmd != nil && dashboardCmd.Process != nil {
			dashboardCmd.Process.Signal(syscall.SIGTERM)
		}
		cancel()
	}()

	if err := coord.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("coordinator error", "err", err)
		os.Exit(1)
	}

	logger.Info("bot stopped")
}

func startMetricsServer(logger *slog.Logger, m *metrics.Metrics, addr string) {
	if addr == "" {
		addr = ":9090"
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}))
	logger.Info("metrics server starting", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Warn("metrics server stopped", "err", err)
	}
}

func startDashboard(logger *slog.Logger) *exec.Cmd {
	exePath, err := os.Executable()
	if err != nil {
		logger.Error("failed to get executable path", "err", err)
		return nil
	}

	dashboardBinary := filepath.Join(filepath.Dir(exePath), "dashboard")
	if _, err := os.Stat(dashboardBinary); err != nil {
		logger.Warn("dashboard binary not found", "path", dashboardBinary)
		return nil
	}

	cmd := exec.Command(dashboardBinary)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		logger.Error("failed to start dashboard", "err", err)
		return nil
	}

	logger.Info("dashboard started", "pid", cmd.Process.Pid)
	return cmd
}
