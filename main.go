package main

import (
	"context"
	"log"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"surgebot/internal/balance"
	"surgebot/internal/decision"
	"surgebot/internal/events"
	"surgebot/internal/executor"
	"surgebot/internal/market"
	"surgebot/internal/notify"
	"surgebot/internal/risk"
	tradesignal "surgebot/internal/signal"
	"surgebot/internal/snapshot"
	"surgebot/internal/state"
	"surgebot/internal/supervisor"
	"surgebot/pkg/cache"
	"surgebot/pkg/config"
	"surgebot/pkg/db"
	"surgebot/pkg/exchange"
)

// defaultExchangeBaseURL/StreamURL point at the configured venue's REST/WS endpoints. Not
// environment-driven (spec §6 fixes the recognized Config options) since a single-exchange agent
// has no reason to vary them at runtime; swap these constants to target a different venue.
const (
	defaultExchangeBaseURL   = "https://api.exchange.example/v1"
	defaultExchangeStreamURL = "wss://api.exchange.example/ws"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.Println("surgebot: starting")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("surgebot: config load failed: %v", err)
	}
	log.Printf("surgebot: config loaded (mock_feed=%v target_coins=%d)", cfg.UseMockFeed, cfg.TargetCoinsCount)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("surgebot: db init failed: %v", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatalf("surgebot: db migrations failed: %v", err)
	}

	bus := events.NewBus()
	store := state.NewStore(database)

	var exchangeClient executor.ExchangeClient
	var balanceClient balance.ExchangeClient
	var streamer market.Streamer
	var markets []string

	if cfg.UseMockFeed {
		mock := exchange.NewMockClient("KRW", 10_000_000)
		exchangeClient = mock
		balanceClient = balanceAdapter{mock}
		streamer = &exchange.MockStream{}
		markets = []string{"KRW-BTC", "KRW-ETH"}
	} else {
		client := exchange.New(exchange.Config{
			BaseURL: defaultExchangeBaseURL, AccessKey: cfg.ExchangeKey, SecretKey: cfg.ExchangeSecret,
			RateRPS: cfg.RateLimitRPS,
		})
		client.Start(ctx)
		exchangeClient = client
		balanceClient = balanceAdapter{client}
		streamer = exchange.NewStream(exchange.StreamConfig{URL: defaultExchangeStreamURL})

		all, err := client.GetMarkets(ctx)
		if err != nil {
			log.Fatalf("surgebot: initial GetMarkets failed: %v", err)
		}
		markets = selectMarkets(all, cfg.TargetCoinsCount)
	}

	if err := store.Load(ctx, exchangeClient); err != nil {
		log.Fatalf("surgebot: state recovery failed: %v", err)
	}

	priceCache := cache.NewShardedPriceCache()
	balMgr := balance.NewManager(balanceClient, "KRW", 10*time.Second, 2*time.Second)
	if cfg.UseMockFeed {
		balMgr.SetInitialBalance(10_000_000)
	} else {
		balMgr.Start(ctx)
	}

	riskMgr := risk.NewManager(risk.Config{
		StopLossRate: cfg.StopLossRate, TakeProfitRate: cfg.TakeProfitRate,
		TrailingStopEnabled: cfg.TrailingStopEnabled, TrailingActivationRate: cfg.TrailingActivationRate,
		TrailingOffsetRate: cfg.TrailingOffsetRate,
	})
	if pos := store.ActivePosition(); pos != nil {
		riskMgr.Restore(pos.ID, pos.Market, pos.EntryPrice, pos.Amount, pos.StopLoss, pos.TakeProfit)
		log.Printf("surgebot: restored active position %s market=%s", pos.ID, pos.Market)
	}

	monitor := market.New(streamer, markets, bus, priceCache, database, cfg.EnableTickLog)

	detectorCfg := tradesignal.Config{
		SurgeThresholdRate: cfg.SurgeThresholdRate, SurgeTimeframeMinutes: cfg.SurgeTimeframeMinutes,
		VolumeMultiplier: cfg.VolumeMultiplier, TickInterval: time.Second,
		EnableSignalLog: cfg.EnableSignalLog, DB: database,
	}
	if weights, err := tradesignal.LoadConfig("indicators.yaml"); err == nil {
		detectorCfg.Indicators = weights
	} else {
		log.Printf("surgebot: indicators.yaml not loaded (%v), using default indicator weights", err)
		detectorCfg.Indicators = tradesignal.DefaultConfig()
	}
	detector := tradesignal.NewDetector(detectorCfg)

	decisionCh := make(chan decision.Decision, 16)
	signalCh := make(chan tradesignal.Signal, 16)
	riskCh := make(chan risk.Action, 16)

	maker := decision.New(decision.Config{MinOrderAmountQuote: cfg.MinOrderAmountQuote, MaxPositionRatio: cfg.MaxPositionRatio}, store, balMgr, bus)
	exec := executor.New(executor.Config{StopLossRate: cfg.StopLossRate, TakeProfitRate: cfg.TakeProfitRate}, exchangeClient, database, store, balMgr, riskMgr, bus)

	statusStore := snapshot.New(bus, store, priceCache, markets, func() float64 { return balMgr.GetBalance().Available })
	watcher := notify.NewWatcher(bus, notify.LogSink{})
	watcher.Start(ctx)

	// Bridge the shared bus back into the typed channels DecisionMaker consumes. SignalDetector
	// and RiskManager publish onto the bus as their primary contract (other subscribers, like the
	// dashboard snapshot feed, rely on that); DecisionMaker additionally needs an ordered private
	// feed, so we fan the same events out a second time here.
	go forwardSignals(ctx, bus, signalCh)
	go forwardRiskActions(ctx, bus, riskCh)

	sup := supervisor.New(bus, statusStore, watcher)
	agents := []supervisor.Agent{
		{Name: "market-monitor", Policy: supervisor.PolicyBackoff, Run: monitor.Run},
		{Name: "signal-detector", Policy: supervisor.PolicyRestartOnPanic, Run: func(ctx context.Context) error {
			detector.Run(ctx, monitor.SignalTicks(), bus)
			return nil
		}},
		{Name: "risk-manager", Policy: supervisor.PolicyRestartOnPanic, Run: func(ctx context.Context) error {
			riskMgr.Run(ctx, monitor.RiskTicks(), bus)
			return nil
		}},
		{Name: "decision-maker", Policy: supervisor.PolicyRestartOnPanic, Run: func(ctx context.Context) error {
			maker.Run(ctx, signalCh, riskCh, decisionCh)
			return nil
		}},
		{Name: "executor", Policy: supervisor.PolicyNone, Run: func(ctx context.Context) error {
			exec.Run(ctx, decisionCh)
			return nil
		}},
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		ossignal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan
		log.Println("surgebot: shutdown signal received")
		cancel()
	}()

	sup.Run(ctx, agents)
	log.Println("surgebot: stopped")
}

// selectMarkets takes the first n tradable, non-halted markets from a venue's full listing. A
// real volume-ranked screener is future work (see DESIGN.md); this keeps boot deterministic.
func selectMarkets(all []exchange.Market, n int) []string {
	var out []string
	for _, m := range all {
		if m.IsHalted {
			continue
		}
		out = append(out, m.Code)
		if len(out) >= n {
			break
		}
	}
	return out
}

func forwardSignals(ctx context.Context, bus *events.Bus, out chan<- tradesignal.Signal) {
	stream, unsub := bus.Subscribe(events.EventSignal, 32)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-stream:
			if !ok {
				return
			}
			if s, ok := payload.(tradesignal.Signal); ok {
				select {
				case out <- s:
				default:
				}
			}
		}
	}
}

func forwardRiskActions(ctx context.Context, bus *events.Bus, out chan<- risk.Action) {
	stream, unsub := bus.Subscribe(events.EventRiskAction, 32)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-stream:
			if !ok {
				return
			}
			if a, ok := payload.(risk.Action); ok {
				select {
				case out <- a:
				default:
				}
			}
		}
	}
}

// balanceGetter is the narrow capability both exchange.Client and exchange.MockClient expose.
type balanceGetter interface {
	GetBalance(ctx context.Context, currency string) (exchange.Balance, error)
}

// balanceAdapter adapts pkg/exchange's GetBalance to balance.ExchangeClient's return type, since
// the two packages intentionally keep distinct Balance structs.
type balanceAdapter struct{ c balanceGetter }

func (a balanceAdapter) GetBalance(ctx context.Context, currency string) (balance.Balance, error) {
	b, err := a.c.GetBalance(ctx, currency)
	if err != nil {
		return balance.Balance{}, err
	}
	return balance.Balance{Total: b.Available + b.Locked, Available: b.Available, Locked: b.Locked}, nil
}
