package signal

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"surgebot/internal/events"
	"surgebot/internal/persistence"
	"surgebot/pkg/db"
	"surgebot/pkg/exchange"
)

// Config holds SignalDetector's tunable thresholds (spec §6).
type Config struct {
	SurgeThresholdRate    float64
	SurgeTimeframeMinutes int
	VolumeMultiplier      float64
	TickInterval          time.Duration // expected spacing between ticks, used to size the window
	Indicators            *ConfigFile   // nil disables the weighted multi-indicator rule
	EnableSignalLog       bool          // batch-persists every emitted Signal to the signals analytics table
	DB                    *db.Database  // required only when EnableSignalLog is set
}

func (c Config) withDefaults() Config {
	if c.SurgeThresholdRate == 0 {
		c.SurgeThresholdRate = 0.05
	}
	if c.SurgeTimeframeMinutes == 0 {
		c.SurgeTimeframeMinutes = 60
	}
	if c.VolumeMultiplier == 0 {
		c.VolumeMultiplier = 2.0
	}
	if c.TickInterval == 0 {
		c.TickInterval = time.Second
	}
	return c
}

type marketState struct {
	window       *Window
	cooldownUntil int64
	indicators   []Indicator
}

// Detector is SignalDetector: per-market windowed momentum analysis producing Signal values,
// grounded on internal/indicators.Engine's per-symbol price map and internal/strategy's
// Bollinger/RSI logic, generalized into the Indicator capability interface.
type Detector struct {
	cfg    Config
	writer *persistence.BatchWriter

	mu      sync.Mutex
	markets map[string]*marketState
}

// NewDetector builds a Detector. cfg.Indicators may be nil to use only the baseline momentum rule.
func NewDetector(cfg Config) *Detector {
	d := &Detector{cfg: cfg.withDefaults(), markets: make(map[string]*marketState)}
	if d.cfg.EnableSignalLog && d.cfg.DB != nil {
		d.writer = persistence.NewBatchWriter(d.cfg.DB.DB, 50, 500*time.Millisecond)
	}
	return d
}

func (d *Detector) newIndicatorSet() []Indicator {
	if d.cfg.Indicators == nil {
		return nil
	}
	var out []Indicator
	for _, w := range d.cfg.Indicators.Indicators {
		switch w.Name {
		case "rsi":
			out = append(out, &RSIIndicator{Period: 14})
		case "macd":
			out = append(out, &MACDIndicator{Fast: 12, Slow: 26, Signal: 9})
		case "bollinger":
			out = append(out, &BollingerIndicator{Period: 20, NumStdDev: 2.0})
		default:
			log.Printf("signal: unknown indicator %q in config, skipping", w.Name)
		}
	}
	return out
}

// Run consumes PriceTick values from in and publishes Signal values onto the bus's EventSignal
// topic until ctx is cancelled.
func (d *Detector) Run(ctx context.Context, in <-chan exchange.PriceTick, bus *events.Bus) {
	if d.writer != nil {
		defer d.writer.Close()
	}
	for {
		select {
		case <-ctx.Done():
			return
		case tick, ok := <-in:
			if !ok {
				return
			}
			if s := d.OnTick(tick); s != nil {
				bus.Publish(events.EventSignal, *s)
				if d.writer != nil {
					d.writer.Write(db.InsertSignalQuery, s.Market, string(s.Kind), s.Confidence, s.Reason, s.TimestampMs)
				}
			}
		}
	}
}

// OnTick updates the market's window and returns a Signal if one fires, or nil.
func (d *Detector) OnTick(tick exchange.PriceTick) *Signal {
	d.mu.Lock()
	defer d.mu.Unlock()

	ms, ok := d.markets[tick.Market]
	if !ok {
		capacity := int(time.Duration(d.cfg.SurgeTimeframeMinutes)*time.Minute/d.cfg.TickInterval) + 1
		ms = &marketState{window: NewWindow(capacity), indicators: d.newIndicatorSet()}
		d.markets[tick.Market] = ms
	}
	if tick.TimestampMs < ms.window.LastTimestamp() {
		return nil // out-of-order tick: rejected so the window stays time-ordered
	}
	ms.window.Push(tick.TimestampMs, tick.TradePrice, tick.Volume)

	if ms.window.LastTimestamp() < ms.cooldownUntil {
		return nil
	}
	if !ms.window.Full() {
		return nil
	}

	if sig := d.weightedSignal(tick, ms); sig != nil {
		d.enterCooldown(ms, ms.window.LastTimestamp())
		return sig
	}
	return d.momentumSignal(tick, ms)
}

func (d *Detector) momentumSignal(tick exchange.PriceTick, ms *marketState) *Signal {
	rate := ms.window.PriceChangeRate()
	volRatio := ms.window.VolumeRatio()
	if rate >= d.cfg.SurgeThresholdRate && volRatio >= d.cfg.VolumeMultiplier {
		confidence := clamp(0.5+rate, 0, 1)
		d.enterCooldown(ms, ms.window.LastTimestamp())
		return &Signal{
			Market:     tick.Market,
			Kind:       KindBuy,
			Confidence: confidence,
			Reason:     fmt.Sprintf("momentum: rate=%.4f volRatio=%.2f", rate, volRatio),
			TimestampMs: tick.TimestampMs,
		}
	}
	return nil
}

func (d *Detector) weightedSignal(tick exchange.PriceTick, ms *marketState) *Signal {
	if len(ms.indicators) == 0 {
		return nil
	}
	var weightedSum, totalWeight float64
	prices := ms.window.Prices()
	for i, ind := range ms.indicators {
		if _, ok := ind.Update(prices); !ok {
			continue
		}
		score, ok := ind.Signal()
		if !ok {
			continue
		}
		w := d.cfg.Indicators.Indicators[i].Weight
		weightedSum += score * w
		totalWeight += w
	}
	if totalWeight == 0 {
		return nil
	}
	combined := weightedSum / totalWeight
	threshold := d.cfg.Indicators.ScoreThreshold

	switch {
	case combined >= threshold:
		return &Signal{Market: tick.Market, Kind: KindBuy, Confidence: clamp(combined, 0, 1),
			Reason: fmt.Sprintf("weighted score %.3f >= %.3f", combined, threshold), TimestampMs: tick.TimestampMs}
	case combined <= -threshold:
		return &Signal{Market: tick.Market, Kind: KindSell, Confidence: clamp(-combined, 0, 1),
			Reason: fmt.Sprintf("weighted score %.3f <= %.3f", combined, -threshold), TimestampMs: tick.TimestampMs}
	default:
		return nil
	}
}

func (d *Detector) enterCooldown(ms *marketState, nowMs int64) {
	cooldown := time.Duration(d.cfg.SurgeTimeframeMinutes) * time.Minute / 4
	ms.cooldownUntil = nowMs + cooldown.Milliseconds()
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
