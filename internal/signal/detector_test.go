package signal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"surgebot/pkg/db"
	"surgebot/pkg/exchange"
)

func TestMomentumSignalFiresAboveThreshold(t *testing.T) {
	d := NewDetector(Config{
		SurgeThresholdRate:    0.05,
		SurgeTimeframeMinutes: 1,
		VolumeMultiplier:      2.0,
		TickInterval:          time.Second,
	})

	base := time.Now().UnixMilli()
	var last *Signal
	// Fill the window with flat, low-volume ticks first.
	for i := 0; i < 61; i++ {
		last = d.OnTick(exchange.PriceTick{Market: "KRW-BTC", TimestampMs: base + int64(i*1000), TradePrice: 100, Volume: 10})
	}
	require.Nil(t, last, "flat prices must not trigger a signal")

	// Now surge: price +6%, volume 3x.
	sig := d.OnTick(exchange.PriceTick{Market: "KRW-BTC", TimestampMs: base + 62000, TradePrice: 106, Volume: 30})
	require.NotNil(t, sig)
	assert.Equal(t, KindBuy, sig.Kind)
}

func TestMomentumSignalWithheldBelowVolumeThreshold(t *testing.T) {
	d := NewDetector(Config{
		SurgeThresholdRate:    0.05,
		SurgeTimeframeMinutes: 1,
		VolumeMultiplier:      2.0,
		TickInterval:          time.Second,
	})

	base := time.Now().UnixMilli()
	for i := 0; i < 61; i++ {
		d.OnTick(exchange.PriceTick{Market: "KRW-BTC", TimestampMs: base + int64(i*1000), TradePrice: 100, Volume: 10})
	}
	// Big price move but volume unchanged.
	sig := d.OnTick(exchange.PriceTick{Market: "KRW-BTC", TimestampMs: base + 62000, TradePrice: 110, Volume: 10})
	assert.Nil(t, sig, "price surge without volume confirmation should not signal")
}

func TestCooldownSuppressesRetrigger(t *testing.T) {
	d := NewDetector(Config{
		SurgeThresholdRate:    0.05,
		SurgeTimeframeMinutes: 1,
		VolumeMultiplier:      2.0,
		TickInterval:          time.Second,
	})
	base := time.Now().UnixMilli()
	for i := 0; i < 61; i++ {
		d.OnTick(exchange.PriceTick{Market: "KRW-BTC", TimestampMs: base + int64(i*1000), TradePrice: 100, Volume: 10})
	}
	sig := d.OnTick(exchange.PriceTick{Market: "KRW-BTC", TimestampMs: base + 62000, TradePrice: 108, Volume: 40})
	require.NotNil(t, sig)

	again := d.OnTick(exchange.PriceTick{Market: "KRW-BTC", TimestampMs: base + 63000, TradePrice: 120, Volume: 50})
	assert.Nil(t, again, "signal should be suppressed during the per-market cooldown")
}

func TestEnableSignalLogPersistsEmittedSignal(t *testing.T) {
	database, err := db.New(":memory:")
	require.NoError(t, err)
	require.NoError(t, db.ApplyMigrations(database))
	t.Cleanup(func() { _ = database.Close() })

	d := NewDetector(Config{
		SurgeThresholdRate:    0.05,
		SurgeTimeframeMinutes: 1,
		VolumeMultiplier:      2.0,
		TickInterval:          time.Second,
		EnableSignalLog:       true,
		DB:                    database,
	})
	require.NotNil(t, d.writer, "writer should be built when EnableSignalLog and DB are both set")

	base := time.Now().UnixMilli()
	for i := 0; i < 61; i++ {
		d.OnTick(exchange.PriceTick{Market: "KRW-BTC", TimestampMs: base + int64(i*1000), TradePrice: 100, Volume: 10})
	}
	sig := d.OnTick(exchange.PriceTick{Market: "KRW-BTC", TimestampMs: base + 62000, TradePrice: 106, Volume: 30})
	require.NotNil(t, sig)

	d.writer.Write(db.InsertSignalQuery, sig.Market, string(sig.Kind), sig.Confidence, sig.Reason, sig.TimestampMs)
	require.NoError(t, d.writer.Flush())

	var count int
	require.NoError(t, database.DB.QueryRow(`SELECT COUNT(*) FROM signals WHERE market = ?`, "KRW-BTC").Scan(&count))
	assert.Equal(t, 1, count)
}
