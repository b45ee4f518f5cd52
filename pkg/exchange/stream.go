package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ErrStreamFatal is returned by Run when the stream gives up permanently (auth failure or the
// configured MaxReconnectAttempts exhausted).
var ErrStreamFatal = errors.New("exchange stream: fatal, not reconnecting")

// ConnState is the observable lifecycle of the stream connection.
type ConnState string

const (
	StateDisconnected ConnState = "Disconnected"
	StateConnecting   ConnState = "Connecting"
	StateSubscribed   ConnState = "Subscribed"
	StateReceiving    ConnState = "Receiving"
	StateDegraded     ConnState = "Degraded"
	StateClosed       ConnState = "Closed"
)

// StreamConfig configures ExchangeStream's reconnect behavior and subscription frame.
type StreamConfig struct {
	URL                  string
	FrameType             string // "ticker" or "trade"; defaults to "ticker"
	HandshakeTimeout      time.Duration
	MaxReconnectAttempts  int // 0 = unlimited
	MaxBackoff            time.Duration
}

func (c *StreamConfig) withDefaults() StreamConfig {
	out := *c
	if out.FrameType == "" {
		out.FrameType = "ticker"
	}
	if out.HandshakeTimeout == 0 {
		out.HandshakeTimeout = 2 * time.Second
	}
	if out.MaxBackoff == 0 {
		out.MaxBackoff = 60 * time.Second
	}
	return out
}

// Stream is ExchangeStream: a single reconnecting websocket delivering normalized PriceTick
// values. Grounded on pkg/market/binance's StreamClient reconnect-loop-per-subscription pattern,
// generalized from Binance's kline/symbol frames to the ticket/type/codes subscription frame.
type Stream struct {
	cfg    StreamConfig
	dialer *websocket.Dialer

	mu         sync.RWMutex
	state      ConnState
	lastTsByMarket map[string]int64
	dropped    int64
}

// NewStream creates a Stream. cfg.URL must point at the exchange's public websocket endpoint.
func NewStream(cfg StreamConfig) *Stream {
	return &Stream{
		cfg:            cfg.withDefaults(),
		dialer:         &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		state:          StateDisconnected,
		lastTsByMarket: make(map[string]int64),
	}
}

// State returns the current connection lifecycle state.
func (s *Stream) State() ConnState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// DroppedTicks returns the count of ticks dropped for violating monotonic ordering (invariant I3)
// or for overflowing the staging buffer.
func (s *Stream) DroppedTicks() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dropped
}

func (s *Stream) setState(st ConnState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Run subscribes to markets and delivers PriceTick values on out until ctx is cancelled or the
// stream becomes permanently unrecoverable (ErrStreamFatal).
func (s *Stream) Run(ctx context.Context, markets []string, out chan<- PriceTick) error {
	staging := make(chan PriceTick, 64)
	go s.drain(ctx, staging, out)

	attempt := 0
	for {
		select {
		case <-ctx.Done():
			s.setState(StateClosed)
			return nil
		default:
		}

		err := s.connectAndReceive(ctx, markets, staging)
		if err == nil {
			return nil // ctx cancelled inside connectAndReceive
		}
		if errors.Is(err, ErrStreamFatal) {
			s.setState(StateClosed)
			return err
		}

		if st := s.State(); st == StateSubscribed || st == StateReceiving {
			attempt = 0 // the connection delivered at least one frame before failing
		}
		attempt++
		if s.cfg.MaxReconnectAttempts > 0 && attempt > s.cfg.MaxReconnectAttempts {
			s.setState(StateClosed)
			return fmt.Errorf("%w: exceeded %d reconnect attempts: %v", ErrStreamFatal, s.cfg.MaxReconnectAttempts, err)
		}

		delay := backoff(attempt, s.cfg.MaxBackoff)
		log.Printf("exchange stream: disconnected (%v), reconnecting in %s (attempt %d)", err, delay, attempt)
		s.setState(StateDegraded)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			s.setState(StateClosed)
			return nil
		}
	}
}

// backoff implements min(60s, 2^attempt * 1s) with +/-20% jitter.
func backoff(attempt int, maxBackoff time.Duration) time.Duration {
	base := time.Duration(1) << uint(attempt) * time.Second
	if base > maxBackoff {
		base = maxBackoff
	}
	jitter := time.Duration(float64(base) * (rand.Float64()*0.4 - 0.2))
	d := base + jitter
	if d < 0 {
		d = base
	}
	return d
}

func (s *Stream) connectAndReceive(ctx context.Context, markets []string, staging chan<- PriceTick) error {
	s.setState(StateConnecting)
	conn, resp, err := s.dialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return fmt.Errorf("%w: dial rejected with status %d", ErrStreamFatal, resp.StatusCode)
		}
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	frame := []interface{}{
		map[string]string{"ticket": uuid.NewString()},
		map[string]interface{}{"type": s.cfg.FrameType, "codes": markets},
	}
	if err := conn.WriteJSON(frame); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
	_, first, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	s.setState(StateSubscribed)
	if err := s.handleFrame(first, staging); err != nil {
		log.Printf("exchange stream: first frame parse error: %v", err)
	}

	conn.SetReadDeadline(time.Time{})
	s.setState(StateReceiving)
	attempt := 0
	_ = attempt
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if err := s.handleFrame(msg, staging); err != nil {
			log.Printf("exchange stream: frame parse error: %v", err)
		}
	}
}

type wireTick struct {
	Market       string  `json:"market" `
	CandleType   string  `json:"type"`
	TradePrice   float64 `json:"trade_price"`
	ChangeRate   float64 `json:"change_rate"`
	AccVolume24h float64 `json:"acc_trade_volume_24h"`
	TimestampMs  int64   `json:"timestamp"`
}

func (s *Stream) handleFrame(raw []byte, staging chan<- PriceTick) error {
	var wt wireTick
	if err := json.Unmarshal(raw, &wt); err != nil {
		return err
	}
	if wt.Market == "" {
		return nil // unknown/non-tick frame type, dropped
	}
	tick := PriceTick{
		Market:      wt.Market,
		TimestampMs: wt.TimestampMs,
		TradePrice:  wt.TradePrice,
		ChangeRate:  wt.ChangeRate,
		Volume:      wt.AccVolume24h,
	}

	s.mu.Lock()
	last, seen := s.lastTsByMarket[wt.Market]
	if seen && tick.TimestampMs < last {
		s.dropped++
		s.mu.Unlock()
		return fmt.Errorf("out-of-order tick for %s: %d < %d", wt.Market, tick.TimestampMs, last)
	}
	s.lastTsByMarket[wt.Market] = tick.TimestampMs
	s.mu.Unlock()

	select {
	case staging <- tick:
	default:
		// Staging buffer full: evict oldest by draining one slot, never block the reader.
		select {
		case <-staging:
		default:
		}
		select {
		case staging <- tick:
		default:
		}
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
	}
	return nil
}

func (s *Stream) drain(ctx context.Context, staging <-chan PriceTick, out chan<- PriceTick) {
	for {
		select {
		case <-ctx.Done():
			return
		case tick, ok := <-staging:
			if !ok {
				return
			}
			select {
			case out <- tick:
			case <-ctx.Done():
				return
			}
		}
	}
}
