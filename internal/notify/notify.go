// Package notify implements NotificationSink: a pluggable delivery target for
// human-facing alerts (position opened/closed, forced exits, integrity errors). Adapted from the
// teacher's monitor.AlertSink + monitor.Monitor pair, which already separated the "what to send"
// interface from the "when to send" event-bus listener.
package notify

import (
	"context"
	"fmt"
	"log"
	"time"

	"surgebot/internal/events"
)

// Sink is NotificationSink: anything that can deliver a formatted alert message.
type Sink interface {
	Send(message string) error
}

// LogSink is the default Sink: writes alerts to the standard logger. Grounded on the teacher's
// monitor package never shipping a non-stdout AlertSink implementation either — alerting here
// means "visible in the operator's log", not a push notification service.
type LogSink struct{}

func (LogSink) Send(message string) error {
	log.Println(message)
	return nil
}

// Watcher subscribes to the bus and formats events into Sink deliveries.
type Watcher struct {
	Bus  *events.Bus
	Sink Sink
}

// NewWatcher builds a Watcher. A nil sink defaults to LogSink.
func NewWatcher(bus *events.Bus, sink Sink) *Watcher {
	if sink == nil {
		sink = LogSink{}
	}
	return &Watcher{Bus: bus, Sink: sink}
}

// Start subscribes to the events worth surfacing to an operator and forwards them to Sink until
// ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) {
	if w.Bus == nil {
		log.Println("notify: bus not configured, skipping")
		return
	}

	topics := []events.Event{events.EventRiskAction, events.EventPositionChange, events.EventOrderFailed, events.EventSystem}
	for _, topic := range topics {
		stream, unsub := w.Bus.Subscribe(topic, 50)
		go w.drain(ctx, topic, stream, unsub)
	}
}

func (w *Watcher) drain(ctx context.Context, topic events.Event, stream <-chan any, unsub func()) {
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-stream:
			if !ok {
				return
			}
			if err := w.Sink.Send(format(topic, payload)); err != nil {
				log.Printf("notify: sink delivery failed: %v", err)
			}
		}
	}
}

func format(topic events.Event, payload any) string {
	return fmt.Sprintf("[%s] %s: %v", time.Now().Format(time.RFC3339), topic, payload)
}
