package notify

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Event describes one completed ledger entry for downstream consumers.
// Amount is preformatted to four decimal places.
type Event struct {
	TransactionNumber    string    `json:"transaction_number"`
	Type                 string    `json:"type"`
	SourceAccountID      *int64    `json:"source_account_id,omitempty"`
	DestinationAccountID *int64    `json:"destination_account_id,omitempty"`
	Amount               string    `json:"amount"`
	Currency             string    `json:"currency"`
	Description          string    `json:"description,omitempty"`
	OccurredAt           time.Time `json:"occurred_at"`
}

// Sink consumes ledger events. Emit is called on the transfer path
// after commit and must never block; delivery is best effort.
type Sink interface {
	Emit(ev Event)
}

// LogSink writes events to the structured log.
type LogSink struct {
	Log zerolog.Logger
}

func (s LogSink) Emit(ev Event) {
	s.Log.Info().
		Str("transaction_number", ev.TransactionNumber).
		Str("type", ev.Type).
		Str("amount", ev.Amount).
		Str("currency", ev.Currency).
		Msg("ledger event")
}

// AsyncSink decouples event delivery from the transfer path through a
// bounded buffer. When the buffer is full the event is dropped with a
// warning rather than blocking the caller.
type AsyncSink struct {
	next Sink
	ch   chan Event
	log  zerolog.Logger
	wg   sync.WaitGroup
}

// NewAsyncSink starts a background worker forwarding events to next.
func NewAsyncSink(next Sink, buffer int, log zerolog.Logger) *AsyncSink {
	if buffer <= 0 {
		buffer = 64
	}
	s := &AsyncSink{
		next: next,
		ch:   make(chan Event, buffer),
		log:  log,
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for ev := range s.ch {
			s.next.Emit(ev)
		}
	}()
	return s
}

func (s *AsyncSink) Emit(ev Event) {
	select {
	case s.ch <- ev:
	default:
		s.log.Warn().
			Str("transaction_number", ev.TransactionNumber).
			Msg("event buffer full, dropping ledger event")
	}
}

// Close drains the buffer and stops the worker.
func (s *AsyncSink) Close() {
	close(s.ch)
	s.wg.Wait()
}
