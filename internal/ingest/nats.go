// Package ingest feeds events published on NATS into the event store.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/642studio/Veridis/pkg/sdk"
)

// Subscriber appends every message on one subject to an event sink. Message
// bodies go through the same normalization as HTTP bodies, so nothing is rejected.
type Subscriber struct {
	sink    sdk.EventSink
	subject string
	log     zerolog.Logger
}

func NewSubscriber(sink sdk.EventSink, subject string, log zerolog.Logger) *Subscriber {
	return &Subscriber{sink: sink, subject: subject, log: log}
}

// Handle ingests one message. When the publisher used request-reply, the
// resulting state is sent back.
func (s *Subscriber) Handle(msg *nats.Msg) {
	state, err := s.sink.IngestEvent(json.RawMessage(msg.Data))
	if err != nil {
		s.log.Error().Err(err).Str("subject", msg.Subject).Msg("event ingestion failed")
		return
	}
	if msg.Reply == "" {
		return
	}
	body, err := json.Marshal(state)
	if err != nil {
		s.log.Error().Err(err).Msg("encode ingestion reply")
		return
	}
	if err := msg.Respond(body); err != nil {
		s.log.Warn().Err(err).Str("reply", msg.Reply).Msg("ingestion reply failed")
	}
}

// Run connects to url, subscribes and blocks until ctx is cancelled. The
// connection keeps retrying in the background, so a broker outage does not
// stop the daemon.
func (s *Subscriber) Run(ctx context.Context, url string) error {
	nc, err := nats.Connect(url,
		nats.Name("veridis-core"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			s.log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			s.log.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}
	defer nc.Close()

	sub, err := nc.Subscribe(s.subject, s.Handle)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", s.subject, err)
	}
	s.log.Info().Str("url", url).Str("subject", s.subject).Msg("NATS ingestion started")

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		s.log.Warn().Err(err).Msg("NATS drain failed")
	}
	return nil
}
