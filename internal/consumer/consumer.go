// Package consumer implements the two durable JetStream consumers (C14,
// C15, §4.4): tool-installation and client-self-update. Both decode a
// JSON payload, dispatch to a handler, and ack iff the handler succeeds —
// a failed handler leaves the message unacked so the broker redelivers it
// per its own policy (§7.2, §8).
package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// Spec describes one durable consumer's wiring (§4.4 table).
type Spec struct {
	Stream         string
	FilterSubject  string
	DeliverSubject string
	DurableName    string
	AckWait        time.Duration
}

// ToolInstallationSpec builds the §4.4 tool-installation consumer spec
// for machineID.
func ToolInstallationSpec(machineID string) Spec {
	return Spec{
		Stream:         "TOOL_INSTALLATION",
		FilterSubject:  "machine." + machineID + ".tool-installation",
		DeliverSubject: "machine." + machineID + ".tool-installation.inbox",
		DurableName:    "machine_" + machineID + "_tool-installation_consumer",
		AckWait:        300 * time.Second,
	}
}

// ClientUpdateSpec builds the §4.4 self-update consumer spec for
// machineID. The filter subject is deliberately "machine.all..." — every
// agent subscribes to the same broadcast subject for client updates.
func ClientUpdateSpec(machineID string) Spec {
	return Spec{
		Stream:         "CLIENT_UPDATE",
		FilterSubject:  "machine.all.client-update",
		DeliverSubject: "machine." + machineID + ".client-update.inbox",
		DurableName:    "machine_" + machineID + "_client-update_consumer",
		AckWait:        60 * time.Second,
	}
}

// Handler processes one decoded message. A returned error leaves the
// message unacked.
type Handler[T any] func(ctx context.Context, conn *nats.Conn, msg T) error

// Run subscribes to spec on conn and serves messages to handler until ctx
// is cancelled. The durable push consumer is read through a synchronous
// subscription (js.SubscribeSync with ManualAck and the spec's deliver
// subject, drained one message at a time): handler execution for message n
// happens-before the next message is fetched, which is how install
// idempotence holds against the broker's at-least-once delivery (§5).
func Run[T any](ctx context.Context, conn *nats.Conn, js nats.JetStreamContext, spec Spec, logger *slog.Logger, handler Handler[T]) error {
	sub, err := js.SubscribeSync(
		spec.FilterSubject,
		nats.Durable(spec.DurableName),
		nats.ManualAck(),
		nats.AckWait(spec.AckWait),
		nats.DeliverSubject(spec.DeliverSubject),
		nats.BindStream(spec.Stream),
	)
	if err != nil {
		return fmt.Errorf("consumer: subscribe %s: %w", spec.DurableName, err)
	}
	defer sub.Unsubscribe()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		natsMsg, err := sub.NextMsgWithContext(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Warn("consumer: fetch next message failed", "durable", spec.DurableName, "error", err)
			continue
		}

		var payload T
		if err := json.Unmarshal(natsMsg.Data, &payload); err != nil {
			// Malformed message: no quarantine mechanism (§7.6). Left
			// unacked; redelivery will hit the same decode error forever
			// until an operator intervenes upstream.
			logger.Error("consumer: decode message failed", "durable", spec.DurableName, "error", err)
			continue
		}

		if err := handler(ctx, conn, payload); err != nil {
			logger.Error("consumer: handler failed, leaving unacked", "durable", spec.DurableName, "error", err)
			continue
		}

		if err := natsMsg.Ack(); err != nil {
			logger.Warn("consumer: ack failed", "durable", spec.DurableName, "error", err)
		}
	}
}
