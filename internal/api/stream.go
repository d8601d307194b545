/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	ws "nhooyr.io/websocket"

	"github.com/friendsincode/doorkeeper/internal/events"
	"github.com/friendsincode/doorkeeper/internal/telemetry"
)

const streamPingInterval = 15 * time.Second

// handleStream pushes door events to a websocket client, starting with the
// current decision.
func (a *API) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.Accept(w, r, &ws.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		a.logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(ws.StatusInternalError, "server error")

	telemetry.APIStreamConnections.Inc()
	defer telemetry.APIStreamConnections.Dec()

	// reads are only needed to notice the client going away
	ctx := conn.CloseRead(r.Context())

	stateSub := a.bus.Subscribe(events.EventDoorState)
	failedSub := a.bus.Subscribe(events.EventActuatorFailed)
	overwriteSub := a.bus.Subscribe(events.EventOverwriteChanged)
	defer func() {
		a.bus.Unsubscribe(events.EventDoorState, stateSub)
		a.bus.Unsubscribe(events.EventActuatorFailed, failedSub)
		a.bus.Unsubscribe(events.EventOverwriteChanged, overwriteSub)
	}()

	if d, err := a.door.Current(); err == nil {
		if err := writeEvent(ctx, conn, "door.decision", d); err != nil {
			return
		}
	}

	ticker := time.NewTicker(streamPingInterval)
	defer ticker.Stop()

	for {
		var (
			eventType events.EventType
			payload   events.Payload
		)
		select {
		case <-ctx.Done():
			conn.Close(ws.StatusNormalClosure, "")
			return
		case <-ticker.C:
			if err := conn.Ping(ctx); err != nil {
				a.logger.Debug().Err(err).Msg("websocket ping failed")
				return
			}
			continue
		case payload = <-stateSub:
			eventType = events.EventDoorState
		case payload = <-failedSub:
			eventType = events.EventActuatorFailed
		case payload = <-overwriteSub:
			eventType = events.EventOverwriteChanged
		}

		if err := writeEvent(ctx, conn, string(eventType), payload); err != nil {
			a.logger.Debug().Err(err).Msg("websocket write failed")
			return
		}
	}
}

func writeEvent(ctx context.Context, conn *ws.Conn, eventType string, payload any) error {
	data, err := json.Marshal(map[string]any{
		"type":    eventType,
		"payload": payload,
	})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return conn.Write(ctx, ws.MessageText, data)
}
