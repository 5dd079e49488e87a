package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"contractline/internal/domain"
	"contractline/internal/engine"
)

const (
	wsSendBuffer   = 64
	wsWriteTimeout = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsMessage is the JSON envelope of every frame in both directions. Inbound types are
// "telemetry" (a TelemetryRequest) and "tick" (a TickRequest); outbound types are "result",
// "transitions" and "error".
type wsMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type wsOutbound struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// serveWS streams objective transitions to the client and accepts telemetry frames from it.
func (s *service) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("ws: upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	send := make(chan wsOutbound, wsSendBuffer)
	push := func(msg wsOutbound) {
		select {
		case send <- msg:
		default:
			s.logger.Printf("ws: %s send buffer full, dropping %s", r.RemoteAddr, msg.Type)
		}
	}

	var stop func()
	_ = s.locked(func(e *engine.Engine) error {
		stop = e.Listen(func(trs []domain.Transition) {
			push(wsOutbound{Type: "transitions", Payload: trs})
		})
		return nil
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range send {
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				s.logger.Printf("ws: write to %s failed: %v", r.RemoteAddr, err)
				return
			}
		}
	}()

	for {
		var in wsMessage
		if err := conn.ReadJSON(&in); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Printf("ws: read from %s: %v", r.RemoteAddr, err)
			}
			break
		}
		push(s.handleFrame(r.Context(), in))
	}

	_ = s.locked(func(*engine.Engine) error {
		stop()
		return nil
	})
	close(send)
	<-done
}

func (s *service) handleFrame(ctx context.Context, in wsMessage) wsOutbound {
	var (
		res engine.Result
		out ResultResponse
		err error
	)
	switch in.Type {
	case "telemetry":
		var req TelemetryRequest
		if err := json.Unmarshal(in.Payload, &req); err != nil {
			return wsError(newAPIError(http.StatusBadRequest, "bad_request", "invalid telemetry payload", nil))
		}
		err = s.locked(func(e *engine.Engine) error {
			res, err = e.Publish(ctx, req.event())
			out = resultResponse(e.Clock(), res)
			return err
		})
	case "tick":
		var req TickRequest
		if err := json.Unmarshal(in.Payload, &req); err != nil {
			return wsError(newAPIError(http.StatusBadRequest, "bad_request", "invalid tick payload", nil))
		}
		err = s.locked(func(e *engine.Engine) error {
			res, err = e.Tick(ctx, req.Now)
			out = resultResponse(e.Clock(), res)
			return err
		})
	default:
		return wsError(newAPIError(http.StatusBadRequest, "bad_request", "unknown frame type "+in.Type, nil))
	}
	if err != nil {
		return wsError(handleError(err))
	}
	return wsOutbound{Type: "result", Payload: out}
}

func wsError(err error) wsOutbound {
	if ae, ok := err.(*apiError); ok {
		return wsOutbound{Type: "error", Payload: ae.Body}
	}
	return wsOutbound{Type: "error", Payload: apiErrorBody{Code: "internal_error", Message: err.Error()}}
}
