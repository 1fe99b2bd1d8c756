// SPDX-License-Identifier: LGPL-3.0-or-later

// Package wsbridge bidirectionally bridges two WebSocket connections:
// the public-facing server side and an upstream client side (spec §4.9).
// Used by both the worker (bridging to a runner-local automation socket)
// and the control-plane (bridging to a chosen worker).
package wsbridge

import (
	"errors"
	"time"

	"github.com/gorilla/websocket"

	"camofleet/internal/logger"
)

const writeWait = 10 * time.Second

// Run bridges client and upstream until either side closes or errors,
// then tears down the other. It blocks until both forwarders have
// exited. Close codes: normal close is propagated quietly; unexpected
// errors close the client side with 1011 and are logged at warning level.
func Run(log logger.Logger, client, upstream *websocket.Conn) {
	wirePingPong(client, upstream)
	wirePingPong(upstream, client)

	errCh := make(chan error, 2)
	go func() { errCh <- forward(client, upstream) }()
	go func() { errCh <- forward(upstream, client) }()

	first := <-errCh

	code := websocket.CloseNormalClosure
	if !isQuietClose(first) {
		log.Warn("websocket bridge failure", "error", first)
		code = websocket.CloseInternalServerErr
	}

	deadline := time.Now().Add(writeWait)
	_ = client.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, ""), deadline)
	client.Close()
	upstream.Close()

	<-errCh
}

// forward reads frames from src and writes them to dst until src errors
// or disconnects. Text/binary frames pass through verbatim; ping/pong
// frames are handled by the handlers installed in wirePingPong, not here.
func forward(src, dst *websocket.Conn) error {
	for {
		mt, data, err := src.ReadMessage()
		if err != nil {
			return err
		}
		switch mt {
		case websocket.TextMessage, websocket.BinaryMessage:
			if err := dst.WriteMessage(mt, data); err != nil {
				return err
			}
		}
	}
}

// wirePingPong makes a ping received on src trigger a ping to dst, and a
// pong received on src trigger a pong to dst (spec §4.9's frame-handling
// rule). Run wires it in both directions, client->upstream and
// upstream->client.
func wirePingPong(src, dst *websocket.Conn) {
	src.SetPingHandler(func(data string) error {
		return dst.WriteControl(websocket.PingMessage, []byte(data), time.Now().Add(writeWait))
	})
	src.SetPongHandler(func(data string) error {
		return dst.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})
}

func isQuietClose(err error) bool {
	if err == nil {
		return true
	}
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) || errors.Is(err, websocket.ErrCloseSent)
}
