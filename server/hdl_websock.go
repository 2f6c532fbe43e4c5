/******************************************************************************
 *
 *  Description :
 *
 *    Handler of websocket connections.
 *
 *****************************************************************************/

package main

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/oxytalk/chat/server/logs"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = idleSessionTimeout

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from the peer.
	maxMessageSize = 1 << 19 // 512K

	// Outbound queue size per session.
	sendQueueLimit = 128
)

func (sess *Session) readLoop() {
	defer func() {
		sess.ws.Close()
		sess.cleanUp()
	}()

	sess.ws.SetReadLimit(maxMessageSize)
	sess.ws.SetReadDeadline(time.Now().Add(pongWait))
	sess.ws.SetPongHandler(func(string) error {
		sess.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	sess.remoteAddr = sess.ws.RemoteAddr().String()

	for {
		// Read a ClientComMessage.
		_, raw, err := sess.ws.ReadMessage()
		if err != nil {
			logs.Info.Println("sess.readLoop: " + err.Error())
			return
		}
		sess.dispatchRaw(raw)
	}
}

func (sess *Session) writeLoop() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		sess.ws.Close() // break readLoop
	}()

	for {
		select {
		case msg, ok := <-sess.send:
			if !ok {
				// Channel closed.
				return
			}
			if err := wsWrite(sess.ws, websocket.TextMessage, msg); err != nil {
				logs.Warning.Println("sess.writeLoop: " + err.Error())
				return
			}
			statsMessageOut()

		case msg := <-sess.stop:
			// Shutdown requested, don't care if the message is delivered.
			if msg != nil {
				wsWrite(sess.ws, websocket.TextMessage, msg)
			}
			return

		case chat := <-sess.detach:
			sess.delSub(chat)

		case <-ticker.C:
			if err := wsWrite(sess.ws, websocket.PingMessage, nil); err != nil {
				logs.Warning.Println("sess.writeLoop: ping/" + err.Error())
				return
			}
		}
	}
}

// Writes a message with the given message type (mt) and payload.
func wsWrite(ws *websocket.Conn, mt int, msg any) error {
	var bits []byte
	if msg != nil {
		bits = msg.([]byte)
	}
	ws.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.WriteMessage(mt, bits)
}

// Handles websocket requests from peers.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Allow connections from any Origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

func serveWebSocket(wrt http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		wrt.Header().Set("Allow", "GET")
		http.Error(wrt, "Method not allowed", http.StatusMethodNotAllowed)
		logs.Warning.Println("ws: invalid HTTP method", req.Method)
		return
	}

	if globals.shuttingDown {
		http.Error(wrt, "Service unavailable", http.StatusServiceUnavailable)
		return
	}

	ws, err := upgrader.Upgrade(wrt, req, nil)
	if _, ok := err.(websocket.HandshakeError); ok {
		logs.Warning.Println("ws: not a websocket handshake")
		return
	} else if err != nil {
		logs.Warning.Println("ws: failed to upgrade:", err)
		return
	}

	sess, count := globals.sessionStore.NewSession(ws)
	logs.Info.Println("ws: session started", sess.sid, "live sessions:", count)

	go sess.writeLoop()
	sess.readLoop()
}
