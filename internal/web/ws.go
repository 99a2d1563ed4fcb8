package web

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The dashboard is served from arbitrary origins in deployments.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsConn adapts a gorilla connection to the hub's Conn interface,
// encoding with goccy to match the rest of the wire surface.
type wsConn struct {
	conn *websocket.Conn
}

func (w wsConn) WriteJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (w wsConn) Close() error {
	return w.conn.Close()
}

// websocket upgrades the request and pumps inbound messages into the
// hub until the socket drops.
func (s *Server) websocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	client := s.hub.Register(wsConn{conn: conn})
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.hub.Disconnect(client)
			return
		}
		s.hub.HandleMessage(client, data)
	}
}
