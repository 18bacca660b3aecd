package server

import (
	"context"
	"encoding/json"

	"github.com/coder/websocket"

	"github.com/astralforge/astral/internal/session"
	"github.com/astralforge/astral/internal/wire"
)

// wsTransport adapts a WebSocket connection to the session transport. Reads
// happen from the controller's read loop only; writes may come from both the
// controller loop and the pipeline drain worker, serialised by the
// controller's send lock.
type wsTransport struct {
	conn *websocket.Conn
}

var _ session.Transport = (*wsTransport)(nil)

func newWSTransport(conn *websocket.Conn) *wsTransport {
	return &wsTransport{conn: conn}
}

// Read returns the next well-formed client message. Frames that do not parse
// as JSON are a client protocol violation and are skipped, not fatal.
func (t *wsTransport) Read(ctx context.Context) (wire.Inbound, error) {
	for {
		_, data, err := t.conn.Read(ctx)
		if err != nil {
			return wire.Inbound{}, err
		}
		var in wire.Inbound
		if err := json.Unmarshal(data, &in); err == nil {
			return in, nil
		}
	}
}

func (t *wsTransport) Send(ctx context.Context, msg wire.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return t.conn.Write(ctx, websocket.MessageText, data)
}

func (t *wsTransport) SendRaw(ctx context.Context, raw json.RawMessage) error {
	return t.conn.Write(ctx, websocket.MessageText, raw)
}
