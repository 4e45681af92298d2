package relay

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrTransportClosed is returned by ReadMessage/WriteMessage once the
// transport has been closed.
var ErrTransportClosed = errors.New("relay: transport closed")

// Transport is any bidirectional, ordered, per-connection byte channel.
// The relay's connection handler is written against this interface so it
// can run over a real WebSocket (WSConn) or an in-memory pipe
// (PipeTransport) in tests, mirroring the teacher's readPump/writePump
// split without hard-wiring gorilla/websocket into the dispatch logic.
type Transport interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// WSConn adapts a gorilla/websocket connection to Transport, carrying the
// same read/write deadline discipline as the teacher's client.go
// readPump/writePump.
type WSConn struct {
	conn         *websocket.Conn
	writeMu      sync.Mutex
	writeTimeout time.Duration
	readTimeout  time.Duration
}

// NewWSConn wraps conn, configuring read limits/deadlines and a pong
// handler that resets the read deadline on every keepalive.
func NewWSConn(conn *websocket.Conn, maxMessageSize int64, readTimeout, writeTimeout time.Duration) *WSConn {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	return &WSConn{conn: conn, writeTimeout: writeTimeout, readTimeout: readTimeout}
}

func (w *WSConn) ReadMessage() ([]byte, error) {
	_, data, err := w.conn.ReadMessage()
	return data, err
}

func (w *WSConn) WriteMessage(data []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	w.conn.SetWriteDeadline(time.Now().Add(w.writeTimeout))
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

// Ping sends a control-frame ping, used by the server's keepalive loop.
func (w *WSConn) Ping() error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	w.conn.SetWriteDeadline(time.Now().Add(w.writeTimeout))
	return w.conn.WriteMessage(websocket.PingMessage, nil)
}

func (w *WSConn) Close() error {
	return w.conn.Close()
}

// PipeTransport is an in-memory Transport test double: writes to one end
// arrive as reads on the other.
type PipeTransport struct {
	out    chan []byte
	in     chan []byte
	closed chan struct{}
	once   sync.Once
}

// NewPipe returns two PipeTransports wired to each other.
func NewPipe(buffer int) (*PipeTransport, *PipeTransport) {
	a := make(chan []byte, buffer)
	b := make(chan []byte, buffer)
	closed := make(chan struct{})

	left := &PipeTransport{out: a, in: b, closed: closed}
	right := &PipeTransport{out: b, in: a, closed: closed}
	return left, right
}

func (p *PipeTransport) ReadMessage() ([]byte, error) {
	select {
	case data, ok := <-p.in:
		if !ok {
			return nil, ErrTransportClosed
		}
		return data, nil
	case <-p.closed:
		return nil, ErrTransportClosed
	}
}

func (p *PipeTransport) WriteMessage(data []byte) error {
	select {
	case <-p.closed:
		return ErrTransportClosed
	default:
	}
	select {
	case p.out <- data:
		return nil
	case <-p.closed:
		return ErrTransportClosed
	}
}

func (p *PipeTransport) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}
