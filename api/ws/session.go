package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	sendChanBuf   = 256
	writeDeadline = 10 * time.Second
	readDeadline  = 60 * time.Second
	pingInterval  = 30 * time.Second
)

// Packet is the unified WS message envelope.
type Packet struct {
	Seq     uint64          `json:"seq"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Session is one connected stream client.
type Session struct {
	Client  string
	Conn    *websocket.Conn
	TraceID string
	LastSeq uint64

	SendChan chan []byte
	Done     chan struct{}

	closeOnce sync.Once
	logger    *zap.Logger
}

// NewSession creates a Session. A non-nil conn starts the write goroutine.
func NewSession(client string, conn *websocket.Conn, logger *zap.Logger) *Session {
	s := &Session{
		Client:   client,
		Conn:     conn,
		SendChan: make(chan []byte, sendChanBuf),
		Done:     make(chan struct{}),
		logger:   logger,
	}
	if conn != nil {
		go s.writePump()
	}
	return s
}

// writePump drains SendChan to the connection and pings it periodically.
func (s *Session) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer s.Conn.Close()
	for {
		select {
		case data := <-s.SendChan:
			_ = s.Conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := s.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.logger.Warn("ws write error", zap.String("client", s.Client), zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = s.Conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := s.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.Done:
			_ = s.Conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// Send encodes a packet and queues it without blocking. It drops the packet
// when the queue is full or the session is closed.
func (s *Session) Send(typ string, payload interface{}) {
	if s.IsClosed() {
		return
	}
	pkt := &Packet{Type: typ}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return
		}
		pkt.Payload = raw
	}
	data, err := json.Marshal(pkt)
	if err != nil {
		return
	}
	s.SendRaw(data)
}

// SendRaw queues already encoded bytes without blocking.
func (s *Session) SendRaw(data []byte) {
	select {
	case s.SendChan <- data:
	case <-s.Done:
	default:
		if !s.IsClosed() {
			s.logger.Warn("send channel full, dropping packet", zap.String("client", s.Client))
		}
	}
}

// Close signals the writePump to shut down.
func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.Done) })
}

// IsClosed returns true if the session has been closed.
func (s *Session) IsClosed() bool {
	select {
	case <-s.Done:
		return true
	default:
		return false
	}
}

// SetReadDeadline pushes the read deadline 60 s into the future.
func (s *Session) SetReadDeadline() {
	_ = s.Conn.SetReadDeadline(time.Now().Add(readDeadline))
}
