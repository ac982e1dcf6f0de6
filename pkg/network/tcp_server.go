package network

import (
	stderrors "errors"
	"io"
	"net"
	"sync"

	"nexumdb/pkg/core"
	"nexumdb/pkg/protocol"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

// TCPServer speaks the binary frame protocol: one request frame, one
// response frame, any number of times per connection.
type TCPServer struct {
	db     *core.DB
	logger *zap.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup
	closed   bool
}

func NewTCPServer(db *core.DB, logger *zap.Logger) *TCPServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TCPServer{
		db:     db,
		logger: logger.Named("tcp"),
		conns:  make(map[net.Conn]struct{}),
	}
}

func (s *TCPServer) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(listener)
}

// Serve accepts connections until the listener is closed. It returns nil
// after Close.
func (s *TCPServer) Serve(listener net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		listener.Close()
		return nil
	}
	s.listener = listener
	s.mu.Unlock()
	s.logger.Info("listening (binary protocol)", zap.String("addr", listener.Addr().String()))

	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.isClosed() {
				return nil
			}
			var ne net.Error
			if stderrors.As(err, &ne) && ne.Timeout() {
				s.logger.Warn("accept error", zap.Error(err))
				continue
			}
			return err
		}
		if !s.track(conn) {
			conn.Close()
			return nil
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// Close stops accepting, closes open connections and waits for their
// handlers to return.
func (s *TCPServer) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	return err
}

func (s *TCPServer) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *TCPServer) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *TCPServer) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	for {
		req, err := protocol.Decode(conn)
		if err != nil {
			if err != io.EOF && !s.isClosed() {
				s.logger.Debug("decode error", zap.String("remote", conn.RemoteAddr().String()), zap.Error(err))
			}
			return
		}

		op, body := s.dispatch(req)
		if err := protocol.Encode(conn, op, nil, body); err != nil {
			s.logger.Debug("write error", zap.String("remote", conn.RemoteAddr().String()), zap.Error(err))
			return
		}
	}
}

func (s *TCPServer) dispatch(req *protocol.Packet) (byte, []byte) {
	switch req.Op {
	case protocol.OpPing:
		return protocol.RespOK, nil

	case protocol.OpQuery:
		res, err := s.db.Query(string(req.Value))
		if err != nil {
			return errorFrame(err)
		}
		return valueFrame(res)

	case protocol.OpStats:
		report, err := s.db.Report()
		if err != nil {
			return errorFrame(err)
		}
		return valueFrame(report)
	}
	return protocol.RespErr, mustJSON(protocol.ErrorBody{Code: "Error", Message: "unknown op"})
}

func valueFrame(v interface{}) (byte, []byte) {
	data, err := json.Marshal(v)
	if err != nil {
		return errorFrame(err)
	}
	return protocol.RespVal, data
}

func errorFrame(err error) (byte, []byte) {
	return protocol.RespErr, mustJSON(protocol.ErrorBodyOf(err))
}

func mustJSON(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte(`{"code":"Error","message":"unencodable error"}`)
	}
	return data
}
