package client

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"nexumdb/pkg/common"
	"nexumdb/pkg/protocol"

	"github.com/goccy/go-json"
)

const dialTimeout = 5 * time.Second

// Client talks to a NexumDB TCP server. Calls are serialized over one
// connection.
type Client struct {
	mu   sync.Mutex
	conn net.Conn
	addr string
}

func Dial(addr string) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return nil, err
	}
	return &Client{
		conn: conn,
		addr: addr,
	}, nil
}

// Query executes one SQL statement remotely. Execution errors come back
// with their code, see protocol.RemoteError.
func (c *Client) Query(query string) (*common.Result, error) {
	// a write may already have run when the reply is lost, so only a failed
	// send is retried
	data, err := c.roundTrip(protocol.OpQuery, []byte(query), false)
	if err != nil {
		return nil, err
	}
	var res common.Result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return &res, nil
}

// Stats returns the server's stats report as JSON.
func (c *Client) Stats() (json.RawMessage, error) {
	data, err := c.roundTrip(protocol.OpStats, nil, true)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

func (c *Client) Ping() error {
	_, err := c.roundTrip(protocol.OpPing, nil, true)
	return err
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Close()
}

func (c *Client) roundTrip(op byte, val []byte, idempotent bool) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := protocol.Encode(c.conn, op, nil, val); err != nil {
		if err := c.reconnect(); err != nil {
			return nil, err
		}
		if err := protocol.Encode(c.conn, op, nil, val); err != nil {
			return nil, err
		}
	}

	pkg, err := protocol.Decode(c.conn)
	if err != nil {
		if !idempotent {
			return nil, err
		}
		if err := c.reconnect(); err != nil {
			return nil, err
		}
		if err := protocol.Encode(c.conn, op, nil, val); err != nil {
			return nil, err
		}
		if pkg, err = protocol.Decode(c.conn); err != nil {
			return nil, err
		}
	}

	switch pkg.Op {
	case protocol.RespOK, protocol.RespVal:
		return pkg.Value, nil
	case protocol.RespErr:
		var body protocol.ErrorBody
		if err := json.Unmarshal(pkg.Value, &body); err != nil {
			return nil, fmt.Errorf("server error: %s", pkg.Value)
		}
		return nil, body.Err()
	default:
		return nil, errors.New("unknown response")
	}
}

func (c *Client) reconnect() error {
	c.conn.Close()
	conn, err := net.DialTimeout("tcp", c.addr, dialTimeout)
	if err != nil {
		return err
	}
	c.conn = conn
	return nil
}
