package watcherrpc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"
)

// Client is a connection to a watcherrpc Server, holding a single
// persistent connection guarded by a mutex since the wire protocol is
// strictly request-then-response with no pipelining.
type Client struct {
	token string

	mu      sync.Mutex
	conn    net.Conn
	scanner *bufio.Scanner
	encoder *json.Encoder
}

// DialEndpoint connects to a parsed listener Endpoint. Pipe endpoints are
// rejected here for the same reason Spawn rejects them at bind time: named
// pipes are not yet implemented.
func DialEndpoint(endpoint Endpoint, token string, timeout time.Duration) (*Client, error) {
	switch endpoint.Kind {
	case EndpointTCP:
		return Dial("tcp", fmt.Sprintf("%s:%d", endpoint.Host, endpoint.Port), token, timeout)
	case EndpointLocal:
		return Dial("unix", endpoint.Path, token, timeout)
	case EndpointPipe:
		return nil, fmt.Errorf("watcherrpc: named pipes are not yet supported (%s)", endpoint.Name)
	default:
		return nil, fmt.Errorf("watcherrpc: unknown endpoint kind")
	}
}

// Dial connects to a TCP or Unix address (network is "tcp" or "unix").
func Dial(network, address, token string, timeout time.Duration) (*Client, error) {
	conn, err := net.DialTimeout(network, address, timeout)
	if err != nil {
		return nil, fmt.Errorf("watcherrpc: dial %s %s: %w", network, address, err)
	}
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return &Client{
		token:   token,
		conn:    conn,
		scanner: scanner,
		encoder: json.NewEncoder(conn),
	}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) call(req Request) (Response, error) {
	req.Authorization = "Bearer " + c.token

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.encoder.Encode(req); err != nil {
		return Response{}, fmt.Errorf("watcherrpc: send request: %w", err)
	}
	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			return Response{}, fmt.Errorf("watcherrpc: read response: %w", err)
		}
		return Response{}, fmt.Errorf("watcherrpc: connection closed by server")
	}

	var resp Response
	if err := json.Unmarshal(c.scanner.Bytes(), &resp); err != nil {
		return Response{}, fmt.Errorf("watcherrpc: decode response: %w", err)
	}
	if resp.Error != "" {
		return Response{}, fmt.Errorf("watcherrpc: %s", resp.Error)
	}
	return resp, nil
}

// HealthCheck pings the server.
func (c *Client) HealthCheck() (string, error) {
	resp, err := c.call(Request{Method: MethodHealthCheck})
	if err != nil {
		return "", err
	}
	return resp.Status, nil
}

// ListChanges fetches up to limit unacknowledged changes.
func (c *Client) ListChanges(limit int64) ([]Change, error) {
	resp, err := c.call(Request{Method: MethodListChanges, Limit: limit})
	if err != nil {
		return nil, err
	}
	return resp.Changes, nil
}

// AckChanges acknowledges every change up to and including upToChangeID.
func (c *Client) AckChanges(upToChangeID int64) (int64, error) {
	resp, err := c.call(Request{Method: MethodAckChanges, UpToChangeID: upToChangeID})
	if err != nil {
		return 0, err
	}
	return resp.Acknowledged, nil
}

// GetState returns a table's tracked consumption progress.
func (c *Client) GetState(tableName string) (Response, error) {
	return c.call(Request{Method: MethodGetState, TableName: tableName})
}

// SetState upserts a table's tracked consumption progress.
func (c *Client) SetState(tableName string, lastChangeID int64, lastWalFrame, cursor string) error {
	_, err := c.call(Request{
		Method:       MethodSetState,
		TableName:    tableName,
		LastChangeID: lastChangeID,
		LastWalFrame: lastWalFrame,
		Cursor:       cursor,
	})
	return err
}
