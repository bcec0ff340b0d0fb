package ipc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		_ = c.client.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
	return nil
}

func (c *Client) call(method string, req, resp any) error {
	return c.client.Call(ServiceName+"."+method, req, resp)
}

// Start requests the daemon to start scanning.
func (c *Client) Start() (*StartResponse, error) {
	var resp StartResponse
	if err := c.call("Start", StartRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stop requests the daemon to stop scanning.
func (c *Client) Stop() (*StopResponse, error) {
	var resp StopResponse
	if err := c.call("Stop", StopRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.call("Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// State retrieves the ballot state.
func (c *Client) State() (*StateResponse, error) {
	var resp StateResponse
	if err := c.call("State", StateRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Review retrieves the adjudication screen, if any.
func (c *Client) Review() (*ReviewResponse, error) {
	var resp ReviewResponse
	if err := c.call("Review", ReviewRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Accept casts the sheet held for review.
func (c *Client) Accept() (*AcceptResponse, error) {
	var resp AcceptResponse
	if err := c.call("Accept", AcceptRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Calibrate runs a manual scanner calibration.
func (c *Client) Calibrate() (*CalibrateResponse, error) {
	var resp CalibrateResponse
	if err := c.call("Calibrate", CalibrateRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SetPolls opens or closes the polls.
func (c *Client) SetPolls(open bool) (*PollsResponse, error) {
	var resp PollsResponse
	if err := c.call("SetPolls", PollsRequest{Open: open}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SetCard reports an operator card inserted or removed.
func (c *Client) SetCard(inserted bool) (*CardResponse, error) {
	var resp CardResponse
	if err := c.call("SetCard", CardRequest{Inserted: inserted}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Health retrieves hardware health.
func (c *Client) Health() (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.call("Health", HealthRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// History retrieves recent ballot transitions.
func (c *Client) History(limit int) (*HistoryResponse, error) {
	var resp HistoryResponse
	if err := c.call("History", HistoryRequest{Limit: limit}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
