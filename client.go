package parley

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/parley-ls/parley/jsonrpc"
	"github.com/parley-ls/parley/protocol"
)

// Client sends notifications and requests from server to client.
type Client struct {
	conn *jsonrpc.Conn
}

func newClient(conn *jsonrpc.Conn) *Client {
	return &Client{conn: conn}
}

// PublishDiagnostics sends diagnostics for a document to the client.
func (c *Client) PublishDiagnostics(ctx context.Context, params *protocol.PublishDiagnosticsParams) error {
	return c.conn.Notify(ctx, protocol.MethodPublishDiagnostics, params)
}

// LogMessage sends a log message to the client.
func (c *Client) LogMessage(ctx context.Context, typ protocol.MessageType, message string) error {
	return c.conn.Notify(ctx, protocol.MethodLogMessage, &protocol.LogMessageParams{
		Type:    typ,
		Message: message,
	})
}

// Call sends a request to the client and unmarshals its response, for
// client-side capabilities like workspace/applyEdit.
func (c *Client) Call(ctx context.Context, method string, params, result interface{}) error {
	resp, err := c.conn.Call(ctx, method, params)
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return resp.Error
	}
	if result != nil && resp.Result != nil {
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return fmt.Errorf("unmarshalling %s response: %w", method, err)
		}
	}
	return nil
}

// ShowMessage sends a user-visible message notification to the client.
func (c *Client) ShowMessage(ctx context.Context, typ protocol.MessageType, message string) error {
	return c.conn.Notify(ctx, protocol.MethodShowMessage, &protocol.ShowMessageParams{
		Type:    typ,
		Message: message,
	})
}
