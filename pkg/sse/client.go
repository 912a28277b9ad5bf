package sse

import (
	"strconv"
	"strings"

	"github.com/fastpath/netkit/pkg/httpclient"
	"github.com/fastpath/netkit/pkg/signal"
)

// Client is a Server-Sent Events stream layered on an httpclient.Client,
// grounded on original_source/sse_client.cpp's SseClient.
type Client struct {
	http *httpclient.Client

	connected     bool
	disconnecting bool
	lastEventID   string
	handle        *httpclient.Handle
	parser        parser

	MessageReceived *signal.Signal[Event]
	Connected       *signal.Signal[struct{}]
	Disconnected    *signal.Signal[struct{}]
	Error           *signal.Signal[string]
}

// New creates an SSE client that sends its requests through http.
func New(http *httpclient.Client) *Client {
	return &Client{
		http:            http,
		MessageReceived: signal.New[Event](),
		Connected:       signal.New[struct{}](),
		Disconnected:    signal.New[struct{}](),
		Error:           signal.New[string](),
	}
}

// IsConnected reports whether the stream's HTTP response has been
// validated as an active SSE connection.
func (c *Client) IsConnected() bool { return c.connected }

// LastEventID returns the most recently recorded event id, usable as
// Last-Event-ID on reconnection.
func (c *Client) LastEventID() string { return c.lastEventID }

// Connect issues req (defaulting Accept/Cache-Control headers when absent,
// and setting Last-Event-ID to the last recorded event id, if any) and
// streams its body as SSE events until
// Disconnect, completion, or a transport error.
func (c *Client) Connect(req *httpclient.Request) {
	if c.connected {
		c.Disconnect()
	}
	c.disconnecting = false
	c.parser = parser{}

	if !req.Headers.Has("Accept") {
		req.Headers.Set("Accept", "text/event-stream")
	}
	if !req.Headers.Has("Cache-Control") {
		req.Headers.Set("Cache-Control", "no-cache")
	}
	if c.lastEventID != "" {
		req.Headers.Set("Last-Event-ID", c.lastEventID)
	}

	req.OnHeaders = c.onHeaders
	req.OnChunk = c.onChunk

	c.handle = c.http.Send(req, func(resp *httpclient.Response, err error) {
		if err != nil {
			wasConnected := c.connected
			c.connected = false
			if !c.disconnecting {
				c.Error.Emit("connection error: " + err.Error())
			}
			if wasConnected {
				c.Disconnected.Emit(struct{}{})
			}
			return
		}
		// Completion with no transport error: the stream ended normally
		// (connection closed by the server).
		wasConnected := c.connected
		c.connected = false
		if wasConnected {
			c.Disconnected.Emit(struct{}{})
		}
	})
}

func (c *Client) onHeaders(resp *httpclient.Response) {
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.connected = false
		c.Error.Emit("HTTP error: " + strconv.Itoa(resp.StatusCode) + " " + resp.Reason)
		c.Disconnected.Emit(struct{}{})
		return
	}
	contentType := resp.Header("Content-Type")
	if !strings.Contains(contentType, "text/event-stream") {
		c.connected = false
		c.Error.Emit("invalid content type for SSE: " + contentType)
		c.Disconnected.Emit(struct{}{})
		return
	}
	if !c.connected {
		c.connected = true
		c.Connected.Emit(struct{}{})
	}
}

func (c *Client) onChunk(chunk []byte) {
	if !c.connected {
		return
	}
	c.parser.feed(chunk, func(ev Event) {
		if ev.ID != "" {
			c.lastEventID = ev.ID
		}
		c.MessageReceived.Emit(ev)
	})
}

// Disconnect tears down the current stream. Cancelling the request fires
// no completion callback, so Error is not emitted; Disconnected fires
// here instead.
func (c *Client) Disconnect() {
	if !c.connected {
		return
	}
	c.disconnecting = true
	if c.handle != nil {
		c.handle.Cancel()
	}
	c.connected = false
	c.Disconnected.Emit(struct{}{})
}
