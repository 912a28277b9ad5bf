// Package wsclient implements spec.md's C14: a WebSocket client layered
// on the reactor-driven TCP/TLS sockets and the incremental HTTP parser
// used to delimit the Upgrade handshake response.
package wsclient

import (
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/fastpath/netkit/internal/obslog"
	"github.com/fastpath/netkit/pkg/dnsresolver"
	"github.com/fastpath/netkit/pkg/httpparser"
	"github.com/fastpath/netkit/pkg/httpsession"
	"github.com/fastpath/netkit/pkg/reactor"
	"github.com/fastpath/netkit/pkg/signal"
	"github.com/fastpath/netkit/pkg/tcpsocket"
	"github.com/fastpath/netkit/pkg/tlssocket"
	"github.com/fastpath/netkit/pkg/uri"
	"github.com/fastpath/netkit/pkg/wsframe"
)

// State is a WebSocket connection's lifecycle stage.
type State int

const (
	StateClosed State = iota
	StateConnecting
	StateConnected
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// CloseEvent carries the code and reason a connection closed with.
type CloseEvent struct {
	Code   uint16
	Reason string
}

const (
	defaultPingInterval      = 30 * time.Second
	defaultCloseTimeout      = 5 * time.Second
	defaultReconnectInterval = 3 * time.Second
	defaultMaxReconnects     = 3
)

// Client is a single WebSocket connection, reconnect policy included.
type Client struct {
	reactor  *reactor.Reactor
	resolver *dnsresolver.Resolver
	logger   zerolog.Logger

	state State
	url   uri.URI
	conn  httpsession.Conn

	handshakeParser *httpparser.Parser
	handshakeKey    string

	receiveBuf     []byte
	maxPayloadSize int64

	fragActive bool
	fragOpCode wsframe.OpCode
	fragBuf    []byte

	localClose bool // Disconnect() was called; don't reconnect or surface the echoed close as an error

	pingInterval  time.Duration
	closeTimeout  time.Duration
	lastPong      time.Time
	pingTimer     *reactor.Timer
	closeTimer    *reactor.Timer
	reconnectTimer *reactor.Timer

	autoReconnect     bool
	maxReconnects     int
	reconnectAttempts int
	reconnectInterval time.Duration

	Connected            *signal.Signal[struct{}]
	Disconnected         *signal.Signal[CloseEvent]
	TextMessageReceived  *signal.Signal[string]
	BinaryMessageReceived *signal.Signal[[]byte]
	PongReceived         *signal.Signal[[]byte]
	ErrorOccurred        *signal.Signal[string]
	AboutToReconnect     *signal.Signal[struct{}]
}

// New creates a WebSocket client bound to r and resolving hostnames
// through resolver.
func New(r *reactor.Reactor, resolver *dnsresolver.Resolver) *Client {
	return &Client{
		reactor:           r,
		resolver:          resolver,
		logger:            obslog.Nop(),
		state:             StateClosed,
		maxPayloadSize:    wsframe.DefaultMaxPayloadSize,
		pingInterval:      defaultPingInterval,
		closeTimeout:      defaultCloseTimeout,
		maxReconnects:     defaultMaxReconnects,
		reconnectInterval: defaultReconnectInterval,

		Connected:             signal.New[struct{}](),
		Disconnected:          signal.New[CloseEvent](),
		TextMessageReceived:   signal.New[string](),
		BinaryMessageReceived: signal.New[[]byte](),
		PongReceived:          signal.New[[]byte](),
		ErrorOccurred:         signal.New[string](),
		AboutToReconnect:      signal.New[struct{}](),
	}
}

func (c *Client) State() State      { return c.state }
func (c *Client) IsConnected() bool { return c.state == StateConnected }

// SetLogger attaches a logger for state transitions, handshake failures,
// and reconnect decisions. Unset, the client logs nothing.
func (c *Client) SetLogger(l zerolog.Logger) { c.logger = l }

func (c *Client) SetAutoReconnect(enabled bool)         { c.autoReconnect = enabled }
func (c *Client) SetMaxReconnectAttempts(n int)         { c.maxReconnects = n }
func (c *Client) SetReconnectInterval(d time.Duration)  { c.reconnectInterval = d }
func (c *Client) SetPingInterval(d time.Duration)       { c.pingInterval = d }
func (c *Client) SetCloseTimeout(d time.Duration)       { c.closeTimeout = d }
func (c *Client) SetMaxPayloadSize(n int64)             { c.maxPayloadSize = n }

// ConnectToURL initiates the Upgrade handshake against url, whose scheme
// must be "ws" or "wss".
func (c *Client) ConnectToURL(u uri.URI) {
	c.url = u
	if scheme := u.Scheme(); scheme != "ws" && scheme != "wss" {
		c.fail("unsupported WebSocket scheme: " + scheme)
		return
	}
	c.reconnectAttempts = 0
	c.startHandshake()
}

func (c *Client) startHandshake() {
	c.localClose = false
	c.state = StateConnecting
	c.receiveBuf = nil
	c.fragActive = false
	c.fragBuf = nil

	var keyBytes [16]byte
	if _, err := rand.Read(keyBytes[:]); err != nil {
		c.fail("failed to generate Sec-WebSocket-Key: " + err.Error())
		return
	}
	c.handshakeKey = base64.StdEncoding.EncodeToString(keyBytes[:])

	host := c.url.Host()
	secure := c.url.Scheme() == "wss"
	port := portNumber(c.url.Port())
	if !c.url.HasExplicitPort() {
		if secure {
			port = 443
		} else {
			port = 80
		}
	}

	c.handshakeParser = httpparser.New(httpparser.ModeResponse, httpparser.Callbacks{
		OnHeadersComplete: c.onHandshakeHeaders,
		OnBody:            c.onHandshakeExcessBody,
		OnError: func(err error) {
			c.fail("handshake parse error: " + err.Error())
		},
	})

	tcp := tcpsocket.New(c.reactor, c.resolver)
	if secure {
		tlsSock := tlssocket.Dial(c.reactor, tcp, host, port, tlssocket.Config{
			ServerName: host,
			VerifyMode: tlssocket.VerifyPeer,
		})
		c.conn = httpsession.WrapTLS(tlsSock)
		c.attachHandshakeConn()
		tlsSock.HandshakeCompleted.Connect(func(struct{}) { c.sendHandshakeRequest() })
		tlsSock.HandshakeError.Connect(func(err error) {
			c.fail("TLS handshake failed: " + err.Error())
		})
		return
	}

	c.conn = httpsession.WrapTCP(tcp)
	c.attachHandshakeConn()
	tcp.Connected.Connect(func(struct{}) { c.sendHandshakeRequest() })
	tcp.ConnectToHost(host, port)
}

func (c *Client) attachHandshakeConn() {
	c.conn.OnBytesReceived(func(int) {
		if c.state == StateClosed {
			return
		}
		// Every read, handshake or post-upgrade, is fed to the same
		// parser: once headers complete it never leaves its
		// read-until-close body state, so every later chunk is
		// delivered straight through onHandshakeExcessBody.
		data := c.conn.ReadAll()
		c.handshakeParser.Feed(data)
	})
	c.conn.OnDisconnected(func() {
		if c.state == StateClosed {
			return
		}
		c.onTransportClosed()
	})
	c.conn.OnError(func(err error) {
		c.fail("transport error: " + err.Error())
	})
}

func (c *Client) sendHandshakeRequest() {
	host := c.url.Host()
	if c.url.HasExplicitPort() {
		host += ":" + c.url.Port()
	}

	var sb strings.Builder
	sb.WriteString("GET ")
	sb.WriteString(c.url.RequestTarget())
	sb.WriteString(" HTTP/1.1\r\n")
	sb.WriteString("Host: " + host + "\r\n")
	sb.WriteString("Upgrade: websocket\r\n")
	sb.WriteString("Connection: Upgrade\r\n")
	sb.WriteString("Sec-WebSocket-Key: " + c.handshakeKey + "\r\n")
	sb.WriteString("Sec-WebSocket-Version: 13\r\n")
	sb.WriteString("\r\n")

	c.conn.Write([]byte(sb.String()))
}

func (c *Client) onHandshakeHeaders(first httpparser.FirstLine, headers httpparser.Headers) {
	if first.StatusCode != 101 {
		c.fail("unexpected handshake status " + strconv.Itoa(first.StatusCode))
		return
	}
	if !headerHasToken(headers.Get("connection"), "upgrade") ||
		!strings.EqualFold(strings.TrimSpace(headers.Get("upgrade")), "websocket") {
		c.fail("missing or invalid Upgrade/Connection headers")
		return
	}
	expected := computeAcceptKey(c.handshakeKey)
	if headers.Get("sec-websocket-accept") != expected {
		c.fail("Sec-WebSocket-Accept mismatch")
		return
	}

	c.state = StateConnected
	c.lastPong = timeNow()
	c.startPingTimer()
	c.logger.Debug().Str("url", c.url.String()).Msg("websocket handshake completed")
	c.Connected.Emit(struct{}{})
}

// onHandshakeExcessBody receives whatever bytes followed the header block
// in the same read — the first WebSocket frame bytes, per spec.md
// §4.C14 step 4. It's also invoked for every later read as long as the
// handshake parser keeps "streaming a body", so it stays wired as the
// client's general receive path once connected.
func (c *Client) onHandshakeExcessBody(chunk []byte) {
	if c.state != StateConnected && c.state != StateClosing {
		return
	}
	c.receiveBuf = append(c.receiveBuf, chunk...)
	c.drainFrames()
}

func (c *Client) drainFrames() {
	for {
		frame, n, ok := wsframe.Decode(c.receiveBuf, c.maxPayloadSize)
		if !ok {
			return
		}
		if n > 0 {
			c.receiveBuf = c.receiveBuf[n:]
		}
		c.handleFrame(frame)
		if n == 0 {
			// Oversized-payload synthetic Close: the buffer still holds
			// the unconsumed frame bytes; there's nothing further to
			// decode from it.
			return
		}
	}
}

func (c *Client) handleFrame(f wsframe.Frame) {
	switch f.OpCode {
	case wsframe.OpPing:
		c.sendFrame(wsframe.NewPongFrame(f.Payload))
	case wsframe.OpPong:
		c.lastPong = timeNow()
		c.PongReceived.Emit(f.Payload)
	case wsframe.OpClose:
		c.handleCloseFrame(f)
	case wsframe.OpText, wsframe.OpBinary, wsframe.OpContinuation:
		c.handleDataFrame(f)
	}
}

func (c *Client) handleDataFrame(f wsframe.Frame) {
	if f.OpCode != wsframe.OpContinuation {
		c.fragActive = true
		c.fragOpCode = f.OpCode
		c.fragBuf = append([]byte(nil), f.Payload...)
	} else if c.fragActive {
		c.fragBuf = append(c.fragBuf, f.Payload...)
	} else {
		c.protocolError("continuation frame without an active message")
		return
	}

	if !f.Final {
		return
	}

	msg := c.fragBuf
	opCode := c.fragOpCode
	c.fragActive = false
	c.fragBuf = nil

	switch opCode {
	case wsframe.OpText:
		if !utf8.Valid(msg) {
			c.protocolError("invalid UTF-8 in text message")
			return
		}
		c.TextMessageReceived.Emit(string(msg))
	case wsframe.OpBinary:
		c.BinaryMessageReceived.Emit(msg)
	}
}

func (c *Client) handleCloseFrame(f wsframe.Frame) {
	code, reason := parseClosePayload(f.Payload)

	if c.state == StateClosing {
		c.finishClose(code, reason)
		return
	}
	if c.state != StateConnected {
		return
	}

	c.state = StateClosing
	c.sendFrame(wsframe.NewCloseFrame(wsframe.CloseCode(code), truncateReason(reason)))
	c.finishClose(code, reason)
}

func (c *Client) finishClose(code uint16, reason string) {
	wasLocal := c.localClose
	c.stopTimers()
	c.state = StateClosed
	if c.conn != nil {
		c.conn.Close()
	}
	c.Disconnected.Emit(CloseEvent{Code: code, Reason: reason})

	if !wasLocal {
		c.scheduleReconnect()
	}
}

func (c *Client) protocolError(reason string) {
	c.sendFrame(wsframe.NewCloseFrame(wsframe.CloseProtocolError, reason))
	c.state = StateClosing
	c.finishClose(uint16(wsframe.CloseProtocolError), reason)
}

func (c *Client) onTransportClosed() {
	if c.state == StateClosed {
		return
	}
	c.finishClose(uint16(wsframe.CloseAbnormalClosure), "connection closed")
}

func (c *Client) fail(msg string) {
	c.logger.Warn().Str("url", c.url.String()).Str("state", c.state.String()).Msg(msg)
	c.ErrorOccurred.Emit(msg)
	if c.state == StateClosed {
		return
	}
	c.stopTimers()
	prevState := c.state
	c.state = StateClosed
	if c.conn != nil {
		c.conn.Close()
	}
	if prevState != StateClosed {
		c.Disconnected.Emit(CloseEvent{Code: uint16(wsframe.CloseAbnormalClosure), Reason: msg})
	}
	if !c.localClose {
		c.scheduleReconnect()
	}
}

func (c *Client) sendFrame(f wsframe.Frame) {
	if c.conn == nil {
		return
	}
	c.conn.Write(f.Encode(true))
}

// SendTextMessage sends message, fragmenting it into MaxPayloadSize-sized
// frames when it exceeds that limit.
func (c *Client) SendTextMessage(message string) {
	c.sendFragmented(wsframe.OpText, []byte(message))
}

// SendBinaryMessage sends message, fragmenting it as SendTextMessage does.
func (c *Client) SendBinaryMessage(message []byte) {
	c.sendFragmented(wsframe.OpBinary, message)
}

func (c *Client) sendFragmented(opCode wsframe.OpCode, payload []byte) {
	if c.state != StateConnected {
		return
	}
	limit := c.maxPayloadSize
	if limit <= 0 {
		limit = wsframe.DefaultMaxPayloadSize
	}
	if int64(len(payload)) <= limit {
		c.sendFrame(wsframe.Frame{OpCode: opCode, Final: true, Payload: payload})
		return
	}

	first := true
	for int64(len(payload)) > limit {
		chunk := payload[:limit]
		payload = payload[limit:]
		op := opCode
		if !first {
			op = wsframe.OpContinuation
		}
		c.sendFrame(wsframe.Frame{OpCode: op, Final: false, Payload: chunk})
		first = false
	}
	op := opCode
	if !first {
		op = wsframe.OpContinuation
	}
	c.sendFrame(wsframe.Frame{OpCode: op, Final: true, Payload: payload})
}

// SendPing sends a ping frame carrying payload.
func (c *Client) SendPing(payload []byte) {
	if c.state != StateConnected {
		return
	}
	c.sendFrame(wsframe.NewPingFrame(payload))
}

// Disconnect initiates a graceful close: a Close frame is sent, the state
// moves to Closing, and a bounded timer forces the connection closed if
// the peer never echoes its own Close.
func (c *Client) Disconnect(code uint16, reason string) {
	if c.state != StateConnected {
		return
	}
	c.localClose = true
	c.state = StateClosing
	c.sendFrame(wsframe.NewCloseFrame(wsframe.CloseCode(code), reason))

	c.closeTimer = c.reactor.CreateTimer(c.closeTimeout, false, func() {
		if c.state != StateClosing {
			return
		}
		c.finishClose(code, reason)
	})
}

func (c *Client) startPingTimer() {
	interval := c.pingInterval
	if interval <= 0 {
		return
	}
	c.pingTimer = c.reactor.CreateTimer(interval, true, func() {
		if c.state != StateConnected {
			return
		}
		if timeNow().Sub(c.lastPong) > 2*interval {
			c.fail("ping timeout: no pong within two intervals")
			return
		}
		c.sendFrame(wsframe.NewPingFrame(nil))
	})
}

func (c *Client) stopTimers() {
	if c.pingTimer != nil {
		c.reactor.StopTimer(c.pingTimer)
		c.pingTimer = nil
	}
	if c.closeTimer != nil {
		c.reactor.StopTimer(c.closeTimer)
		c.closeTimer = nil
	}
	if c.reconnectTimer != nil {
		c.reactor.StopTimer(c.reconnectTimer)
		c.reconnectTimer = nil
	}
}

func (c *Client) scheduleReconnect() {
	if !c.autoReconnect {
		return
	}
	if c.maxReconnects > 0 && c.reconnectAttempts >= c.maxReconnects {
		return
	}
	c.reconnectAttempts++
	c.logger.Debug().Int("attempt", c.reconnectAttempts).Dur("interval", c.reconnectInterval).Msg("scheduling websocket reconnect")
	c.reconnectTimer = c.reactor.CreateTimer(c.reconnectInterval, false, func() {
		c.AboutToReconnect.Emit(struct{}{})
		c.startHandshake()
	})
}

func computeAcceptKey(key string) string {
	h := sha1.New()
	h.Write([]byte(key + wsframe.GUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

func headerHasToken(value, token string) bool {
	for _, part := range strings.Split(value, ",") {
		if strings.EqualFold(strings.TrimSpace(part), token) {
			return true
		}
	}
	return false
}

func parseClosePayload(payload []byte) (uint16, string) {
	if len(payload) < 2 {
		return uint16(wsframe.CloseNoStatusReceived), ""
	}
	code := uint16(payload[0])<<8 | uint16(payload[1])
	return code, string(payload[2:])
}

func truncateReason(reason string) string {
	if len(reason) > wsframe.MaxControlFramePayload-2 {
		return reason[:wsframe.MaxControlFramePayload-2]
	}
	return reason
}

func portNumber(portStr string) int {
	n, err := strconv.Atoi(portStr)
	if err != nil {
		return 0
	}
	return n
}

// timeNow is a seam so tests could substitute a fake clock if ever
// needed; production code just calls time.Now.
func timeNow() time.Time { return time.Now() }
