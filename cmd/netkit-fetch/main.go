// Command netkit-fetch is a minimal demonstration client: it resolves,
// connects, and issues a single HTTP/1.1 request (or, with -ws, sends one
// text message over an Upgrade'd WebSocket connection and prints the
// echo) against a URL, using nothing but this module's own components.
//
// No CLI framework appears anywhere in the retrieval pack, so flag parsing
// stays on the standard library's flag package rather than reaching for a
// third-party one with nothing in the corpus to ground it on.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/fastpath/netkit/config"
	"github.com/fastpath/netkit/internal/obslog"
	"github.com/fastpath/netkit/pkg/dnsresolver"
	"github.com/fastpath/netkit/pkg/httpclient"
	"github.com/fastpath/netkit/pkg/httpsession"
	"github.com/fastpath/netkit/pkg/reactor"
	"github.com/fastpath/netkit/pkg/uri"
	"github.com/fastpath/netkit/pkg/wsclient"
)

func main() {
	wsMode := flag.Bool("ws", false, "treat the target as a WebSocket endpoint and send one text message")
	message := flag.String("message", "hello from netkit-fetch", "message to send in -ws mode")
	timeout := flag.Duration("timeout", 30*time.Second, "overall deadline for the request")
	flag.Parse()

	target := flag.Arg(0)
	if target == "" {
		fmt.Fprintln(os.Stderr, "usage: netkit-fetch [-ws] [-message TEXT] [-timeout 30s] <url>")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := obslog.Default(cfg.LogLevel, cfg.LogColor)

	u, err := uri.Parse(target)
	if err != nil {
		logger.Fatal().Err(err).Str("url", target).Msg("invalid URL")
	}

	r, err := reactor.New()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start reactor")
	}
	defer r.Close()

	resolver, err := dnsresolver.New(r)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start resolver")
	}

	deadline := time.Now().Add(*timeout)
	if *wsMode {
		runWebSocket(r, resolver, u, *message, cfg, logger, deadline)
		return
	}
	runHTTP(r, resolver, u, cfg, logger, deadline)
}

func runHTTP(r *reactor.Reactor, resolver *dnsresolver.Resolver, u uri.URI, cfg config.Config, logger zerolog.Logger, deadline time.Time) {
	session := httpsession.New()
	session.SetConnectionTimeout(cfg.ConnectTimeout)
	session.SetIdleConnectionTimeout(cfg.IdleConnectionTimeout)
	session.SetMaxRedirects(cfg.HTTPMaxRedirects)

	client := httpclient.New(r, session, resolver)
	req := httpclient.NewRequest("GET", u)

	done := make(chan struct{})
	var resp *httpclient.Response
	var sendErr error
	client.Send(req, func(r *httpclient.Response, err error) {
		resp, sendErr = r, err
		close(done)
	})

	pump(r, done, deadline, logger)

	if sendErr != nil {
		logger.Fatal().Err(sendErr).Msg("request failed")
	}
	for _, hop := range resp.RedirectHistory {
		fmt.Fprintf(os.Stderr, "redirected from %s\n", hop.String())
	}
	fmt.Printf("%s %d %s\n", resp.Version, resp.StatusCode, resp.Reason)
	os.Stdout.Write(resp.Body)
	fmt.Println()
}

func runWebSocket(r *reactor.Reactor, resolver *dnsresolver.Resolver, u uri.URI, message string, cfg config.Config, logger zerolog.Logger, deadline time.Time) {
	client := wsclient.New(r, resolver)
	client.SetLogger(logger)
	client.SetPingInterval(cfg.WSPingInterval)
	client.SetCloseTimeout(cfg.WSCloseTimeout)
	client.SetReconnectInterval(cfg.WSReconnectInterval)
	client.SetMaxReconnectAttempts(cfg.WSMaxReconnects)

	connected := make(chan struct{})
	received := make(chan string, 1)
	failed := make(chan struct{})
	client.Connected.Connect(func(struct{}) { close(connected) })
	client.TextMessageReceived.Connect(func(s string) {
		select {
		case received <- s:
		default:
		}
	})
	client.ErrorOccurred.Connect(func(string) {
		select {
		case <-failed:
		default:
			close(failed)
		}
	})

	client.ConnectToURL(u)
	pumpUntil(r, deadline, logger, func() bool {
		select {
		case <-connected:
			return true
		case <-failed:
			return true
		default:
			return false
		}
	})
	select {
	case <-failed:
		logger.Fatal().Msg("websocket handshake failed")
	default:
	}

	client.SendTextMessage(message)
	pumpUntil(r, deadline, logger, func() bool {
		select {
		case <-received:
			return true
		default:
			return false
		}
	})
	select {
	case echoed := <-received:
		fmt.Println(echoed)
	default:
		logger.Fatal().Msg("timed out waiting for an echo")
	}

	client.Disconnect(1000, "done")
	pumpUntil(r, deadline, logger, func() bool { return client.State() == wsclient.StateClosed })
}

// pump drives the reactor until done closes or deadline passes.
func pump(r *reactor.Reactor, done <-chan struct{}, deadline time.Time, logger zerolog.Logger) {
	pumpUntil(r, deadline, logger, func() bool {
		select {
		case <-done:
			return true
		default:
			return false
		}
	})
}

func pumpUntil(r *reactor.Reactor, deadline time.Time, logger zerolog.Logger, cond func() bool) {
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		if err := r.ProcessEvents(10 * time.Millisecond); err != nil {
			logger.Fatal().Err(err).Msg("reactor stopped unexpectedly")
		}
	}
	if !cond() {
		logger.Fatal().Msg("timed out")
	}
}
