// Package server implements the line-oriented TCP protocol of the Veridis core.
//
// Every request is one line: a command word followed by its arguments. Every
// reply is one line: "OK <json>", "PONG", or "ERR <code>: <message>".
package server

import (
	"bufio"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/642studio/Veridis/internal/authz"
	"github.com/642studio/Veridis/internal/events"
	"github.com/642studio/Veridis/pkg/schema"
	"github.com/642studio/Veridis/pkg/sdk"
)

const (
	maxConnections = 100
	connLifetime   = 5 * time.Minute
	commandTimeout = 30 * time.Second
)

type Router struct {
	hub  sdk.Hub
	cert *tls.Certificate
	log  zerolog.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	stopped  bool
}

func NewRouter(h sdk.Hub, log zerolog.Logger) *Router {
	return &Router{hub: h, log: log, conns: make(map[net.Conn]struct{})}
}

// SetCertificate sets the TLS certificate for the router
func (r *Router) SetCertificate(cert tls.Certificate) {
	r.cert = &cert
}

// Addr returns the bound address, or nil before Listen has bound.
func (r *Router) Addr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listener == nil {
		return nil
	}
	return r.listener.Addr()
}

// Listen serves the protocol on addr until Stop is called. It returns nil
// after a clean Stop.
func (r *Router) Listen(addr string) error {
	var listener net.Listener
	var err error

	if r.cert != nil {
		config := &tls.Config{Certificates: []tls.Certificate{*r.cert}, MinVersion: tls.VersionTLS12}
		listener, err = tls.Listen("tcp", addr, config)
	} else {
		listener, err = net.Listen("tcp", addr)
	}
	if err != nil {
		return err
	}

	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		listener.Close()
		return nil
	}
	r.listener = listener
	r.mu.Unlock()

	r.log.Info().Str("addr", listener.Addr().String()).Bool("tls", r.cert != nil).Msg("tcp listener started")

	semaphore := make(chan struct{}, maxConnections)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			r.log.Warn().Err(err).Msg("accept failed")
			continue
		}

		// Bound the lifetime of a connection to prevent resource exhaustion
		conn.SetDeadline(time.Now().Add(connLifetime))

		if !r.track(conn) {
			conn.Close()
			return nil
		}
		go func(c net.Conn) {
			semaphore <- struct{}{}
			defer func() {
				<-semaphore
				r.untrack(c)
				c.Close()
			}()
			r.handleConnection(c)
		}(conn)
	}
}

// Stop closes the listener and every open connection.
func (r *Router) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	for c := range r.conns {
		c.Close()
	}
	if r.listener == nil {
		return nil
	}
	return r.listener.Close()
}

func (r *Router) track(c net.Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return false
	}
	r.conns[c] = struct{}{}
	return true
}

func (r *Router) untrack(c net.Conn) {
	r.mu.Lock()
	delete(r.conns, c)
	r.mu.Unlock()
}

func (r *Router) handleConnection(conn net.Conn) {
	reader := bufio.NewReader(conn)

	for {
		// Set a deadline for the next command
		conn.SetReadDeadline(time.Now().Add(commandTimeout))

		line, err := reader.ReadString('\n')
		if err != nil {
			if !errors.Is(err, io.EOF) && !isTimeout(err) {
				r.log.Debug().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("connection read failed")
			}
			return
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		command, rest, _ := strings.Cut(line, " ")
		command = strings.ToUpper(command)
		rest = strings.TrimSpace(rest)

		switch command {
		case "PING":
			fmt.Fprintln(conn, "PONG")
		case "QUIT":
			return
		default:
			val, err := r.dispatch(command, rest)
			if err != nil {
				writeError(conn, err)
				continue
			}
			res, err := json.Marshal(val)
			if err != nil {
				fmt.Fprintln(conn, "ERR internal: cannot encode reply")
				continue
			}
			fmt.Fprintln(conn, "OK", string(res))
		}
	}
}

func (r *Router) dispatch(command, rest string) (any, error) {
	args := strings.Fields(rest)

	switch command {
	case "EMIT":
		// The raw body is handed over as is; malformed JSON degrades to defaults.
		return r.hub.IngestEvent(json.RawMessage(rest))

	case "STATE":
		return r.hub.GetState()

	case "EVENTS":
		limit, err := limitArg(args)
		if err != nil {
			return nil, err
		}
		return r.hub.GetEvents(limit)

	case "ALERTS":
		limit, err := limitArg(args)
		if err != nil {
			return nil, err
		}
		return r.hub.GetAlerts(limit)

	case "ROLE":
		if len(args) != 1 {
			return nil, usage("ROLE <externalId>")
		}
		role, err := r.hub.RoleOf(args[0])
		if err != nil {
			return nil, err
		}
		return schema.RoleInfo{ExternalID: args[0], Role: role}, nil

	case "CHECK":
		if len(args) != 2 {
			return nil, usage("CHECK <externalId> <action>")
		}
		return r.hub.CheckPermission(args[0], args[1])

	case "ONBOARD":
		id, body, _ := strings.Cut(rest, " ")
		if id == "" {
			return nil, usage("ONBOARD <externalId> [json]")
		}
		var profile schema.Profile
		if body = strings.TrimSpace(body); body != "" {
			if err := json.Unmarshal([]byte(body), &profile); err != nil {
				return nil, usage("ONBOARD <externalId> {\"name\":...,\"origin\":...}")
			}
		}
		return r.hub.OnboardUser(id, profile.Name, profile.Origin)

	case "INVITE":
		if len(args) < 1 || len(args) > 2 {
			return nil, usage("INVITE <creatorExternalId> [ttlHours]")
		}
		var ttl *float64
		if len(args) == 2 {
			hours, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return nil, usage("INVITE <creatorExternalId> [ttlHours]")
			}
			ttl = &hours
		}
		return r.hub.CreateInvite(args[0], ttl)

	case "REDEEM":
		if len(args) != 2 {
			return nil, usage("REDEEM <externalId> <code>")
		}
		return r.hub.RedeemInvite(args[0], args[1])

	case "ASSIST":
		verbose := len(args) > 0 && (strings.EqualFold(args[0], "verbose") || strings.EqualFold(args[0], "true"))
		return r.hub.AssistantQuery(verbose)
	}

	return nil, &authz.Error{Code: authz.CodeInvalidInput, Message: "unknown command " + command}
}

func limitArg(args []string) (int, error) {
	if len(args) == 0 {
		return events.DefaultQueryLimit, nil
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, usage("limit must be an integer")
	}
	return n, nil
}

func usage(msg string) error {
	return &authz.Error{Code: authz.CodeInvalidInput, Message: "usage: " + msg}
}

// writeError replies with the authorization code when there is one and
// "internal" otherwise.
func writeError(w io.Writer, err error) {
	var e *authz.Error
	if errors.As(err, &e) {
		msg := e.Message
		if msg == "" {
			msg = string(e.Code)
		}
		fmt.Fprintf(w, "ERR %s: %s\n", e.Code, oneLine(msg))
		return
	}
	fmt.Fprintf(w, "ERR internal: %s\n", oneLine(err.Error()))
}

func oneLine(s string) string {
	return strings.ReplaceAll(s, "\n", " ")
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
