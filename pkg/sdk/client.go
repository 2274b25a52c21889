// Package sdk provides the client-side library for talking to the Veridis core.
// It supports both remote connections via TCP/TLS and an embedded in-process hub.
package sdk

import (
	"bufio"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/642studio/Veridis/internal/authz"
	"github.com/642studio/Veridis/pkg/schema"
)

const maxAttempts = 3

// Client is a remote client for the Veridis core daemon.
// It implements the Hub interface.
type Client struct {
	addr   string
	useTLS bool
	log    zerolog.Logger

	mu     sync.Mutex // Protects concurrent access to the connection
	conn   net.Conn
	reader *bufio.Reader
	closed bool
}

var _ Hub = (*Client)(nil)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithTLS overrides the VERIDIS_DISABLE_TLS environment default.
func WithTLS(enabled bool) ClientOption {
	return func(c *Client) { c.useTLS = enabled }
}

// WithClientLogger logs retries and reconnects.
func WithClientLogger(l zerolog.Logger) ClientOption {
	return func(c *Client) { c.log = l }
}

// Connect establishes a TLS-encrypted connection to a remote Veridis daemon.
// If VERIDIS_DISABLE_TLS is set to "true", it falls back to plain TCP.
func Connect(addr string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		addr:   addr,
		useTLS: os.Getenv("VERIDIS_DISABLE_TLS") != "true",
		log:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.reconnect(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) reconnect() error {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}

	var conn net.Conn
	var err error

	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 60 * time.Second,
	}

	if c.useTLS {
		config := &tls.Config{
			InsecureSkipVerify: true, // The daemon uses a self-signed certificate for internal traffic
		}
		conn, err = tls.DialWithDialer(dialer, "tcp", c.addr, config)
	} else {
		conn, err = dialer.Dial("tcp", c.addr)
	}

	if err != nil {
		return err
	}

	c.conn = conn
	c.reader = bufio.NewReader(conn)
	return nil
}

// readOnly lists the commands that can be resent safely after a lost reply.
var readOnly = map[string]bool{
	"PING":   true,
	"STATE":  true,
	"EVENTS": true,
	"ALERTS": true,
	"ROLE":   true,
	"CHECK":  true,
	"ASSIST": true,
}

// roundTrip sends one command line and returns the payload of an OK reply.
// A failed reconnect is retried with backoff for every command. Once a command
// has been written, only read-only commands are resent; a mutating command
// whose reply is lost fails with ErrOutcomeUnknown. ERR replies are returned at once.
func (c *Client) roundTrip(cmd string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return "", ErrNotConnected
	}

	verb, _, _ := strings.Cut(cmd, " ")
	resendable := readOnly[verb]

	var err error
	for i := 0; i < maxAttempts; i++ {
		if c.conn == nil {
			if reconnectErr := c.reconnect(); reconnectErr != nil {
				err = fmt.Errorf("reconnect failed: %w", reconnectErr)
				time.Sleep(time.Duration((i+1)*200) * time.Millisecond)
				continue
			}
		}

		c.conn.SetDeadline(time.Now().Add(30 * time.Second))

		var resp string
		if _, err = fmt.Fprint(c.conn, cmd+"\n"); err == nil {
			if resp, err = c.reader.ReadString('\n'); err == nil {
				return parseReply(strings.TrimSpace(resp))
			}
		}

		// The connection is unusable either way; the next call reconnects.
		c.conn.Close()
		c.conn = nil

		if !resendable {
			c.log.Warn().Err(err).Str("command", verb).Msg("veridis connection lost after sending a mutating command")
			return "", fmt.Errorf("%s: %w: %v", verb, ErrOutcomeUnknown, err)
		}
		c.log.Warn().Err(err).Int("attempt", i+1).Msg("veridis request failed, reconnecting")
		time.Sleep(time.Duration((i+1)*200) * time.Millisecond)
	}

	return "", fmt.Errorf("failed after %d attempts: %w", maxAttempts, err)
}

// parseReply turns "OK <json>" into its payload and "ERR <code>: <msg>" into
// an *authz.Error, so callers can match the authz sentinels with errors.Is.
func parseReply(resp string) (string, error) {
	switch {
	case resp == "PONG":
		return resp, nil
	case resp == "OK" || strings.HasPrefix(resp, "OK "):
		return strings.TrimPrefix(strings.TrimPrefix(resp, "OK"), " "), nil
	case strings.HasPrefix(resp, "ERR "):
		code, msg, _ := strings.Cut(strings.TrimPrefix(resp, "ERR "), ": ")
		if authz.FromCode(authz.Code(code)) != nil {
			return "", &authz.Error{Code: authz.Code(code), Message: msg}
		}
		return "", fmt.Errorf("veridis core: %s: %s", code, msg)
	}
	return "", fmt.Errorf("%w: %q", ErrProtocol, resp)
}

func call[T any](c *Client, cmd string) (T, error) {
	var out T
	payload, err := c.roundTrip(cmd)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal([]byte(payload), &out); err != nil {
		return out, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	return out, nil
}

// Ping checks that the daemon answers.
func (c *Client) Ping() error {
	_, err := c.roundTrip("PING")
	return err
}

// IngestEvent sends input as JSON. Raw bodies ([]byte, json.RawMessage) are
// forwarded as is, so malformed JSON degrades on the daemon like it does locally.
func (c *Client) IngestEvent(input any) (schema.SystemState, error) {
	var body []byte
	switch v := input.(type) {
	case json.RawMessage:
		body = v
	case []byte:
		body = v
	default:
		var err error
		if body, err = json.Marshal(input); err != nil {
			return schema.SystemState{}, err
		}
	}
	// Newlines are only insignificant whitespace in JSON, but they end a command.
	line := strings.NewReplacer("\r", " ", "\n", " ").Replace(string(body))
	return call[schema.SystemState](c, "EMIT "+line)
}

func (c *Client) GetState() (schema.SystemState, error) {
	return call[schema.SystemState](c, "STATE")
}

func (c *Client) GetEvents(limit int) ([]schema.Event, error) {
	return call[[]schema.Event](c, "EVENTS "+strconv.Itoa(limit))
}

func (c *Client) GetAlerts(limit int) ([]schema.Event, error) {
	return call[[]schema.Event](c, "ALERTS "+strconv.Itoa(limit))
}

func (c *Client) OnboardUser(externalID, name, origin string) (schema.UserRecord, error) {
	externalID, err := token(externalID)
	if err != nil {
		return schema.UserRecord{}, err
	}
	body, err := json.Marshal(schema.Profile{Name: name, Origin: origin})
	if err != nil {
		return schema.UserRecord{}, err
	}
	return call[schema.UserRecord](c, fmt.Sprintf("ONBOARD %s %s", externalID, body))
}

func (c *Client) CreateInvite(creatorExternalID string, ttlHours *float64) (schema.InviteCode, error) {
	creatorExternalID, err := token(creatorExternalID)
	if err != nil {
		return schema.InviteCode{}, err
	}
	cmd := "INVITE " + creatorExternalID
	if ttlHours != nil {
		cmd += " " + strconv.FormatFloat(*ttlHours, 'g', -1, 64)
	}
	return call[schema.InviteCode](c, cmd)
}

func (c *Client) RedeemInvite(externalID, code string) (schema.UserRecord, error) {
	externalID, err := token(externalID)
	if err != nil {
		return schema.UserRecord{}, err
	}
	code, err = token(code)
	if err != nil {
		return schema.UserRecord{}, authz.ErrInvalidCode
	}
	return call[schema.UserRecord](c, fmt.Sprintf("REDEEM %s %s", externalID, code))
}

func (c *Client) CheckPermission(externalID, action string) (schema.Decision, error) {
	externalID, err := token(externalID)
	if err != nil {
		return schema.Decision{}, err
	}
	action, err = token(action)
	if err != nil {
		return schema.Decision{}, err
	}
	return call[schema.Decision](c, fmt.Sprintf("CHECK %s %s", externalID, action))
}

func (c *Client) RoleOf(externalID string) (schema.Role, error) {
	externalID, err := token(externalID)
	if err != nil {
		return "", err
	}
	info, err := call[schema.RoleInfo](c, "ROLE "+externalID)
	return info.Role, err
}

func (c *Client) AssistantQuery(verbose bool) (schema.AssistantReply, error) {
	cmd := "ASSIST"
	if verbose {
		cmd += " verbose"
	}
	return call[schema.AssistantReply](c, cmd)
}

// Close says goodbye to the daemon and closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.conn == nil {
		return nil
	}
	fmt.Fprintln(c.conn, "QUIT")
	err := c.conn.Close()
	c.conn = nil
	return err
}

// token trims s and rejects values the line protocol cannot carry as one word.
func token(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.ContainsAny(s, " \t\r\n") {
		return "", &authz.Error{Code: authz.CodeInvalidInput, Message: fmt.Sprintf("%q is not a single word", s)}
	}
	return s, nil
}
