package potentiostat

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"github.com/webitel/device-gateway-service/internal/domain/model"
)

// wireClient speaks the instrument's line protocol over TCP: one
// request line out, one (or, for data dumps, several) reply lines back.
// Replies start with "OK" or "ERR <code> <message>".
//
// A circuit breaker sits in front of the socket so a flapping
// instrument trips fast instead of letting every queued command eat a
// full I/O timeout.
type wireClient struct {
	mu   sync.Mutex
	conn net.Conn
	rd   *bufio.Reader

	ioTimeout time.Duration
	breaker   *gobreaker.CircuitBreaker[string]
}

func newWireClient(ioTimeout time.Duration) *wireClient {
	if ioTimeout <= 0 {
		ioTimeout = 5 * time.Second
	}
	c := &wireClient{ioTimeout: ioTimeout}
	c.breaker = gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "potentiostat-wire",
		MaxRequests: 1,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
	return c
}

func (c *wireClient) dial(ctx context.Context, address string, timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}

	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return model.LinkError(fmt.Errorf("dial %s: %w", address, err))
	}
	c.conn = conn
	c.rd = bufio.NewReader(conn)
	return nil
}

func (c *wireClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
		c.rd = nil
	}
}

func (c *wireClient) connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// exchange sends one line and returns the first reply line, already
// classified. The breaker shields the socket; an open breaker counts as
// a link failure so the engine backs off the whole device.
func (c *wireClient) exchange(request string) (string, error) {
	line, err := c.breaker.Execute(func() (string, error) {
		return c.roundTrip(request)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", model.LinkError(err)
		}
		return "", err
	}
	return c.parseReply(line)
}

// exchangeBlock sends one line and reads reply lines until the "END"
// terminator, for data dumps.
func (c *wireClient) exchangeBlock(request string) ([]string, error) {
	if _, err := c.exchange(request); err != nil {
		return nil, err
	}

	var lines []string
	for {
		line, err := c.readLine()
		if err != nil {
			return nil, err
		}
		if line == "END" {
			return lines, nil
		}
		lines = append(lines, line)
	}
}

func (c *wireClient) roundTrip(request string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return "", model.LinkError(errors.New("wire: not connected"))
	}

	deadline := time.Now().Add(c.ioTimeout)
	_ = c.conn.SetDeadline(deadline)

	if _, err := fmt.Fprintf(c.conn, "%s\r\n", request); err != nil {
		return "", c.classifyIOErr(err)
	}
	line, err := c.rd.ReadString('\n')
	if err != nil {
		return "", c.classifyIOErr(err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (c *wireClient) readLine() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return "", model.LinkError(errors.New("wire: not connected"))
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(c.ioTimeout))
	line, err := c.rd.ReadString('\n')
	if err != nil {
		return "", c.classifyIOErr(err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// classifyIOErr decides link failure vs timeout. The socket is dropped
// on both: the protocol is synchronous and a missed reply leaves the
// stream unparseable.
func (c *wireClient) classifyIOErr(err error) error {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
		c.rd = nil
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return model.TimeoutError(err)
	}
	return model.LinkError(err)
}

// parseReply splits "OK <payload>" from "ERR <code> <message>".
func (c *wireClient) parseReply(line string) (string, error) {
	switch {
	case line == "OK":
		return "", nil
	case strings.HasPrefix(line, "OK "):
		return strings.TrimPrefix(line, "OK "), nil
	case strings.HasPrefix(line, "ERR "):
		return "", model.CommandError(fmt.Errorf("instrument: %s", strings.TrimPrefix(line, "ERR ")))
	default:
		return "", model.CommandError(fmt.Errorf("instrument: unparseable reply %q", line))
	}
}
