// Package remote implements the four protocol calls against the streamline
// evaluation service. Every call snapshots the connection settings, performs
// one POST with a JSON body, and returns the raw response text. There are no
// retries and no session state.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/kingrea/streamline/internal/connection"
)

// Op names a protocol operation in logs and errors.
type Op string

const (
	OpSendCode       Op = "send_code"
	OpUndefineModule Op = "undefine_module"
	OpLoadBlocks     Op = "load_blocks"
	OpExecuteModule  Op = "execute_module"
)

// Routes on the remote service. send_code goes to the direct endpoint, the
// rest to the management endpoint.
const (
	RouteSendCode       = "nrepl"
	RouteUndefineModule = "module/undefine"
	RouteLoadBlocks     = "blocks/load"
	RouteExecuteModule  = "module/execute"
)

// RequestIDHeader carries a per-call id for log correlation.
const RequestIDHeader = "X-Request-ID"

// Logger is satisfied by *logging.Logger and *log.Logger.
type Logger interface {
	Printf(format string, args ...any)
}

// Service is the protocol surface consumed by the shell and the CLI.
type Service interface {
	SendCode(ctx context.Context, source string) (*Response, error)
	UndefineModule(ctx context.Context, name string) (*Response, error)
	LoadBlocks(ctx context.Context, start, stop int) (*Response, error)
	ExecuteModule(ctx context.Context, start, stop int, name string) (*Response, error)
}

// Response is the verbatim outcome of one exchange. A non-2xx status is not an
// error here: the remote service reports its own failures in Text.
type Response struct {
	Op         Op
	URL        string
	StatusCode int
	Text       string
	RequestID  string
	Duration   time.Duration
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// Client issues protocol calls using a shared connection.Config.
type Client struct {
	conn   *connection.Config
	logger Logger
	clock  func() time.Time
	newID  func() string
}

var _ Service = (*Client)(nil)

// Option customizes Client construction.
type Option func(*Client)

// WithLogger overrides the default no-op logger.
func WithLogger(l Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock allows tests to control durations.
func WithClock(clock func() time.Time) Option {
	return func(c *Client) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithRequestIDs overrides the request id generator.
func WithRequestIDs(gen func() string) Option {
	return func(c *Client) {
		if gen != nil {
			c.newID = gen
		}
	}
}

// New builds a client reading its endpoints from conn on every call.
func New(conn *connection.Config, opts ...Option) *Client {
	if conn == nil {
		conn = connection.NewDefault()
	}
	c := &Client{
		conn:   conn,
		logger: nopLogger{},
		clock:  time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

type sendCodeRequest struct {
	Src string `json:"src"`
}

type undefineRequest struct {
	Module string `json:"module"`
}

type loadBlocksRequest struct {
	Start int `json:"start"`
	Stop  int `json:"stop"`
}

type executeRequest struct {
	Start  int    `json:"start"`
	Stop   int    `json:"stop"`
	Module string `json:"module"`
}

// SendCode posts source to the direct endpoint for immediate evaluation.
func (c *Client) SendCode(ctx context.Context, source string) (*Response, error) {
	return c.do(ctx, OpSendCode, directRoute(RouteSendCode), sendCodeRequest{Src: source})
}

// UndefineModule asks the remote service to retract name. Undefining a name
// that was never defined is acknowledged by the service, not reported here.
func (c *Client) UndefineModule(ctx context.Context, name string) (*Response, error) {
	if err := checkName(OpUndefineModule, name); err != nil {
		return nil, err
	}
	return c.do(ctx, OpUndefineModule, managementRoute(RouteUndefineModule), undefineRequest{Module: name})
}

// LoadBlocks loads the inclusive block range into the remote working set
// without executing it.
func (c *Client) LoadBlocks(ctx context.Context, start, stop int) (*Response, error) {
	if err := checkRange(OpLoadBlocks, start, stop); err != nil {
		return nil, err
	}
	return c.do(ctx, OpLoadBlocks, managementRoute(RouteLoadBlocks), loadBlocksRequest{Start: start, Stop: stop})
}

// ExecuteModule runs name against the inclusive block range. Whether the
// module or range exists is decided remotely and reported in the response.
func (c *Client) ExecuteModule(ctx context.Context, start, stop int, name string) (*Response, error) {
	if err := checkRange(OpExecuteModule, start, stop); err != nil {
		return nil, err
	}
	if err := checkName(OpExecuteModule, name); err != nil {
		return nil, err
	}
	return c.do(ctx, OpExecuteModule, managementRoute(RouteExecuteModule), executeRequest{Start: start, Stop: stop, Module: name})
}

func checkRange(op Op, start, stop int) error {
	if start > stop {
		return errors.WithMessagef(ErrInvalidRange, "%s: start %d > stop %d", op, start, stop)
	}
	return nil
}

func checkName(op Op, name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.WithMessagef(ErrInvalidModuleName, "%s", op)
	}
	return nil
}

type routeFunc func(connection.Settings) string

func directRoute(route string) routeFunc {
	return func(s connection.Settings) string { return s.DirectURL(route) }
}

func managementRoute(route string) routeFunc {
	return func(s connection.Settings) string { return s.ManagementURL(route) }
}

func (c *Client) do(ctx context.Context, op Op, route routeFunc, payload any) (*Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	// Snapshot releases the read lock before any network activity.
	settings := c.conn.Snapshot()
	url := route(settings)

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrapf(err, "remote: %s: encode request", op)
	}

	ctx, cancel := context.WithTimeout(ctx, settings.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Op: op, URL: url, Err: err}
	}
	id := c.newID()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/plain, */*")
	req.Header.Set(RequestIDHeader, id)

	started := c.clock()
	resp, err := c.conn.Transport().Do(req)
	if err != nil {
		terr := &TransportError{Op: op, URL: url, Timeout: isTimeout(ctx, err), Err: err}
		c.logger.Printf("remote: %s %s failed id=%s: %v", op, url, id, err)
		return nil, terr
	}
	defer resp.Body.Close()

	text, err := readText(resp)
	elapsed := c.clock().Sub(started)
	if err != nil {
		var perr *decodeError
		if errors.As(err, &perr) {
			c.logger.Printf("remote: %s %s status=%d undecodable body id=%s: %v", op, url, resp.StatusCode, id, perr.err)
			return nil, &ProtocolError{Op: op, URL: url, StatusCode: resp.StatusCode, Err: perr.err}
		}
		c.logger.Printf("remote: %s %s body read failed id=%s: %v", op, url, id, err)
		return nil, &TransportError{Op: op, URL: url, Timeout: isTimeout(ctx, err), Err: err}
	}
	c.logger.Printf("remote: %s %s status=%d bytes=%d took=%s id=%s", op, url, resp.StatusCode, len(text), elapsed, id)
	return &Response{
		Op:         op,
		URL:        url,
		StatusCode: resp.StatusCode,
		Text:       text,
		RequestID:  id,
		Duration:   elapsed,
	}, nil
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}
