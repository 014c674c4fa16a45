package remote_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/streamline/internal/connection"
	"github.com/kingrea/streamline/internal/mockrepl"
	"github.com/kingrea/streamline/internal/remote"
)

type captured struct {
	path      string
	body      []byte
	requestID string
}

func captureServer(t *testing.T, status int, reply string) (*httptest.Server, <-chan captured) {
	t.Helper()
	seen := make(chan captured, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		seen <- captured{path: r.URL.Path, body: body, requestID: r.Header.Get(remote.RequestIDHeader)}
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)
	return srv, seen
}

func endpointOf(t *testing.T, rawURL string) connection.Endpoint {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return connection.Endpoint{Host: u.Hostname(), Port: port}
}

func settingsFor(direct, management connection.Endpoint) connection.Settings {
	s := connection.DefaultSettings()
	s.Direct = direct
	s.Management = management
	s.Timeout = 2 * time.Second
	return s
}

func unreachableEndpoint(t *testing.T) connection.Endpoint {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().(*net.TCPAddr)
	require.NoError(t, ln.Close())
	return connection.Endpoint{Host: "127.0.0.1", Port: addr.Port}
}

func startMock(t *testing.T, opts ...mockrepl.Option) (*mockrepl.Server, connection.Endpoint) {
	t.Helper()
	srv := mockrepl.NewServer("127.0.0.1:0", opts...)
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	host, port := srv.HostPort()
	return srv, connection.Endpoint{Host: host, Port: port}
}

func TestSendCodePostsSourceToDirectEndpoint(t *testing.T) {
	direct, seen := captureServer(t, http.StatusOK, "compiled: foo_bar\n")
	management, other := captureServer(t, http.StatusOK, "wrong endpoint")
	conn := connection.New(settingsFor(endpointOf(t, direct.URL), endpointOf(t, management.URL)))
	client := remote.New(conn, remote.WithRequestIDs(func() string { return "req-1" }))

	resp, err := client.SendCode(context.Background(), "stream foo_bar;")
	require.NoError(t, err)
	assert.Equal(t, "compiled: foo_bar\n", resp.Text)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, resp.OK())
	assert.Equal(t, remote.OpSendCode, resp.Op)

	got := <-seen
	assert.Equal(t, "/nrepl", got.path)
	assert.JSONEq(t, `{"src": "stream foo_bar;"}`, string(got.body))
	assert.Equal(t, "req-1", got.requestID)
	assert.Empty(t, other)
}

func TestManagementPayloads(t *testing.T) {
	direct, _ := captureServer(t, http.StatusOK, "direct")
	management, seen := captureServer(t, http.StatusOK, "ack")
	conn := connection.New(settingsFor(endpointOf(t, direct.URL), endpointOf(t, management.URL)))
	client := remote.New(conn)
	ctx := context.Background()

	_, err := client.UndefineModule(ctx, "ticker")
	require.NoError(t, err)
	got := <-seen
	assert.Equal(t, "/module/undefine", got.path)
	assert.JSONEq(t, `{"module":"ticker"}`, string(got.body))
	assert.NotEmpty(t, got.requestID)

	_, err = client.LoadBlocks(ctx, 2, 5)
	require.NoError(t, err)
	got = <-seen
	assert.Equal(t, "/blocks/load", got.path)
	assert.JSONEq(t, `{"start":2,"stop":5}`, string(got.body))

	_, err = client.ExecuteModule(ctx, 2, 5, "ticker")
	require.NoError(t, err)
	got = <-seen
	assert.Equal(t, "/module/execute", got.path)
	assert.JSONEq(t, `{"start":2,"stop":5,"module":"ticker"}`, string(got.body))
}

func TestRangeContract(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = io.WriteString(w, "ok")
	}))
	t.Cleanup(srv.Close)
	ep := endpointOf(t, srv.URL)
	client := remote.New(connection.New(settingsFor(ep, ep)))
	ctx := context.Background()

	var want int32
	for start := -3; start <= 3; start++ {
		for stop := -3; stop <= 3; stop++ {
			_, loadErr := client.LoadBlocks(ctx, start, stop)
			_, execErr := client.ExecuteModule(ctx, start, stop, "m")
			if start > stop {
				assert.ErrorIs(t, loadErr, remote.ErrInvalidRange)
				assert.ErrorIs(t, execErr, remote.ErrInvalidRange)
				continue
			}
			want += 2
			assert.NoError(t, loadErr)
			assert.NoError(t, execErr)
			assert.Equal(t, want, calls.Load(), "start=%d stop=%d", start, stop)
		}
	}
	assert.Equal(t, want, calls.Load())
}

func TestBlankModuleNameRejectedLocally(t *testing.T) {
	client := remote.New(connection.New(settingsFor(unreachableEndpoint(t), unreachableEndpoint(t))))
	_, err := client.UndefineModule(context.Background(), "  ")
	assert.ErrorIs(t, err, remote.ErrInvalidModuleName)
	_, err = client.ExecuteModule(context.Background(), 1, 2, "")
	assert.ErrorIs(t, err, remote.ErrInvalidModuleName)
	assert.False(t, remote.IsTransport(err))
}

func TestUndefineUnknownModuleSucceeds(t *testing.T) {
	srv, ep := startMock(t)
	client := remote.New(connection.New(settingsFor(ep, ep)))

	for i := 0; i < 2; i++ {
		resp, err := client.UndefineModule(context.Background(), "never_sent")
		require.NoError(t, err)
		assert.True(t, resp.OK())
		assert.Equal(t, "ok: never_sent not defined", resp.Text)
	}
	assert.False(t, srv.Defined("never_sent"))
}

func TestRemoteLifecycleAgainstMock(t *testing.T) {
	srv, ep := startMock(t)
	client := remote.New(connection.New(settingsFor(ep, ep)))
	ctx := context.Background()

	_, err := client.SendCode(ctx, "module ticker;\nstream t;")
	require.NoError(t, err)
	assert.True(t, srv.Defined("ticker"))

	resp, err := client.ExecuteModule(ctx, 1, 4, "sink")
	require.NoError(t, err, "stale ranges are reported by the remote, not as local errors")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.False(t, resp.OK())
	assert.False(t, srv.Defined("sink"))

	_, err = client.LoadBlocks(ctx, 1, 4)
	require.NoError(t, err)
	resp, err = client.ExecuteModule(ctx, 1, 4, "sink")
	require.NoError(t, err)
	assert.True(t, resp.OK())
	assert.True(t, srv.Defined("sink"))

	resp, err = client.UndefineModule(ctx, "sink")
	require.NoError(t, err)
	assert.Equal(t, "ok: sink undefined", resp.Text)
	assert.False(t, srv.Defined("sink"))
}

func TestTransportErrorLeavesStateReusable(t *testing.T) {
	dead := unreachableEndpoint(t)
	conn := connection.New(settingsFor(dead, dead))
	client := remote.New(conn)
	before := conn.Snapshot()
	generation := conn.Generation()
	transport := conn.Transport()

	_, err := client.SendCode(context.Background(), "stream x;")
	require.Error(t, err)
	assert.True(t, remote.IsTransport(err))
	var terr *remote.TransportError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, remote.OpSendCode, terr.Op)

	assert.Equal(t, before, conn.Snapshot())
	assert.Equal(t, generation, conn.Generation())
	assert.Same(t, transport, conn.Transport())

	_, live := startMock(t)
	conn.Update(func(s *connection.Settings) { s.Direct = live })
	resp, err := client.SendCode(context.Background(), "stream x;")
	require.NoError(t, err)
	assert.True(t, resp.OK())
}

func TestTimeoutIsTransportError(t *testing.T) {
	_, slow := startMock(t, mockrepl.WithDelay(2*time.Second))
	settings := settingsFor(slow, slow)
	settings.Timeout = 100 * time.Millisecond
	conn := connection.New(settings)
	client := remote.New(conn)

	_, err := client.LoadBlocks(context.Background(), 1, 1)
	var terr *remote.TransportError
	require.True(t, errors.As(err, &terr), "got %v", err)
	assert.True(t, terr.Timeout)

	_, fast := startMock(t)
	conn.Update(func(s *connection.Settings) {
		s.Management = fast
		s.Timeout = 2 * time.Second
	})
	resp, err := client.LoadBlocks(context.Background(), 1, 1)
	require.NoError(t, err)
	assert.True(t, resp.OK())
}

func TestCallerCancellation(t *testing.T) {
	_, slow := startMock(t, mockrepl.WithDelay(2*time.Second))
	client := remote.New(connection.New(settingsFor(slow, slow)))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.SendCode(ctx, "x")
	assert.True(t, remote.IsTransport(err))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProtocolErrors(t *testing.T) {
	cases := map[string]struct {
		contentType string
		body        []byte
	}{
		"invalid utf-8":   {"text/plain", []byte{0xff, 0xfe, 0x00, 'x'}},
		"unknown charset": {"text/plain; charset=x-not-a-charset", []byte("hello")},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", tc.contentType)
				_, _ = w.Write(tc.body)
			}))
			t.Cleanup(srv.Close)
			ep := endpointOf(t, srv.URL)
			_, err := remote.New(connection.New(settingsFor(ep, ep))).SendCode(context.Background(), "x")
			require.Error(t, err)
			assert.True(t, remote.IsProtocol(err), "got %v", err)
			assert.False(t, remote.IsTransport(err))
		})
	}
}

func TestDecodesDeclaredCharset(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=ISO-8859-1")
		_, _ = w.Write([]byte("caf\xe9"))
	}))
	t.Cleanup(srv.Close)
	ep := endpointOf(t, srv.URL)
	resp, err := remote.New(connection.New(settingsFor(ep, ep))).SendCode(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, "café", resp.Text)
}

func TestInFlightCallDoesNotBlockReconfiguration(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
		_, _ = io.WriteString(w, "done")
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() {
		select {
		case <-release:
		default:
			close(release)
		}
	})
	ep := endpointOf(t, srv.URL)
	conn := connection.New(settingsFor(ep, ep))
	client := remote.New(conn)

	result := make(chan error, 1)
	go func() {
		resp, err := client.SendCode(context.Background(), "x")
		if err == nil && resp.Text != "done" {
			err = errors.New("unexpected reply " + resp.Text)
		}
		result <- err
	}()
	<-entered

	updated := make(chan struct{})
	go func() {
		conn.Update(func(s *connection.Settings) { s.Direct.Port = 1 })
		close(updated)
	}()
	select {
	case <-updated:
	case <-time.After(time.Second):
		t.Fatal("configuration write blocked by in-flight call")
	}
	close(release)
	require.NoError(t, <-result)
}

func TestRequestBodyIsJSONObject(t *testing.T) {
	srv, ep := startMock(t)
	client := remote.New(connection.New(settingsFor(ep, ep)))
	_, err := client.LoadBlocks(context.Background(), 0, 0)
	require.NoError(t, err)
	reqs := srv.Requests()
	require.Len(t, reqs, 1)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(reqs[0].Body, &payload))
	assert.Equal(t, map[string]any{"start": float64(0), "stop": float64(0)}, payload)
	assert.NotEmpty(t, reqs[0].RequestID)
}
