package router

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"os"
	"sync"

	"github.com/axon-project/axon/pkg/axerr"
)

// maxControlLine is the control-socket line length cap; lines longer than
// this are rejected with command_too_large.
const maxControlLine = 64 * 1024

// controlClient is one connected control-socket client: a read loop parses
// commands off conn, and a writer goroutine drains queue back to conn so
// fan-out delivery never blocks on a slow reader.
type controlClient struct {
	conn      net.Conn
	queue     chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newControlClient(conn net.Conn, depth int) *controlClient {
	return &controlClient{
		conn:   conn,
		queue:  make(chan []byte, depth),
		closed: make(chan struct{}),
	}
}

// send enqueues a line non-blockingly. It returns false if the client's
// queue is already full.
func (c *controlClient) send(line []byte) bool {
	select {
	case c.queue <- line:
		return true
	default:
		return false
	}
}

func (c *controlClient) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.conn.Close()
	})
}

func (c *controlClient) writeLoop() {
	for {
		select {
		case <-c.closed:
			return
		case line, ok := <-c.queue:
			if !ok {
				return
			}
			line = append(line, '\n')
			if _, err := c.conn.Write(line); err != nil {
				c.Close()
				return
			}
		}
	}
}

// serveControlSocket listens on the control socket until ctx is canceled.
func (r *Router) serveControlSocket(ctx context.Context) error {
	_ = os.Remove(r.cfg.ControlSocketPath)

	ln, err := net.Listen("unix", r.cfg.ControlSocketPath)
	if err != nil {
		return axerr.Wrap(axerr.CodeInternal, "listen on control socket", err)
	}
	if err := os.Chmod(r.cfg.ControlSocketPath, 0o600); err != nil {
		_ = ln.Close()
		return axerr.Wrap(axerr.CodeInternal, "set control socket permissions", err)
	}

	go func() {
		<-ctx.Done()
		_ = ln.Close()
		_ = os.Remove(r.cfg.ControlSocketPath)
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.log.WithError(err).Warn("control socket accept failed")
			continue
		}

		unixConn, ok := conn.(*net.UnixConn)
		if !ok {
			_ = conn.Close()
			continue
		}
		if err := verifyPeerCredential(unixConn); err != nil {
			r.log.WithError(err).Warn("rejecting control client with mismatched credentials")
			_ = conn.Close()
			continue
		}

		depth := r.cfg.ControlQueueDepth
		if depth <= 0 {
			depth = 1024
		}
		client := newControlClient(conn, depth)

		r.clientsMu.Lock()
		r.clients[client] = struct{}{}
		r.mx.ControlClients.Set(float64(len(r.clients)))
		r.clientsMu.Unlock()

		go client.writeLoop()
		go r.serveClient(ctx, client)
	}
}

func (r *Router) serveClient(ctx context.Context, client *controlClient) {
	defer func() {
		r.clientsMu.Lock()
		delete(r.clients, client)
		r.mx.ControlClients.Set(float64(len(r.clients)))
		r.clientsMu.Unlock()
		client.Close()
	}()

	scanner := bufio.NewScanner(client.conn)
	scanner.Buffer(make([]byte, 0, 4096), maxControlLine)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		reply := r.dispatch(ctx, line)
		if !client.send(reply) {
			return
		}
	}

	if err := scanner.Err(); err == bufio.ErrTooLong {
		// Written directly: the deferred Close would race the writer
		// goroutine and could drop a queued reply.
		_, _ = client.conn.Write(append(errorReply(axerr.CodeCommandTooLarge, "command line exceeds the 64 KiB limit"), '\n'))
	}
}

type commandRequest struct {
	Cmd         string          `json:"cmd"`
	To          string          `json:"to"`
	Kind        string          `json:"kind"`
	Payload     json.RawMessage `json:"payload"`
	Ref         *string         `json:"ref"`
	TimeoutSecs *float64        `json:"timeout_secs"`
	Pubkey      string          `json:"pubkey"`
	Addr        string          `json:"addr"`
}

func (r *Router) dispatch(ctx context.Context, line []byte) []byte {
	var req commandRequest
	if err := json.Unmarshal(line, &req); err != nil {
		return errorReply(axerr.CodeInvalidCommand, "command line is not valid JSON")
	}

	switch req.Cmd {
	case "send":
		return r.handleSend(ctx, req)
	case "peers":
		return r.handlePeers()
	case "status":
		return r.handleStatus()
	case "whoami":
		return r.handleWhoami()
	case "add_peer":
		return r.handleAddPeer(req)
	default:
		return errorReply(axerr.CodeInvalidCommand, "unrecognized command \""+req.Cmd+"\"")
	}
}

func errorReply(code axerr.Code, message string) []byte {
	b, _ := json.Marshal(map[string]any{
		"ok":      false,
		"error":   string(code),
		"message": message,
	})
	return b
}
