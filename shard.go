/************************************************************************************
 *
 * shardwire, a Go client for Discord's Gateway and Voice real-time services
 *
 * SPDX-License-Identifier: BSD-3-Clause
 *
 * Copyright 2025 shardwire authors
 *
 * Licensed under the BSD 3-Clause License.
 * See the LICENSE file for details.
 *
 ************************************************************************************/

package shardwire

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// ShardState is the advisory, observable state of a Shard's connection.
// The authoritative behavior always lives in the shard's own loop; this
// value only reflects it for outside observers.
type ShardState int32

const (
	ShardStateDisconnected ShardState = iota
	ShardStateConnecting
	ShardStateHandshaking
	ShardStateIdentifying
	ShardStateResuming
	ShardStateConnected
	ShardStateReconnecting
	ShardStateDisconnecting
)

func (s ShardState) String() string {
	switch s {
	case ShardStateDisconnected:
		return "disconnected"
	case ShardStateConnecting:
		return "connecting"
	case ShardStateHandshaking:
		return "handshaking"
	case ShardStateIdentifying:
		return "identifying"
	case ShardStateResuming:
		return "resuming"
	case ShardStateConnected:
		return "connected"
	case ShardStateReconnecting:
		return "reconnecting"
	case ShardStateDisconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

const helloTimeout = 10 * time.Second

// gatewaySendPayload is the outbound envelope shape for commands the shard
// serializes onto its socket. D may be nil (bare heartbeat before any
// sequence is known).
type gatewaySendPayload struct {
	Op gatewayOpcode `json:"op"`
	D  any           `json:"d"`
}

// Shard manages a single WebSocket connection to Discord's Gateway:
// handshake, heartbeat, dispatch, and reconnect with backoff. Exactly one
// goroutine (Run's caller) owns the socket and the session/sequence cells;
// everything else reaches the shard through atomics or SendPayload/Shutdown.
type Shard struct {
	shardID     int
	totalShards int
	cfg         *Config
	logger      Logger
	sink        EventSink

	state    atomic.Int32
	seq      atomic.Int64
	shutdown atomic.Bool

	sessionMu sync.Mutex
	sessionID string
	resumeURL string

	hb   *HeartbeatEngine
	zlib *ZlibStreamDecoder

	connMu sync.Mutex
	conn   net.Conn

	commands chan gatewaySendPayload
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewShard constructs a shard for (shardID, totalShards) under cfg. sink
// receives every Dispatch event, invoked from cfg.WorkerPool rather than the
// read loop; with a nil WorkerPool it is called inline, and an event the pool
// rejects is dropped.
func NewShard(shardID, totalShards int, cfg *Config, sink EventSink) *Shard {
	logger := cfg.Logger.WithField("shard_id", shardID)
	return &Shard{
		shardID:     shardID,
		totalShards: totalShards,
		cfg:         cfg,
		logger:      logger,
		sink:        sink,
		hb:          NewHeartbeatEngine(),
		commands:    make(chan gatewaySendPayload, 16),
		stopCh:      make(chan struct{}),
	}
}

func (s *Shard) ShardID() int     { return s.shardID }
func (s *Shard) TotalShards() int { return s.totalShards }

func (s *Shard) State() ShardState { return ShardState(s.state.Load()) }

func (s *Shard) setState(st ShardState) { s.state.Store(int32(st)) }

func (s *Shard) Sequence() int64 { return s.seq.Load() }

// Latency returns the last measured heartbeat round-trip time, and whether
// one has been measured yet.
func (s *Shard) Latency() (time.Duration, bool) {
	return s.hb.Latency()
}

// SendPayload enqueues a raw gateway payload to be sent on the shard's next
// loop iteration. Returns ErrNotConnected if the shard isn't running.
func (s *Shard) SendPayload(op gatewayOpcode, d any) error {
	if s.State() != ShardStateConnected {
		return ErrNotConnected
	}
	select {
	case s.commands <- gatewaySendPayload{Op: op, D: d}:
		return nil
	default:
		return ErrNotConnected
	}
}

// Shutdown requests a graceful stop; observed at the next loop iteration.
func (s *Shard) Shutdown() {
	s.shutdown.Store(true)
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// Run drives the shard's full lifecycle: connect, handshake, steady-state
// loop, and reconnect-with-backoff on recoverable failure. It returns nil
// only after a graceful Shutdown, and an error when reconnect attempts are
// exhausted or a fatal close code is received.
func (s *Shard) Run(ctx context.Context) error {
	attempts := 0
	for {
		select {
		case <-s.stopCh:
			s.setState(ShardStateDisconnecting)
			return nil
		default:
		}

		s.setState(ShardStateConnecting)
		err := s.runOnce(ctx)
		if err == nil {
			s.setState(ShardStateDisconnected)
			return nil
		}

		if s.shutdown.Load() {
			return nil
		}

		var gerr *GatewayError
		if errors.As(err, &gerr) {
			switch gerr.Kind {
			case ErrKindClosed:
				if gerr.Code.Fatal() {
					s.logger.Error("fatal close code, not reconnecting: " + gerr.Error())
					if gerr.Code == GatewayCloseEventCodeAuthenticationFailed {
						return fmt.Errorf("%w: %w", ErrAuthenticationFailed, err)
					}
					return err
				}
			case ErrKindInvalidSession:
				if !gerr.Resumable {
					s.clearSession()
				}
			}
		}
		if errors.Is(err, ErrAuthenticationFailed) {
			return err
		}

		attempts++
		if attempts > s.cfg.MaxReconnectAttempts {
			s.logger.Error("reconnect attempts exhausted")
			return fmt.Errorf("%w: %v", ErrReconnectExhausted, err)
		}

		s.setState(ShardStateReconnecting)
		delay := WithJitter(ExponentialBackoff(uint32(attempts-1), s.cfg.ReconnectBaseDelayMs, s.cfg.ReconnectMaxDelayMs), 0.25)
		s.logger.WithField("attempt", attempts).WithField("delay_ms", delay.Milliseconds()).Warn("reconnecting after error: " + err.Error())

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Shard) clearSession() {
	s.sessionMu.Lock()
	s.sessionID = ""
	s.resumeURL = ""
	s.sessionMu.Unlock()
	s.seq.Store(0)
}

func (s *Shard) gatewayURL() string {
	s.sessionMu.Lock()
	base := s.resumeURL
	s.sessionMu.Unlock()
	if base == "" {
		base = s.cfg.GatewayURL
	}

	u, err := url.Parse(base)
	if err != nil {
		u, _ = url.Parse(DefaultGatewayURL)
	}
	q := u.Query()
	q.Set("v", GatewayVersion)
	q.Set("encoding", s.cfg.Encoding.queryValue())
	if s.cfg.Compress {
		q.Set("compress", "zlib-stream")
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// inboundFrame is a unit of work handed from the socket-reading goroutine to
// the shard's main select loop.
type inboundFrame struct {
	op  ws.OpCode
	msg []byte
	err error
}

// runOnce performs one connect-handshake-steady-state attempt. It returns
// nil only when Shutdown was observed; any other return is a *GatewayError,
// ErrHeartbeatTimeout, or the context's error, describing why the attempt
// ended.
func (s *Shard) runOnce(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, helloTimeout)
	conn, _, _, err := ws.Dialer{}.Dial(dialCtx, s.gatewayURL())
	cancel()
	if err != nil {
		return newTransportError(err)
	}

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()
	defer func() {
		s.connMu.Lock()
		if s.conn != nil {
			s.conn.Close()
			s.conn = nil
		}
		s.connMu.Unlock()
	}()

	if s.cfg.Compress {
		s.zlib = NewZlibStreamDecoder()
	}

	s.setState(ShardStateHandshaking)

	frames := make(chan inboundFrame, 8)
	go s.readFrames(conn, frames)
	defer func() {
		// drain so readFrames's send doesn't block forever after we stop
		// consuming; the connection close above unblocks the blocking read.
		go func() {
			for range frames {
			}
		}()
	}()

	hello, err := s.awaitHello(frames)
	if err != nil {
		return err
	}
	s.hb.SetInterval(hello)
	s.hb.Reset()

	if err := s.cfg.IdentifyLimiter.Acquire(ctx); err != nil {
		return newTransportError(err)
	}

	s.sessionMu.Lock()
	hasSession := s.sessionID != ""
	sessionID := s.sessionID
	s.sessionMu.Unlock()

	if hasSession && s.seq.Load() > 0 {
		s.setState(ShardStateResuming)
		if err := s.sendResume(sessionID); err != nil {
			return newTransportError(err)
		}
	} else {
		s.setState(ShardStateIdentifying)
		if err := s.sendIdentify(); err != nil {
			return newTransportError(err)
		}
	}

	if err := s.sendHeartbeat(); err != nil {
		return newTransportError(err)
	}
	s.hb.MarkSent()

	return s.steadyState(ctx, frames)
}

func (s *Shard) awaitHello(frames <-chan inboundFrame) (time.Duration, error) {
	timer := time.NewTimer(helloTimeout)
	defer timer.Stop()

	for {
		select {
		case f, ok := <-frames:
			if !ok || f.err != nil {
				if f.err != nil {
					return 0, newTransportError(f.err)
				}
				return 0, newTransportError(errors.New("connection closed before Hello"))
			}
			if f.op != ws.OpText && f.op != ws.OpBinary {
				continue
			}
			payload, err := s.decodeEnvelope(f)
			if err != nil {
				return 0, err
			}
			if payload == nil {
				continue
			}
			if payload.Op != gatewayOpcodeHello {
				continue
			}
			var hello struct {
				HeartbeatInterval float64 `json:"heartbeat_interval"`
			}
			if err := sonic.Unmarshal(payload.D, &hello); err != nil {
				return 0, newDecodeError(err)
			}
			return time.Duration(hello.HeartbeatInterval) * time.Millisecond, nil
		case <-timer.C:
			return 0, newClosedError(0, "Hello timeout")
		}
	}
}

func (s *Shard) steadyState(ctx context.Context, frames <-chan inboundFrame) error {
	ticker := time.NewTicker(s.hb.Interval())
	defer ticker.Stop()
	s.setState(ShardStateConnected)

	for {
		select {
		case f, ok := <-frames:
			if !ok {
				return newTransportError(errors.New("connection closed"))
			}
			if f.err != nil {
				var closeErr wsutil.ClosedError
				if errors.As(f.err, &closeErr) {
					code := GatewayCloseEventCode(closeErr.Code)
					if code == GatewayCloseEventCodeRateLimited {
						// Discord's close frame carries no retry_after payload
						// at this layer (unlike the HTTP 429 body the REST
						// collaborator would see), so RetryAfterMs stays 0.
						return &GatewayError{Kind: ErrKindRateLimited, Code: code, Reason: closeErr.Reason}
					}
					return newClosedError(code, closeErr.Reason)
				}
				return newTransportError(f.err)
			}
			if terminate, err := s.handleFrame(f); err != nil || terminate {
				return err
			}

		case <-ticker.C:
			if !s.hb.IsAcked() {
				return ErrHeartbeatTimeout
			}
			if err := s.sendHeartbeat(); err != nil {
				return newTransportError(err)
			}
			s.hb.MarkSent()

		case cmd := <-s.commands:
			if err := s.writePayload(cmd.Op, cmd.D); err != nil {
				return newTransportError(err)
			}

		case <-s.stopCh:
			return nil

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// readFrames owns the blocking read side of the connection, translating
// WebSocket frames (and ping/pong handling) into inboundFrame values on out.
// It returns when the connection errors or closes.
func (s *Shard) readFrames(conn net.Conn, out chan<- inboundFrame) {
	defer close(out)
	for {
		msg, op, err := wsutil.ReadServerData(conn)
		if err != nil {
			out <- inboundFrame{err: err}
			return
		}
		switch op {
		case ws.OpPing:
			_ = wsutil.WriteClientMessage(conn, ws.OpPong, msg)
			continue
		case ws.OpPong:
			continue
		case ws.OpClose:
			code, reason := ws.ParseCloseFrameData(msg)
			out <- inboundFrame{err: wsutil.ClosedError{Code: code, Reason: reason}}
			return
		}
		out <- inboundFrame{op: op, msg: msg}
	}
}

// decodeEnvelope turns a raw frame into a gatewayPayload, running it through
// the zlib-stream decoder first when compression is enabled. Returns a nil
// payload (no error) when a binary frame doesn't yet complete a message.
func (s *Shard) decodeEnvelope(f inboundFrame) (*gatewayPayload, error) {
	data := f.msg
	if s.cfg.Compress && f.op == ws.OpBinary {
		out, ok, err := s.zlib.Feed(f.msg)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
		data = out
	}

	var payload gatewayPayload
	if s.cfg.Encoding == EncodingETF {
		term, err := DecodeETF(data)
		if err != nil {
			return nil, newDecodeError(err)
		}
		raw, err := etfEnvelopeToJSON(term)
		if err != nil {
			return nil, newDecodeError(err)
		}
		if err := sonic.Unmarshal(raw, &payload); err != nil {
			return nil, newDecodeError(err)
		}
	} else {
		if err := sonic.Unmarshal(data, &payload); err != nil {
			return nil, newDecodeError(err)
		}
	}
	return &payload, nil
}

// handleFrame classifies and acts on one decoded gateway frame. It returns
// terminate=true when the attempt must end (Reconnect/InvalidSession), in
// which case err (possibly nil) is what Run should see.
func (s *Shard) handleFrame(f inboundFrame) (terminate bool, err error) {
	if f.op != ws.OpText && f.op != ws.OpBinary {
		return false, nil
	}

	payload, err := s.decodeEnvelope(f)
	if err != nil {
		s.logger.Error("decode error: " + err.Error())
		return false, nil
	}
	if payload == nil {
		return false, nil
	}

	switch payload.Op {
	case gatewayOpcodeDispatch:
		s.seq.Store(payload.S)

		if payload.T == "READY" {
			var ready struct {
				SessionID string `json:"session_id"`
				ResumeURL string `json:"resume_gateway_url"`
			}
			if err := sonic.Unmarshal(payload.D, &ready); err == nil {
				s.sessionMu.Lock()
				s.sessionID = ready.SessionID
				s.resumeURL = ready.ResumeURL
				s.sessionMu.Unlock()
			}
			s.setState(ShardStateConnected)
		}

		s.emit(payload.T, payload.S, payload.D)

	case gatewayOpcodeHeartbeat:
		if err := s.sendHeartbeat(); err != nil {
			return true, newTransportError(err)
		}
		s.hb.MarkSent()

	case gatewayOpcodeReconnect:
		s.logger.Info("server requested reconnect")
		return true, newClosedError(GatewayCloseEventCodeUnknownError, "server requested reconnect")

	case gatewayOpcodeInvalidSession:
		var resumable bool
		_ = sonic.Unmarshal(payload.D, &resumable)
		return true, newInvalidSessionError(resumable)

	case gatewayOpcodeHeartbeatACK:
		s.hb.MarkAcked()

	default:
		// forward-compatible: ignore unknown opcodes
	}

	return false, nil
}

func (s *Shard) emit(name string, seq int64, data []byte) {
	if s.sink == nil {
		return
	}
	ev := Event{ShardID: s.shardID, Name: name, Sequence: seq, Data: append([]byte(nil), data...)}
	sink := s.sink
	if s.cfg.WorkerPool != nil {
		if !s.cfg.WorkerPool.Submit(func() { sink(ev) }) {
			s.logger.Warn("worker pool saturated, dropping event " + name)
		}
	} else {
		sink(ev)
	}
}

func (s *Shard) writePayload(op gatewayOpcode, d any) error {
	s.connMu.Lock()
	conn := s.conn
	s.connMu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	buf, err := sonic.Marshal(gatewaySendPayload{Op: op, D: d})
	if err != nil {
		return err
	}
	return wsutil.WriteClientMessage(conn, ws.OpText, buf)
}

func (s *Shard) sendIdentify() error {
	return s.writePayload(gatewayOpcodeIdentify, map[string]any{
		"token": s.cfg.Token,
		"properties": map[string]string{
			"os":      "linux",
			"browser": LIB_NAME,
			"device":  LIB_NAME,
		},
		"intents":         s.cfg.Intents,
		"shard":           [2]int{s.shardID, s.totalShards},
		"large_threshold": s.cfg.LargeThreshold,
		"compress":        s.cfg.Compress,
	})
}

func (s *Shard) sendResume(sessionID string) error {
	return s.writePayload(gatewayOpcodeResume, map[string]any{
		"token":      s.cfg.Token,
		"session_id": sessionID,
		"seq":        s.seq.Load(),
	})
}

func (s *Shard) sendHeartbeat() error {
	seq := s.seq.Load()
	var d any
	if seq > 0 {
		d = seq
	}
	return s.writePayload(gatewayOpcodeHeartbeat, d)
}
