package srv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/PLUTOX-DEV/Tree-miniapp/server/autosave"
	"github.com/PLUTOX-DEV/Tree-miniapp/server/progression"
	"github.com/PLUTOX-DEV/Tree-miniapp/shared/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 << 10
	flushTimeout   = 5 * time.Second
)

var errLogout = errors.New("logout")

// Session binds one connection to one engine. Only run's goroutine touches
// the engine: inbound actions and auto ticks are serialized through it.
type Session struct {
	id     string
	wallet string
	hub    *Hub
	log    zerolog.Logger

	conn    *websocket.Conn
	send    chan []byte
	inbound chan inbound
	limiter *rate.Limiter

	engine *progression.Engine
	saver  *autosave.Pipeline

	ticker *time.Ticker

	started    bool
	writerDone chan struct{}
	closeOnce  sync.Once
}

// inbound is one decoded frame, or the reason it could not be decoded.
type inbound struct {
	env protocol.MsgEnvelope
	err error
}

func newSession(ctx context.Context, h *Hub, conn *websocket.Conn, wallet string) (*Session, error) {
	s := &Session{
		id:         protocol.NewSessionID(),
		wallet:     wallet,
		hub:        h,
		conn:       conn,
		send:       make(chan []byte, 64),
		inbound:    make(chan inbound, 16),
		limiter:    rate.NewLimiter(h.cfg.ActionRate, h.cfg.ActionBurst),
		writerDone: make(chan struct{}),
	}
	s.log = h.log.With().Str("session", s.id).Str("wallet", wallet).Logger()

	s.saver = autosave.New(wallet, h.cfg.Store, s.log,
		autosave.WithDebounce(h.cfg.SaveDebounce),
		autosave.WithMetrics(h.cfg.Metrics),
	)
	engine, err := h.cfg.Progression.Open(ctx, wallet,
		progression.OnChange(s.saver.Schedule),
		progression.OnLevelUp(func(u progression.LevelUp) {
			h.cfg.Metrics.LevelUp(ctx, u.To)
			s.push(protocol.TypeLevelUp, protocol.LevelUp{From: u.From, Index: u.To, Name: u.Tier.Name})
		}),
	)
	if err != nil {
		_ = s.saver.Close()
		return nil, err
	}
	s.engine = engine
	return s, nil
}

// push queues a message for the writer. A full queue drops the message; the
// next GameState supersedes it. Only the run goroutine may call it.
func (s *Session) push(typ string, v any) {
	b, err := protocol.Encode(typ, v)
	if err != nil {
		s.log.Error().Err(err).Str("type", typ).Msg("encode")
		return
	}
	select {
	case s.send <- b:
	default:
		s.log.Warn().Str("type", typ).Msg("send queue full, dropping")
	}
}

func (s *Session) pushState() {
	s.push(protocol.TypeGameState, s.engine.View())
}

func (s *Session) pushError(msg string) {
	s.push(protocol.TypeError, protocol.ErrorMsg{Message: msg})
}

func (s *Session) run(ctx context.Context) {
	s.log.Info().Msg("session started")
	s.started = true
	go s.writer()
	go s.reader()
	defer s.teardown()

	s.pushState()
	s.syncTicker()
	for {
		var tick <-chan time.Time
		if s.ticker != nil {
			tick = s.ticker.C
		}
		select {
		case <-ctx.Done():
			return
		case in, ok := <-s.inbound:
			if !ok {
				// reader gone; everything it queued has been applied
				return
			}
			if in.err != nil {
				s.pushError(in.err.Error())
				break
			}
			if err := s.handle(ctx, in.env); errors.Is(err, errLogout) {
				return
			}
		case <-tick:
			if s.engine.TickAuto() {
				s.pushState()
			}
		}
		s.syncTicker()
	}
}

// syncTicker arms the auto tick while autoLevel > 0 and stops it otherwise.
func (s *Session) syncTicker() {
	active := s.engine.AutoActive()
	switch {
	case active && s.ticker == nil:
		s.ticker = time.NewTicker(s.hub.cfg.AutoTick)
	case !active && s.ticker != nil:
		s.ticker.Stop()
		s.ticker = nil
	}
}

func (s *Session) handle(ctx context.Context, env protocol.MsgEnvelope) error {
	switch env.Type {
	case protocol.TypeGetProfile:
		s.pushState()
		return nil

	case protocol.TypeGetLeaderboard:
		var m protocol.GetLeaderboard
		if len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, &m); err != nil {
				s.pushError("bad GetLeaderboard")
				return nil
			}
		}
		if s.hub.cfg.Leaderboard == nil {
			s.pushError("leaderboard unavailable")
			return nil
		}
		lb, err := s.hub.cfg.Leaderboard.Top(ctx, m.Limit)
		if err != nil {
			s.log.Warn().Err(err).Msg("leaderboard")
			s.pushError("leaderboard unavailable")
			return nil
		}
		s.push(protocol.TypeLeaderboard, lb)
		return nil

	case protocol.TypeLogout:
		return errLogout
	}

	applied, err := progression.Dispatch(s.engine, env, s.push)
	s.hub.cfg.Metrics.Action(ctx, env.Type, applied)
	if err != nil {
		s.pushError(err.Error())
		return nil
	}
	if applied {
		s.pushState()
	}
	return nil
}

// reader closes inbound when the connection ends, after the frames it already
// accepted.
func (s *Session) reader() {
	defer close(s.inbound)
	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug().Err(err).Msg("read")
			}
			return
		}
		if !s.limiter.Allow() {
			s.log.Debug().Msg("rate limited, dropping frame")
			continue
		}
		var in inbound
		if err := json.Unmarshal(data, &in.env); err != nil {
			in.err = fmt.Errorf("bad message: %w", err)
		}
		select {
		case s.inbound <- in:
		case <-s.writerDone:
			return
		}
	}
}

func (s *Session) writer() {
	defer close(s.writerDone)
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case msg, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ping.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// teardown stops the tick, saves what is pending, and closes the connection.
func (s *Session) teardown() {
	s.closeOnce.Do(func() {
		if s.ticker != nil {
			s.ticker.Stop()
			s.ticker = nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		if err := s.saver.Flush(ctx); err != nil {
			s.log.Warn().Err(err).Msg("final save failed")
		}
		cancel()
		_ = s.saver.Close()

		if s.started {
			close(s.send)
			select {
			case <-s.writerDone:
			case <-time.After(writeWait):
			}
		}
		_ = s.conn.Close()
		s.log.Info().Msg("session ended")
	})
}
