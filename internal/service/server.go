package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/resident-x/go-tmtc/internal/config"
	"github.com/resident-x/go-tmtc/internal/metrics"
	"github.com/resident-x/go-tmtc/internal/protocol"
	"github.com/resident-x/go-tmtc/internal/session"
)

// ErrNoSession is returned when a command has no link to go out on.
var ErrNoSession = errors.New("no link session")

// LinkServer accepts telemetry links over TCP. Every connection carries
// length-prefixed frames in both directions: packets downlink, commands
// uplink.
type LinkServer struct {
	config         *config.Config
	listener       net.Listener
	processor      *Processor
	sessionManager *session.Manager
	crc            *protocol.Checksum
	metrics        *metrics.Metrics
	done           chan struct{}
	stopOnce       sync.Once
	handlers       sync.WaitGroup
	logger         zerolog.Logger
	startTime      time.Time
}

// NewLinkServer creates a link server feeding processor. m may be nil.
func NewLinkServer(cfg *config.Config, processor *Processor, m *metrics.Metrics) *LinkServer {
	s := &LinkServer{
		config:         cfg,
		processor:      processor,
		sessionManager: session.NewManager(time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second),
		metrics:        m,
		done:           make(chan struct{}),
		logger:         log.With().Str("component", "link").Logger(),
	}
	if cfg.Server.FrameCRC {
		s.crc = protocol.NewChecksum()
	}
	return s
}

// Start listens on the configured address and accepts links in the
// background.
func (s *LinkServer) Start(ctx context.Context) error {
	s.startTime = time.Now()

	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start listener on %s: %w", addr, err)
	}
	s.listener = listener

	s.logger.Info().
		Str("address", listener.Addr().String()).
		Bool("frame_crc", s.crc != nil).
		Msg("Link server started")

	go s.acceptConnections(ctx)
	return nil
}

// Addr returns the listening address once started.
func (s *LinkServer) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes the listener and every open link.
func (s *LinkServer) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Stopping link server")

	s.stopOnce.Do(func() { close(s.done) })
	if s.listener != nil {
		if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.logger.Error().Err(err).Msg("Failed to close listener")
		}
	}
	s.sessionManager.Close()

	finished := make(chan struct{})
	go func() {
		s.handlers.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("link handlers still running: %w", ctx.Err())
	}
}

// Sessions returns the session manager of the open links.
func (s *LinkServer) Sessions() *session.Manager {
	return s.sessionManager
}

// SessionStats returns the statistics of the open links, oldest first.
func (s *LinkServer) SessionStats() []session.Stats {
	return s.sessionManager.GetAllSessions()
}

// Uptime returns the time since Start.
func (s *LinkServer) Uptime() time.Duration {
	if s.startTime.IsZero() {
		return 0
	}
	return time.Since(s.startTime)
}

// SendCommand frames binary and writes it to the session with the given
// id, or to every open session when id is empty. It returns the ids of the
// sessions the command went out on.
func (s *LinkServer) SendCommand(id string, binary []byte) ([]string, error) {
	frame, err := protocol.EncodeFrame(binary, s.crc)
	if err != nil {
		return nil, err
	}

	var targets []*session.Session
	if id != "" {
		sess, ok := s.sessionManager.GetSession(id)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNoSession, id)
		}
		targets = []*session.Session{sess}
	} else {
		targets = s.sessionManager.Sessions()
	}
	if len(targets) == 0 {
		return nil, ErrNoSession
	}

	sent := make([]string, 0, len(targets))
	var errs []error
	for _, sess := range targets {
		if err := sess.Send(frame); err != nil {
			errs = append(errs, fmt.Errorf("session %s: %w", sess.ID, err))
			continue
		}
		sent = append(sent, sess.ID)
		s.logger.Debug().
			Str("session_id", sess.ID).
			Int("bytes", len(frame)).
			Msg("Command sent on link")
	}
	return sent, errors.Join(errs...)
}

// acceptConnections handles incoming TCP connections.
func (s *LinkServer) acceptConnections(ctx context.Context) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			case <-ctx.Done():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Error().Err(err).Msg("Failed to accept connection")
			continue
		}

		s.handlers.Add(1)
		go func() {
			defer s.handlers.Done()
			s.handleConnection(ctx, conn)
		}()
	}
}

// handleConnection reads frames until the link closes, goes idle or the
// server stops.
func (s *LinkServer) handleConnection(ctx context.Context, conn net.Conn) {
	sess := s.sessionManager.CreateSession(conn)
	if s.metrics != nil {
		s.metrics.SessionOpened()
	}
	defer func() {
		s.sessionManager.RemoveSession(sess.ID)
		if s.metrics != nil {
			s.metrics.SessionClosed()
		}
	}()

	logger := s.logger.With().
		Str("address", sess.RemoteAddr).
		Str("session_id", sess.ID).
		Logger()
	logger.Info().Msg("Link connected")

	reader := protocol.NewFrameReader(conn, s.crc)
	timeout := time.Duration(s.config.Server.ReadTimeoutSeconds) * time.Second
	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		default:
		}

		if timeout > 0 {
			if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
				logger.Error().Err(err).Msg("Failed to set read deadline")
				return
			}
		}

		frame, err := reader.ReadFrame()
		if err != nil {
			if errors.Is(err, protocol.ErrChecksum) {
				sess.IncrementErrorCount()
				s.recordError("checksum")
				logger.Warn().Err(err).Msg("Dropped corrupted frame")
				continue
			}
			s.logDisconnect(logger, err)
			return
		}

		if len(frame) == 0 {
			// keep-alive
			sess.UpdateActivity()
			continue
		}

		if _, err := s.processor.Process(ctx, SourceLink, frame); err != nil {
			sess.IncrementErrorCount()
			logger.Error().Err(err).Msg("Failed to process packet")
			continue
		}
		sess.PacketReceived(len(frame))
	}
}

func (s *LinkServer) logDisconnect(logger zerolog.Logger, err error) {
	var netErr net.Error
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		logger.Info().Msg("Link disconnected")
	case errors.As(err, &netErr) && netErr.Timeout():
		logger.Info().Msg("Link idle, closing")
	default:
		s.recordError("read")
		logger.Warn().Err(err).Msg("Link read failed")
	}
}

func (s *LinkServer) recordError(reason string) {
	if s.metrics != nil {
		s.metrics.RecordPacketError(reason)
	}
}
