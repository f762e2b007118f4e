package ctrlsock

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/rina-project/ipcpd/internal/logger"
)

// Enroller starts enrolment with a neighbour and blocks until it completes
// or fails, the oneshot-completion-channel design spec.md §9's Redesign
// Note prescribes in place of a condition-variable wait.
type Enroller interface {
	Enroll(ctx context.Context, neighborName, supportingDIF string) error
}

// ApplRegistrar forwards an application (un)registration to the kernel,
// surfacing its response verbatim (spec.md §6).
type ApplRegistrar interface {
	ApplRegister(ctx context.Context, applName string, register bool) error
}

// DriverController starts and stops configured shim drivers by name,
// satisfied by the daemon in cmd/ipcpd.
type DriverController interface {
	StartDriver(ctx context.Context, name string) error
	StopDriver(ctx context.Context, name string) error
}

// Config bundles the command handlers Server dispatches to. Each is an
// interface rather than a concrete type so this package never imports
// pkg/enroll, pkg/neighbor, pkg/rib, or pkg/shim, mirroring
// pkg/neighbor.RIBHooks's dependency-inversion shape.
type Config struct {
	SocketPath string
	Enroller   Enroller
	Appl       ApplRegistrar
	Drivers    DriverController
}

// Server is the control-socket server. Grounded on
// internal/protocol/portmap.Server's accept-loop/shutdown shape, adapted
// from a dual TCP+UDP portmapper to a single Unix domain stream listener.
type Server struct {
	cfg Config

	listener     net.Listener
	shutdown     chan struct{}
	shutdownOnce sync.Once
	wg           sync.WaitGroup
}

// NewServer constructs a Server. Call Serve to start accepting connections.
func NewServer(cfg Config) *Server {
	return &Server{cfg: cfg, shutdown: make(chan struct{})}
}

// Serve listens on cfg.SocketPath and blocks until ctx is cancelled or Stop
// is called.
func (s *Server) Serve(ctx context.Context) error {
	listener, err := net.Listen("unix", s.cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("ctrlsock: listen %s: %w", s.cfg.SocketPath, err)
	}
	s.listener = listener

	logger.Info("ctrlsock: listening", "socket", s.cfg.SocketPath)

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-s.shutdown:
		}
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return nil
			default:
				return fmt.Errorf("ctrlsock: accept: %w", err)
			}
		}

		s.wg.Add(1)
		go func(c net.Conn) {
			defer s.wg.Done()
			s.handleConn(ctx, c)
		}(conn)
	}
}

// Stop closes the listener and waits for in-flight connections to finish.
func (s *Server) Stop() {
	s.shutdownOnce.Do(func() {
		close(s.shutdown)
		if s.listener != nil {
			_ = s.listener.Close()
		}
	})
	s.wg.Wait()
}

// handleConn serves commands on one connection until it closes. A
// connection may carry more than one command, unlike the kernel channel's
// long-lived Client: the CLI may issue several commands per invocation.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer func() { _ = conn.Close() }()

	for {
		msg, err := ReadMessage(conn)
		if err != nil {
			return
		}

		result, payload := s.dispatch(ctx, msg)
		resp := Encode(Message{
			Type:    msg.Type,
			EventID: msg.EventID,
			Payload: encodeResponsePayload(result, payload),
		})
		if _, err := conn.Write(resp); err != nil {
			logger.Warn("ctrlsock: write reply failed", "error", err)
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, msg Message) (Result, []byte) {
	switch msg.Type {
	case MsgEnrol:
		req, err := DecodeEnrol(msg.Payload)
		if err != nil {
			logger.Warn("ctrlsock: malformed ENROL", "error", err)
			return 1, nil
		}
		if err := s.cfg.Enroller.Enroll(ctx, req.NeighborName, req.SupportingDIF); err != nil {
			logger.Warn("ctrlsock: enrolment failed", "neighbor", req.NeighborName, "error", err)
			return 1, nil
		}
		return ResultSuccess, nil

	case MsgApplRegister:
		req, err := DecodeApplRegister(msg.Payload)
		if err != nil {
			logger.Warn("ctrlsock: malformed APPL_REGISTER", "error", err)
			return 1, nil
		}
		if err := s.cfg.Appl.ApplRegister(ctx, req.ApplName, req.Register); err != nil {
			return 1, nil
		}
		return ResultSuccess, nil

	case MsgCreate:
		req, err := DecodeCreate(msg.Payload)
		if err != nil {
			logger.Warn("ctrlsock: malformed CREATE", "error", err)
			return 1, nil
		}
		if err := s.cfg.Drivers.StartDriver(ctx, req.DriverName); err != nil {
			logger.Warn("ctrlsock: driver start failed", "driver", req.DriverName, "error", err)
			return 1, nil
		}
		return ResultSuccess, nil

	case MsgDestroy:
		req, err := DecodeDestroy(msg.Payload)
		if err != nil {
			logger.Warn("ctrlsock: malformed DESTROY", "error", err)
			return 1, nil
		}
		if err := s.cfg.Drivers.StopDriver(ctx, req.DriverName); err != nil {
			logger.Warn("ctrlsock: driver stop failed", "driver", req.DriverName, "error", err)
			return 1, nil
		}
		return ResultSuccess, nil

	default:
		logger.Warn("ctrlsock: unknown command", "type", msg.Type)
		return 1, nil
	}
}
