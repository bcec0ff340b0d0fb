package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"
	"time"

	"ballotscan/internal/daemon"
	"ballotscan/internal/logging"
)

// ServiceName is the RPC receiver name clients call.
const ServiceName = "Ballotscan"

// OperatorTimeout bounds accept and calibrate calls, including the wait for an
// in-flight scan to finish.
const OperatorTimeout = 60 * time.Second

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	daemon    *daemon.Daemon
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	connMu sync.Mutex
	conns  map[net.Conn]struct{}
}

// ErrSocketInUse reports a live server already listening on the socket path.
var ErrSocketInUse = errors.New("ipc socket already in use")

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	if socketInUse(path) {
		return nil, fmt.Errorf("%w: %s", ErrSocketInUse, path)
	}
	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	rpcServer := rpc.NewServer()
	srv := &service{daemon: d, logger: logger, ctx: ctx}
	if err := rpcServer.RegisterName(ServiceName, srv); err != nil {
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		path:      path,
		daemon:    d,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
		conns:     make(map[net.Conn]struct{}),
	}, nil
}

// Serve accepts RPC connections in the background until Close.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				logging.WarnWithContext(s.logger, "accept failed", "ipc_accept_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "IPC clients may fail to connect"),
					logging.String(logging.FieldErrorHint, "check socket permissions and restart the daemon if needed"))
				continue
			}
			if !s.track(conn) {
				_ = conn.Close()
				return
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				defer s.untrack(c)
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Wait blocks until ctx ends, then closes the server.
func (s *Server) Wait(ctx context.Context) error {
	<-ctx.Done()
	s.Close()
	return nil
}

// Close stops the server and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	// Connected clients would otherwise hold shutdown open.
	s.connMu.Lock()
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.conns = nil
	s.connMu.Unlock()
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		logging.WarnWithContext(s.logger, "failed to remove socket", "ipc_socket_cleanup_failed",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldImpact, "stale IPC socket may block future starts"),
			logging.String(logging.FieldErrorHint, "remove the socket file manually or rerun ballotscan stop"))
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

func (s *service) log() *slog.Logger {
	if s.logger == nil {
		return logging.NewNop()
	}
	return s.logger.With(logging.String("component", "ipc"))
}

func (s *service) operatorContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(s.ctx, OperatorTimeout)
}

func (s *service) Start(_ StartRequest, resp *StartResponse) error {
	s.log().Debug("daemon start requested")
	if err := s.daemon.Start(s.ctx); err != nil {
		resp.Started = false
		resp.Message = err.Error()
		return nil
	}
	resp.Started = true
	resp.Message = "daemon started"
	return nil
}

func (s *service) Stop(_ StopRequest, resp *StopResponse) error {
	s.log().Debug("daemon stop requested")
	s.daemon.Stop()
	resp.Stopped = true
	return nil
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	status := s.daemon.Status(s.ctx)
	ballotStatus := status.Ballot
	*resp = StatusResponse{
		Running:       status.Running,
		PID:           status.PID,
		LockPath:      status.LockFilePath,
		SessionDBPath: status.SessionDBPath,
		State:         ballotStatus.State,
		PollsOpen:     ballotStatus.PollsOpen,
		CardInserted:  ballotStatus.CardInserted,
		Configured:    ballotStatus.Configured,
		PollerRunning: ballotStatus.PollerRunning,
		MachineID:     ballotStatus.Session.MachineID,
		PrecinctID:    ballotStatus.Session.PrecinctID,
		TestMode:      ballotStatus.Session.TestMode,
		ScannerState:  string(ballotStatus.Snapshot.State),
		BallotCount:   ballotStatus.Snapshot.BallotCount,
		Health:        toHealthInfo(status.Health),
	}
	return nil
}

func (s *service) State(_ StateRequest, resp *StateResponse) error {
	resp.State = s.daemon.State()
	return nil
}

func (s *service) Review(_ ReviewRequest, resp *ReviewResponse) error {
	content, ok := s.daemon.Review()
	resp.Pending = ok
	if ok {
		resp.Content = &content
	}
	return nil
}

func (s *service) Accept(_ AcceptRequest, resp *AcceptResponse) error {
	ctx, cancel := s.operatorContext()
	defer cancel()
	state, err := s.daemon.AcceptWithErrors(ctx)
	if err != nil {
		return err
	}
	resp.State = state
	return nil
}

func (s *service) Calibrate(_ CalibrateRequest, resp *CalibrateResponse) error {
	ctx, cancel := s.operatorContext()
	defer cancel()
	if err := s.daemon.Calibrate(ctx); err != nil {
		return err
	}
	resp.Calibrated = true
	return nil
}

func (s *service) SetPolls(req PollsRequest, resp *PollsResponse) error {
	if err := s.daemon.SetPollsOpen(s.ctx, req.Open); err != nil {
		return err
	}
	resp.PollsOpen = req.Open
	return nil
}

func (s *service) SetCard(req CardRequest, resp *CardResponse) error {
	s.daemon.SetCardInserted(req.Inserted)
	resp.CardInserted = req.Inserted
	return nil
}

func (s *service) Health(_ HealthRequest, resp *HealthResponse) error {
	resp.Health = toHealthInfo(s.daemon.Health())
	return nil
}

func (s *service) History(req HistoryRequest, resp *HistoryResponse) error {
	resp.Transitions = s.daemon.History(req.Limit)
	return nil
}

func toHealthInfo(h daemon.HealthStatus) HealthInfo {
	banners := make([]string, 0, len(h.Banners))
	for _, b := range h.Banners {
		banners = append(banners, string(b))
	}
	return HealthInfo{
		Sampled:          h.Sampled,
		PrinterConnected: h.Flags.PrinterConnected,
		ChargerConnected: h.Flags.ChargerConnected,
		BatteryPresent:   h.Flags.BatteryPresent,
		BatteryPercent:   h.Flags.BatteryPercent,
		Banners:          banners,
		Gate:             string(h.Gate),
	}
}

func (s *Server) track(conn net.Conn) bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conns == nil {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.connMu.Lock()
	delete(s.conns, conn)
	s.connMu.Unlock()
}

// socketInUse reports whether something accepts connections at path. A stale
// socket file left by a crashed daemon refuses the dial.
func socketInUse(path string) bool {
	conn, err := net.DialTimeout("unix", path, 200*time.Millisecond)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
