package socketserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/MobileDevCLI/MobileCLI-v6.0.0-API-Fixed-sub000/internal/consts"
	"github.com/MobileDevCLI/MobileCLI-v6.0.0-API-Fixed-sub000/internal/logger"
	"github.com/MobileDevCLI/MobileCLI-v6.0.0-API-Fixed-sub000/internal/mailbox"
	"github.com/MobileDevCLI/MobileCLI-v6.0.0-API-Fixed-sub000/internal/session"
)

// Dispatcher executes one command grammar line. Submit must queue behind
// the mailbox loop rather than run beside it.
type Dispatcher interface {
	Submit(ctx context.Context, line string) mailbox.Result
}

// Options configures a Server
type Options struct {
	Path           string
	MaxConnections int
	// Defaults fill empty fields of session_create requests
	Defaults session.Spec
}

// Server represents the Unix socket server
type Server struct {
	opts       Options
	registry   *session.Registry
	dispatcher Dispatcher
	listener   net.Listener
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup

	// Connection tracking
	connMu  sync.Mutex
	clients map[string]*Client
	nextID  int

	// bindMu orders attach and detach with the registry rebinds they cause
	bindMu   sync.Mutex
	attached *Client

	// Control
	mu       sync.Mutex
	running  bool
	stopOnce sync.Once

	log *logger.Logger
}

// NewServer creates a new Unix socket server
func NewServer(opts Options, registry *session.Registry, dispatcher Dispatcher) *Server {
	if opts.MaxConnections <= 0 {
		opts.MaxConnections = consts.DefaultMaxConnections
	}
	return &Server{
		opts:       opts,
		registry:   registry,
		dispatcher: dispatcher,
		clients:    make(map[string]*Client),
		log:        logger.Global().WithPrefix("socket"),
	}
}

// Start starts the Unix socket server
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("server is already running")
	}
	if s.opts.Path == "" {
		return fmt.Errorf("socket path is not configured")
	}

	if err := os.MkdirAll(filepath.Dir(s.opts.Path), 0o700); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}
	if err := os.Remove(s.opts.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove existing socket file: %w", err)
	}

	listener, err := net.Listen("unix", s.opts.Path)
	if err != nil {
		return fmt.Errorf("failed to listen on Unix socket %s: %w", s.opts.Path, err)
	}
	if err := os.Chmod(s.opts.Path, 0o600); err != nil {
		s.log.Warn("failed to set socket permissions: %v", err)
	}

	s.listener = listener
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true

	s.wg.Add(1)
	go s.acceptLoop()

	s.log.Info("socket server started on %s (max connections: %d)", s.opts.Path, s.opts.MaxConnections)
	return nil
}

// Stop closes the listener and every connection, then removes the socket
// file.
func (s *Server) Stop() error {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if !running {
		return nil
	}

	s.stopOnce.Do(func() {
		s.cancel()
		if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.log.Error("error closing socket listener: %v", err)
		}
		s.wg.Wait()

		s.connMu.Lock()
		clients := make([]*Client, 0, len(s.clients))
		for _, c := range s.clients {
			clients = append(clients, c)
		}
		s.connMu.Unlock()
		for _, c := range clients {
			c.Stop()
		}

		if err := os.Remove(s.opts.Path); err != nil && !os.IsNotExist(err) {
			s.log.Warn("failed to remove socket file %s: %v", s.opts.Path, err)
		}

		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		s.log.Info("socket server stopped")
	})
	return nil
}

// Path returns the socket path
func (s *Server) Path() string { return s.opts.Path }

// ClientCount returns the number of connected clients
func (s *Server) ClientCount() int {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return len(s.clients)
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Error("error accepting connection: %v", err)
			continue
		}

		c, ok := s.track(conn)
		if !ok {
			s.log.Warn("connection limit reached, rejecting connection")
			_ = conn.Close()
			continue
		}
		c.Start()
	}
}

func (s *Server) track(conn net.Conn) (*Client, bool) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if len(s.clients) >= s.opts.MaxConnections {
		return nil, false
	}
	s.nextID++
	c := newClient(fmt.Sprintf("conn_%d", s.nextID), conn, s)
	s.clients[c.ID] = c
	s.log.Info("new connection accepted: %s (total: %d)", c.ID, len(s.clients))
	return c, true
}

// untrack forgets c and, if it was the attached client, detaches the
// registry's output from it.
func (s *Server) untrack(c *Client) {
	s.detach(c)

	s.connMu.Lock()
	delete(s.clients, c.ID)
	s.connMu.Unlock()
}

// attach makes c the single receiver of session output. A previously
// attached client stops receiving output but stays connected.
func (s *Server) attach(c *Client) {
	s.bindMu.Lock()
	defer s.bindMu.Unlock()

	if c.isClosed() {
		return
	}
	if prev := s.attached; prev != nil && prev != c {
		s.log.Info("client %s takes over output from %s", c.ID, prev.ID)
	}
	s.attached = c
	s.registry.RebindSink(c)
}

func (s *Server) detach(c *Client) {
	s.bindMu.Lock()
	defer s.bindMu.Unlock()

	if s.attached != c {
		return
	}
	s.attached = nil
	s.registry.RebindSink(nil)
}
