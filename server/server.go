// Package server exposes Kraken over HTTP and websockets: the REST surface
// for jobs, notifications and poll updates, plus the realtime bridge that
// forwards store pub/sub events to connected clients.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/citizenweb/kraken/am"
	"github.com/citizenweb/kraken/errors"
	"github.com/citizenweb/kraken/jobs"
	"github.com/citizenweb/kraken/records"
	"github.com/citizenweb/kraken/storage"
)

// MaxClients bounds concurrent websocket connections
const MaxClients = 256

// Server is the Kraken HTTP/websocket front end.
type Server struct {
	cfg    am.ServerConfig
	store  storage.Store
	runner *jobs.Runner
	pusher *records.Pusher
	logger *zap.SugaredLogger

	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	frames     chan *frame
	mu         sync.RWMutex

	httpServer *http.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	drops  atomic.Int64
}

// New creates a stopped server. Start launches the hub, the bridge and the
// HTTP listener.
func New(cfg am.ServerConfig, store storage.Store, runner *jobs.Runner, pusher *records.Pusher, logger *zap.SugaredLogger) *Server {
	return &Server{
		cfg:        cfg,
		store:      store,
		runner:     runner,
		pusher:     pusher,
		logger:     logger.Named("server"),
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		frames:     make(chan *frame, frameBuffer),
	}
}

// startBackground launches the hub loop and the pub/sub bridge.
func (s *Server) startBackground(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(2)
	go s.run()
	go s.runBridge()
}

// Start begins serving. It returns once the listener is up; HTTP serving
// continues until Shutdown.
func (s *Server) Start(ctx context.Context) error {
	s.startBackground(ctx)

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Infow("Server listening", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Errorw("HTTP server failed", "error", err)
		}
	}()
	return nil
}

// Shutdown stops the listener, disconnects clients and waits for background
// goroutines to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()

	var err error
	if s.httpServer != nil {
		err = errors.Wrap(s.httpServer.Shutdown(ctx), "stopping http server")
	}
	s.wg.Wait()

	s.mu.Lock()
	for client := range s.clients {
		client.close()
		delete(s.clients, client)
	}
	s.mu.Unlock()

	s.logger.Info("Server stopped")
	return err
}

// SubmitJob schedules work on the runner. Domain handlers mounted on this
// server call SubmitJob and answer with JobAccepted to implement the
// 202 + Location polling pattern.
func (s *Server) SubmitJob(ctx context.Context, fn jobs.Func, opts ...jobs.SubmitOption) (string, error) {
	return s.runner.Submit(ctx, fn, opts...)
}

// run is the hub loop: the single owner of client state. Registration,
// fan-out and channel close all happen here, so a broadcast can never race
// a disconnecting client's close.
func (s *Server) run() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case client := <-s.register:
			s.handleRegister(client)
		case client := <-s.unregister:
			s.handleUnregister(client)
		case f := <-s.frames:
			s.fanOut(f)
		}
	}
}

// fanOut delivers a frame to every connected client. Delivery is
// at-most-once: a full client channel drops the frame, and a client that
// keeps dropping is evicted. Runs on the hub goroutine only.
func (s *Server) fanOut(f *frame) {
	s.mu.RLock()
	clients := make([]*Client, 0, len(s.clients))
	for client := range s.clients {
		clients = append(clients, client)
	}
	s.mu.RUnlock()

	for _, client := range clients {
		select {
		case client.send <- f:
			client.drops.Store(0)
		default:
			s.drops.Add(1)
			if client.drops.Add(1) >= maxClientDrops {
				s.evictSlowClient(client)
			}
		}
	}
}

func (s *Server) handleRegister(client *Client) {
	s.mu.Lock()
	if len(s.clients) >= MaxClients {
		s.mu.Unlock()
		s.logger.Warnw("Max clients reached, rejecting connection",
			"client_id", client.id,
			"max_clients", MaxClients,
		)
		client.close()
		return
	}
	s.clients[client] = true
	total := len(s.clients)
	s.mu.Unlock()

	s.logger.Infow("Client connected",
		"client_id", client.id,
		"total_clients", total,
	)
}

func (s *Server) handleUnregister(client *Client) {
	s.mu.Lock()
	if _, ok := s.clients[client]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.clients, client)
	total := len(s.clients)
	s.mu.Unlock()

	client.close()
	s.logger.Infow("Client disconnected",
		"client_id", client.id,
		"total_clients", total,
	)
}

// evictSlowClient drops a client whose send channel stayed full across
// repeated broadcasts. Runs on the hub goroutine only.
func (s *Server) evictSlowClient(client *Client) {
	s.mu.Lock()
	if _, ok := s.clients[client]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.clients, client)
	s.mu.Unlock()

	client.close()
	s.logger.Warnw("Client too slow, evicting",
		"client_id", client.id,
		"total_drops", s.drops.Load(),
	)
}
