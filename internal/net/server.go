package net

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	"sleipnir/internal/common"
	"sleipnir/internal/utils"
)

const (
	maxLineSize     = 4 * 1024
	defaultNWorkers = 10
	writeTimeout    = time.Second
)

// Engine is the order entry surface the server forwards requests to.
type Engine interface {
	PlaceOrder(productID string, order *common.Order) error
	CancelOrder(productID string, order *common.Order) error
	NullifyOrder(productID string, order *common.Order) error
}

// ClientSession tracks one connected order entry client.
type ClientSession struct {
	id   string
	conn net.Conn
}

// Server accepts TCP connections carrying newline-delimited JSON requests
// and forwards them to the engine. Each connection is owned by one worker
// for its whole lifetime; acks are written back on the same socket.
type Server struct {
	address string
	port    int
	engine  Engine
	pool    utils.WorkerPool
	cancel  context.CancelFunc

	clientSessionsLock sync.Mutex
	clientSessions     map[string]ClientSession
}

func New(address string, port int, engine Engine) *Server {
	return &Server{
		address:        address,
		port:           port,
		engine:         engine,
		pool:           utils.NewWorkerPool(defaultNWorkers),
		clientSessions: make(map[string]ClientSession),
	}
}

func (s *Server) Shutdown() {
	log.Info().Msg("order entry server shutting down")
	s.cancel()
}

func (s *Server) Run(ctx context.Context) {
	defer s.Shutdown()

	ctx, s.cancel = context.WithCancel(ctx)
	t, ctx := tomb.WithContext(ctx)

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", fmt.Sprintf("%s:%d", s.address, s.port))
	if err != nil {
		log.Error().Err(err).Msg("unable to start listener")
		return
	}
	defer func() {
		if err := listener.Close(); err != nil {
			log.Error().Err(err).Msg("unable to close listener")
		}
	}()

	s.pool.Setup(t, s.handleConnection)

	log.Info().
		Str("address", s.address).
		Int("port", s.port).
		Msg("order entry server running")

	for {
		select {
		case <-ctx.Done():
			return
		default:
			conn, err := listener.Accept()
			if err != nil {
				select {
				case <-ctx.Done():
					return
				default:
				}
				log.Error().Err(err).Msg("error accepting client")
				continue
			}

			session := s.addClientSession(conn)
			log.Info().
				Str("session", session.id).
				Str("address", conn.RemoteAddr().String()).
				Msg("new client connected")

			s.pool.AddTask(session)
		}
	}
}

// handleConnection reads requests off one client session until it closes.
// Any error returned from here is fatal to the pool, so protocol failures
// are answered on the wire and logged instead.
func (s *Server) handleConnection(t *tomb.Tomb, task any) error {
	session, ok := task.(ClientSession)
	if !ok {
		return fmt.Errorf("improper task type %T", task)
	}
	defer s.deleteClientSession(session)

	scanner := bufio.NewScanner(session.conn)
	scanner.Buffer(make([]byte, maxLineSize), maxLineSize)

	for scanner.Scan() {
		select {
		case <-t.Dying():
			return nil
		default:
		}

		var request Request
		if err := json.Unmarshal(scanner.Bytes(), &request); err != nil {
			s.respond(session, errorResponse(fmt.Errorf("malformed request: %w", err)))
			continue
		}
		s.respond(session, s.handleRequest(session, &request))
	}

	if err := scanner.Err(); err != nil {
		log.Error().
			Err(err).
			Str("session", session.id).
			Msg("error reading from connection")
	}
	return nil
}

func (s *Server) handleRequest(session ClientSession, request *Request) Response {
	order, err := request.Order.Order()
	if err != nil {
		return errorResponse(err)
	}

	switch request.Type {
	case RequestPlace:
		err = s.engine.PlaceOrder(request.ProductID, order)
	case RequestCancel:
		err = s.engine.CancelOrder(request.ProductID, order)
	case RequestNullify:
		err = s.engine.NullifyOrder(request.ProductID, order)
	default:
		err = fmt.Errorf("%w: %q", ErrInvalidMessageType, request.Type)
	}
	if err != nil {
		log.Error().
			Err(err).
			Str("session", session.id).
			Str("product", request.ProductID).
			Uint64("orderID", request.Order.ID).
			Msg("error handling request")
		return errorResponse(err)
	}
	return okResponse(order.ID)
}

func (s *Server) respond(session ClientSession, response Response) {
	raw, err := json.Marshal(response)
	if err != nil {
		log.Error().Err(err).Msg("unable to marshal response")
		return
	}
	raw = append(raw, '\n')

	_ = session.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := session.conn.Write(raw); err != nil {
		log.Error().
			Err(err).
			Str("session", session.id).
			Msg("unable to write response")
	}
}

// addClientSession is an atomic map add.
func (s *Server) addClientSession(conn net.Conn) ClientSession {
	session := ClientSession{
		id:   uuid.New().String(),
		conn: conn,
	}
	s.clientSessionsLock.Lock()
	defer s.clientSessionsLock.Unlock()
	s.clientSessions[session.id] = session
	return session
}

// deleteClientSession is an atomic map remove; it also closes the socket.
func (s *Server) deleteClientSession(session ClientSession) {
	if err := session.conn.Close(); err != nil {
		log.Debug().Str("session", session.id).Err(err).Msg("closing connection")
	}
	s.clientSessionsLock.Lock()
	defer s.clientSessionsLock.Unlock()
	delete(s.clientSessions, session.id)
}
