// Package bus carries typed messages between the pipeline stages. Stages only
// see Port, so the transport can change without touching the protocol.
package bus

import (
	"context"
	"errors"
	"sync"

	"github.com/0x5457/fn-index/internal/models"
	"github.com/0x5457/fn-index/internal/patterns"
	"github.com/0x5457/fn-index/internal/scanner"
)

var ErrClosed = errors.New("bus: port closed")

type Type string

const (
	TypeExtractFileNames     Type = "extractFileNames"
	TypeExtractFunctionNames Type = "extractFunctionNames"
	TypeFetchedFunctions     Type = "fetchedFunctions"
	TypeWatermarks           Type = "watermarks"
	TypeScanComplete         Type = "scanComplete"
	TypePing                 Type = "ping"
	TypePong                 Type = "pong"
	TypeUpdatePatterns       Type = "updatePatterns"
	TypeUpdateExclusions     Type = "updateExclusions"
	TypeResetWatermarks      Type = "resetWatermarks"
)

type Message struct {
	Type     Type
	Priority models.Priority
	Payload  any
}

// ExtractRequest asks the extraction stage for the functions of one file.
type ExtractRequest struct {
	FilePath      string
	WorkspacePath string
}

// FetchedFunctions answers Acks extraction requests for the same file.
// Err is set when the file could not be read; Functions is then nil.
type FetchedFunctions struct {
	FilePath   string
	Functions  []models.Function
	Acks       int
	Generation uint64
	Err        string
}

// Watermarks carries modification times observed by a scan.
type Watermarks struct {
	Files map[string]int64
	Dirs  map[string]int64
}

type ScanComplete struct {
	Root        string
	InitialLoad bool
	Files       int
}

type Ping struct {
	ID uint64
}

type Pong struct {
	ID         uint64
	Generation uint64
}

type UpdatePatterns struct {
	Registry *patterns.Registry
}

type UpdateExclusions struct {
	Filter scanner.Filter
}

// ResetWatermarks drops the given watermark map, or all of it when Seed is nil.
type ResetWatermarks struct {
	Seed map[string]int64
}

// Port is one end of a bidirectional message link.
type Port interface {
	Send(ctx context.Context, m Message) error
	Receive() <-chan Message
	Close()
}

type link struct {
	ch     chan Message
	closed chan struct{}
	once   sync.Once
}

func (l *link) close() { l.once.Do(func() { close(l.closed) }) }

type chanPort struct {
	in  *link
	out *link
}

// Pipe returns two connected ports backed by buffered channels. Messages sent
// on one are received on the other in order.
func Pipe(size int) (Port, Port) {
	a := &link{ch: make(chan Message, size), closed: make(chan struct{})}
	b := &link{ch: make(chan Message, size), closed: make(chan struct{})}
	return &chanPort{in: a, out: b}, &chanPort{in: b, out: a}
}

func (p *chanPort) Send(ctx context.Context, m Message) error {
	select {
	case <-p.out.closed:
		return ErrClosed
	case <-p.in.closed:
		return ErrClosed
	default:
	}
	select {
	case p.out.ch <- m:
		return nil
	case <-p.out.closed:
		return ErrClosed
	case <-p.in.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *chanPort) Receive() <-chan Message { return p.in.ch }

// Close marks both directions closed. Pending sends fail with ErrClosed;
// the receive channels are left open so readers use their own shutdown signal.
func (p *chanPort) Close() {
	p.in.close()
	p.out.close()
}

// Handler processes one message.
type Handler func(ctx context.Context, m Message)

// Mux dispatches received messages to the handler registered for their type.
type Mux struct {
	mu       sync.RWMutex
	handlers map[Type]Handler
	fallback Handler
}

func NewMux() *Mux {
	return &Mux{handlers: make(map[Type]Handler)}
}

func (m *Mux) On(t Type, h Handler) *Mux {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[t] = h
	return m
}

// Otherwise sets the handler for unregistered types.
func (m *Mux) Otherwise(h Handler) *Mux {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = h
	return m
}

func (m *Mux) Dispatch(ctx context.Context, msg Message) {
	m.mu.RLock()
	h, ok := m.handlers[msg.Type]
	if !ok {
		h = m.fallback
	}
	m.mu.RUnlock()
	if h != nil {
		h(ctx, msg)
	}
}

// Serve dispatches messages from port until ctx is done.
func (m *Mux) Serve(ctx context.Context, port Port) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-port.Receive():
			m.Dispatch(ctx, msg)
		}
	}
}
