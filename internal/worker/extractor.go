package worker

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"

	"github.com/0x5457/fn-index/internal/bus"
	"github.com/0x5457/fn-index/internal/models"
	"github.com/0x5457/fn-index/internal/patterns"
)

type queued struct {
	req  bus.ExtractRequest
	acks int
}

// lane is a FIFO of extraction requests keyed by path.
type lane struct {
	order []string
	items map[string]*queued
}

func newLane() *lane { return &lane{items: make(map[string]*queued)} }

func (l *lane) push(req bus.ExtractRequest) {
	if q, ok := l.items[req.FilePath]; ok {
		q.req = req
		q.acks++
		return
	}
	l.items[req.FilePath] = &queued{req: req, acks: 1}
	l.order = append(l.order, req.FilePath)
}

func (l *lane) pop() (*queued, bool) {
	if len(l.order) == 0 {
		return nil, false
	}
	path := l.order[0]
	l.order = l.order[1:]
	q := l.items[path]
	delete(l.items, path)
	return q, true
}

func (l *lane) len() int { return len(l.order) }

// Extractor is the function extraction stage. It owns its queues and
// registry; everything else reaches it through its port.
type Extractor struct {
	port       bus.Port
	registry   *patterns.Registry
	generation uint64
	logger     *slog.Logger
	readFile   func(string) ([]byte, error)

	high *lane
	low  *lane
}

func NewExtractor(port bus.Port, reg *patterns.Registry, generation uint64, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		port:       port,
		registry:   reg,
		generation: generation,
		logger:     logger.With(slog.Uint64("generation", generation)),
		readFile:   os.ReadFile,
		high:       newLane(),
		low:        newLane(),
	}
}

// Run serves the port until ctx is done. Incoming messages are drained
// between files so pings are answered while a backlog is processed.
func (e *Extractor) Run(ctx context.Context) {
	for {
		if e.high.len()+e.low.len() == 0 {
			select {
			case <-ctx.Done():
				return
			case msg := <-e.port.Receive():
				e.handle(ctx, msg)
			}
			continue
		}
	drain:
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-e.port.Receive():
				e.handle(ctx, msg)
			default:
				break drain
			}
		}
		e.processNext(ctx)
	}
}

func (e *Extractor) handle(ctx context.Context, msg bus.Message) {
	switch msg.Type {
	case bus.TypeExtractFunctionNames:
		req, ok := msg.Payload.(bus.ExtractRequest)
		if !ok {
			e.logger.Warn("bad extract payload")
			return
		}
		if msg.Priority == models.PriorityHigh {
			e.high.push(req)
		} else {
			e.low.push(req)
		}
	case bus.TypePing:
		ping, _ := msg.Payload.(bus.Ping)
		_ = e.port.Send(ctx, bus.Message{
			Type:    bus.TypePong,
			Payload: bus.Pong{ID: ping.ID, Generation: e.generation},
		})
	case bus.TypeUpdatePatterns:
		if upd, ok := msg.Payload.(bus.UpdatePatterns); ok && upd.Registry != nil {
			e.registry = upd.Registry
		}
	default:
		e.logger.Debug("ignoring message", slog.String("type", string(msg.Type)))
	}
}

func (e *Extractor) processNext(ctx context.Context) {
	prio := models.PriorityHigh
	q, ok := e.high.pop()
	if !ok {
		prio = models.PriorityLow
		q, ok = e.low.pop()
	}
	if !ok {
		return
	}
	res := e.extract(q)
	if err := e.port.Send(ctx, bus.Message{
		Type:     bus.TypeFetchedFunctions,
		Priority: prio,
		Payload:  res,
	}); err != nil && ctx.Err() == nil {
		e.logger.Warn("send result failed", slog.String("path", q.req.FilePath), slog.Any("error", err))
	}
}

func (e *Extractor) extract(q *queued) bus.FetchedFunctions {
	res := bus.FetchedFunctions{
		FilePath:   q.req.FilePath,
		Acks:       q.acks,
		Generation: e.generation,
	}
	content, err := e.readFile(q.req.FilePath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// removed since it was scanned
		res.Functions = []models.Function{}
	case err != nil:
		e.logger.Warn("read failed", slog.String("path", q.req.FilePath), slog.Any("error", err))
		res.Err = err.Error()
	default:
		res.Functions = ExtractFunctions(e.registry, q.req.FilePath, q.req.WorkspacePath, content, e.logger)
		if res.Functions == nil {
			res.Functions = []models.Function{}
		}
	}
	return res
}
