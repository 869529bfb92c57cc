package dispatch

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/dirlink/internal/domain"
)

type envelope struct {
	ctx   context.Context
	req   domain.RewriteRequest
	reply chan domain.RewriteResult // Buffered, one slot
}

// ChannelServer runs a RequestHandler behind an in-process message channel.
// The page side holds a ChannelClient and never shares memory with the
// handler beyond the messages themselves.
type ChannelServer struct {
	handler RequestHandler
	logger  *zap.Logger

	in        chan envelope
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewChannelServer creates a server for handler. Call Serve to start it.
func NewChannelServer(handler RequestHandler, logger *zap.Logger) *ChannelServer {
	return &ChannelServer{
		handler: handler,
		logger:  logger,
		in:      make(chan envelope),
		done:    make(chan struct{}),
	}
}

// Serve answers requests until ctx ends or Close is called. Each request is
// handled on its own goroutine.
func (s *ChannelServer) Serve(ctx context.Context) error {
	defer s.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			s.Close()
			return ctx.Err()
		case <-s.done:
			return nil
		case env := <-s.in:
			select {
			case <-s.done:
				// Caller sees ErrClosed through done.
				return nil
			default:
			}
			s.wg.Add(1)
			go s.handle(env)
		}
	}
}

func (s *ChannelServer) handle(env envelope) {
	defer s.wg.Done()

	res := func() (res domain.RewriteResult) {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("handler panicked", zap.Any("panic", r))
				res = domain.RewriteResult{ID: env.req.ID, Error: fmt.Sprintf("internal error: %v", r)}
			}
		}()
		return s.handler.Handle(env.ctx, env.req)
	}()

	// Never blocks: the slot is reserved for this response.
	env.reply <- res
}

// Close stops accepting requests. Pending callers receive ErrClosed.
func (s *ChannelServer) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Client returns a client bound to this server.
func (s *ChannelServer) Client() *ChannelClient {
	return &ChannelClient{in: s.in, done: s.done}
}

// ChannelClient sends requests to a ChannelServer.
type ChannelClient struct {
	in   chan<- envelope
	done <-chan struct{}
}

// Dispatch sends req and waits for its response. The error is non-nil only
// when the channel itself failed.
func (c *ChannelClient) Dispatch(ctx context.Context, req domain.RewriteRequest) (domain.RewriteResult, error) {
	env := envelope{ctx: ctx, req: req, reply: make(chan domain.RewriteResult, 1)}

	select {
	case c.in <- env:
	case <-c.done:
		return domain.RewriteResult{}, ErrClosed
	case <-ctx.Done():
		return domain.RewriteResult{}, fmt.Errorf("send request: %w", ctx.Err())
	}

	select {
	case res := <-env.reply:
		return res, nil
	case <-c.done:
		// The handler may have finished just before close.
		select {
		case res := <-env.reply:
			return res, nil
		default:
			return domain.RewriteResult{}, ErrClosed
		}
	case <-ctx.Done():
		return domain.RewriteResult{}, fmt.Errorf("await response: %w", ctx.Err())
	}
}

var _ domain.Dispatcher = (*ChannelClient)(nil)
