package server

import (
	"context"
	"net"
	"sync"

	"github.com/marmos91/stashd/internal/logger"
	"github.com/marmos91/stashd/internal/queue"
	"github.com/marmos91/stashd/internal/ratelimiter"
	"github.com/marmos91/stashd/internal/task"
	"github.com/marmos91/stashd/pkg/metrics"
	"github.com/marmos91/stashd/pkg/registry"
)

// clientPool is the fixed set of goroutines that own client sessions. The
// pool size caps concurrent sessions; further accepted connections wait in
// the bounded connection queue.
type clientPool struct {
	conns     *queue.Queue[net.Conn]
	tasks     *queue.Queue[*task.Task]
	registry  registry.UserRegistry
	limiter   *ratelimiter.RateLimiter
	maxUpload int64
	metrics   metrics.ServerMetrics

	wg sync.WaitGroup
}

func newClientPool(conns *queue.Queue[net.Conn], tasks *queue.Queue[*task.Task], reg registry.UserRegistry, limiter *ratelimiter.RateLimiter, maxUpload int64, m metrics.ServerMetrics) *clientPool {
	return &clientPool{
		conns:     conns,
		tasks:     tasks,
		registry:  reg,
		limiter:   limiter,
		maxUpload: maxUpload,
		metrics:   m,
	}
}

// start launches count handlers. Each runs until the connection queue is
// closed and drained.
func (p *clientPool) start(ctx context.Context, count int) {
	for i := 0; i < count; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			p.run(ctx, id)
		}(i)
	}

	logger.Info("Client pool started with %d handlers", count)
}

func (p *clientPool) wait() {
	p.wg.Wait()
}

func (p *clientPool) run(ctx context.Context, id int) {
	for {
		conn, err := p.conns.Dequeue()
		if err != nil {
			logger.Debug("Client handler %d exiting: %v", id, err)
			return
		}

		// Connections drained after shutdown began are closed, not served.
		if ctx.Err() != nil {
			conn.Close()
			continue
		}

		logger.Debug("Client handler %d serving %s", id, conn.RemoteAddr())
		p.metrics.RecordSessionStart()
		newSession(conn, p.registry, p.tasks, p.limiter, p.maxUpload, p.metrics).serve(ctx)
		p.metrics.RecordSessionEnd()
	}
}
