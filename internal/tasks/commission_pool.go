package tasks

import (
	"context"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/example/venuepay/internal/services"
)

// CommissionPool processes venue commissions on a fixed number of workers.
// When the queue is full the caller processes the commission itself.
type CommissionPool struct {
	billing *services.BillingService
	workers int
	queue   chan uuid.UUID

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewCommissionPool(billing *services.BillingService, workers int) *CommissionPool {
	if workers <= 0 {
		workers = 1
	}
	return &CommissionPool{
		billing: billing,
		workers: workers,
		queue:   make(chan uuid.UUID, workers*16),
	}
}

// Start launches the workers. They drain the queue after Stop.
func (p *CommissionPool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for id := range p.queue {
				p.process(context.WithoutCancel(ctx), id)
			}
		}()
	}
}

// ScheduleCommission queues paymentID for commission processing.
func (p *CommissionPool) ScheduleCommission(ctx context.Context, paymentID uuid.UUID) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.closed {
		select {
		case p.queue <- paymentID:
			return
		default:
		}
	}
	p.process(context.WithoutCancel(ctx), paymentID)
}

// Stop closes the queue and waits for queued commissions to finish.
func (p *CommissionPool) Stop() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *CommissionPool) process(ctx context.Context, paymentID uuid.UUID) {
	if err := p.billing.ProcessCommission(ctx, paymentID); err != nil {
		log.Printf("[Commission] Payment %s: %v", paymentID, err)
	}
}
