package internal

import (
	"context"
	"sync"
	"time"

	"github.com/xKoRx/relay/domain"
	"github.com/xKoRx/relay/telemetry"
	"github.com/xKoRx/relay/telemetry/metricbundle"
	"github.com/xKoRx/relay/telemetry/semconv"
	"github.com/xKoRx/relay/utils"
)

// commandQueue es la cola acotada de UN slave, con su propio lock para
// que el tráfico de una cuenta no bloquee al resto.
type commandQueue struct {
	mu       sync.Mutex
	commands []*domain.Command
}

// Mailbox mantiene una cola de comandos acotada por cuenta slave.
//
// Overflow desaloja el comando más viejo; un sweeper periódico purga los
// comandos que exceden la edad máxima. Los terminales consumen vía Poll
// (orden de inserción) y confirman vía Acknowledge, salvo que el poll
// pida auto-ack.
type Mailbox struct {
	mu     sync.RWMutex
	queues map[string]*commandQueue

	capacity      int
	ttl           time.Duration
	sweepInterval time.Duration

	telemetry *telemetry.Client
	metrics   *metricbundle.RelayMetrics

	// Lifecycle
	ctx  context.Context
	done chan struct{}
	wg   sync.WaitGroup
}

// MailboxConfig configuración del mailbox.
type MailboxConfig struct {
	Capacity      int           // comandos máximos por cuenta (default 1000)
	TTL           time.Duration // edad máxima de un comando (default 300s)
	SweepInterval time.Duration // cadencia del sweeper (default 60s)
}

// NewMailbox crea el arena de mailboxes.
func NewMailbox(ctx context.Context, tel *telemetry.Client, metrics *metricbundle.RelayMetrics, cfg MailboxConfig) *Mailbox {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 1000
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 300 * time.Second
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 60 * time.Second
	}

	return &Mailbox{
		queues:        make(map[string]*commandQueue),
		capacity:      cfg.Capacity,
		ttl:           cfg.TTL,
		sweepInterval: cfg.SweepInterval,
		telemetry:     tel,
		metrics:       metrics,
		ctx:           ctx,
		done:          make(chan struct{}),
	}
}

// Start inicia el sweeper de expiración.
func (m *Mailbox) Start() {
	m.wg.Add(1)
	go m.sweepLoop()
}

// Stop detiene el sweeper.
func (m *Mailbox) Stop() {
	close(m.done)
	m.wg.Wait()
}

func (m *Mailbox) sweepLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.SweepExpired()
		case <-m.done:
			return
		}
	}
}

// queueFor retorna la cola de la cuenta, creándola si no existe.
func (m *Mailbox) queueFor(accountID string) *commandQueue {
	m.mu.RLock()
	q, exists := m.queues[accountID]
	m.mu.RUnlock()
	if exists {
		return q
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if q, exists = m.queues[accountID]; exists {
		return q
	}
	q = &commandQueue{}
	m.queues[accountID] = q
	return q
}

// Enqueue encola un comando en el mailbox del slave. Si la cola está
// llena desaloja el comando más viejo.
func (m *Mailbox) Enqueue(ctx context.Context, command *domain.Command) error {
	if command == nil || command.Account == "" {
		return domain.NewValidationError("command", command, "command with account is required")
	}
	if command.CreatedAtMs == 0 {
		command.CreatedAtMs = utils.NowUnixMilli()
	}

	q := m.queueFor(command.Account)

	q.mu.Lock()
	var evicted *domain.Command
	if len(q.commands) >= m.capacity {
		evicted = q.commands[0]
		q.commands = append(q.commands[:0], q.commands[1:]...)
	}
	q.commands = append(q.commands, command)
	size := len(q.commands)
	q.mu.Unlock()

	if evicted != nil {
		m.metrics.RecordCommandEvicted(ctx,
			semconv.Relay.AccountID.String(command.Account),
		)
		m.telemetry.Warn(ctx, "Mailbox full, evicted oldest command",
			semconv.Relay.AccountID.String(command.Account),
			semconv.Relay.CommandID.String(evicted.CommandID),
		)
	}

	m.metrics.RecordCommandEnqueued(ctx,
		semconv.Relay.AccountID.String(command.Account),
		semconv.Relay.Action.String(command.Action),
	)
	m.telemetry.Debug(ctx, "Command enqueued",
		semconv.Relay.AccountID.String(command.Account),
		semconv.Relay.CommandID.String(command.CommandID),
		semconv.Relay.QueueSize.Int(size),
	)

	return nil
}

// Poll retorna hasta limit comandos pendientes en orden de inserción.
// limit <= 0 retorna todos. Con autoAck los comandos entregados se
// eliminan del mailbox; sin autoAck permanecen hasta Acknowledge.
func (m *Mailbox) Poll(ctx context.Context, accountID string, limit int, autoAck bool) []*domain.Command {
	timer := time.Now()

	m.mu.RLock()
	q, exists := m.queues[accountID]
	m.mu.RUnlock()
	if !exists {
		return nil
	}

	q.mu.Lock()
	var delivered []*domain.Command
	for _, c := range q.commands {
		delivered = append(delivered, c)
		if limit > 0 && len(delivered) >= limit {
			break
		}
	}
	if autoAck && len(delivered) > 0 {
		remaining := q.commands[:0]
		deliveredSet := make(map[string]struct{}, len(delivered))
		for _, c := range delivered {
			deliveredSet[c.CommandID] = struct{}{}
		}
		for _, c := range q.commands {
			if _, gone := deliveredSet[c.CommandID]; !gone {
				remaining = append(remaining, c)
			}
		}
		q.commands = remaining
	}
	q.mu.Unlock()

	if len(delivered) > 0 {
		m.metrics.RecordCommandPolled(ctx, len(delivered),
			semconv.Relay.AccountID.String(accountID),
		)
	}
	m.metrics.RecordLatencyPoll(ctx, float64(utils.ElapsedMsSince(timer)),
		semconv.Relay.AccountID.String(accountID),
	)

	return delivered
}

// Acknowledge confirma y elimina un comando por id. Retorna false si el
// comando no está en el mailbox.
func (m *Mailbox) Acknowledge(ctx context.Context, accountID, commandID string) bool {
	m.mu.RLock()
	q, exists := m.queues[accountID]
	m.mu.RUnlock()
	if !exists {
		return false
	}

	q.mu.Lock()
	found := false
	for i, c := range q.commands {
		if c.CommandID == commandID {
			q.commands = append(q.commands[:i], q.commands[i+1:]...)
			found = true
			break
		}
	}
	q.mu.Unlock()

	if found {
		m.metrics.RecordCommandAcked(ctx,
			semconv.Relay.AccountID.String(accountID),
			semconv.Relay.CommandID.String(commandID),
		)
	}
	return found
}

// SweepExpired purga los comandos que exceden la edad máxima en todos
// los mailboxes. Retorna el total purgado.
func (m *Mailbox) SweepExpired() int {
	cutoff := utils.NowUnixMilli() - m.ttl.Milliseconds()

	m.mu.RLock()
	queues := make(map[string]*commandQueue, len(m.queues))
	for id, q := range m.queues {
		queues[id] = q
	}
	m.mu.RUnlock()

	total := 0
	for accountID, q := range queues {
		q.mu.Lock()
		remaining := q.commands[:0]
		expired := 0
		for _, c := range q.commands {
			if c.CreatedAtMs < cutoff {
				expired++
				continue
			}
			remaining = append(remaining, c)
		}
		q.commands = remaining
		q.mu.Unlock()

		if expired > 0 {
			total += expired
			m.metrics.RecordCommandExpired(m.ctx, expired,
				semconv.Relay.AccountID.String(accountID),
			)
			m.telemetry.Info(m.ctx, "Expired commands purged",
				semconv.Relay.AccountID.String(accountID),
				semconv.Relay.QueueSize.Int(expired),
			)
		}
	}

	return total
}

// Clear elimina todos los comandos del mailbox de una cuenta. Retorna
// cuántos había.
func (m *Mailbox) Clear(accountID string) int {
	m.mu.RLock()
	q, exists := m.queues[accountID]
	m.mu.RUnlock()
	if !exists {
		return 0
	}

	q.mu.Lock()
	cleared := len(q.commands)
	q.commands = nil
	q.mu.Unlock()

	return cleared
}

// Size retorna el número de comandos pendientes de una cuenta.
func (m *Mailbox) Size(accountID string) int {
	m.mu.RLock()
	q, exists := m.queues[accountID]
	m.mu.RUnlock()
	if !exists {
		return 0
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.commands)
}

// MailboxStats resumen del estado del arena de mailboxes.
type MailboxStats struct {
	Accounts      int            `json:"accounts"`
	TotalCommands int            `json:"total_commands"`
	PerAccount    map[string]int `json:"per_account"`
}

// Stats retorna el estado agregado de todos los mailboxes.
func (m *Mailbox) Stats() MailboxStats {
	m.mu.RLock()
	queues := make(map[string]*commandQueue, len(m.queues))
	for id, q := range m.queues {
		queues[id] = q
	}
	m.mu.RUnlock()

	stats := MailboxStats{PerAccount: make(map[string]int, len(queues))}
	for accountID, q := range queues {
		q.mu.Lock()
		size := len(q.commands)
		q.mu.Unlock()
		if size > 0 {
			stats.PerAccount[accountID] = size
			stats.TotalCommands += size
		}
	}
	stats.Accounts = len(queues)

	return stats
}
