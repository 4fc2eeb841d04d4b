package internal

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/xKoRx/relay/domain"
	"github.com/xKoRx/relay/utils"
)

func newTestMailbox(t *testing.T, cfg MailboxConfig) *Mailbox {
	t.Helper()
	tel := newTestTelemetryClient(t)
	metrics := newTestRelayMetrics(t)
	return NewMailbox(context.Background(), tel, metrics, cfg)
}

func testCommand(account, action string) *domain.Command {
	return &domain.Command{
		CommandID: utils.MustGenerateUUIDv7(),
		Account:   account,
		Action:    action,
		Symbol:    "EURUSD",
	}
}

func TestEnqueueAndPoll(t *testing.T) {
	m := newTestMailbox(t, MailboxConfig{})

	first := testCommand("slave-1", domain.ActionBuy)
	second := testCommand("slave-1", domain.ActionSell)
	for _, c := range []*domain.Command{first, second} {
		if err := m.Enqueue(context.Background(), c); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	delivered := m.Poll(context.Background(), "slave-1", 0, false)
	if len(delivered) != 2 {
		t.Fatalf("expected 2 commands, got %d", len(delivered))
	}
	if delivered[0].CommandID != first.CommandID || delivered[1].CommandID != second.CommandID {
		t.Fatal("expected insertion order preserved")
	}
}

func TestEnqueueRejectsCommandWithoutAccount(t *testing.T) {
	m := newTestMailbox(t, MailboxConfig{})

	if err := m.Enqueue(context.Background(), &domain.Command{CommandID: "x"}); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestPollLimit(t *testing.T) {
	m := newTestMailbox(t, MailboxConfig{})

	for i := 0; i < 5; i++ {
		if err := m.Enqueue(context.Background(), testCommand("slave-1", domain.ActionBuy)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if delivered := m.Poll(context.Background(), "slave-1", 3, false); len(delivered) != 3 {
		t.Fatalf("expected 3 commands, got %d", len(delivered))
	}
}

func TestPollWithoutAckKeepsCommands(t *testing.T) {
	m := newTestMailbox(t, MailboxConfig{})

	if err := m.Enqueue(context.Background(), testCommand("slave-1", domain.ActionBuy)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	m.Poll(context.Background(), "slave-1", 0, false)
	if size := m.Size("slave-1"); size != 1 {
		t.Fatalf("expected command retained, size = %d", size)
	}
}

func TestPollAutoAckRemovesDelivered(t *testing.T) {
	m := newTestMailbox(t, MailboxConfig{})

	if err := m.Enqueue(context.Background(), testCommand("slave-1", domain.ActionBuy)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	delivered := m.Poll(context.Background(), "slave-1", 0, true)
	if len(delivered) != 1 {
		t.Fatalf("expected 1 command, got %d", len(delivered))
	}
	if size := m.Size("slave-1"); size != 0 {
		t.Fatalf("expected empty mailbox after auto-ack, size = %d", size)
	}
}

func TestPollUnknownAccount(t *testing.T) {
	m := newTestMailbox(t, MailboxConfig{})

	if delivered := m.Poll(context.Background(), "ghost", 0, false); delivered != nil {
		t.Fatalf("expected nil, got %v", delivered)
	}
}

func TestAcknowledge(t *testing.T) {
	m := newTestMailbox(t, MailboxConfig{})

	command := testCommand("slave-1", domain.ActionBuy)
	if err := m.Enqueue(context.Background(), command); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if acked := m.Acknowledge(context.Background(), "slave-1", "unknown-id"); acked {
		t.Fatal("expected false for unknown command")
	}
	if acked := m.Acknowledge(context.Background(), "slave-1", command.CommandID); !acked {
		t.Fatal("expected true for pending command")
	}
	if size := m.Size("slave-1"); size != 0 {
		t.Fatalf("expected empty mailbox, size = %d", size)
	}
}

func TestCapacityEvictsOldest(t *testing.T) {
	m := newTestMailbox(t, MailboxConfig{Capacity: 3})

	var ids []string
	for i := 0; i < 4; i++ {
		c := testCommand("slave-1", domain.ActionBuy)
		c.Comment = fmt.Sprintf("cmd-%d", i)
		ids = append(ids, c.CommandID)
		if err := m.Enqueue(context.Background(), c); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	delivered := m.Poll(context.Background(), "slave-1", 0, false)
	if len(delivered) != 3 {
		t.Fatalf("expected capacity 3, got %d", len(delivered))
	}
	// El más viejo fue desalojado
	if delivered[0].CommandID != ids[1] {
		t.Fatalf("expected oldest evicted, head is %s", delivered[0].Comment)
	}
}

func TestSweepExpiredPurgesOldCommands(t *testing.T) {
	m := newTestMailbox(t, MailboxConfig{TTL: time.Second})

	old := testCommand("slave-1", domain.ActionBuy)
	old.CreatedAtMs = utils.NowUnixMilli() - 10_000
	fresh := testCommand("slave-1", domain.ActionSell)

	for _, c := range []*domain.Command{old, fresh} {
		if err := m.Enqueue(context.Background(), c); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if purged := m.SweepExpired(); purged != 1 {
		t.Fatalf("expected 1 expired command, got %d", purged)
	}

	delivered := m.Poll(context.Background(), "slave-1", 0, false)
	if len(delivered) != 1 || delivered[0].CommandID != fresh.CommandID {
		t.Fatalf("expected only the fresh command, got %d", len(delivered))
	}
}

func TestClear(t *testing.T) {
	m := newTestMailbox(t, MailboxConfig{})

	for i := 0; i < 3; i++ {
		if err := m.Enqueue(context.Background(), testCommand("slave-1", domain.ActionBuy)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if cleared := m.Clear("slave-1"); cleared != 3 {
		t.Fatalf("expected 3 cleared, got %d", cleared)
	}
	if cleared := m.Clear("ghost"); cleared != 0 {
		t.Fatalf("expected 0 for unknown account, got %d", cleared)
	}
}

func TestStats(t *testing.T) {
	m := newTestMailbox(t, MailboxConfig{})

	for i := 0; i < 2; i++ {
		if err := m.Enqueue(context.Background(), testCommand("slave-1", domain.ActionBuy)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if err := m.Enqueue(context.Background(), testCommand("slave-2", domain.ActionSell)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stats := m.Stats()
	if stats.Accounts != 2 || stats.TotalCommands != 3 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.PerAccount["slave-1"] != 2 || stats.PerAccount["slave-2"] != 1 {
		t.Fatalf("unexpected per-account stats: %+v", stats.PerAccount)
	}
}
