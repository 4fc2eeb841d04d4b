package internal

import (
	"context"
	"testing"

	"github.com/xKoRx/relay/domain"
)

func TestCatalogReportAndLookup(t *testing.T) {
	c := NewBrokerCatalog(newTestTelemetryClient(t))

	err := c.Report(context.Background(), &domain.BrokerSnapshot{
		AccountID: "acc-1",
		Broker:    "Demo Broker",
		Balance:   2500,
		Specs:     goldSpecs(100),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !c.HasCatalog("acc-1") {
		t.Fatal("expected catalog present")
	}
	if symbols := c.Symbols("acc-1"); len(symbols) != 1 || symbols[0] != "XAUUSD" {
		t.Fatalf("unexpected symbols: %v", symbols)
	}
	if spec := c.Spec("acc-1", "XAUUSD"); spec == nil || spec.ContractSize != 100 {
		t.Fatalf("unexpected spec: %+v", spec)
	}
	if balance, known := c.Balance("acc-1"); !known || balance != 2500 {
		t.Fatalf("unexpected balance: (%f, %v)", balance, known)
	}
}

func TestCatalogUnknownAccount(t *testing.T) {
	c := NewBrokerCatalog(newTestTelemetryClient(t))

	if c.HasCatalog("ghost") {
		t.Fatal("expected no catalog")
	}
	if symbols := c.Symbols("ghost"); symbols != nil {
		t.Fatalf("expected nil, got %v", symbols)
	}
	if _, known := c.Balance("ghost"); known {
		t.Fatal("expected unknown balance")
	}
}

func TestCatalogReportRejectsEmptySnapshot(t *testing.T) {
	c := NewBrokerCatalog(newTestTelemetryClient(t))

	if err := c.Report(context.Background(), nil); err == nil {
		t.Fatal("expected error for nil snapshot")
	}
	if err := c.Report(context.Background(), &domain.BrokerSnapshot{}); err == nil {
		t.Fatal("expected error for missing account id")
	}
}

func TestCatalogLastWriteWins(t *testing.T) {
	c := NewBrokerCatalog(newTestTelemetryClient(t))

	for _, balance := range []float64{1000, 2000} {
		err := c.Report(context.Background(), &domain.BrokerSnapshot{
			AccountID: "acc-1",
			Balance:   balance,
			Specs:     goldSpecs(100),
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if balance, _ := c.Balance("acc-1"); balance != 2000 {
		t.Fatalf("expected last snapshot to win, got %f", balance)
	}
}

func TestCatalogSnapshotIsACopy(t *testing.T) {
	c := NewBrokerCatalog(newTestTelemetryClient(t))

	if err := c.Report(context.Background(), &domain.BrokerSnapshot{
		AccountID: "acc-1",
		Specs:     goldSpecs(100),
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snapshot := c.Snapshot("acc-1")
	snapshot.Specs["XAUUSD"].ContractSize = 1

	if spec := c.Spec("acc-1", "XAUUSD"); spec.ContractSize != 100 {
		t.Fatalf("mutating the snapshot must not affect the catalog, got %f", spec.ContractSize)
	}
}
