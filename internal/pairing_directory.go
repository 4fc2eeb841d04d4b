package internal

import (
	"context"
	"sync"
	"time"

	"github.com/xKoRx/relay/domain"
	"github.com/xKoRx/relay/telemetry"
	"github.com/xKoRx/relay/telemetry/semconv"
	"github.com/xKoRx/relay/utils"
)

// PairingDirectory resuelve los pairings master↔slave por subscription
// key.
//
// Lectura a través del repositorio: cada consulta observa la colección
// persistida vigente, incluidas mutaciones hechas fuera del core. El
// índice en memoria se mantiene con Upsert/Reload y sirve de fallback
// cuando la base no responde (o no hay repositorio configurado).
type PairingDirectory struct {
	mu    sync.RWMutex
	byKey map[string][]*domain.Pairing

	repo      domain.PairingRepository
	telemetry *telemetry.Client
}

// NewPairingDirectory crea un directorio de pairings.
func NewPairingDirectory(repo domain.PairingRepository, tel *telemetry.Client) *PairingDirectory {
	return &PairingDirectory{
		byKey:     make(map[string][]*domain.Pairing),
		repo:      repo,
		telemetry: tel,
	}
}

// Start carga todos los pairings persistidos al índice.
func (d *PairingDirectory) Start(ctx context.Context) error {
	return d.Reload(ctx)
}

// Reload reconstruye el índice completo desde la base.
func (d *PairingDirectory) Reload(ctx context.Context) error {
	if d.repo == nil {
		return nil
	}

	pairings, err := d.repo.List(ctx)
	if err != nil {
		return domain.WrapError(domain.ErrStorage, "failed to load pairings", err)
	}

	byKey := make(map[string][]*domain.Pairing)
	for _, p := range pairings {
		byKey[p.SubscriptionKey] = append(byKey[p.SubscriptionKey], p)
	}

	d.mu.Lock()
	d.byKey = byKey
	d.mu.Unlock()

	d.telemetry.Info(ctx, "Pairings loaded",
		semconv.Relay.QueueSize.Int(len(pairings)),
	)
	return nil
}

// FindBySubscriptionKey retorna todos los pairings bajo una key, en
// cualquier estado. Es la consulta del fan-out: el engine decide qué
// excluir y registra cada exclusión con su razón.
func (d *PairingDirectory) FindBySubscriptionKey(ctx context.Context, key string) []*domain.Pairing {
	if d.repo != nil {
		pairings, err := d.repo.FindBySubscriptionKey(ctx, key)
		if err == nil {
			return pairings
		}
		d.telemetry.Warn(ctx, "Pairing lookup fell back to memory index",
			semconv.Relay.Reason.String(err.Error()),
		)
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []*domain.Pairing
	for _, p := range d.byKey[key] {
		out = append(out, clonePairing(p))
	}
	return out
}

// Upsert valida, persiste y re-indexa un pairing. Los pairings nuevos
// reciben un PairingID (UUIDv7) si no traen uno.
func (d *PairingDirectory) Upsert(ctx context.Context, pairing *domain.Pairing) error {
	if err := domain.ValidatePairing(pairing); err != nil {
		return err
	}
	if pairing.PairingID == "" {
		id, err := utils.GenerateUUIDv7()
		if err != nil {
			return domain.WrapError(domain.ErrInternal, "failed to generate pairing id", err)
		}
		pairing.PairingID = id
	}
	if pairing.Status == "" {
		pairing.Status = domain.PairingActive
	}
	if pairing.Settings == nil {
		pairing.Settings = domain.DefaultPairingSettings()
	}
	now := time.Now().UTC()
	if pairing.CreatedAt.IsZero() {
		pairing.CreatedAt = now
	}
	pairing.UpdatedAt = now

	if d.repo != nil {
		if err := d.repo.Upsert(ctx, pairing); err != nil {
			return domain.WrapError(domain.ErrStorage, "failed to persist pairing", err)
		}
	}

	d.mu.Lock()
	list := d.byKey[pairing.SubscriptionKey]
	replaced := false
	for i, p := range list {
		if p.PairingID == pairing.PairingID {
			list[i] = clonePairing(pairing)
			replaced = true
			break
		}
	}
	if !replaced {
		d.byKey[pairing.SubscriptionKey] = append(list, clonePairing(pairing))
	}
	d.mu.Unlock()

	d.telemetry.Info(ctx, "Pairing upserted",
		semconv.Relay.PairingID.String(pairing.PairingID),
		semconv.Relay.MasterAccount.String(pairing.MasterAccount),
		semconv.Relay.SlaveAccount.String(pairing.SlaveAccount),
	)
	return nil
}

// List retorna todos los pairings persistidos, con fallback al índice.
func (d *PairingDirectory) List(ctx context.Context) []*domain.Pairing {
	if d.repo != nil {
		pairings, err := d.repo.List(ctx)
		if err == nil {
			return pairings
		}
		d.telemetry.Warn(ctx, "Pairing list fell back to memory index",
			semconv.Relay.Reason.String(err.Error()),
		)
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []*domain.Pairing
	for _, list := range d.byKey {
		for _, p := range list {
			out = append(out, clonePairing(p))
		}
	}
	return out
}

func clonePairing(p *domain.Pairing) *domain.Pairing {
	clone := *p
	if p.Settings != nil {
		settings := *p.Settings
		clone.Settings = &settings
	}
	return &clone
}
