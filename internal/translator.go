package internal

import (
	"context"
	"strings"

	"github.com/xKoRx/relay/domain"
	"github.com/xKoRx/relay/telemetry"
	"github.com/xKoRx/relay/telemetry/metricbundle"
	"github.com/xKoRx/relay/telemetry/semconv"
)

// Translator traduce símbolos y volúmenes del contexto del master al
// contexto de un slave concreto.
//
// Orden de traducción de símbolo:
//  1. Mapeos curados por el usuario para la cuenta (lista ordenada,
//     match de source case-insensitive, target validado contra catálogo
//     cuando hay catálogo)
//  2. Cascade completo del resolver
//
// Un catálogo vacío no restringe: la disponibilidad no se verifica y el
// símbolo pasa tal cual cuando ninguna etapa lo mapea.
type Translator struct {
	catalog   *BrokerCatalog
	registry  *AccountRegistry
	resolver  *SymbolResolver
	telemetry *telemetry.Client
	metrics   *metricbundle.RelayMetrics
}

// NewTranslator crea un traductor.
func NewTranslator(catalog *BrokerCatalog, registry *AccountRegistry, resolver *SymbolResolver, tel *telemetry.Client, metrics *metricbundle.RelayMetrics) *Translator {
	return &Translator{
		catalog:   catalog,
		registry:  registry,
		resolver:  resolver,
		telemetry: tel,
		metrics:   metrics,
	}
}

// TranslateSymbol resuelve el símbolo del master al símbolo equivalente
// en el catálogo del slave.
func (t *Translator) TranslateSymbol(ctx context.Context, slaveAccount, symbol string) (*Resolution, error) {
	candidates := t.catalog.Symbols(slaveAccount)
	if len(candidates) == 0 {
		t.telemetry.Warn(ctx, "Slave has no broker catalog, symbol availability unchecked",
			semconv.Relay.AccountID.String(slaveAccount),
			semconv.Relay.Symbol.String(symbol),
		)
	}

	// 1) Mapeos del usuario primero
	for _, m := range t.registry.UserMappings(slaveAccount) {
		if !strings.EqualFold(m.Source, symbol) {
			continue
		}
		// Sin catálogo el target se acepta sin verificar
		if len(candidates) == 0 {
			t.metrics.RecordSymbolLookup(ctx, "hit",
				semconv.Relay.Symbol.String(symbol),
				semconv.Relay.MatchStage.String("user_mapping"),
			)
			return &Resolution{Symbol: m.Target, Stage: "user_mapping", Score: 1.0}, nil
		}
		if actual, ok := findCaseInsensitive(candidates, m.Target); ok {
			t.metrics.RecordSymbolLookup(ctx, "hit",
				semconv.Relay.Symbol.String(symbol),
				semconv.Relay.MatchStage.String("user_mapping"),
			)
			return &Resolution{Symbol: actual, Stage: "user_mapping", Score: 1.0}, nil
		}
		t.telemetry.Warn(ctx, "User mapping target not in slave catalog",
			semconv.Relay.AccountID.String(slaveAccount),
			semconv.Relay.OriginalSymbol.String(m.Source),
			semconv.Relay.Symbol.String(m.Target),
		)
	}

	// 2) Cascade completo
	resolution, err := t.resolver.Resolve(ctx, symbol, candidates)
	if err != nil && len(candidates) == 0 && domain.CodeOf(err) == domain.ErrSymbolNotFound {
		// Catálogo vacío: no hay restricción, el símbolo pasa tal cual
		return &Resolution{Symbol: symbol, Stage: "passthrough", Score: 1.0}, nil
	}
	return resolution, err
}

// TranslateVolume calcula el volumen a copiar para el slave y lo ajusta
// a la especificación del símbolo destino.
//
// Retorna ErrVolumeTooSmall cuando el volumen calculado queda por debajo
// del mínimo del slave y la estrategia configurada es skip.
func (t *Translator) TranslateVolume(ctx context.Context, masterAccount, slaveAccount, masterSymbol, slaveSymbol string, masterVolume float64, settings *domain.PairingSettings) (float64, error) {
	if settings == nil {
		settings = domain.DefaultPairingSettings()
	}

	masterSpec := t.catalog.Spec(masterAccount, masterSymbol)
	slaveSpec := t.catalog.Spec(slaveAccount, slaveSymbol)

	var masterBalance, slaveBalance float64
	if settings.VolumeMode == domain.VolumeModePercent {
		var masterKnown, slaveKnown bool
		masterBalance, masterKnown = t.catalog.Balance(masterAccount)
		slaveBalance, slaveKnown = t.catalog.Balance(slaveAccount)
		// Balance cero reportado: el ratio da 0, el slave queda excluido
		if slaveKnown && slaveBalance <= 0 {
			return 0, domain.NewError(domain.ErrVolumeTooSmall, "slave balance is zero, percent volume yields nothing").
				WithDetail("account_id", slaveAccount)
		}
		if !masterKnown || !slaveKnown {
			masterBalance, slaveBalance = 0, 0
		}
	}

	volume, degraded := domain.ComputeVolume(settings, masterVolume, masterSpec, slaveSpec, masterBalance, slaveBalance)
	if degraded {
		t.telemetry.Warn(ctx, "Percent volume mode degraded to multiply (balance unknown)",
			semconv.Relay.MasterAccount.String(masterAccount),
			semconv.Relay.SlaveAccount.String(slaveAccount),
			semconv.Relay.VolumeMode.String(string(settings.VolumeMode)),
		)
	}

	if volume <= 0 {
		return 0, domain.NewError(domain.ErrInvalidVolume, "computed volume is not positive").
			WithDetail("volume", volume)
	}

	if slaveSpec == nil {
		t.telemetry.Warn(ctx, "No symbol spec for slave, volume not clamped",
			semconv.Relay.SlaveAccount.String(slaveAccount),
			semconv.Relay.Symbol.String(slaveSymbol),
		)
		return volume, nil
	}

	if slaveSpec.VolumeMin > 0 && volume < slaveSpec.VolumeMin && settings.MinVolumeStrategy == domain.MinVolumeSkip {
		return 0, domain.NewError(domain.ErrVolumeTooSmall, "volume below slave minimum").
			WithDetail("volume", volume).
			WithDetail("volume_min", slaveSpec.VolumeMin)
	}

	clamped, err := domain.ClampVolume(slaveSpec, volume)
	if err != nil {
		if _, ok := err.(*domain.ValidationError); !ok {
			return 0, err
		}
		t.telemetry.Warn(ctx, "Volume clamped to slave spec",
			semconv.Relay.SlaveAccount.String(slaveAccount),
			semconv.Relay.Symbol.String(slaveSymbol),
			semconv.Relay.Volume.Float64(clamped),
			semconv.Relay.Reason.String(err.Error()),
		)
	}

	return clamped, nil
}

// findCaseInsensitive busca target en candidates sin distinguir mayúsculas
// y retorna el candidato con su casing real.
func findCaseInsensitive(candidates []string, target string) (string, bool) {
	for _, c := range candidates {
		if c == target {
			return c, true
		}
	}
	for _, c := range candidates {
		if strings.EqualFold(c, target) {
			return c, true
		}
	}
	return "", false
}
