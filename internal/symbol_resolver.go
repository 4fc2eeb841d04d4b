package internal

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/xKoRx/relay/domain"
	"github.com/xKoRx/relay/telemetry"
	"github.com/xKoRx/relay/telemetry/metricbundle"
	"github.com/xKoRx/relay/telemetry/semconv"
)

// Umbrales del match difuso.
const (
	fuzzyThreshold    = 0.55
	fuzzyLowThreshold = 0.45
)

// globalMappingScope es el account_id reservado bajo el que se persisten
// los mapeos custom globales del resolver.
const globalMappingScope = "*"

// Etapas de resolución, en orden del cascade.
const (
	StageExact           = "exact"
	StageCustom          = "custom"
	StageBaseAlias       = "base_alias"
	StageCanonicalAlias  = "canonical_alias"
	StageCaseInsensitive = "case_insensitive"
	StageNormalized      = "normalized"
	StageFuzzy           = "fuzzy"
	StageFuzzyLow        = "fuzzy_low"
)

// Resolution es el resultado de resolver un símbolo contra un catálogo.
type Resolution struct {
	Symbol        string  // símbolo tal como existe en el catálogo destino
	Stage         string  // etapa del cascade que produjo el match
	Score         float64 // score de similitud (1.0 para matches exactos)
	LowConfidence bool    // true cuando vino de la etapa de umbral bajo
}

// mappingPersistRequest solicitud de persistencia async de mapeos custom.
type mappingPersistRequest struct {
	mappings []*domain.SymbolMapping
}

// SymbolResolver resuelve nombres de símbolos contra el catálogo de un
// broker destino mediante un cascade determinista:
//
//  1. Match exacto (case-sensitive)
//  2. Mapeos custom (curados, validados contra candidatos)
//  3. Aliases base (tabla configurable símbolo→canónico)
//  4. Variantes de alias canónicos (case-insensitive contra candidatos)
//  5. Match exacto case-insensitive
//  6. Match por forma normalizada
//  7. Match difuso (score ≥ 0.55)
//  8. Match difuso de baja confianza (score ≥ 0.45, con warning)
//  9. No encontrado
//
// Los resultados (incluidos los misses) se cachean por símbolo + set de
// candidatos. Cualquier mutación de mapeos custom limpia el caché
// completo y encola persistencia async.
type SymbolResolver struct {
	mu          sync.RWMutex
	cache       map[string]*Resolution // nil value = miss conocido
	baseAliases map[string]string
	custom      map[string]string
	customOrder []string

	repo        domain.SymbolMappingRepository
	persistChan chan mappingPersistRequest
	telemetry   *telemetry.Client
	metrics     *metricbundle.RelayMetrics

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSymbolResolver crea un resolver de símbolos.
func NewSymbolResolver(ctx context.Context, repo domain.SymbolMappingRepository, tel *telemetry.Client, metrics *metricbundle.RelayMetrics, persistBufferSize int) *SymbolResolver {
	if persistBufferSize <= 0 {
		persistBufferSize = 1000
	}

	resolverCtx, cancel := context.WithCancel(ctx)

	return &SymbolResolver{
		cache:       make(map[string]*Resolution),
		baseAliases: defaultBaseAliases(),
		custom:      make(map[string]string),
		repo:        repo,
		persistChan: make(chan mappingPersistRequest, persistBufferSize),
		telemetry:   tel,
		metrics:     metrics,
		ctx:         resolverCtx,
		cancel:      cancel,
	}
}

// Start carga los mapeos custom persistidos e inicia el worker de
// persistencia async.
func (r *SymbolResolver) Start() {
	if r.repo != nil {
		if mappings, err := r.repo.GetAccountMappings(r.ctx, globalMappingScope); err != nil {
			r.telemetry.Warn(r.ctx, "Failed to load custom symbol mappings",
				semconv.Relay.Reason.String(err.Error()),
			)
		} else {
			r.mu.Lock()
			for _, m := range mappings {
				if _, exists := r.custom[m.Source]; !exists {
					r.customOrder = append(r.customOrder, m.Source)
				}
				r.custom[m.Source] = m.Target
			}
			r.mu.Unlock()
		}
	}

	r.wg.Add(1)
	go r.persistWorker()
}

// Stop detiene el resolver. El canal de persistencia nunca se cierra:
// los productores concurrentes seleccionan contra ctx.Done.
func (r *SymbolResolver) Stop() {
	r.cancel()
	r.wg.Wait()
}

// persistWorker procesa solicitudes de persistencia de forma async.
func (r *SymbolResolver) persistWorker() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		case req := <-r.persistChan:
			if r.repo == nil {
				continue
			}
			if err := r.repo.ReplaceAccountMappings(r.ctx, globalMappingScope, req.mappings); err != nil {
				r.telemetry.Error(r.ctx, "Failed to persist custom symbol mappings", err,
					semconv.Relay.QueueSize.Int(len(req.mappings)),
				)
			}

		case <-r.ctx.Done():
			return
		}
	}
}

// SetBaseAliases reemplaza la tabla de aliases base y limpia el caché.
// Un mapa vacío deja sólo la tabla por defecto fuera de juego: el
// cascade degrada a las etapas siguientes.
func (r *SymbolResolver) SetBaseAliases(aliases map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.baseAliases = make(map[string]string, len(aliases))
	for k, v := range aliases {
		r.baseAliases[strings.ToLower(k)] = v
	}
	r.cache = make(map[string]*Resolution)
}

// Resolve resuelve un símbolo contra la lista de candidatos del broker
// destino. Retorna ErrSymbolNotFound cuando ninguna etapa produce match.
func (r *SymbolResolver) Resolve(ctx context.Context, symbol string, candidates []string) (*Resolution, error) {
	if strings.TrimSpace(symbol) == "" {
		return nil, domain.NewError(domain.ErrInvalidSymbol, "symbol is empty")
	}

	cacheKey := resolutionCacheKey(symbol, candidates)

	r.mu.RLock()
	cached, hit := r.cache[cacheKey]
	r.mu.RUnlock()

	if hit {
		if cached == nil {
			r.metrics.RecordSymbolLookup(ctx, "miss", semconv.Relay.Symbol.String(symbol))
			return nil, domain.NewError(domain.ErrSymbolNotFound, "no mapping found for symbol").
				WithDetail("symbol", symbol)
		}
		r.metrics.RecordSymbolLookup(ctx, "hit",
			semconv.Relay.Symbol.String(symbol),
			semconv.Relay.MatchStage.String(cached.Stage),
		)
		return cached, nil
	}

	resolution := r.resolve(ctx, symbol, candidates)

	r.mu.Lock()
	r.cache[cacheKey] = resolution
	r.mu.Unlock()

	if resolution == nil {
		r.metrics.RecordSymbolLookup(ctx, "miss", semconv.Relay.Symbol.String(symbol))
		r.telemetry.Warn(ctx, "No symbol mapping found",
			semconv.Relay.Symbol.String(symbol),
		)
		return nil, domain.NewError(domain.ErrSymbolNotFound, "no mapping found for symbol").
			WithDetail("symbol", symbol).
			WithDetail("candidates", len(candidates))
	}

	r.metrics.RecordSymbolLookup(ctx, "hit",
		semconv.Relay.Symbol.String(symbol),
		semconv.Relay.MatchStage.String(resolution.Stage),
	)
	if resolution.LowConfidence {
		r.telemetry.Warn(ctx, "Low-confidence symbol match",
			semconv.Relay.OriginalSymbol.String(symbol),
			semconv.Relay.Symbol.String(resolution.Symbol),
			semconv.Relay.MatchScore.Float64(resolution.Score),
		)
	}

	return resolution, nil
}

// resolve ejecuta el cascade sin caché.
func (r *SymbolResolver) resolve(ctx context.Context, symbol string, candidates []string) *Resolution {
	// 1) Match exacto (case-sensitive)
	for _, c := range candidates {
		if c == symbol {
			return &Resolution{Symbol: symbol, Stage: StageExact, Score: 1.0}
		}
	}

	// 2) Mapeos custom
	r.mu.RLock()
	mapped, hasCustom := r.custom[symbol]
	r.mu.RUnlock()
	if hasCustom && mapped != "" && (len(candidates) == 0 || containsString(candidates, mapped)) {
		return &Resolution{Symbol: mapped, Stage: StageCustom, Score: 1.0}
	}

	// 3) Aliases base
	r.mu.RLock()
	alias := r.baseAliases[strings.ToLower(symbol)]
	r.mu.RUnlock()
	if alias != "" && (len(candidates) == 0 || containsString(candidates, alias)) {
		return &Resolution{Symbol: alias, Stage: StageBaseAlias, Score: 1.0}
	}

	if len(candidates) == 0 {
		return nil
	}

	// 4) Variantes de alias canónicos
	if variants, ok := canonicalAliases[strings.ToUpper(symbol)]; ok {
		for _, c := range candidates {
			for _, variant := range variants {
				if strings.EqualFold(c, variant) {
					return &Resolution{Symbol: c, Stage: StageCanonicalAlias, Score: 1.0}
				}
			}
		}
	}

	// 5) Match exacto case-insensitive
	for _, c := range candidates {
		if strings.EqualFold(c, symbol) {
			return &Resolution{Symbol: c, Stage: StageCaseInsensitive, Score: 1.0}
		}
	}

	// 6) Match por forma normalizada
	if target := NormalizeSymbol(symbol); target != "" {
		for _, c := range candidates {
			if NormalizeSymbol(c) == target {
				return &Resolution{Symbol: c, Stage: StageNormalized, Score: 1.0}
			}
		}
	}

	// 7) Match difuso
	if best, score := r.bestFuzzy(symbol, candidates, fuzzyThreshold); best != "" {
		return &Resolution{Symbol: best, Stage: StageFuzzy, Score: score}
	}

	// 8) Match difuso de baja confianza
	if best, score := r.bestFuzzy(symbol, candidates, fuzzyLowThreshold); best != "" {
		return &Resolution{Symbol: best, Stage: StageFuzzyLow, Score: score, LowConfidence: true}
	}

	// 9) No encontrado
	return nil
}

// bestFuzzy retorna el candidato con mayor score estrictamente por encima
// del umbral. Compara tanto las formas originales como las normalizadas y
// toma el máximo.
func (r *SymbolResolver) bestFuzzy(symbol string, candidates []string, threshold float64) (string, float64) {
	best := ""
	bestScore := threshold
	normalized := NormalizeSymbol(symbol)

	for _, c := range candidates {
		score := Similarity(symbol, c)
		if normScore := Similarity(normalized, NormalizeSymbol(c)); normScore > score {
			score = normScore
		}
		if score > bestScore {
			bestScore = score
			best = c
		}
	}

	if best == "" {
		return "", 0
	}
	return best, bestScore
}

// ---------- Mapeos custom ----------

// SetCustomMapping agrega o reemplaza un mapeo custom global. Limpia el
// caché completo y encola persistencia async.
func (r *SymbolResolver) SetCustomMapping(ctx context.Context, source, target string) error {
	if strings.TrimSpace(source) == "" || strings.TrimSpace(target) == "" {
		return domain.NewError(domain.ErrInvalidSymbol, "custom mapping requires source and target")
	}

	r.mu.Lock()
	if _, exists := r.custom[source]; !exists {
		r.customOrder = append(r.customOrder, source)
	}
	r.custom[source] = target
	r.cache = make(map[string]*Resolution)
	mappings := r.snapshotMappingsLocked()
	r.mu.Unlock()

	r.enqueuePersist(ctx, mappings)

	r.telemetry.Info(ctx, "Custom symbol mapping set",
		semconv.Relay.OriginalSymbol.String(source),
		semconv.Relay.Symbol.String(target),
	)
	return nil
}

// RemoveCustomMapping elimina un mapeo custom. Retorna false si no existía.
func (r *SymbolResolver) RemoveCustomMapping(ctx context.Context, source string) bool {
	r.mu.Lock()
	if _, exists := r.custom[source]; !exists {
		r.mu.Unlock()
		return false
	}
	delete(r.custom, source)
	for i, s := range r.customOrder {
		if s == source {
			r.customOrder = append(r.customOrder[:i], r.customOrder[i+1:]...)
			break
		}
	}
	r.cache = make(map[string]*Resolution)
	mappings := r.snapshotMappingsLocked()
	r.mu.Unlock()

	r.enqueuePersist(ctx, mappings)

	r.telemetry.Info(ctx, "Custom symbol mapping removed",
		semconv.Relay.OriginalSymbol.String(source),
	)
	return true
}

// CustomMappings retorna una copia de los mapeos custom vigentes.
func (r *SymbolResolver) CustomMappings() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]string, len(r.custom))
	for k, v := range r.custom {
		out[k] = v
	}
	return out
}

// snapshotMappingsLocked materializa los mapeos custom como registros
// persistibles. Requiere r.mu tomado.
func (r *SymbolResolver) snapshotMappingsLocked() []*domain.SymbolMapping {
	mappings := make([]*domain.SymbolMapping, 0, len(r.customOrder))
	for i, source := range r.customOrder {
		mappings = append(mappings, &domain.SymbolMapping{
			AccountID: globalMappingScope,
			Source:    source,
			Target:    r.custom[source],
			Position:  i,
		})
	}
	return mappings
}

// enqueuePersist encola la persistencia async (non-blocking con timeout).
func (r *SymbolResolver) enqueuePersist(ctx context.Context, mappings []*domain.SymbolMapping) {
	select {
	case r.persistChan <- mappingPersistRequest{mappings: mappings}:

	case <-time.After(100 * time.Millisecond):
		r.telemetry.Warn(ctx, "Persist channel full, dropping mapping update",
			semconv.Relay.QueueSize.Int(len(mappings)),
		)

	case <-r.ctx.Done():
	}
}

// ResolverStats son contadores informativos del resolver.
type ResolverStats struct {
	CacheSize      int `json:"cache_size"`
	CustomCount    int `json:"custom_count"`
	BaseCount      int `json:"base_count"`
	CanonicalCount int `json:"canonical_count"`
}

// Stats retorna contadores informativos del resolver.
func (r *SymbolResolver) Stats() ResolverStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return ResolverStats{
		CacheSize:      len(r.cache),
		CustomCount:    len(r.custom),
		BaseCount:      len(r.baseAliases),
		CanonicalCount: len(canonicalAliases),
	}
}

// ---------- Helpers ----------

func resolutionCacheKey(symbol string, candidates []string) string {
	sorted := make([]string, len(candidates))
	copy(sorted, candidates)
	sort.Strings(sorted)
	return symbol + "|" + strings.Join(sorted, ",")
}

func containsString(list []string, target string) bool {
	for _, s := range list {
		if s == target {
			return true
		}
	}
	return false
}
