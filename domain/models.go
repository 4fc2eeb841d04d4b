package domain

import "time"

// ===========================================================================
// Señales
// ===========================================================================

// Signal representa un evento de trading reportado por una cuenta master.
//
// El payload llega desde la capa de ingestión externa; el core sólo lo
// consume. TakeProfit/StopLoss son punteros para distinguir "ausente" de 0.
type Signal struct {
	SignalID   string   `json:"signal_id,omitempty"` // asignado por el core (UUIDv7)
	Account    string   `json:"account"`
	Event      string   `json:"event"`
	Symbol     string   `json:"symbol"`
	Type       string   `json:"type,omitempty"` // BUY/SELL
	Volume     float64  `json:"volume,omitempty"`
	Price      float64  `json:"price,omitempty"`
	TakeProfit *float64 `json:"tp,omitempty"`
	StopLoss   *float64 `json:"sl,omitempty"`
	OrderID    string   `json:"order_id,omitempty"`
	Comment    string   `json:"comment,omitempty"`
}

// EventKind clasifica el evento de una señal.
type EventKind string

// Clases de evento soportadas.
const (
	EventKindOpen    EventKind = "open"
	EventKindClose   EventKind = "close"
	EventKindModify  EventKind = "modify"
	EventKindUnknown EventKind = "unknown"
)

// Kind clasifica el evento de la señal según los nombres que emiten
// los terminales master.
func (s *Signal) Kind() EventKind {
	switch s.Event {
	case "deal_add", "order_add":
		return EventKindOpen
	case "deal_close", "position_close":
		return EventKindClose
	case "position_modify", "modify":
		return EventKindModify
	default:
		return EventKindUnknown
	}
}

// ===========================================================================
// Comandos
// ===========================================================================

// Acciones de comando que un terminal slave sabe ejecutar.
const (
	ActionBuy            = "buy"
	ActionSell           = "sell"
	ActionClose          = "close"            // cierra todo lo abierto del símbolo
	ActionCloseByComment = "close_by_comment" // cierra por tag de correlación
	ActionModifyPosition = "modify_position"
)

// Command es la instrucción derivada de una señal para UN slave.
//
// Vive únicamente dentro de un mailbox; se elimina al confirmarse (ack)
// o al expirar por edad.
type Command struct {
	CommandID   string   `json:"command_id"`
	Account     string   `json:"account"`
	Action      string   `json:"action"`
	Symbol      string   `json:"symbol"`
	Volume      float64  `json:"volume,omitempty"`
	OrderType   string   `json:"order_type,omitempty"`
	Price       float64  `json:"price,omitempty"`
	TakeProfit  *float64 `json:"take_profit,omitempty"`
	StopLoss    *float64 `json:"stop_loss,omitempty"`
	Comment     string   `json:"comment,omitempty"`
	CreatedAtMs int64    `json:"created_at_ms"`
}

// ===========================================================================
// Cuentas
// ===========================================================================

// AccountStatus estado de ciclo de vida de una cuenta.
type AccountStatus string

// Estados posibles de una cuenta.
//
// WaitingForActivation → Online sólo al recibir el primer reporte de
// catálogo del broker. Online ⇄ Offline por heartbeats/sweep. Paused es
// sticky: sólo sale vía resume explícito.
const (
	StatusWaitingForActivation AccountStatus = "WaitingForActivation"
	StatusOnline               AccountStatus = "Online"
	StatusOffline              AccountStatus = "Offline"
	StatusPaused               AccountStatus = "Paused"
)

// AccountRecord es el registro persistente de una cuenta.
type AccountRecord struct {
	AccountID          string           `json:"account_id" db:"account_id"`
	Nickname           string           `json:"nickname" db:"nickname"`
	Status             AccountStatus    `json:"status" db:"status"`
	Broker             string           `json:"broker" db:"broker"`
	LastHeartbeatMs    int64            `json:"last_heartbeat_ms" db:"last_heartbeat_ms"`
	SymbolDataReceived bool             `json:"symbol_data_received" db:"symbol_data_received"`
	SymbolMappings     []*SymbolMapping `json:"symbol_mappings,omitempty"`
	CreatedAt          time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at" db:"updated_at"`
}

// SymbolMapping es una entrada de mapeo de símbolos curada por el usuario
// para una cuenta concreta. La lista es ordenada: gana la primera entrada
// cuyo Source coincide.
type SymbolMapping struct {
	AccountID string `json:"account_id" db:"account_id"`
	Source    string `json:"source" db:"source"`
	Target    string `json:"target" db:"target"`
	Position  int    `json:"position" db:"position"`
}

// ===========================================================================
// Catálogo del broker
// ===========================================================================

// SymbolSpec especificación de un símbolo según el broker de una cuenta.
type SymbolSpec struct {
	Symbol       string  `json:"symbol"`
	ContractSize float64 `json:"contract_size"`
	VolumeMin    float64 `json:"volume_min"`
	VolumeMax    float64 `json:"volume_max"`
	VolumeStep   float64 `json:"volume_step"`
}

// BrokerSnapshot es el reporte de catálogo de una cuenta: símbolos
// disponibles, sus especificaciones y el balance actual.
type BrokerSnapshot struct {
	AccountID    string                 `json:"account_id"`
	Broker       string                 `json:"broker"`
	Balance      float64                `json:"balance"`
	Specs        map[string]*SymbolSpec `json:"specs"`
	ReportedAtMs int64                  `json:"reported_at_ms"`
}

// Symbols retorna la lista de símbolos disponibles del snapshot.
func (b *BrokerSnapshot) Symbols() []string {
	symbols := make([]string, 0, len(b.Specs))
	for s := range b.Specs {
		symbols = append(symbols, s)
	}
	return symbols
}

// ===========================================================================
// Pairings
// ===========================================================================

// PairingStatus estado de un pairing.
type PairingStatus string

// Estados posibles de un pairing.
const (
	PairingActive   PairingStatus = "active"
	PairingInactive PairingStatus = "inactive"
)

// Pairing relación persistida master↔slave con settings de copiado,
// agrupada bajo una subscription key compartida.
//
// Invariante: SlaveAccount ≠ MasterAccount; (master, slave, key) único.
type Pairing struct {
	PairingID       string           `json:"pairing_id" db:"pairing_id"`
	MasterAccount   string           `json:"master_account" db:"master_account"`
	SlaveAccount    string           `json:"slave_account" db:"slave_account"`
	SubscriptionKey string           `json:"subscription_key" db:"subscription_key"`
	Status          PairingStatus    `json:"status" db:"status"`
	Settings        *PairingSettings `json:"settings"`
	CreatedAt       time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at" db:"updated_at"`
}

// ===========================================================================
// Resultados de despacho
// ===========================================================================

// OutcomeStatus resultado del procesamiento de una señal para un slave.
type OutcomeStatus string

// Resultados posibles por (señal, slave).
const (
	OutcomeDispatched OutcomeStatus = "dispatched"
	OutcomeSkipped    OutcomeStatus = "skipped"
	OutcomeFailed     OutcomeStatus = "failed"
)

// DispatchOutcome registra el resultado de procesar una señal para UN
// slave. Cada exclusión lleva razón específica; nada se descarta en
// silencio.
type DispatchOutcome struct {
	OutcomeID     string        `json:"outcome_id" db:"outcome_id"`
	SignalID      string        `json:"signal_id" db:"signal_id"`
	MasterAccount string        `json:"master_account" db:"master_account"`
	SlaveAccount  string        `json:"slave_account" db:"slave_account"`
	PairingID     string        `json:"pairing_id" db:"pairing_id"`
	Status        OutcomeStatus `json:"status" db:"status"`
	Reason        string        `json:"reason,omitempty" db:"reason"`
	ErrorCode     ErrorCode     `json:"error_code,omitempty" db:"error_code"`
	CommandID     string        `json:"command_id,omitempty" db:"command_id"`
	Symbol        string        `json:"symbol,omitempty" db:"symbol"`
	Volume        float64       `json:"volume,omitempty" db:"volume"`
	CreatedAtMs   int64         `json:"created_at_ms" db:"created_at_ms"`
}

// ProcessResult agrega el resultado del fan-out de una señal.
//
// Success es true si y sólo si Dispatched > 0.
type ProcessResult struct {
	Success    bool               `json:"success"`
	Dispatched int                `json:"dispatched"`
	Failed     int                `json:"failed"`
	Skipped    int                `json:"skipped"`
	Outcomes   []*DispatchOutcome `json:"outcomes"`
}
