package semconv

import "go.opentelemetry.io/otel/attribute"

// Relay contiene atributos semánticos específicos de Relay.
//
// # Identificadores
//
//   - relay.signal_id: UUID de la señal entrante (UUIDv7)
//   - relay.command_id: UUID del comando generado
//   - relay.account_id: ID de la cuenta de trading
//   - relay.master_account: cuenta master origen de la señal
//   - relay.slave_account: cuenta slave destino del comando
//   - relay.pairing_id: ID del pairing master↔slave
//
// # Trading
//
//   - relay.symbol: símbolo del instrumento (XAUUSD, etc.)
//   - relay.original_symbol: símbolo antes de traducción
//   - relay.action: acción del comando (buy/sell/close/...)
//   - relay.event: evento de la señal (deal_add/deal_close/...)
//   - relay.volume: volumen en lotes
//   - relay.volume_mode: modo de cálculo de volumen (fixed/percent/multiply)
//
// # Estado
//
//   - relay.status: resultado (dispatched/skipped/failed)
//   - relay.error_code: código de error si aplica
//   - relay.reason: razón asociada a un skip/rechazo
//
// # Uso
//
//	client.Info(ctx, "Command enqueued",
//	    semconv.Relay.SlaveAccount.String("222222"),
//	    semconv.Relay.Symbol.String("XAUUSD"),
//	    semconv.Relay.Action.String("buy"),
//	)
var Relay = relayAttributes{
	// Identificadores
	SignalID:      attribute.Key("relay.signal_id"),
	CommandID:     attribute.Key("relay.command_id"),
	AccountID:     attribute.Key("relay.account_id"),
	MasterAccount: attribute.Key("relay.master_account"),
	SlaveAccount:  attribute.Key("relay.slave_account"),
	PairingID:     attribute.Key("relay.pairing_id"),

	// Trading
	Symbol:         attribute.Key("relay.symbol"),
	OriginalSymbol: attribute.Key("relay.original_symbol"),
	Action:         attribute.Key("relay.action"),
	Event:          attribute.Key("relay.event"),
	Volume:         attribute.Key("relay.volume"),
	VolumeMode:     attribute.Key("relay.volume_mode"),

	// Estado
	Status:    attribute.Key("relay.status"),
	ErrorCode: attribute.Key("relay.error_code"),
	Reason:    attribute.Key("relay.reason"),

	// Adicionales
	QueueSize:    attribute.Key("relay.queue_size"),
	FanoutSize:   attribute.Key("relay.fanout_size"),
	MatchStage:   attribute.Key("relay.match_stage"),
	MatchScore:   attribute.Key("relay.match_score"),
	AccountState: attribute.Key("relay.account_state"),
	Broker:       attribute.Key("relay.broker"),
}

type relayAttributes struct {
	// Identificadores
	SignalID      attribute.Key // UUID de la señal (UUIDv7)
	CommandID     attribute.Key // UUID del comando
	AccountID     attribute.Key // ID de cuenta
	MasterAccount attribute.Key // Cuenta master origen
	SlaveAccount  attribute.Key // Cuenta slave destino
	PairingID     attribute.Key // ID del pairing

	// Trading
	Symbol         attribute.Key // Símbolo resuelto
	OriginalSymbol attribute.Key // Símbolo original de la señal
	Action         attribute.Key // Acción del comando
	Event          attribute.Key // Evento de la señal
	Volume         attribute.Key // Volumen en lotes
	VolumeMode     attribute.Key // Modo de volumen

	// Estado
	Status    attribute.Key // dispatched/skipped/failed
	ErrorCode attribute.Key // Código de error
	Reason    attribute.Key // Razón de skip/rechazo

	// Adicionales
	QueueSize    attribute.Key // Tamaño de la cola tras la operación
	FanoutSize   attribute.Key // Número de pairings procesados
	MatchStage   attribute.Key // Etapa del resolver que produjo el match
	MatchScore   attribute.Key // Score de similitud fuzzy
	AccountState attribute.Key // Estado de la cuenta
	Broker       attribute.Key // Nombre del broker
}
