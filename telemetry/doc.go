// Package telemetry provee un cliente unificado de observabilidad para Relay:
// logs estructurados (slog JSON), trazas y métricas OpenTelemetry exportadas
// vía OTLP/gRPC.
//
// # Uso
//
//	client, err := telemetry.New(ctx, "relay-core", "production",
//	    telemetry.WithVersion("1.0.0"),
//	    telemetry.WithOTLPEndpoint("collector:4317"),
//	)
//	if err != nil {
//	    return err
//	}
//	defer client.Shutdown(ctx)
//
//	client.Info(ctx, "Signal received",
//	    semconv.Relay.AccountID.String("12345"),
//	    semconv.Relay.Symbol.String("XAUUSD"),
//	)
package telemetry
