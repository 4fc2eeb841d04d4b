package semconv

import "go.opentelemetry.io/otel/attribute"

// Metrics contiene atributos estándar para métricas de cualquier bundle.
var Metrics = metricsAttributes{
	Status:  attribute.Key("status"),
	Result:  attribute.Key("result"),
	Service: attribute.Key("service"),
	Action:  attribute.Key("action"),
	Source:  attribute.Key("source"),
}

type metricsAttributes struct {
	Status  attribute.Key // success/error
	Result  attribute.Key // success/failure/partial
	Service attribute.Key // nombre del servicio
	Action  attribute.Key // operación medida
	Source  attribute.Key // origen del dato (etcd/postgres/builtin)
}
