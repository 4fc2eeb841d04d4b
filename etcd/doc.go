// Package etcd encapsula el cliente etcd v3 con namespacing por
// aplicación y entorno (/APP/ENV/) y helpers tipados para leer
// configuración con defaults.
package etcd
