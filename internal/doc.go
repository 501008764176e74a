// Package domotik serves home automation sensor readings.
//
// # Architecture
//
// The service is structured into several key packages:
//   - database: SQLite and PostgreSQL stores handing out forward-only cursors
//   - catalog: per-kind query templates and row mappers
//   - stream: lazily opened, batch-fetching record streams
//   - export: chunked CSV writer over a stream
//   - render: PNG charts of materialized streams
//   - server: HTTP routes and middleware
//   - grpc: gRPC health service
//   - scheduler: periodic storage health probe
//   - config, logging: viper configuration and per-module logrus loggers
//
// Key Features
//
//   - Streaming exports:
//     CSV responses are written batch by batch, so memory stays bounded by
//     the configured batch size whatever the window.
//
//   - Device registry:
//     On/off and temperature/humidity readings are scoped to devices
//     declared in the configuration; unknown devices are rejected before
//     any storage access.
//
//   - Charts:
//     Linky power, atmospheric pressure with an altitude-corrected
//     reference line, and temperature/humidity per device.
//
// Example Usage
//
//	curl 'http://localhost:8080/linky/csv?start=1700000000&end=1700086400'
//	curl 'http://localhost:8080/temperature_humidity/image/salon' -o salon.png
//
// For more information about specific packages, see their respective
// documentation.
package domotik
