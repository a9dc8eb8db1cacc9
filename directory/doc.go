// Package directory is the durable registry of substations and rovers.
// The ingestion pipeline consults it (through the store's row lock) to
// validate rover references before committing telemetry; the HTTP API uses
// it for provisioning and fleet management.
//
// Deleting a rover purges that rover's ephemeral cache entries so no cache
// key ever references an identity the registry no longer knows.
package directory
