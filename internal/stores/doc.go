// Package stores provides the Redis-backed record store for per-order QR
// seeds.
//
// # Design
//
// Each seed is persisted as a versioned, binary-encoded record under
// "<prefix>:<orderRef>" with a native Redis TTL, so expiry needs no sweeper
// and several client processes can share one store. Records are written once
// per order and only read or deleted afterwards, so plain SET/GET/DEL are
// atomic enough; no WATCH transactions are needed.
//
// # What this package must NOT do
//
//   - Import goBankID or any sibling internal package.
//   - Log or expose QR start secrets.
package stores
