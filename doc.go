// Package goBankID is a relying-party client for the BankID v5.1 API: starting
// authentication and signing orders, polling their outcome, cancelling them and
// producing the animated QR codes an end user scans.
//
// A [Client] is built once through [Builder.Build] and is safe to call from
// multiple goroutines afterwards.
//
// # Architecture boundaries
//
// goBankID is the public surface. It exposes [Client], [Builder], [Config], the
// wire types and the error taxonomy. Redis encoding of QR seeds lives under
// internal/stores and is never exported.
//
// # Errors
//
// A failed call matches exactly one of [ErrValidation], [ErrProtocol] or
// [ErrTransport] through errors.Is, and an awaited order that ends in failed
// matches [ErrOrderFailed]. Validation happens before any network access.
//
// # Polling
//
// [Client.AwaitCollect] issues at most one collect per RefreshInterval and
// schedules the next only after the previous returned. It has no built-in
// deadline: bound it through the context, or use [Client.Watch] to poll in the
// background and stop it explicitly.
//
// # QR codes
//
// With QR support enabled, Authenticate and Sign store the order's QR seed in a
// [QRCache] (in memory by default, Redis with [Builder.WithRedis]) and
// [QRGenerator.NextQR] yields one code per elapsed second until the order's QR
// window closes.
package goBankID
