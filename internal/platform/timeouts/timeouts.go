// Package timeouts defines shared timeout constants used across the service.
// Centralizing these values prevents drift between call sites and makes the
// durations discoverable.
package timeouts

import "time"

// ChainRead caps a single entitlement read against the chain RPC endpoint.
// A read that exceeds this window is treated as a denial, never an allow.
const ChainRead = 3 * time.Second

// StoreWrite caps one content-addressed store upload.
const StoreWrite = 10 * time.Second

// ChannelPost caps one channel API call (post or channel fetch).
const ChannelPost = 10 * time.Second

// LedgerWrite caps one durable operation ledger write.
const LedgerWrite = 5 * time.Second

// ReadHeader limits how long the HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long the HTTP server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second
