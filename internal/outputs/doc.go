// Package outputs implements the destinations a dispatched batch is written to.
//
// Builder.Build(cfg) returns the types.Output for one config entry:
//
//	print       stdout, table or single-line csv, optional limit markers
//	csv         append-only file, header on first write, metadata rows
//	json        JSON lines file, one object per batch
//	prometheus  node_exporter textfile, replaced atomically per batch
//	mqtt        one message per batch on a topic (json or msgpack)
//	kafka       one message per batch on a topic (json or msgpack)
//	dashboard   HTTP API plus a /ws/stream websocket fed on every write
//
// Entries with async: true are wrapped in a bounded buffer that is drained by
// a background goroutine, retrying failed writes with exponential backoff.
// Writes to an async output never fail from the engine's point of view.
//
// Entries with needs_internet: true are skipped at build time (ErrOffline)
// when a connectivity check fails.
package outputs
