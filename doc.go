// Package celrix implements the CELRIX cache server core: an in-memory
// key-value store with a native vector-similarity index, served over the
// VCP binary protocol.
//
// The server runs two isolated worker lanes over shared data planes. KV
// operations execute on a pool pinned to cores; CPU-heavy vector searches
// execute on a small unpinned pool. A bounded queue per lane provides
// backpressure: when a lane is saturated the offending connection's read
// loop pauses instead of requests being dropped.
//
//	srv := celrix.New("0.0.0.0:6380",
//	    celrix.WithLogger(celrix.NewTextLogger(slog.LevelInfo)),
//	    celrix.WithVectorDimension(1536),
//	)
//	if err := srv.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
package celrix
