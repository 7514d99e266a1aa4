// Package log provides cairnq's structured logging, wrapping zerolog
// with a global logger, JSON or console output, and component/op/
// message-id child-logger helpers (pkg/api uses WithOp).
//
// Initialize once at startup:
//
//	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})
//	log.Info("cairnq starting")
//
// Components attach context instead of passing a logger down the call
// stack:
//
//	opLog := log.WithOp("poll")
//	opLog.Debug().Msg("delivering message")
package log
