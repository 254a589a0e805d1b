// Package logger provides structured logging for the monitor.
//
// Fields are passed as a map, the form used throughout the monitor. Field
// values and alternating key/value pairs are also accepted:
//
//	log.Info("Fetched project data", map[string]interface{}{
//	    "project_id": "my-project",
//	    "lines":      120,
//	})
//	log.With(logger.Field{Key: "execution_id", Value: id}).Warn("Push failed")
//
// ZapLogger is the production implementation. It writes JSON lines by default
// and a console format when LOG_FORMAT is "text". LOG_LEVEL selects the
// minimum level (debug, info, warn, error).
//
// Child loggers created with With, WithField or WithFields share the parent's
// level, so SetLevel on the root logger affects every execution and project
// scoped logger derived from it.
package logger
