// Package common provides centralized logging infrastructure for the mnemo
// memory service. It implements log output routing that directs error
// messages to stderr while sending other levels to stdout, enabling proper
// stream separation for containerized environments.
//
// The logging system is built on logrus for structured logging. All
// packages should use the global Logger instance so that formatting and
// routing stay uniform across the service.
package common

import (
	"bytes"
	"os"

	"github.com/sirupsen/logrus"
)

// OutputSplitter routes formatted log output to stdout or stderr based on
// the message severity. Error-level entries (containing "level=error") go
// to stderr for immediate attention; everything else goes to stdout.
//
// Docker and Kubernetes capture the two streams independently, which lets
// log pipelines treat errors with higher priority without parsing every
// line. The splitter operates on the final formatted output and therefore
// works with both the text and JSON logrus formatters.
type OutputSplitter struct{}

// Write implements io.Writer, examining each formatted entry and selecting
// the output stream. Uses bytes.Contains for matching; no allocation in the
// common path. Safe for concurrent use.
func (splitter *OutputSplitter) Write(p []byte) (n int, err error) {
	if bytes.Contains(p, []byte("level=error")) {
		return os.Stderr.Write(p)
	}
	return os.Stdout.Write(p)
}

// Logger is the global logger instance for the mnemo service. It is
// pre-configured with the OutputSplitter; services customize formatter and
// level at startup based on configuration:
//
//	common.Logger.SetFormatter(&logrus.JSONFormatter{})
//	common.Logger.SetLevel(logrus.InfoLevel)
//
// Structured logging with fields is preferred over message interpolation:
//
//	common.Logger.WithFields(logrus.Fields{
//	    "tenant_id": tenantID,
//	    "event_id":  eventID,
//	}).Info("event recorded")
var Logger = logrus.New()

func init() {
	Logger.SetOutput(&OutputSplitter{})
}

// ConfigureLogger applies level and format settings from configuration.
// Unknown levels fall back to info; unknown formats fall back to text.
func ConfigureLogger(level, format string) {
	if lvl, err := logrus.ParseLevel(level); err == nil {
		Logger.SetLevel(lvl)
	} else {
		Logger.SetLevel(logrus.InfoLevel)
	}
	if format == "json" {
		Logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		Logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}
