// Package logging wraps logrus into the contextual-logging idiom the rest of
// the engine uses: a request/component-scoped *logrus.Entry passed down
// explicitly, never a bare package-global logger reached for mid-call.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"

	"github.com/rawblock/ap-reconcile-engine/internal/tenant"
)

// Base is the single process-wide root logger. Only cmd/apengine and tests
// should touch this directly; every other package receives a scoped
// *logrus.Entry.
var Base = newBase()

func newBase() *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.JSONFormatter{})
	l.SetOutput(os.Stdout)
	if lvl, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		l.SetLevel(lvl)
	} else {
		l.SetLevel(logrus.InfoLevel)
	}
	return l
}

// Component returns a logger scoped to a named component (e.g. "store",
// "matching", "ingest").
func Component(name string) *logrus.Entry {
	return Base.WithField("component", name)
}

// ForRequest returns a logger scoped to the given component and annotated
// with the request's tenant/correlation identifiers.
func ForRequest(component string, rc *tenant.RequestContext) *logrus.Entry {
	entry := Component(component)
	if rc == nil {
		return entry
	}
	return entry.WithFields(logrus.Fields{
		"tenant_id":      rc.TenantID,
		"correlation_id": rc.CorrelationID,
		"user_id":        rc.UserID,
	})
}
