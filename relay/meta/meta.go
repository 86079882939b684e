// Package meta carries per-request relay state between the auth middleware
// and the proxy controller.
package meta

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/proxed/gateway/common/ctxkey"
	"github.com/proxed/gateway/common/helper"
	"github.com/proxed/gateway/relay/provider"
)

// Session is the authenticated relay context for one request. It is built by
// the auth middleware and read by the proxy controller and accounting.
type Session struct {
	ProjectID string
	TeamID    string

	// Provider is the adapter selected from the request path.
	Provider provider.Adapter

	// PartialKey is the client-supplied key fragment. The full upstream key
	// only exists transiently during forwarding and must not be logged.
	PartialKey string

	// Token is the resolved bearer fragment: the device token or the test
	// key. Empty on the legacy header path.
	Token string

	// TestMode marks requests authenticated with the project's test key;
	// these skip device attestation but are accounted normally.
	TestMode bool

	RequestID string
	StartTime time.Time
}

// KeyID returns a loggable identifier for the client key fragment. Only a
// short prefix is kept so stored records cannot rebuild the key.
func (s *Session) KeyID() string {
	const keep = 8
	if len(s.PartialKey) <= keep {
		return s.PartialKey
	}
	return s.PartialKey[:keep]
}

// FromContext returns the session stored by the auth middleware, or nil when
// the request never passed authentication.
func FromContext(c *gin.Context) *Session {
	if v, ok := c.Get(ctxkey.Session); ok {
		if s, ok := v.(*Session); ok {
			return s
		}
	}
	return nil
}

// Store attaches the session to the gin context and stamps request identity
// and start time if the middleware has not already done so.
func Store(c *gin.Context, s *Session) {
	if s.RequestID == "" {
		s.RequestID = c.GetString(helper.RequestIdKey)
	}
	if s.StartTime.IsZero() {
		s.StartTime = time.Now()
	}
	c.Set(ctxkey.Session, s)
}
