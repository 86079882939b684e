// Package client maintains the shared outbound HTTP clients.
package client

import (
	"net/http"

	"github.com/proxed/gateway/common/config"
)

// HTTPClient performs upstream provider calls. It deliberately carries no
// client-level timeout: per-attempt deadlines are enforced with request
// contexts by the forwarder so that streaming bodies are not cut off.
var HTTPClient *http.Client

// AttestationClient performs DeviceCheck round trips with a hard timeout.
var AttestationClient *http.Client

func Init() {
	HTTPClient = &http.Client{}
	AttestationClient = &http.Client{
		Timeout: config.DeviceCheckTimeout,
	}
}
