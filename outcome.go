package offlinecache

import (
	requestpolicy "github.com/always-cache/offline-cache/pkg/request-policy"
)

// Outcome describes how the response to a request was produced.
type Outcome struct {
	Status OutcomeStatus
	// Why the request was not intercepted, if it was not.
	BypassReason requestpolicy.Decision
}

type OutcomeStatus string

const (
	// The request was not intercepted.
	StatusBypass OutcomeStatus = "bypass"
	// The network response was returned and not stored.
	StatusNetwork OutcomeStatus = "network"
	// The network response was returned and a copy is being stored.
	StatusStored OutcomeStatus = "stored"
	// The network failed and a stored response was returned.
	StatusHit OutcomeStatus = "hit"
	// The network failed and nothing was stored for the request.
	StatusOfflineMiss OutcomeStatus = "offline-miss"
	// The cache storage failed.
	StatusCacheError OutcomeStatus = "cache-error"
)

var (
	OutcomeNetwork     = Outcome{Status: StatusNetwork}
	OutcomeStored      = Outcome{Status: StatusStored}
	OutcomeHit         = Outcome{Status: StatusHit}
	OutcomeOfflineMiss = Outcome{Status: StatusOfflineMiss}
	OutcomeCacheError  = Outcome{Status: StatusCacheError}
)

func Bypass(reason requestpolicy.Decision) Outcome {
	return Outcome{Status: StatusBypass, BypassReason: reason}
}

// Offline reports whether the response was produced without the network.
func (o Outcome) Offline() bool {
	switch o.Status {
	case StatusHit, StatusOfflineMiss, StatusCacheError:
		return true
	}
	return false
}

func (o Outcome) String() string {
	if o.Status == StatusBypass && o.BypassReason != "" {
		return string(o.Status) + "=" + string(o.BypassReason)
	}
	return string(o.Status)
}
