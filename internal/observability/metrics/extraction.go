package metrics

import "time"

// ContractProcessed records the outcome of a single contract extraction.
func ContractProcessed(chainID, outcome, reason string) {
	if !enabled {
		return
	}
	contractsTotal.WithLabelValues(chainID, outcome, reason).Inc()
}

// ChainFinished records a chain worker finishing.
func ChainFinished(status string) {
	if !enabled {
		return
	}
	chainsTotal.WithLabelValues(status).Inc()
}

// VerificationRequest records a verification service call.
func VerificationRequest(result string, d time.Duration) {
	if !enabled {
		return
	}
	verificationDuration.WithLabelValues(result).Observe(d.Seconds())
}

// RegistryRequest records a single registry HTTP attempt.
func RegistryRequest(path, result string) {
	if !enabled {
		return
	}
	registryRequestsTotal.WithLabelValues(normalizePath(path), result).Inc()
}

// RegistryRetry records a retry of a registry request.
func RegistryRetry(path string) {
	if !enabled {
		return
	}
	registryRetriesTotal.WithLabelValues(normalizePath(path)).Inc()
}

// RateLimitWait records how long a caller waited for a limiter token.
func RateLimitWait(d time.Duration) {
	if !enabled {
		return
	}
	rateLimitWait.Observe(d.Seconds())
}
