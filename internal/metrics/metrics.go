// Package metrics holds the prometheus collectors shared by the portal
// client components. Collectors are registered on the default registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stalker_http_attempts_total",
		Help: "Outbound portal HTTP attempts by outcome",
	}, []string{
		"outcome", // ok|status|error
		"code",    // HTTP status or "none"
	})

	httpRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stalker_http_retries_total",
		Help: "Retries scheduled by the retry policy",
	}, []string{"reason"}) // rate_limited|server_error|transport

	portalCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stalker_portal_calls_total",
		Help: "Portal actions by type/action and result",
	}, []string{"type", "action", "result"})

	endpointFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stalker_portal_endpoint_fallbacks_total",
		Help: "Requests that moved on to the alternate load.php endpoint",
	})

	handshakes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stalker_auth_handshakes_total",
		Help: "Handshake attempts by mode and result",
	}, []string{
		"mode",   // bare|prehash
		"result", // ok|fail
	})

	catalogPages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stalker_catalog_pages_total",
		Help: "Catalog pages fetched by kind and result",
	}, []string{"kind", "result"})

	catalogItems = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stalker_catalog_items_total",
		Help: "Catalog items returned after filtering and dedupe",
	}, []string{"kind"})

	streamLinks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stalker_stream_links_total",
		Help: "Stream link resolutions by item type and result",
	}, []string{"item_type", "result"}) // result: direct|created|failed

	epgRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stalker_epg_requests_total",
		Help: "EPG requests by disposition",
	}, []string{"result"}) // hit|miss|debounced|cancelled

	epgFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stalker_epg_fetches_total",
		Help: "EPG network fetches by action and result",
	}, []string{"action", "result"})
)

func IncHTTPAttempt(outcome, code string) { httpAttempts.WithLabelValues(outcome, code).Inc() }
func IncHTTPRetry(reason string) { httpRetries.WithLabelValues(reason).Inc() }
func IncEndpointFallback() { endpointFallbacks.Inc() }
func IncHandshake(mode, result string) { handshakes.WithLabelValues(mode, result).Inc() }
func IncCatalogPage(kind, result string) { catalogPages.WithLabelValues(kind, result).Inc() }
func AddCatalogItems(kind string, n int) { catalogItems.WithLabelValues(kind).Add(float64(n)) }
func IncStreamLink(itemType, result string) { streamLinks.WithLabelValues(itemType, result).Inc() }
func IncEPGRequest(result string) { epgRequests.WithLabelValues(result).Inc() }
func IncEPGFetch(action, result string) { epgFetches.WithLabelValues(action, result).Inc() }

// IncPortalCall records one portal action outcome.
func IncPortalCall(typ, action, result string) {
	portalCalls.WithLabelValues(typ, action, result).Inc()
}

// HandshakeCount exposes the handshake counter for tests and diagnostics.
func HandshakeCount(mode, result string) prometheus.Counter {
	return handshakes.WithLabelValues(mode, result)
}

// EPGRequestCount exposes the EPG request counter for tests and diagnostics.
func EPGRequestCount(result string) prometheus.Counter {
	return epgRequests.WithLabelValues(result)
}
