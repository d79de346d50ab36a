package server

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var notModifiedTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "calendar_http_not_modified_total",
	Help: "Total 304 Not Modified responses",
})

// etagOf derives a strong validator from the body.
func etagOf(body []byte) string {
	sum := sha256.Sum256(body)
	return `"` + hex.EncodeToString(sum[:12]) + `"`
}

// matchesETag reports whether an If-None-Match header matches tag. Weak
// comparison applies, as required for If-None-Match.
func matchesETag(header, tag string) bool {
	if header == "" {
		return false
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" {
			return true
		}
		if strings.TrimPrefix(candidate, "W/") == tag {
			return true
		}
	}
	return false
}

// writeJSON sends body with an ETag, answering 304 when the client already
// holds it. Clients must revalidate on every use.
func writeJSON(w http.ResponseWriter, r *http.Request, body []byte) {
	tag := etagOf(body)
	h := w.Header()
	h.Set("ETag", tag)
	h.Set("Cache-Control", "no-cache")

	if matchesETag(r.Header.Get("If-None-Match"), tag) {
		notModifiedTotal.Inc()
		w.WriteHeader(http.StatusNotModified)
		return
	}

	h.Set("Content-Type", contentTypeJSON)
	h.Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
