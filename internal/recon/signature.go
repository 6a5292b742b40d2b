package recon

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/builderlane/bookingsync/internal/observability/metrics"
	"github.com/builderlane/bookingsync/pkg/logging"
)

const signatureTolerance = 5 * time.Minute

// Verifier validates that an inbound webhook payload was produced by the
// claimed provider. Both providers sign with HMAC-SHA256 over the raw body
// and send "t=<unix>,v1=<hex>" style headers.
type Verifier struct {
	secrets map[string]string
	metrics *metrics.ReconciliationMetrics
	logger  *logging.Logger
	now     func() time.Time
}

// NewVerifier creates a verifier with one shared secret per provider id.
func NewVerifier(secrets map[string]string, m *metrics.ReconciliationMetrics, logger *logging.Logger) *Verifier {
	if logger == nil {
		logger = logging.Default()
	}
	copied := make(map[string]string, len(secrets))
	for k, v := range secrets {
		copied[k] = v
	}
	return &Verifier{secrets: copied, metrics: m, logger: logger, now: time.Now}
}

// Verify reports whether header carries a valid signature for body. It never
// returns an error: any failure mode is a rejection. Secrets and payload
// bodies are never logged; failures carry only a truncated body digest.
func (v *Verifier) Verify(provider string, body []byte, header string) bool {
	secret, ok := v.secrets[provider]
	if !ok || secret == "" {
		v.reject(provider, "secret_not_configured", body)
		return false
	}
	if header == "" {
		v.reject(provider, "missing_header", body)
		return false
	}

	timestamp, signatures := parseSignatureHeader(header)
	if timestamp == "" || len(signatures) == 0 {
		v.reject(provider, "malformed_header", body)
		return false
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		v.reject(provider, "malformed_header", body)
		return false
	}
	if abs64(v.now().Unix()-ts) > int64(signatureTolerance.Seconds()) {
		v.reject(provider, "stale_timestamp", body)
		return false
	}

	signed := fmt.Sprintf("%s.%s", timestamp, string(body))
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signed))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, sig := range signatures {
		if hmac.Equal([]byte(sig), []byte(expected)) {
			return true
		}
	}
	v.reject(provider, "mismatch", body)
	return false
}

func (v *Verifier) reject(provider, reason string, body []byte) {
	v.metrics.ObserveSignatureFailure(provider, reason)
	v.logger.Warn("webhook signature rejected",
		"provider", provider,
		"reason", reason,
		"body_digest", truncatedDigest(body),
	)
}

// parseSignatureHeader splits a "t=<ts>,v1=<sig>[,v1=<sig>]" header.
func parseSignatureHeader(header string) (timestamp string, signatures []string) {
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.TrimSpace(kv[0]) {
		case "t":
			timestamp = kv[1]
		case "v1":
			signatures = append(signatures, kv[1])
		}
	}
	return timestamp, signatures
}

// truncatedDigest gives a short correlation id for a payload without
// exposing its contents.
func truncatedDigest(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:4])
}

func abs64(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
