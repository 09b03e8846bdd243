// Package gate implements the privacy gate (component D): the in-process
// chokepoint every outbound model call flows through. Local providers and
// a disabled gate bypass detection entirely; everything else is
// detected, redacted, and audited before the sanitized request leaves
// this call.
package gate

import (
	"strings"
	"time"

	"privacycore/internal/audit"
	"privacycore/internal/logger"
	"privacycore/internal/metrics"
	"privacycore/internal/pii"
)

// localProviders is the fallback set of provider names that bypass the
// gate entirely, matched case-insensitively. It is only consulted when a
// Gate has no Providers registry attached.
var localProviders = map[string]bool{
	"ollama": true, "lmstudio": true, "local": true, "llamacpp": true,
}

// ProviderRegistry reports whether a provider name currently belongs to
// the local-class bypass set. *management.LocalProviderRegistry satisfies
// this interface; Gate depends only on the one method it needs, so
// runtime provider additions and removals take effect without either
// package importing the other's concrete type.
type ProviderRegistry interface {
	Has(name string) bool
}

func (g *Gate) isLocalProvider(name string) bool {
	if g.Providers != nil {
		return g.Providers.Has(name)
	}
	return localProviders[strings.ToLower(name)]
}

// Message is one chat turn in a gate request.
type Message struct {
	Role    string
	Content string
}

// Request is what flows outbound through the gate.
type Request struct {
	Provider  string
	Model     string
	Endpoint  string
	SessionID string
	Channel   string
	Messages  []Message
}

// Result is the gate's response.
type Result struct {
	Request       Request
	PIIDetections []pii.Detection
	WasRedacted   bool
	AuditID       string
}

// Gate orchestrates detection, redaction, and auditing for every
// outbound request, except for local-provider and disabled-gate
// bypasses.
type Gate struct {
	Detector  *pii.Detector
	Audit     *audit.Log
	Enabled   bool
	Providers ProviderRegistry // nil falls back to the built-in localProviders set
	Metrics   *metrics.Metrics // nil disables counters
	Log       *logger.Logger   // nil disables logging
	now       func() time.Time
}

// New builds a Gate. enabled corresponds to configuration's gate-enabled
// flag. providers, m, and lg are all optional (nil is safe): providers
// falls back to the built-in local-provider set, and a nil Metrics/Logger
// simply means those observations are skipped.
func New(detector *pii.Detector, log *audit.Log, enabled bool, providers ProviderRegistry, m *metrics.Metrics, lg *logger.Logger) *Gate {
	return &Gate{Detector: detector, Audit: log, Enabled: enabled, Providers: providers, Metrics: m, Log: lg, now: time.Now}
}

// GateOutbound runs the four-step gating algorithm: bypass local
// providers, bypass when disabled, else detect, redact, and audit.
func (g *Gate) GateOutbound(req Request) (Result, error) {
	if g.isLocalProvider(req.Provider) {
		g.recordBypass(req.Provider)
		return Result{Request: req, PIIDetections: nil, WasRedacted: false, AuditID: freshID()}, nil
	}

	if !g.Enabled {
		g.recordBypass(req.Provider)
		return Result{Request: req, PIIDetections: nil, WasRedacted: false, AuditID: freshID()}, nil
	}

	start := g.now()
	var allDetections []pii.Detection
	redactedTypes := map[pii.Type]bool{}
	wasRedacted := false

	sanitized := req
	sanitized.Messages = make([]Message, len(req.Messages))
	for i, msg := range req.Messages {
		detections := g.Detector.Detect(msg.Content)
		redactedContent, types := pii.Redact(msg.Content, detections)
		sanitized.Messages[i] = Message{Role: msg.Role, Content: redactedContent}
		allDetections = append(allDetections, detections...)
		for t := range types {
			redactedTypes[t] = true
			wasRedacted = true
		}
	}

	latency := g.now().Sub(start)
	estimatedTokens := estimateTokens(req.Messages)

	entry := audit.Entry{
		Timestamp:       start.UnixMilli(),
		Provider:        req.Provider,
		Model:           req.Model,
		Endpoint:        req.Endpoint,
		Direction:       audit.DirectionOutbound,
		PIIDetected:     len(allDetections),
		PIIRedacted:     wasRedacted,
		RedactedTypes:   typeNames(redactedTypes),
		EstimatedTokens: estimatedTokens,
		LatencyMs:       latency.Milliseconds(),
		SessionID:       req.SessionID,
		Channel:         req.Channel,
		Success:         true,
	}

	auditID, err := g.Audit.Append(entry)
	if err != nil {
		if g.Log != nil {
			g.Log.Errorf("audit_append", "provider=%s: %v", req.Provider, err)
		}
		return Result{}, err
	}

	g.recordGated(len(allDetections), wasRedacted, latency)
	if g.Log != nil {
		if wasRedacted {
			g.Log.Infof("redact", "provider=%s detections=%d types=%v", req.Provider, len(allDetections), typeNames(redactedTypes))
		} else {
			g.Log.Debugf("pass_through", "provider=%s no PII detected", req.Provider)
		}
	}

	return Result{
		Request:       sanitized,
		PIIDetections: allDetections,
		WasRedacted:   wasRedacted,
		AuditID:       auditID,
	}, nil
}

// recordBypass accounts for a request that skipped detection entirely
// (local provider or disabled gate).
func (g *Gate) recordBypass(provider string) {
	if g.Metrics != nil {
		g.Metrics.GateRequestsTotal.Add(1)
		g.Metrics.GateRequestsBypassed.Add(1)
	}
	if g.Log != nil {
		g.Log.Debugf("bypass", "provider=%s", provider)
	}
}

// recordGated accounts for a request that ran the full detect/redact/audit
// path.
func (g *Gate) recordGated(detections int, redacted bool, latency time.Duration) {
	if g.Metrics == nil {
		return
	}
	g.Metrics.GateRequestsTotal.Add(1)
	if redacted {
		g.Metrics.GateRequestsRedacted.Add(1)
	}
	g.Metrics.PIIDetectionsTotal.Add(int64(detections))
	g.Metrics.RecordGateLatency(latency)
}

func estimateTokens(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += (len(m.Content) + 3) / 4
	}
	return total
}

func typeNames(types map[pii.Type]bool) []string {
	names := make([]string, 0, len(types))
	for t := range types {
		names = append(names, string(t))
	}
	return names
}

// freshID mints an opaque id for bypass paths that never write an audit
// entry.
func freshID() string {
	return "bypass-" + time.Now().UTC().Format("20060102T150405.000000000")
}
