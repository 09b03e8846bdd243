// Package pii detects and redacts personally identifiable information in
// text (components A and B of the privacy core).
//
// Detection is a single deterministic regex pass over the input per rule
// family; there is no network call and no model in the loop. Hits of the
// rules whose confidence is below 0.7 (date_of_birth, and the name/address
// families, which are disabled by default) are memoized in a value cache
// (cache.go) when one is configured, so a repeated low-confidence string
// within a process lifetime is not re-scored from scratch, scoped to this
// package's own heuristics rather than an external model call.
package pii

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Type classifies the kind of sensitive data found.
type Type string

// Supported PII types.
const (
	TypeEmail       Type = "email"
	TypePhone       Type = "phone"
	TypeSSN         Type = "ssn"
	TypeCreditCard  Type = "credit_card"
	TypeIPAddress   Type = "ip_address"
	TypeName        Type = "name"
	TypeAddress     Type = "address"
	TypeDateOfBirth Type = "date_of_birth"
	TypeCustom      Type = "custom"
)

// Detection is one match over the input text.
// Invariant: 0 <= Start < End <= len(text).
type Detection struct {
	Type       Type
	Value      string
	Start      int
	End        int
	Confidence float64
}

// rule pairs a compiled regex with its PII type, base confidence, and an
// optional post-filter that can reject a structurally-matching candidate
// (e.g. Luhn check, all-zero SSN group).
type rule struct {
	name       Type
	re         *regexp.Regexp
	confidence float64
	accept     func(match string) bool
}

// Detector runs the closed set of rule families over text.
type Detector struct {
	rules           []rule
	enableNameAddr  bool
	cache           *ValueCache // memoizes hits of rules with confidence below 0.7; nil disables memoization
	now             func() time.Time
}

// Option configures a Detector at construction time.
type Option func(*Detector)

// WithNameAddressDetection enables the optional, low-confidence name and
// address detectors (disabled by default — spec.md Open Question 2).
func WithNameAddressDetection(enabled bool) Option {
	return func(d *Detector) { d.enableNameAddr = enabled }
}

// WithCache attaches a ValueCache used to memoize low-confidence matches.
func WithCache(c *ValueCache) Option {
	return func(d *Detector) { d.cache = c }
}

// New builds a Detector with the closed rule set.
func New(opts ...Option) *Detector {
	d := &Detector{now: time.Now}
	for _, opt := range opts {
		opt(d)
	}
	d.compile()
	return d
}

var currentYear = time.Now().Year()

func (d *Detector) compile() {
	d.rules = []rule{
		{
			name:       TypeEmail,
			re:         regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`),
			confidence: 0.95,
		},
		{
			name:       TypeSSN,
			re:         regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
			confidence: 0.9,
			accept:     acceptSSN,
		},
		{
			name:       TypeCreditCard,
			re:         regexp.MustCompile(`\b(?:\d[ \-]?){13,19}\b`),
			confidence: 0.95,
			accept:     acceptLuhn,
		},
		{
			name:       TypePhone,
			re:         regexp.MustCompile(`\+?\d{1,3}[\- .]?(\d{3,4}[\- .]?){2,3}\d`),
			confidence: 0.7,
		},
		{
			name:       TypeIPAddress,
			re:         regexp.MustCompile(ipv4Pattern + `|` + ipv6Pattern),
			confidence: 0.9,
		},
		{
			name:       TypeDateOfBirth,
			re:         regexp.MustCompile(dobPattern),
			confidence: 0.5,
			accept:     acceptDOB,
		},
	}
	if d.enableNameAddr {
		d.rules = append(d.rules,
			rule{name: TypeName, re: regexp.MustCompile(namePattern), confidence: 0.4},
			rule{name: TypeAddress, re: regexp.MustCompile(addressPattern), confidence: 0.35},
		)
	}
}

const ipv4Pattern = `\b(?:(?:25[0-5]|2[0-4]\d|1?\d?\d)\.){3}(?:25[0-5]|2[0-4]\d|1?\d?\d)\b`

// ipv6Pattern covers the common compressed and uncompressed colon-hex forms.
const ipv6Pattern = `\b(?:[0-9a-fA-F]{1,4}:){7}[0-9a-fA-F]{1,4}\b` +
	`|\b(?:[0-9a-fA-F]{1,4}:){1,7}:(?:[0-9a-fA-F]{1,4})?\b` +
	`|\bfe80::[0-9a-fA-F:]+\b` +
	`|\b::1\b`

const dobPattern = `\b\d{4}-\d{2}-\d{2}\b` + // ISO
	`|\b\d{1,2}/\d{1,2}/\d{4}\b` + // US
	`|\b\d{1,2}\.\d{1,2}\.\d{4}\b` // EU

// namePattern and addressPattern are deliberately coarse: low-confidence,
// opt-in heuristics for name and address, off by default.
const namePattern = `\b[A-Z][a-z]+ [A-Z][a-z]+\b`
const addressPattern = `(?i)\d+\s+[A-Za-z\s]+(?:Street|St|Avenue|Ave|Road|Rd|Boulevard|Blvd|Lane|Ln|Drive|Dr|Court|Ct)\b`

func acceptSSN(m string) bool {
	digits := strings.ReplaceAll(m, "-", "")
	return digits != "000000000"
}

func acceptLuhn(m string) bool {
	var digits []byte
	for i := 0; i < len(m); i++ {
		c := m[i]
		if c >= '0' && c <= '9' {
			digits = append(digits, c)
		}
	}
	if len(digits) < 13 || len(digits) > 19 {
		return false
	}
	sum := 0
	alt := false
	for i := len(digits) - 1; i >= 0; i-- {
		n := int(digits[i] - '0')
		if alt {
			n *= 2
			if n > 9 {
				n -= 9
			}
		}
		sum += n
		alt = !alt
	}
	return sum%10 == 0
}

func acceptDOB(m string) bool {
	var year int
	switch {
	case len(m) == 10 && m[4] == '-':
		year, _ = strconv.Atoi(m[:4])
	default:
		parts := strings.FieldsFunc(m, func(r rune) bool { return r == '/' || r == '.' })
		if len(parts) != 3 {
			return false
		}
		year, _ = strconv.Atoi(parts[2])
	}
	return year >= 1900 && year <= currentYear
}

// Detect runs every enabled rule over text and returns all matches ordered
// by Start ascending, then length descending. Overlaps are allowed;
// callers needing a non-overlapping rewrite use Redact.
func (d *Detector) Detect(text string) []Detection {
	if text == "" {
		return nil
	}
	var out []Detection
	for _, r := range d.rules {
		for _, loc := range r.re.FindAllStringIndex(text, -1) {
			value := text[loc[0]:loc[1]]
			if r.accept != nil && !r.accept(value) {
				continue
			}
			confidence := r.confidence
			if d.cache != nil && r.confidence < 0.7 {
				confidence = d.memoizedConfidence(value, r)
			}
			out = append(out, Detection{
				Type:       r.name,
				Value:      value,
				Start:      loc[0],
				End:        loc[1],
				Confidence: confidence,
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Start != out[j].Start {
			return out[i].Start < out[j].Start
		}
		return (out[i].End - out[i].Start) > (out[j].End - out[j].Start)
	})
	return out
}

// memoizedConfidence consults the ValueCache for a low-confidence match.
// A cache hit returns the previously memoized confidence; a miss records
// the rule's base confidence for future calls. The detector's output for
// this call is identical either way — the cache only avoids redundant
// heuristic work across repeated values, it never changes whether a span
// is reported.
func (d *Detector) memoizedConfidence(value string, r rule) float64 {
	return d.cache.GetOrCompute(string(r.name), value, func() float64 { return r.confidence })
}
