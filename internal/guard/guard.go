// Package guard screens inbound text for personal data that must never be
// forwarded to a language model: national identifiers, bank accounts and
// payment cards.
//
// The default detectors are a minimum pattern set. Callers may pass their
// own list to New.
package guard

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Categories reported by the default detectors.
const (
	CategoryNationalID  = "national_id"
	CategoryIBAN        = "iban"
	CategoryPaymentCard = "payment_card"
)

// MaxSampleLength bounds the audit sample in characters.
const MaxSampleLength = 24

// Detector finds one category of sensitive data. Match returns the matched
// text and true on a hit.
type Detector struct {
	Name  string
	Match func(text string) (string, bool)
}

// Match is a detection result safe to record: the sample never contains
// the full matched value.
type Match struct {
	Category string
	Sample   string
}

type Scanner struct {
	detectors []Detector
}

// New builds a scanner that applies detectors in order.
func New(detectors ...Detector) *Scanner {
	return &Scanner{detectors: detectors}
}

// NewDefault builds a scanner with the built-in detectors.
func NewDefault() *Scanner {
	return New(DefaultDetectors()...)
}

// Scan returns the first detector hit.
func (s *Scanner) Scan(text string) (Match, bool) {
	for _, d := range s.detectors {
		value, ok := d.Match(text)
		if !ok {
			continue
		}
		return Match{Category: d.Name, Sample: maskSample(value)}, true
	}
	return Match{}, false
}

var (
	nationalIDPattern = regexp.MustCompile(`\b\d{6}/?\d{3,4}\b`)
	ibanPattern       = regexp.MustCompile(`(?i)\b[A-Z]{2}\d{2} ?(?:[A-Z0-9]{4} ?){2,7}[A-Z0-9]{1,4}\b`)
	cardPattern       = regexp.MustCompile(`\b(?:4\d{3}|5[1-5]\d{2}|2[2-7]\d{2}|3[47]\d{2}|6(?:011|5\d{2}))(?:[ -]?\d{4}){2}[ -]?\d{1,7}\b`)
)

// DefaultDetectors returns national ID, IBAN and payment card detectors in
// that order.
func DefaultDetectors() []Detector {
	return []Detector{
		RegexpDetector(CategoryNationalID, nationalIDPattern, nil),
		RegexpDetector(CategoryIBAN, ibanPattern, nil),
		RegexpDetector(CategoryPaymentCard, cardPattern, luhnValid),
	}
}

// RegexpDetector adapts a pattern into a Detector. When valid is non-nil a
// candidate only counts if valid accepts it.
func RegexpDetector(name string, re *regexp.Regexp, valid func(string) bool) Detector {
	return Detector{
		Name: name,
		Match: func(text string) (string, bool) {
			for _, candidate := range re.FindAllString(text, -1) {
				if valid == nil || valid(candidate) {
					return candidate, true
				}
			}
			return "", false
		},
	}
}

// luhnValid checks the digits of s against the Luhn checksum.
func luhnValid(s string) bool {
	var digits []int
	for _, r := range s {
		if r >= '0' && r <= '9' {
			digits = append(digits, int(r-'0'))
		}
	}
	if len(digits) < 13 || len(digits) > 19 {
		return false
	}
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := digits[i]
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

// maskSample keeps at most the last four characters of value visible and
// caps the result at MaxSampleLength characters.
func maskSample(value string) string {
	runes := []rune(value)
	visible := 4
	if len(runes) <= visible {
		visible = len(runes) / 2
	}
	masked := strings.Repeat("*", len(runes)-visible) + string(runes[len(runes)-visible:])
	if utf8.RuneCountInString(masked) > MaxSampleLength {
		r := []rune(masked)
		masked = string(r[len(r)-MaxSampleLength:])
	}
	return masked
}
