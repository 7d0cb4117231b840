package engine

import (
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/justapithecus/ferret/types"
)

// ConfidenceThreshold is the floor below which a required typed field
// asks for human confirmation instead of committing silently.
const ConfidenceThreshold = 0.75

// Confidence scoring weights: parsing starts fully trusted and each
// problem chips away at it.
const (
	confStart           = 1.0
	confErrorPenalty    = 0.2
	confStepBonus       = 0.05
	confTruncatePenalty = 0.1
)

// scorer accumulates evidence while a typed parser works.
type scorer struct {
	score   float64
	reasons []string
	errs    []string
}

func newScorer() *scorer { return &scorer{score: confStart} }

func (s *scorer) step(reason string) {
	s.score += confStepBonus
	s.reasons = append(s.reasons, reason)
}

func (s *scorer) problem(err string) {
	s.score -= confErrorPenalty
	s.errs = append(s.errs, err)
}

func (s *scorer) truncated() {
	s.score -= confTruncatePenalty
	s.errs = append(s.errs, "input heavily truncated")
}

func (s *scorer) final() float64 {
	c := s.score
	if c < 0 {
		c = 0
	}
	if c > 1 {
		c = 1
	}
	return math.Round(c*100) / 100
}

// ParseTyped runs the parser for a field type over raw extracted text.
// Unknown types pass through as plain text with full confidence.
func ParseTyped(ft types.FieldType, raw string) types.FieldValue {
	switch ft {
	case types.FieldPhone:
		return parsePhone(raw)
	case types.FieldEmail:
		return parseEmail(raw)
	case types.FieldAddress:
		return parseAddress(raw)
	case types.FieldInteger:
		return parseInteger(raw)
	case types.FieldURL:
		return parseURL(raw)
	case types.FieldMoney:
		return parseMoney(raw)
	default:
		return types.FieldValue{Value: raw, Raw: raw, Confidence: 1.0}
	}
}

var nonPhoneChars = regexp.MustCompile(`[^\d+]`)

func parsePhone(raw string) types.FieldValue {
	sc := newScorer()
	digits := nonPhoneChars.ReplaceAllString(raw, "")
	if digits == "" {
		sc.problem("no digits found")
		return types.FieldValue{Raw: raw, Confidence: sc.final(), Errors: sc.errs}
	}
	sc.step("digits isolated")

	// Normalize North American numbers to E.164; keep others as-is
	// with the plus preserved.
	normalized := digits
	switch {
	case strings.HasPrefix(digits, "+"):
		sc.step("country code present")
	case len(digits) == 10:
		normalized = "+1" + digits
		sc.step("assumed +1 for 10-digit number")
	case len(digits) == 11 && strings.HasPrefix(digits, "1"):
		normalized = "+" + digits
		sc.step("leading 1 treated as country code")
	default:
		sc.problem(fmt.Sprintf("unusual digit count %d", len(digits)))
	}

	bare := strings.TrimPrefix(normalized, "+")
	if len(bare) < 7 || len(bare) > 15 {
		sc.problem("length outside plausible phone range")
	}
	return types.FieldValue{
		Value: normalized, Raw: raw,
		Confidence: sc.final(), Reasons: sc.reasons, Errors: sc.errs,
	}
}

var emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)

func parseEmail(raw string) types.FieldValue {
	sc := newScorer()
	match := emailPattern.FindString(raw)
	if match == "" {
		sc.problem("no email-shaped token")
		return types.FieldValue{Raw: raw, Confidence: sc.final(), Errors: sc.errs}
	}
	sc.step("email pattern matched")
	if strings.TrimSpace(raw) != match {
		sc.problem("surrounding noise stripped")
	}
	return types.FieldValue{
		Value: strings.ToLower(match), Raw: raw,
		Confidence: sc.final(), Reasons: sc.reasons, Errors: sc.errs,
	}
}

var zipPattern = regexp.MustCompile(`\b\d{5}(?:-\d{4})?\b`)

func parseAddress(raw string) types.FieldValue {
	sc := newScorer()
	cleaned := strings.Join(strings.Fields(raw), " ")
	if cleaned == "" {
		sc.problem("empty address")
		return types.FieldValue{Raw: raw, Confidence: sc.final(), Errors: sc.errs}
	}
	sc.step("whitespace normalized")

	if zipPattern.MatchString(cleaned) {
		sc.step("postal code present")
	} else {
		sc.problem("no postal code found")
	}
	if strings.Contains(cleaned, ",") {
		sc.step("component separators present")
	}
	if len(cleaned) < 10 {
		sc.truncated()
	}
	return types.FieldValue{
		Value: cleaned, Raw: raw,
		Confidence: sc.final(), Reasons: sc.reasons, Errors: sc.errs,
	}
}

var intPattern = regexp.MustCompile(`-?\d[\d,]*`)

func parseInteger(raw string) types.FieldValue {
	sc := newScorer()
	match := intPattern.FindString(raw)
	if match == "" {
		sc.problem("no integer token")
		return types.FieldValue{Raw: raw, Confidence: sc.final(), Errors: sc.errs}
	}
	sc.step("integer token found")

	n, err := strconv.ParseInt(strings.ReplaceAll(match, ",", ""), 10, 64)
	if err != nil {
		sc.problem("integer overflow")
		return types.FieldValue{Raw: raw, Confidence: sc.final(), Errors: sc.errs}
	}
	if strings.TrimSpace(raw) != match {
		sc.problem("surrounding noise stripped")
	}
	return types.FieldValue{
		Value: n, Raw: raw,
		Confidence: sc.final(), Reasons: sc.reasons, Errors: sc.errs,
	}
}

func parseURL(raw string) types.FieldValue {
	sc := newScorer()
	trimmed := strings.TrimSpace(raw)
	u, err := url.Parse(trimmed)
	if err != nil || u.Host == "" {
		sc.problem("not an absolute URL")
		return types.FieldValue{Raw: raw, Confidence: sc.final(), Errors: sc.errs}
	}
	sc.step("absolute URL parsed")
	if u.Scheme == "https" {
		sc.step("https scheme")
	}
	return types.FieldValue{
		Value: u.String(), Raw: raw,
		Confidence: sc.final(), Reasons: sc.reasons, Errors: sc.errs,
	}
}

var moneyPattern = regexp.MustCompile(`([£$€])?\s*(\d[\d,]*(?:\.\d{1,2})?)`)

func parseMoney(raw string) types.FieldValue {
	sc := newScorer()
	groups := moneyPattern.FindStringSubmatch(raw)
	if groups == nil {
		sc.problem("no amount found")
		return types.FieldValue{Raw: raw, Confidence: sc.final(), Errors: sc.errs}
	}
	sc.step("amount matched")
	if groups[1] != "" {
		sc.step("currency symbol present")
	} else {
		sc.problem("no currency symbol")
	}

	amount, err := strconv.ParseFloat(strings.ReplaceAll(groups[2], ",", ""), 64)
	if err != nil {
		sc.problem("unparseable amount")
		return types.FieldValue{Raw: raw, Confidence: sc.final(), Errors: sc.errs}
	}
	return types.FieldValue{
		Value: amount, Raw: raw,
		Confidence: sc.final(), Reasons: sc.reasons, Errors: sc.errs,
	}
}
