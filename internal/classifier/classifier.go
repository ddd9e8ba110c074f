// Package classifier deterministically maps analyzer diagnostic output
// to a verdict, confidence and a sorted list of named indicators.
package classifier

import (
	"math"
	"regexp"
	"sort"

	"github.com/videoguard/scancore/internal/config"
	"github.com/videoguard/scancore/internal/model"
)

// pattern ties a named indicator tag to the regex that detects it and
// the weight it contributes when matched.
type pattern struct {
	tag    string
	re     *regexp.Regexp
	weight float64
}

// defaultCriticalPatterns are high-confidence corruption signatures
// (weights >= 0.6).
var defaultCriticalPatterns = []pattern{
	{tag: "invalid_nal_unit", re: regexp.MustCompile(`(?i)invalid nal unit size|error splitting the input into nal`)},
	{tag: "packet_format_violation", re: regexp.MustCompile(`(?i)packet corrupt|invalid data found when processing input`)},
	{tag: "frame_corrupt", re: regexp.MustCompile(`(?i)corrupt(ed)? (decoded )?frame|frame corrupt`)},
	{tag: "truncated_stream", re: regexp.MustCompile(`(?i)truncat(ed|ing) (file|stream)|reached end of file prematurely`)},
	{tag: "decode_error", re: regexp.MustCompile(`(?i)error while decoding|decode_slice_header error|error decoding`)},
	{tag: "missing_reference_picture", re: regexp.MustCompile(`(?i)missing reference picture|reference picture missing`)},
	{tag: "corrupt_input_packet", re: regexp.MustCompile(`(?i)corrupt input packet`)},
}

// defaultWarningPatterns are lower-confidence signals (weights 0.2-0.5).
var defaultWarningPatterns = []pattern{
	{tag: "dts_non_monotonic", re: regexp.MustCompile(`(?i)non-monotonic dts|dts .* non-monotonically`)},
	{tag: "timestamp_discontinuity", re: regexp.MustCompile(`(?i)timestamp discontinuity|timestamps are unset`)},
	{tag: "frame_skipped", re: regexp.MustCompile(`(?i)frame skipped|skipping \d+ bytes`)},
	{tag: "buffer_underflow", re: regexp.MustCompile(`(?i)buffer underflow`)},
	{tag: "invalid_frame_size", re: regexp.MustCompile(`(?i)invalid frame size`)},
}

var defaultCriticalWeights = map[string]float64{
	"invalid_nal_unit":          0.75,
	"packet_format_violation":   0.7,
	"frame_corrupt":             0.8,
	"truncated_stream":          0.65,
	"decode_error":              0.7,
	"missing_reference_picture": 0.6,
	"corrupt_input_packet":      0.65,
}

var defaultWarningWeights = map[string]float64{
	"dts_non_monotonic":       0.25,
	"timestamp_discontinuity": 0.2,
	"frame_skipped":           0.3,
	"buffer_underflow":        0.35,
	"invalid_frame_size":      0.5,
}

// Classifier applies the weighted pattern-matching algorithm with
// configurable thresholds and weight overrides.
type Classifier struct {
	critical         []pattern
	warning          []pattern
	exitNonZero      float64
	corruptThreshold float64
	lowThreshold     float64
}

// New builds a Classifier from configuration, substituting any weight
// overrides present in cfg.Classifier onto the default pattern sets.
func New(cfg config.Config) Classifier {
	critical := withWeights(defaultCriticalPatterns, defaultCriticalWeights, cfg.Classifier.CriticalWeights)
	warning := withWeights(defaultWarningPatterns, defaultWarningWeights, cfg.Classifier.WarningWeights)

	exitWeight := cfg.Classifier.ExitNonZero
	if exitWeight == 0 {
		exitWeight = 0.5
	}

	return Classifier{
		critical:         critical,
		warning:          warning,
		exitNonZero:      exitWeight,
		corruptThreshold: cfg.Classifier.CorruptThreshold,
		lowThreshold:     cfg.Classifier.LowThreshold,
	}
}

func withWeights(patterns []pattern, defaults, overrides map[string]float64) []pattern {
	out := make([]pattern, len(patterns))
	for i, p := range patterns {
		w := defaults[p.tag]
		if override, ok := overrides[p.tag]; ok {
			w = override
		}
		p.weight = w
		out[i] = p
	}
	return out
}

// Classify scores one analyzer invocation's diagnostics and exit code
// into a verdict, a clamped confidence, and the indicators that fired.
func (c Classifier) Classify(diagnostics string, exitCode int) (model.Verdict, float64, []model.Indicator) {
	var confidence float64
	var indicators []model.Indicator

	if exitCode != 0 {
		confidence += c.exitNonZero
		indicators = append(indicators, model.Indicator{Tag: "nonzero_exit", Weight: c.exitNonZero})
	}

	for _, set := range [][]pattern{c.critical, c.warning} {
		for _, p := range set {
			matches := p.re.FindAllStringIndex(diagnostics, -1)
			count := len(matches)
			if count == 0 {
				continue
			}
			freqTerm := math.Min(0.2, 0.05*math.Log2(1+float64(count)))
			weight := p.weight + freqTerm
			confidence += weight
			indicators = append(indicators, model.Indicator{Tag: p.tag, Weight: weight})
		}
	}

	if confidence > 1.0 {
		confidence = 1.0
	}

	// Edge case: empty diagnostics but non-zero exit still floors at
	// "suspicious", never "healthy" on a bare non-zero exit alone.
	if len(indicators) == 1 && indicators[0].Tag == "nonzero_exit" && confidence < c.lowThreshold {
		confidence = c.lowThreshold
	}

	sort.Slice(indicators, func(i, j int) bool {
		if indicators[i].Weight != indicators[j].Weight {
			return indicators[i].Weight > indicators[j].Weight
		}
		return indicators[i].Tag < indicators[j].Tag
	})

	return c.verdict(confidence), confidence, indicators
}

func (c Classifier) verdict(confidence float64) model.Verdict {
	switch {
	case confidence >= c.corruptThreshold:
		return model.VerdictCorrupt
	case confidence >= c.lowThreshold:
		return model.VerdictSuspicious
	default:
		return model.VerdictHealthy
	}
}
