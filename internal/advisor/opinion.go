package advisor

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Opinion is the structured assessment attached to a firing alert. It is
// always a value: a failed generation is an Opinion with Err set, never an
// error that aborts the scan.
type Opinion struct {
	OverallScore       int      `json:"overall_score"`
	Recommendation     string   `json:"recommendation"`
	ConfidenceLevel    string   `json:"confidence_level"`
	TechnicalSummary   string   `json:"technical_summary"`
	FundamentalSummary string   `json:"fundamental_summary"`
	SentimentSummary   string   `json:"sentiment_summary"`
	KeyReasons         []string `json:"key_reasons"`
	Provider           string   `json:"provider,omitempty"`
	Err                bool     `json:"error,omitempty"`
	Message            string   `json:"message,omitempty"`
}

var (
	validRecommendations = map[string]bool{
		"Buy": true, "Sell": true, "Hold": true, "Monitor": true,
	}
	validConfidence = map[string]bool{
		"High": true, "Medium": true, "Low": true,
	}
)

// ErrorOpinion builds the error-tagged value for a failed generation.
func ErrorOpinion(message string) Opinion {
	return Opinion{
		Err:             true,
		Message:         message,
		Recommendation:  "Monitor",
		ConfidenceLevel: "Low",
	}
}

// TopReason returns the first key reason, if any.
func (o Opinion) TopReason() string {
	if len(o.KeyReasons) == 0 {
		return ""
	}
	return o.KeyReasons[0]
}

// validate rejects partial or garbled structured output. A model response
// that fails here is treated as a malformed payload, not silently defaulted.
func (o Opinion) validate() error {
	if o.OverallScore < 0 || o.OverallScore > 100 {
		return fmt.Errorf("overall_score %d out of range", o.OverallScore)
	}
	if !validRecommendations[o.Recommendation] {
		return fmt.Errorf("unknown recommendation %q", o.Recommendation)
	}
	if !validConfidence[o.ConfidenceLevel] {
		return fmt.Errorf("unknown confidence_level %q", o.ConfidenceLevel)
	}
	if len(o.KeyReasons) == 0 {
		return fmt.Errorf("key_reasons is empty")
	}
	return nil
}

var (
	fenceOpen  = regexp.MustCompile("(?m)^```(?:json|JSON)?\\s*\n?")
	fenceClose = regexp.MustCompile("(?m)\n?```\\s*$")
)

// cleanMarkdownJSON strips code-fence wrappers models love to add around
// their JSON payloads.
func cleanMarkdownJSON(content string) string {
	content = strings.TrimSpace(content)
	content = fenceOpen.ReplaceAllString(content, "")
	content = fenceClose.ReplaceAllString(content, "")
	return strings.TrimSpace(content)
}

// parseOpinion decodes and validates a model payload into an Opinion.
func parseOpinion(content, provider string) (Opinion, error) {
	cleaned := cleanMarkdownJSON(content)

	var opinion Opinion
	if err := json.Unmarshal([]byte(cleaned), &opinion); err != nil {
		return Opinion{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := opinion.validate(); err != nil {
		return Opinion{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	opinion.Provider = provider
	opinion.Err = false
	opinion.Message = ""
	return opinion, nil
}
