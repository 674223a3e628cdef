package tokens

// Context thresholds, expressed as a fraction of the model's context window.
const (
	WarnThreshold     = 0.60
	ErrorThreshold    = 0.80
	CompressThreshold = 0.92
)

// Runtime-wide resource bounds.
const (
	MaxConcurrentTools = 10
	MaxOutputTokens    = 16384
)

// Estimate returns a conservative upper-bound token count for UTF-8 text.
// Roughly 4 characters per token; always monotone in input length.
func Estimate(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}
