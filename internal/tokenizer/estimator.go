package tokenizer

// DefaultCharsPerToken is the estimator's ratio when none is configured
const DefaultCharsPerToken = 4

// Estimator approximates token counts from the byte length of the text
type Estimator struct {
	charsPerToken int
}

// NewEstimator creates an estimator. Non-positive ratios use
// DefaultCharsPerToken.
func NewEstimator(charsPerToken int) Estimator {
	if charsPerToken <= 0 {
		charsPerToken = DefaultCharsPerToken
	}
	return Estimator{charsPerToken: charsPerToken}
}

// CountTokens never returns less than one
func (e Estimator) CountTokens(text string) int {
	cpt := e.charsPerToken
	if cpt <= 0 {
		cpt = DefaultCharsPerToken
	}
	return len(text)/cpt + 1
}

func (e Estimator) Name() string {
	return "estimator"
}
