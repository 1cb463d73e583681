package usage

import "strings"

// PlaceholderToken fills the per-token detail lists of an estimated block.
const PlaceholderToken = "default"

// Info is the token accounting reported by the model provider, in the
// OpenAI prompt/completion vocabulary.
type Info struct {
	PromptTokens       int           `json:"prompt_tokens"`
	CompletionTokens   int           `json:"completion_tokens"`
	TotalTokens        int           `json:"total_tokens"`
	InputTokenDetails  []TokenDetail `json:"input_token_details,omitempty"`
	OutputTokenDetails []TokenDetail `json:"output_token_details,omitempty"`
}

// TokenDetail is one token with its log probability.
type TokenDetail struct {
	Token   string  `json:"token"`
	Logprob float64 `json:"logprob"`
}

// TokenDetails wraps the token list the backend expects.
type TokenDetails struct {
	Tokens []TokenDetail `json:"tokens"`
}

// Block is the usage accounting attached to backend records.
type Block struct {
	InputTokens        int          `json:"input_tokens"`
	OutputTokens       int          `json:"output_tokens"`
	TotalTokens        int          `json:"total_tokens"`
	InputTokenDetails  TokenDetails `json:"input_token_details"`
	OutputTokenDetails TokenDetails `json:"output_token_details"`
}

// Zero returns an all-zero block with empty (non-null) detail lists.
func Zero() Block {
	return Block{
		InputTokenDetails:  TokenDetails{Tokens: []TokenDetail{}},
		OutputTokenDetails: TokenDetails{Tokens: []TokenDetail{}},
	}
}

// FromInfo converts provider accounting into a backend block.
func FromInfo(info Info) Block {
	b := Zero()
	b.InputTokens = info.PromptTokens
	b.OutputTokens = info.CompletionTokens
	b.TotalTokens = info.TotalTokens
	if b.TotalTokens == 0 {
		b.TotalTokens = b.InputTokens + b.OutputTokens
	}
	if len(info.InputTokenDetails) > 0 {
		b.InputTokenDetails.Tokens = append(b.InputTokenDetails.Tokens, info.InputTokenDetails...)
	}
	if len(info.OutputTokenDetails) > 0 {
		b.OutputTokenDetails.Tokens = append(b.OutputTokenDetails.Tokens, info.OutputTokenDetails...)
	}
	return b
}

// WordCount counts whitespace-delimited words; it stands in for the output
// token count when the provider reported nothing.
func WordCount(text string) int {
	return len(strings.Fields(text))
}

// Estimate synthesizes a block for a response without provider accounting:
// one input token and one output token per word.
func Estimate(fullResponse string) Block {
	out := WordCount(fullResponse)
	return Block{
		InputTokens:        1,
		OutputTokens:       out,
		TotalTokens:        1 + out,
		InputTokenDetails:  TokenDetails{Tokens: []TokenDetail{{Token: PlaceholderToken, Logprob: 0}}},
		OutputTokenDetails: TokenDetails{Tokens: []TokenDetail{{Token: PlaceholderToken, Logprob: 0}}},
	}
}

// Resolve picks the block for a completion. Missing info, or info reporting
// zero prompt tokens, yields an estimate; estimated reports which path ran.
func Resolve(info *Info, fullResponse string) (block Block, estimated bool) {
	if info == nil || info.PromptTokens == 0 {
		return Estimate(fullResponse), true
	}
	return FromInfo(*info), false
}
