package gateway

// EstimateTokens approximates the input tokens of a prompt: about 4 characters per
// token plus a fixed overhead for the message framing and the request.
func EstimateTokens(prompt string) int64 {
	const (
		perMessage = 4
		base       = 3
	)
	return int64(len(prompt))/4 + perMessage + base
}
