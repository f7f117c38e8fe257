package oracle

import "autotrade-sim/internal/config"

// Token is a tradable token of the catalogue.
type Token struct {
	Name       string  `json:"name"`
	Symbol     string  `json:"symbol"`
	Address    string  `json:"address"`
	Volatility float64 `json:"volatility"`
}

// DefaultTokens is the catalogue used when the configuration lists none.
func DefaultTokens() []Token {
	return []Token{
		{Name: "DogWifHat", Symbol: "WIF", Address: "EKpQGSJtjMFqKZ9KQanSqYXRcF8fBopzLHYxdM65zcjm", Volatility: 0.12},
		{Name: "Bonk", Symbol: "BONK", Address: "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263", Volatility: 0.10},
		{Name: "Book of Meme", Symbol: "BOME", Address: "79HCS2K34WQt6QhjUACq3MHo6yyBrzYpBjMZPx6YDw9", Volatility: 0.15},
		{Name: "Popcat", Symbol: "POPCAT", Address: "7GCihgDB8fe6KNjn2MYtkzZcRjQy3t9GHdC8uHYmW2hr", Volatility: 0.13},
		{Name: "Myro", Symbol: "MYRO", Address: "9ywrtCS6FwzPxRJbVdT2aoR5E2V8sTq1mQq3pY6pJcHv", Volatility: 0.11},
		{Name: "Wen", Symbol: "WEN", Address: "WENWENvqqNya429ubCdR81ZmD69brwQaaBYY6p3LCpk", Volatility: 0.09},
		{Name: "Jito", Symbol: "JTO", Address: "jtojtomepa8beP8AuQc6eXt5FriJwfFMwQx2v2f9mCL", Volatility: 0.08},
		{Name: "Jupiter", Symbol: "JUP", Address: "JUPyiwrYJFskUPiHa7hkeR8VUtAeFoSYbKedZNsDvCN", Volatility: 0.07},
	}
}

// TokensFromConfig converts the configured catalogue, falling back to DefaultTokens.
// Entries without an address or symbol are dropped, a zero volatility becomes 0.1.
func TokensFromConfig(entries []config.Token) []Token {
	tokens := make([]Token, 0, len(entries))
	for _, e := range entries {
		if e.Address == "" || e.Symbol == "" {
			continue
		}
		vol := e.Volatility
		if vol <= 0 {
			vol = 0.1
		}
		tokens = append(tokens, Token{Name: e.Name, Symbol: e.Symbol, Address: e.Address, Volatility: vol})
	}
	if len(tokens) == 0 {
		return DefaultTokens()
	}
	return tokens
}
