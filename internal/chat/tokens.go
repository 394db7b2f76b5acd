package chat

import (
	"unicode/utf8"

	"github.com/firebase/genkit/go/ai"
)

// EstimateTokens provides a rough token count when the provider does not
// report usage. Rune count divided by 2 is a conservative estimate that
// works for both English (~4 chars/token) and CJK (~1.5 chars/token) text.
func EstimateTokens(text string) int {
	return utf8.RuneCountInString(text) / 2
}

// estimateMessagesTokens estimates total tokens across messages.
func estimateMessagesTokens(msgs []*ai.Message) int {
	total := 0
	for _, msg := range msgs {
		for _, part := range msg.Content {
			total += EstimateTokens(part.Text)
		}
	}
	return total
}
