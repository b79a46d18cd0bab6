package session

import "unicode/utf8"

// keepRecent is how many of the newest messages TrimForContext never drops.
const keepRecent = 6

// TrimForContext drops the oldest messages until the estimate fits within
// maxTokens, always keeping the newest keepRecent messages. The input slice
// is not modified.
func TrimForContext(messages []Message, maxTokens int) []Message {
	if len(messages) <= keepRecent || maxTokens <= 0 {
		return messages
	}

	total := EstimateTokens(messages)
	if total <= maxTokens {
		return messages
	}
	for len(messages) > keepRecent && total > maxTokens {
		total -= estimateTokens(messages[0].Content)
		messages = messages[1:]
	}
	return messages
}

// EstimateTokens gives a rough token count for msgs.
func EstimateTokens(msgs []Message) int {
	total := 0
	for _, m := range msgs {
		total += estimateTokens(m.Content)
	}
	return total
}

// estimateTokens counts four ASCII characters or one other rune per token,
// so Japanese text is not underestimated.
func estimateTokens(s string) int {
	ascii, other := 0, 0
	for _, r := range s {
		if r < utf8.RuneSelf {
			ascii++
		} else {
			other++
		}
	}
	return ascii/4 + other
}
