package relay

import (
	"fmt"

	"chat-relay/internal/domain"
)

// BuildInstructions returns the run instructions for bot. The result depends
// only on the bot's display name and maxSentences.
func BuildInstructions(bot *domain.Bot, maxSentences int) string {
	if maxSentences <= 0 {
		maxSentences = 3
	}
	return fmt.Sprintf(
		"You are %s. Answer only with information found in the knowledge files linked to you. "+
			"Keep every answer short: no more than %d sentences. "+
			"If the linked knowledge does not contain the answer, reply exactly: %q "+
			"Do not include citation markers, source references or bracketed numbers in your answer.",
		bot.DisplayName(), maxSentences, domain.NoInformationPhrase,
	)
}
