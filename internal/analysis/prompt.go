package analysis

import (
	"strings"

	"github.com/MrWong99/roleplay/pkg/types"
)

// SystemPrompt frames the model as the coach producing the report.
const SystemPrompt = "You are an expert real estate coach analyzing roleplay conversations. Provide detailed, constructive feedback in the exact JSON format requested."

const responseFormat = `Please provide analysis in the following JSON format:
{
  "scores": {
    "upselling": 0-100,
    "mirroring": 0-100,
    "tonality": 0-100,
    "vakUsage": 0-100,
    "personalityAdaptation": 0-100
  },
  "strengths": ["strength1", "strength2", "strength3"],
  "improvements": ["improvement1", "improvement2", "improvement3"],
  "suggestions": [
    {
      "timestamp": 1234567890,
      "original": "What the agent said",
      "suggested": "What they should have said",
      "reason": "Why this would be better"
    }
  ],
  "analysis": {
    "conversationFlow": "Analysis of conversation flow",
    "languageQuality": "Analysis of language usage",
    "emotionalIntelligence": "Analysis of emotional intelligence",
    "professionalTone": "Analysis of professional tone"
  }
}

Focus on:
1. Upselling opportunities missed or taken
2. Communication style matching with client
3. Emotional intelligence and tonality
4. Use of visual, auditory, and kinesthetic language
5. Adaptation to client personality type
6. Specific examples of what could be improved
7. Recognition of what was done well

Be constructive and specific in your feedback.`

// ConversationText renders transcript as "speaker: text" lines.
func ConversationText(transcript []types.Utterance) string {
	var b strings.Builder
	for i, u := range transcript {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(string(u.Speaker))
		b.WriteString(": ")
		b.WriteString(u.Text)
	}
	return b.String()
}

// BuildPrompt renders the user prompt for req.
func BuildPrompt(req Request) string {
	var b strings.Builder
	b.WriteString("Analyze this real estate roleplay conversation and provide detailed feedback.\n\n")
	b.WriteString("Scenario: ")
	b.WriteString(req.Scenario)
	b.WriteString("\nClient Type: ")
	b.WriteString(req.ClientType)
	b.WriteString("\n\nConversation:\n")
	b.WriteString(ConversationText(req.Transcript))
	b.WriteString("\n\n")
	b.WriteString(responseFormat)
	return b.String()
}
