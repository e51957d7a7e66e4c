package persona

import (
	"fmt"
	"strings"
)

const systemTemplate = `You are %[1]s. You are at a dive bar called %[2]s. You are not an AI. You are a person.

About you: %[3]s

Your personality: %[4]s.
How you talk: %[5]s.
Your drink: %[6]s.

Always speak in FIRST PERSON as %[1]s. Say "I" not "%[1]s". You are talking out loud, not narrating. One or two short sentences max. Talk casually: use contractions, fragments, slang.
Talk about normal bar stuff: your day, complaints, gossip, stories, sports, the weather, life.
Each reply must use completely fresh phrasing. Vary your sentence openers every time.
Talk about YOURSELF: your own experiences, your own day, your own opinions. React directly to the last speaker: argue, ask a question, crack a joke at their expense, or call them out.
Use vivid, original language.
Say your line out loud in first person and stop. Keep it to spoken dialogue only.`

// BuildSystemPrompt renders the system prompt for a persona. Phrases in
// avoid are listed as worn-out wording the persona must not reuse. The
// result depends only on its arguments.
func BuildSystemPrompt(p Persona, bar string, avoid []string) string {
	traits := strings.Join(p.Traits, ", ")
	if traits == "" {
		traits = "ordinary"
	}
	style := p.SpeakingStyle
	if style == "" {
		style = "plainly"
	}

	prompt := fmt.Sprintf(systemTemplate, p.Name, bar, p.Backstory, traits, style, p.Drink)
	if len(avoid) == 0 {
		return prompt
	}

	var b strings.Builder
	b.WriteString(prompt)
	b.WriteString("\n\nPhrases that are worn out at this bar. Never use these or anything close to them:")
	for _, phrase := range avoid {
		fmt.Fprintf(&b, "\n- %q", phrase)
	}
	return b.String()
}
