package orchestrator

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/robertdcurrier/dive-bar/internal/conversation"
	"github.com/robertdcurrier/dive-bar/internal/persona"
	"github.com/robertdcurrier/dive-bar/internal/tokenizer"
)

var (
	leadingNamePrefix = regexp.MustCompile(`^[A-Z][\w]*(\s+\d+)?:\s*`)
	laterSpeakerLine  = regexp.MustCompile(`\n\s*[A-Z][\w\s]*:`)
)

// DefaultOpenerCategories are the subjects the bartender may open the night with
var DefaultOpenerCategories = []string{
	"sex and hookups",
	"politics",
	"marriage",
	"kids and parenting",
	"pets",
	"girlfriends and boyfriends",
	"work complaints",
	"crazy news stories",
	"neighborhood gossip",
	"money problems",
	"bad dates",
	"family drama",
	"landlord horror stories",
	"worst coworkers",
	"celebrity gossip",
	"gas prices and inflation",
}

// DefaultOpenerFallback is used when the backend cannot produce an opener
const DefaultOpenerFallback = "Slow night. Somebody say something interesting."

// Clean strips a leading "Name:" prefix and cuts the text where the model
// starts writing another speaker's line.
func Clean(text string) string {
	cleaned := strings.TrimSpace(text)
	cleaned = strings.TrimSpace(leadingNamePrefix.ReplaceAllString(cleaned, ""))
	if loc := laterSpeakerLine.FindStringIndex(cleaned); loc != nil {
		cleaned = strings.TrimSpace(cleaned[:loc[0]])
	}
	return trimQuotes(cleaned)
}

func trimQuotes(s string) string {
	for len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
			s = strings.TrimSpace(s[1 : len(s)-1])
			continue
		}
		break
	}
	return s
}

// StopSequences returns the stops that keep the model from speaking for
// anyone but the speaker.
func StopSequences(roster persona.Roster, speaker string) []string {
	stops := make([]string, 0, len(roster)+2)
	for _, p := range roster.Others(speaker) {
		stops = append(stops, p.Name+":")
	}
	return append(stops, conversation.BartenderName+":", conversation.StrangerName+":", "\n\n")
}

// Script renders the most recent turns as "Speaker: text" lines, newest
// lines kept first when the token budget runs out.
func Script(turns []conversation.Turn, maxLines, budget int, tokens tokenizer.Counter) string {
	if maxLines > 0 && len(turns) > maxLines {
		turns = turns[len(turns)-maxLines:]
	}

	var lines []string
	used := 0
	for i := len(turns) - 1; i >= 0; i-- {
		line := turns[i].Speaker + ": " + turns[i].Text
		cost := tokens.CountTokens(line)
		if used+cost > budget {
			break
		}
		lines = append(lines, line)
		used += cost
	}
	for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
		lines[i], lines[j] = lines[j], lines[i]
	}
	return strings.Join(lines, "\n")
}

// TurnPrompt builds the user message for a speaker: the script followed by
// either a topic directive or an instruction to react to the last speaker.
func TurnPrompt(script, speaker, lastSpeaker, directive string) string {
	if directive != "" {
		return script + "\n\n" + directive
	}
	if lastSpeaker == "" {
		lastSpeaker = "them"
	}
	return fmt.Sprintf("%s\n\nNow reply as %s, in first person. React directly to %s: agree, disagree, ask them something, or roast them. 1-2 sentences. No name prefix, no narration.",
		script, speaker, lastSpeaker)
}

// RephrasePrompt asks for the rejected line to be said differently. At most
// three problems are listed.
func RephrasePrompt(original string, problems []string) string {
	if len(problems) > 3 {
		problems = problems[:3]
	}
	var b strings.Builder
	fmt.Fprintf(&b, "You just said: %q\n\nProblems:\n", original)
	for _, p := range problems {
		b.WriteString("- " + p + "\n")
	}
	b.WriteString("\nSay the same thing completely differently. Fresh phrasing. 1-2 sentences.")
	return b.String()
}

func openerPrompts(category string) (system, user string) {
	system = fmt.Sprintf("You are a bartender at a dive bar. Write one casual sentence about %s to kick off tonight's conversation. "+
		"Sound natural and gruff. No quotes, no narration. Under 15 words.", category)
	user = fmt.Sprintf("Say something about %s to get the regulars talking.", category)
	return system, user
}
