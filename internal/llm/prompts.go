package llm

import (
	"fmt"
	"strings"
)

// ExtractionPrompt asks for the persona fields of a finished conversation as
// a single JSON object.
func ExtractionPrompt(condensed string) string {
	return fmt.Sprintf(`You are a profile extraction system. Read this conversation between a user and an assistant who is interviewing them to set up a personal AI companion.

CONVERSATION:
%s

Extract the companion's setup into these fields:
- name: what the user wants to call the companion (short)
- category: one or two words describing the area (e.g. "fitness", "language learning")
- goals: what the user wants to achieve
- preferences: how the user likes to be helped
- challenges: what gets in the user's way
- experience: one of "beginner", "intermediate", "expert", or "" if unclear
- frequency: one of "daily", "weekly", "monthly", "rare", or "" if unclear
- notes: anything else worth remembering, one or two sentences

Rules:
- At most 5 entries per list, each a short phrase
- Use the user's own language
- Leave a field empty rather than guessing
- Return ONLY a JSON object, no other text

Return a JSON object:
{"name": "", "category": "", "goals": [], "preferences": [], "challenges": [], "experience": "", "frequency": "", "notes": ""}`, condensed)
}

// InterviewPrompt instructs the backend to ask the next setup question.
// known lists what has been learned so far, one item per line.
func InterviewPrompt(known []string) string {
	var b strings.Builder
	b.WriteString(`You are helping a user set up a personal AI companion. Ask exactly ONE short, friendly question that helps you learn something new about them: what the companion should be called, what they want to achieve, how they like to be supported, what usually gets in their way, how experienced they are, or how often they plan to talk.

Rules:
- One question, no preamble, no lists
- Do not repeat anything already known
- Match the language the user writes in
`)
	if len(known) == 0 {
		b.WriteString("\nNothing is known yet. Start with the name.")
		return b.String()
	}
	b.WriteString("\nALREADY KNOWN:\n")
	for _, k := range known {
		b.WriteString("- ")
		b.WriteString(k)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
