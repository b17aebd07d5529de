package engine

import (
	"fmt"
	"unicode/utf8"

	"github.com/yangwenmai/letterlock/internal/model"
)

const (
	// maxResumeRunes and maxPostingRunes bound what is sent to the model.
	maxResumeRunes  = 12000
	maxPostingRunes = 8000
)

var toneDirectives = map[string]string{
	model.ToneProfessional: "Write in a polished, professional register. Be confident and precise; avoid slang.",
	model.ToneFriendly:     "Write in a warm, approachable register while staying respectful and specific.",
	model.ToneEnthusiastic: "Write with visible energy and genuine excitement for the role, without exaggeration.",
	model.ToneConcise:      "Write tightly. Three short paragraphs, no filler sentences.",
}

// toneDirective returns the system directive for tone, falling back to professional.
func toneDirective(tone string) string {
	if d, ok := toneDirectives[tone]; ok {
		return d
	}
	return toneDirectives[model.ToneProfessional]
}

func buildLetterPrompt(req LetterRequest) Prompt {
	system := `You are an expert career writer. You write cover letters that connect a candidate's real experience to a specific job.

Rules:
- Use only facts present in the resume; never invent employers, titles, degrees or numbers
- Address the requirements of the job description directly
- Output ONLY the letter text: no markdown, no headings, no commentary
- ` + toneDirective(req.Tone)

	user := fmt.Sprintf(`Write a cover letter for the following candidate and job.

Resume:
%s

Job description:
%s`, truncateRunes(req.Resume, maxResumeRunes), truncateRunes(req.JobDescription, maxPostingRunes))

	return Prompt{System: system, User: user}
}

// truncateRunes truncates s to maxRunes runes (Unicode-safe).
func truncateRunes(s string, maxRunes int) string {
	if utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxRunes]) + "\n... [truncated]"
}
