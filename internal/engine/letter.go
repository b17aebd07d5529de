package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/yangwenmai/letterlock/internal/model"
)

// MinLetterRunes is the shortest generator output accepted as a letter.
const MinLetterRunes = 200

// LetterRequest is the input to one letter generation.
type LetterRequest struct {
	Resume         string
	JobDescription string
	Tone           string
}

// LetterWriter turns a resume and job description into a cover letter.
// It does not retry; retries are left to the caller.
type LetterWriter struct {
	client   ModelClient
	minRunes int
}

// NewLetterWriter creates a LetterWriter backed by client.
func NewLetterWriter(client ModelClient) *LetterWriter {
	return &LetterWriter{client: client, minRunes: MinLetterRunes}
}

// Write generates a letter. Generator failures and short output are UPSTREAM errors.
func (w *LetterWriter) Write(ctx context.Context, req LetterRequest) (string, error) {
	out, err := w.client.Complete(ctx, buildLetterPrompt(req))
	if err != nil {
		return "", model.UpstreamError("letter generation failed", err)
	}

	letter := cleanLetter(out)
	if n := utf8.RuneCountInString(letter); n < w.minRunes {
		slog.Warn("generator output too short", "runes", n, "min", w.minRunes)
		return "", model.UpstreamError("letter generation failed",
			fmt.Errorf("output too short (%d runes)", n))
	}
	return letter, nil
}

// cleanLetter strips whitespace and a stray markdown code fence some models add.
func cleanLetter(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if i := strings.IndexByte(s, '\n'); i >= 0 {
			s = s[i+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}
