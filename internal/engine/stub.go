package engine

import (
	"context"
	"fmt"
	"strings"
)

// StubPostingFetcher returns a canned job posting (for development/testing).
type StubPostingFetcher struct{}

func (f *StubPostingFetcher) Fetch(_ context.Context, url string) (*Posting, error) {
	text := "Senior Backend Engineer. We are looking for an engineer to design and operate Go services, " +
		"own payment integrations end to end, and mentor teammates. Posting source: " + url
	return &Posting{Title: "Senior Backend Engineer", Text: text, WordCount: len(strings.Fields(text))}, nil
}

// StubModelClient returns a deterministic letter (for development/testing).
type StubModelClient struct{}

func (m *StubModelClient) Complete(_ context.Context, p Prompt) (string, error) {
	tone := "professional"
	for name, d := range toneDirectives {
		if strings.Contains(p.System, d) {
			tone = name
			break
		}
	}
	return fmt.Sprintf(`Dear Hiring Manager,

[Stub %s letter] I am writing to apply for the position described in your posting. My background maps closely to the requirements you list, and I have delivered comparable work in production settings.

In my recent roles I designed, shipped and operated services end to end, worked closely with product and support teams, and took ownership of reliability when things went wrong.

I would welcome the chance to discuss how this experience can help your team.

Sincerely,
The Candidate`, tone), nil
}
