package engine

import "context"

// Prompt is one request to a text generator: a tone-parameterized system
// directive and the user prompt carrying the resume and job description.
type Prompt struct {
	System string
	User   string
}

// ModelClient abstracts LLM calls. Implementations can wrap OpenAI, local models, etc.
type ModelClient interface {
	Complete(ctx context.Context, p Prompt) (string, error)
}

// PostingFetcher abstracts fetching a job posting from the web.
type PostingFetcher interface {
	Fetch(ctx context.Context, url string) (*Posting, error)
}

// Posting holds the readable text of a fetched job posting.
type Posting struct {
	Title     string `json:"title,omitempty"`
	Text      string `json:"text"`
	WordCount int    `json:"word_count"`
}
