package service

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/cloo-solutions/recall/internal/domain"
)

// ChunkConfig controls chunking for layer-1 embeddings.
type ChunkConfig struct {
	MaxChars int
	Overlap  int
}

// DefaultChunkConfig provides sane defaults for chunking.
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{
		MaxChars: 1600,
		Overlap:  200,
	}
}

// sentenceEnd matches terminal punctuation (plus closing quotes/brackets)
// followed by whitespace, or a blank line.
var sentenceEnd = regexp.MustCompile(`[.!?]+["')\]]*\s+|\n\s*\n`)

type span struct {
	start, end int
}

// ChunkDocument splits body into overlapping, sentence-bounded chunks. Each
// chunk's ContextText prefixes the document title; that is the text embedded.
func ChunkDocument(title, body string, cfg ChunkConfig) []domain.ChunkDraft {
	texts := chunkText(body, cfg)
	drafts := make([]domain.ChunkDraft, 0, len(texts))
	for i, text := range texts {
		drafts = append(drafts, domain.ChunkDraft{
			Text:        text,
			ContextText: contextText(title, text),
			Position:    i,
		})
	}
	return drafts
}

func contextText(title, text string) string {
	return fmt.Sprintf("Document: %s\n\n%s", strings.TrimSpace(title), text)
}

func chunkText(text string, cfg ChunkConfig) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if cfg.MaxChars <= 0 {
		cfg = DefaultChunkConfig()
	}
	if cfg.Overlap < 0 || cfg.Overlap >= cfg.MaxChars {
		cfg.Overlap = 0
	}

	sents := splitSentences(text, cfg.MaxChars)
	if len(sents) == 0 {
		return []string{strings.TrimSpace(text)}
	}

	// length in runes of sentences [a, b)
	spanLen := func(a, b int) int {
		return utf8.RuneCountInString(strings.TrimSpace(text[sents[a].start:sents[b-1].end]))
	}

	chunks := make([]string, 0, 8)
	i := 0
	for i < len(sents) {
		j := i + 1
		for j < len(sents) && spanLen(i, j+1) <= cfg.MaxChars {
			j++
		}

		chunk := strings.TrimSpace(text[sents[i].start:sents[j-1].end])
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		if j >= len(sents) {
			break
		}

		// Back up by whole sentences until the overlap budget is met, while
		// keeping room for the next unseen sentence. next stays in (i, j].
		next := j
		for next-1 > i && cfg.Overlap > 0 {
			if spanLen(next-1, j+1) > cfg.MaxChars {
				break
			}
			next--
			if spanLen(next, j) >= cfg.Overlap {
				break
			}
		}
		i = next
	}

	return chunks
}

// splitSentences returns byte spans covering text, one per sentence. A
// sentence longer than maxChars is cut at whitespace so no span exceeds it.
func splitSentences(text string, maxChars int) []span {
	var spans []span
	start := 0
	for _, loc := range sentenceEnd.FindAllStringIndex(text, -1) {
		if strings.TrimSpace(text[start:loc[1]]) != "" {
			spans = append(spans, span{start: start, end: loc[1]})
		}
		start = loc[1]
	}
	if start < len(text) && strings.TrimSpace(text[start:]) != "" {
		spans = append(spans, span{start: start, end: len(text)})
	}

	out := make([]span, 0, len(spans))
	for _, s := range spans {
		out = append(out, splitLongSpan(text, s, maxChars)...)
	}
	return out
}

func splitLongSpan(text string, s span, maxChars int) []span {
	if utf8.RuneCountInString(strings.TrimSpace(text[s.start:s.end])) <= maxChars {
		return []span{s}
	}

	var out []span
	start := s.start
	for start < s.end {
		// skip leading whitespace
		for start < s.end {
			r, size := utf8.DecodeRuneInString(text[start:])
			if !unicode.IsSpace(r) {
				break
			}
			start += size
		}
		if start >= s.end {
			break
		}

		end := start
		runes := 0
		lastSpace := -1
		for end < s.end && runes < maxChars {
			r, size := utf8.DecodeRuneInString(text[end:])
			if unicode.IsSpace(r) {
				lastSpace = end
			}
			end += size
			runes++
		}
		if end < s.end && lastSpace > start {
			end = lastSpace
		}
		out = append(out, span{start: start, end: end})
		start = end
	}
	return out
}
