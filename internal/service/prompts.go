package service

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	summarySystemPrompt = `You summarize personal notes for a search index. Write 2 to 4 factual sentences describing what the note says. Use the same language as the note. Do not speculate, give advice, or add information that is not in the note. Reply with the summary only.`

	themeSystemPrompt = `You describe the common theme of a group of personal notes. Given short summaries of representative notes, write 2 to 4 factual sentences naming the shared topic and what the notes cover. Use the language the notes are written in. Reply with the description only.`

	expansionSystemPrompt = `You expand search queries for a personal knowledge base. Given a query, produce between 4 and 8 related search terms: synonyms, closely related concepts, and short rephrasings. Use the same language as the query. Respond with only a JSON array of strings.`

	entitySystemPrompt = `You extract named entities and key topics from a personal note: people, organizations, projects, places, products, and distinctive keywords. Return at most 10, each as a short canonical name. Respond with only a JSON array of strings.`

	maxPromptChars = 8000
)

func summaryPrompt(title, body string) string {
	return fmt.Sprintf("Title: %s\n\n%s", strings.TrimSpace(title), truncateRunes(body, maxPromptChars))
}

func themePrompt(summaries []string) string {
	if len(summaries) == 0 {
		return ""
	}
	per := maxPromptChars / len(summaries)
	var b strings.Builder
	for i, s := range summaries {
		fmt.Fprintf(&b, "Note %d: %s\n\n", i+1, truncateRunes(s, per))
	}
	return strings.TrimSpace(b.String())
}

func expansionPrompt(query string) string {
	return "Query: " + query
}

func entityPrompt(title, body string) string {
	return summaryPrompt(title, body)
}

// truncateRunes cuts s to at most n runes without splitting a rune.
func truncateRunes(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
