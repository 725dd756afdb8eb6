package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/despensa-ai/despensa/internal/memory"
)

// transcriptMarkdown renders transcript markdown with GFM extensions
// so tables and autolinked product URLs survive the conversion.
var transcriptMarkdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

// handleThreadTranscript exports a thread as a readable document.
// ?format=markdown (default) returns the raw markdown; ?format=html
// returns a standalone HTML page.
func (s *Server) handleThreadTranscript(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	md := buildTranscript(id, s.store.History(id))

	switch format := r.URL.Query().Get("format"); format {
	case "", "markdown":
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		fmt.Fprint(w, md)
	case "html":
		html, err := renderTranscriptHTML(md)
		if err != nil {
			s.logger.Error("transcript render failed", "thread", id, "error", err)
			s.errorResponse(w, http.StatusInternalServerError, "failed to render transcript")
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, html)
	default:
		s.errorResponse(w, http.StatusBadRequest,
			fmt.Sprintf("unknown format %q (valid: markdown, html)", format))
	}
}

// buildTranscript renders a thread's turns as a markdown document,
// oldest first.
func buildTranscript(threadID string, turns []memory.Turn) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Conversation %s\n", threadID)

	for _, t := range turns {
		role := "User"
		if t.Role == memory.RoleAssistant {
			role = "Assistant"
		}
		fmt.Fprintf(&b, "\n## %s (%s)\n\n%s\n", role, t.Timestamp.Format(time.RFC3339), t.Content)
	}
	return b.String()
}

// renderTranscriptHTML converts transcript markdown into a minimal
// standalone HTML page with no external resources.
func renderTranscriptHTML(md string) (string, error) {
	var buf bytes.Buffer
	if err := transcriptMarkdown.Convert([]byte(md), &buf); err != nil {
		return "", err
	}

	html := fmt.Sprintf(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>Conversation transcript</title></head>
<body style="font-family: sans-serif; font-size: 14px; line-height: 1.5; max-width: 46em; margin: 2em auto;">
%s
</body></html>`, buf.String())

	return html, nil
}
