package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"
)

const samplePage = `<!DOCTYPE html>
<html>
<head><title>Receta de tortilla</title><style>body { color: red }</style></head>
<body>
<nav>Home | Recipes | About</nav>
<script>trackVisitor();</script>
<h1>Tortilla de patatas</h1>
<p>Pelar las patatas y   cortarlas en  láminas finas.</p>
<ul><li>huevos</li><li>patatas</li></ul>
<footer>Copyright 2025</footer>
</body>
</html>`

func serve(t *testing.T, contentType, body string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if contentType != "" {
			w.Header().Set("Content-Type", contentType)
		}
		w.Write([]byte(body))
	}))
}

func TestFetchExtractsText(t *testing.T) {
	ts := serve(t, "text/html; charset=utf-8", samplePage)
	defer ts.Close()

	res, err := New().Fetch(context.Background(), ts.URL, 0)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	if res.Title != "Receta de tortilla" {
		t.Errorf("title = %q, want %q", res.Title, "Receta de tortilla")
	}
	if !strings.Contains(res.Content, "Tortilla de patatas") {
		t.Errorf("content missing heading: %q", res.Content)
	}
	if !strings.Contains(res.Content, "láminas finas") {
		t.Errorf("content missing paragraph text: %q", res.Content)
	}
	for _, noise := range []string{"trackVisitor", "Home | Recipes", "Copyright", "color: red"} {
		if strings.Contains(res.Content, noise) {
			t.Errorf("content should not contain %q: %q", noise, res.Content)
		}
	}
	if res.Truncated {
		t.Error("short page should not be truncated")
	}
	if res.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", res.StatusCode)
	}
}

func TestFetchCollapsesWhitespace(t *testing.T) {
	ts := serve(t, "text/html", samplePage)
	defer ts.Close()

	res, err := New().Fetch(context.Background(), ts.URL, 0)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if strings.Contains(res.Content, "  ") {
		t.Errorf("content has uncollapsed spaces: %q", res.Content)
	}
	if strings.Contains(res.Content, "\n\n\n") {
		t.Errorf("content has run of blank lines: %q", res.Content)
	}
}

func TestFetchTruncates(t *testing.T) {
	long := "<html><body><p>" + strings.Repeat("ñam ", 2000) + "</p></body></html>"
	ts := serve(t, "text/html", long)
	defer ts.Close()

	res, err := New().Fetch(context.Background(), ts.URL, 100)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !res.Truncated {
		t.Error("expected truncation")
	}
	if got := utf8.RuneCountInString(res.Content); got != 100 {
		t.Errorf("content rune count = %d, want 100", got)
	}
	if !utf8.ValidString(res.Content) {
		t.Error("truncation split a multi-byte rune")
	}
}

func TestFetchDefaultMaxChars(t *testing.T) {
	long := "<html><body><p>" + strings.Repeat("palabra ", 1000) + "</p></body></html>"
	ts := serve(t, "text/html", long)
	defer ts.Close()

	res, err := New().Fetch(context.Background(), ts.URL, 0)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got := utf8.RuneCountInString(res.Content); got != DefaultMaxChars {
		t.Errorf("content rune count = %d, want %d", got, DefaultMaxChars)
	}
}

func TestFetchRejectsNonHTML(t *testing.T) {
	ts := serve(t, "application/json", `{"ok":true}`)
	defer ts.Close()

	_, err := New().Fetch(context.Background(), ts.URL, 0)
	if err == nil {
		t.Fatal("expected error for non-HTML content")
	}
	if !strings.Contains(err.Error(), "application/json") {
		t.Errorf("error %q should name the content type", err)
	}
}

func TestFetchHTTPError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer ts.Close()

	_, err := New().Fetch(context.Background(), ts.URL, 0)
	if err == nil {
		t.Fatal("expected error for HTTP 404")
	}
	if !strings.Contains(err.Error(), "404") {
		t.Errorf("error %q should mention status 404", err)
	}
}

func TestFetchEmptyURL(t *testing.T) {
	if _, err := New().Fetch(context.Background(), "", 0); err == nil {
		t.Fatal("expected error for empty url")
	}
}

func TestFetchInvalidURL(t *testing.T) {
	if _, err := New().Fetch(context.Background(), "https://%zz", 0); err == nil {
		t.Fatal("expected error for invalid url")
	}
}

func TestTruncate(t *testing.T) {
	s := "ñandú"
	got, cut := truncate(s, 3)
	if !cut {
		t.Error("expected cut")
	}
	if got != "ñan" {
		t.Errorf("truncate = %q, want %q", got, "ñan")
	}
	if got, cut := truncate(s, 10); cut || got != s {
		t.Errorf("truncate beyond length changed string: %q cut=%v", got, cut)
	}
}
