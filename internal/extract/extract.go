// Package extract recovers structured item lists from untrusted model
// output. Models asked for "only a JSON array" still wrap it in prose,
// code fences, or object forms often enough that every parse here
// degrades to an empty result instead of an error.
package extract

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// arraySpan matches the widest bracketed span, across newlines, so a
// fenced or prose-wrapped array is still recoverable.
var arraySpan = regexp.MustCompile(`(?s)\[.*\]`)

// Items parses raw model output into a normalized ingredient list.
// Accepts a JSON array anywhere in the text; elements may be plain
// strings or objects with a "name" field. Results are trimmed,
// non-empty, and deduplicated case-insensitively with first-seen
// casing preserved. Malformed input yields an empty list.
func Items(raw string) []string {
	elements := decodeArray(raw)

	seen := make(map[string]struct{}, len(elements))
	items := make([]string, 0, len(elements))
	for _, el := range elements {
		var name string
		switch v := el.(type) {
		case string:
			name = strings.TrimSpace(v)
		case map[string]any:
			n, ok := v["name"]
			if !ok {
				continue
			}
			name = strings.TrimSpace(stringify(n))
		default:
			continue
		}

		if name == "" {
			continue
		}
		key := strings.ToLower(name)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		items = append(items, name)
	}
	return items
}

// decodeArray tries a strict array parse of the whole text, then of
// the widest bracketed span within it.
func decodeArray(raw string) []any {
	var arr []any
	if err := json.Unmarshal([]byte(raw), &arr); err == nil {
		return arr
	}

	span := arraySpan.FindString(raw)
	if span == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(span), &arr); err != nil {
		return nil
	}
	return arr
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// Menu section headers and descriptive phrases that mark a line as
// non-item text.
var (
	sectionHeaders = []string{
		"appetizers", "entrees", "mains", "desserts", "drinks", "beverages",
		"starters", "salads", "soups", "sides", "specials", "menu", "price",
	}
	descriptionWords = []string{
		"description", "ingredients", "served with", "comes with", "includes",
	}
	bulletPrefixes = []string{"- ", "* ", "• ", "· ", "•", "-"}

	priceBefore = regexp.MustCompile(`[\$€£¥]\s*\d+\.?\d*`)
	priceAfter  = regexp.MustCompile(`\d+\.?\d*\s*[\$€£¥]`)
)

// MenuItems parses raw menu text into clean item names, one per input
// line: bullets and price tokens are stripped; section headers,
// descriptive lines, and mostly-symbolic lines are dropped; exact
// duplicates are removed preserving order.
func MenuItems(raw string) []string {
	if raw == "" {
		return []string{}
	}

	seen := make(map[string]struct{})
	items := []string{}
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)

		for _, prefix := range bulletPrefixes {
			if strings.HasPrefix(line, prefix) {
				line = strings.TrimSpace(line[len(prefix):])
			}
		}

		if len(line) < 2 {
			continue
		}

		line = priceBefore.ReplaceAllString(line, "")
		line = priceAfter.ReplaceAllString(line, "")

		lower := strings.ToLower(line)
		if containsAny(lower, sectionHeaders) || containsAny(lower, descriptionWords) {
			continue
		}
		if !mostlyLetters(line) {
			continue
		}

		line = strings.TrimSpace(line)
		if len(line) < 2 {
			continue
		}
		if _, dup := seen[line]; dup {
			continue
		}
		seen[line] = struct{}{}
		items = append(items, line)
	}
	return items
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// mostlyLetters reports whether at least half of the line's characters
// are letters or whitespace. Lines below that are prices, separators,
// or other menu decoration.
func mostlyLetters(line string) bool {
	if line == "" {
		return false
	}
	letters := 0
	total := 0
	for _, r := range line {
		total++
		if unicode.IsLetter(r) || unicode.IsSpace(r) {
			letters++
		}
	}
	return letters*2 >= total
}
