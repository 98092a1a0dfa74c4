package telegram

import "strings"

// StripTags removes the HTML subset used in outbound messages, for the
// plain-text fallback when Telegram rejects the HTML variant.
func StripTags(s string) string {
	var out strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			out.WriteRune(r)
		}
	}
	return unescapeEntities(out.String())
}

func unescapeEntities(s string) string {
	replacer := strings.NewReplacer(
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
		"&amp;", "&",
	)
	return replacer.Replace(s)
}
