package slackconn

import "strings"

// StripHTML removes the HTML subset used in outbound messages; Slack
// renders mrkdwn, not HTML, and the tags carry only emphasis.
func StripHTML(s string) string {
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
	replacer := strings.NewReplacer(
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
		"&amp;", "&",
	)
	return replacer.Replace(out.String())
}
