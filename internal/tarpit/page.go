package tarpit

import (
	"fmt"
	"math/rand"
	"strings"
)

// Link targets under the tarpit namespace. Asset-looking paths keep crawlers
// that fetch sub-resources busy too; /data/ paths ending in .zip are served
// as decoy archives.
var linkKinds = []struct {
	prefix, suffix string
}{
	{"/page/", ""},
	{"/page/", ""},
	{"/page/", ""}, // weighted toward pages, the links crawlers actually walk
	{"/js/", ".js"},
	{"/data/", ".json"},
	{"/data/", ".zip"},
	{"/styles/", ".css"},
}

// mazeLink produces one deterministic link target.
func mazeLink(rng *rand.Rand) string {
	k := linkKinds[rng.Intn(len(linkKinds))]
	return fmt.Sprintf("%s%08x%s", k.prefix, rng.Uint32(), k.suffix)
}

// pageTitle derives a title from the session's own text, so the title and the
// body read like they belong together.
func pageTitle(s *Session) string {
	words := s.Words(3)
	if len(words) == 0 {
		return "Archive"
	}
	for i, w := range words {
		if len(w) > 0 {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

func pageHead(title string) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>%s</title>
<link rel="stylesheet" href="%s">
</head>
<body>
<h1>%s</h1>
`, title, "/styles/site.css", title)
}

// pageLinks renders a nav block of maze links plus one hidden anchor. A
// human never sees the hidden link; a crawler that follows it has identified
// itself.
func pageLinks(rng *rand.Rand, n int) string {
	var b strings.Builder
	b.WriteString("<ul>\n")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "<li><a href=%q>Section %d</a></li>\n", mazeLink(rng), i+1)
	}
	b.WriteString("</ul>\n")
	fmt.Fprintf(&b, "<a href=%q style=\"display:none\" aria-hidden=\"true\">archive</a>\n", mazeLink(rng))
	return b.String()
}

func pageFooter() string {
	return "</body>\n</html>\n"
}

// staticFiller is the fallback page served when no model artifact is loaded.
// Bland on purpose: it still ties the client up for the streaming delays but
// carries no generated text.
func staticFiller(rng *rand.Rand) []string {
	chunks := []string{pageHead("Document Archive")}
	for i := 0; i < 6; i++ {
		chunks = append(chunks, fmt.Sprintf(
			"<p>Record group %08x is being prepared for display. Indexing of the associated material is in progress and additional records will appear below as they become available.</p>\n",
			rng.Uint32()))
	}
	chunks = append(chunks, pageLinks(rng, 5), pageFooter())
	return chunks
}
