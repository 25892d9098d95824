package metadata

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// SearchQuery is a cleaned-up artist/title pair sent to text providers.
type SearchQuery struct {
	Title  string
	Artist string
	Album  string
}

// Noise commonly left in file names by rippers and downloaders.
var titleCleanupPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\s*[\(\[]official\s+(music\s+|lyric\s+)?(video|audio|visualizer)[\)\]]`),
	regexp.MustCompile(`(?i)\s*[\(\[](lyrics?|visual(?:izer)?|audio|hd|hq|4k|explicit|clean)[\)\]]`),
	regexp.MustCompile(`(?i)\s*[\(\[](\d{3,4}\s*kbps|320|flac|mp3)[\)\]]`),
}

var featuringPattern = regexp.MustCompile(`(?i)\s*[\(\[]\s*(?:feat\.?|ft\.?|featuring)\s+([^\)\]]+)[\)\]]`)

var vevoPattern = regexp.MustCompile(`(?i)vevo$`)

// "01 - ", "01. ", "1-03 " and similar track-number prefixes.
var trackPrefixPattern = regexp.MustCompile(`^\s*(?:\d{1,2}[-.])?\d{1,3}\s*(?:[-.)_]\s*|\s+)`)

var artistTitleSeparator = regexp.MustCompile(`^(.+?)\s*[-–—]\s*(.+)$`)

var spaces = regexp.MustCompile(`\s{2,}`)

// NormalizeQuery cleans an artist/title pair derived from a file name before
// it is sent to a text provider.
func NormalizeQuery(title, artist string) SearchQuery {
	title = clean(title)
	artist = clean(artist)

	artist = strings.TrimSpace(vevoPattern.ReplaceAllString(artist, ""))

	if title == "" {
		return SearchQuery{Title: title, Artist: artist}
	}

	for _, p := range titleCleanupPatterns {
		title = p.ReplaceAllString(title, "")
	}
	title = featuringPattern.ReplaceAllString(title, "")

	if artist == "" {
		title = trackPrefixPattern.ReplaceAllString(title, "")
		if m := artistTitleSeparator.FindStringSubmatch(title); m != nil {
			artist = strings.TrimSpace(m[1])
			title = strings.TrimSpace(m[2])
		}
	}

	return SearchQuery{
		Title:  strings.TrimSpace(title),
		Artist: strings.TrimSpace(artist),
	}
}

// clean composes decomposed file names (as produced by macOS) and replaces
// underscores, which many tools use in place of spaces.
func clean(s string) string {
	s = norm.NFC.String(s)
	s = strings.ReplaceAll(s, "_", " ")
	s = spaces.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
