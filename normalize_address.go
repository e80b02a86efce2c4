package avail

import (
	"regexp"
	"sort"
	"strings"
)

type addressExpansion struct {
	pattern     *regexp.Regexp
	replacement string
}

func expansion(pattern string, replacement string) addressExpansion {
	return addressExpansion{regexp.MustCompile(pattern), replacement}
}

// Common address abbreviations and their expanded form, so that e.g.
// "600 Ocean Hwy" and "600 Ocean Highway" match. Applied in order to
// lower-case text with punctuation removed. Some entries remove a word
// entirely (mostly road types) for looser matching.
var addressExpansions = []addressExpansion{
	expansion(` i `, " interstate "),
	expansion(` i-(\d+) `, " interstate ${1} "),
	expansion(` expy `, " expressway "),
	expansion(` fwy `, " freeway "),
	expansion(` hwy `, " highway "),
	expansion(` (u s|us) `, " "), // "U.S. Highway" / "US Highway"
	expansion(` (s r|sr|st rt|state route|state road) `, " route "),
	expansion(` rt `, " route "),
	expansion(` (tpke?|pike) `, " turnpike "),
	expansion(` ft `, " fort "),
	expansion(` mt `, " mount "),
	expansion(` mtn `, " mountain "),
	expansion(` (is|isl|island) `, " "),
	expansion(` n\s?w `, " northwest "),
	expansion(` s\s?w `, " southwest "),
	expansion(` n\s?e `, " northeast "),
	expansion(` s\s?e `, " southeast "),
	expansion(` n `, " north "),
	expansion(` s `, " south "),
	expansion(` e `, " east "),
	expansion(` w `, " west "),
	expansion(` ave? `, " "),
	expansion(` avenue? `, " "),
	expansion(` dr `, " "),
	expansion(` drive `, " "),
	expansion(` rd `, " "),
	expansion(` road `, " "),
	expansion(` st `, " "),
	expansion(` street `, " "),
	expansion(` saint `, " "), // gets mixed up with "st" for street
	expansion(` blvd `, " "),
	expansion(` boulevard `, " "),
	expansion(` ln `, " "),
	expansion(` lane `, " "),
	expansion(` cir `, " "),
	expansion(` circle `, " "),
	expansion(` ct `, " "),
	expansion(` court `, " "),
	expansion(` cor `, " "),
	expansion(` corner `, " "),
	expansion(` (cmn|common|commons) `, " "),
	expansion(` ctr `, " "),
	expansion(` center `, " "),
	expansion(` pl `, " "),
	expansion(` place `, " "),
	expansion(` plz `, " "),
	expansion(` plaza `, " "),
	expansion(` pkw?y `, " "),
	expansion(` parkway `, " "),
	expansion(` cswy `, " "),
	expansion(` causeway `, " "),
	expansion(` byp `, " "),
	expansion(` bypass `, " "),
	expansion(` mall `, " "),
	expansion(` (xing|crssng) `, " "),
	expansion(` crossing `, " "),
	expansion(` sq `, " "),
	expansion(` square `, " "),
	expansion(` trl? `, " "),
	expansion(` trail `, " "),
	expansion(` (twp|twsp|townsh(ip)?) `, " "),
	expansion(` est(ate)? `, " estates "),
	expansion(` vlg `, " "),
	expansion(` village `, " "),
	expansion(` (ste|suite|unit|apt|apartment) #?(\d+) `, " ${2} "),
	expansion(` (bld|bldg) #?(\d+) `, " ${2} "),
	expansion(` #?(\d+) `, " ${1} "),
	expansion(` (&|and) `, " "),
	expansion(` first `, " 1st "),
	expansion(` second `, " 2nd "),
	expansion(` third `, " 3rd "),
	expansion(` fourth `, " 4th "),
	expansion(` fifth `, " 5th "),
	expansion(` sixth `, " 6th "),
	expansion(` seventh `, " 7th "),
	expansion(` eighth `, " 8th "),
	expansion(` ninth `, " 9th "),
	expansion(` tenth `, " 10th "),
}

var addressLineDelimiterPattern = regexp.MustCompile(`,|\n|\s-\s`)
var digitPattern = regexp.MustCompile(`\d`)

// MatchableAddress is Matchable for addresses: it also expands or removes
// common abbreviations so different vendors' versions of one address
// compare equal.
func MatchableAddress(text string) string {
	return MatchableAddressLines(addressLineDelimiterPattern.Split(text, -1), -1)
}

// MatchableAddressLine is MatchableAddress limited to a single line.
func MatchableAddressLine(text string, line int) string {
	return MatchableAddressLines(addressLineDelimiterPattern.Split(text, -1), line)
}

// MatchableAddressLines works on pre-split lines. If there are several
// lines and the first has no digits, it's treated as the name of a place
// and dropped. A negative line uses all lines.
func MatchableAddressLines(lines []string, line int) string {
	if len(lines) > 1 && !digitPattern.MatchString(lines[0]) {
		lines = lines[1:]
	}

	if line >= 0 {
		if line >= len(lines) {
			return ""
		}
		lines = lines[line : line+1]
	}

	// pad so expansions can match words at either end
	result := " " + Matchable(strings.Join(lines, " ")) + " "
	for _, exp := range addressExpansions {
		// adjacent matches share a space, so repeat until stable
		for i := 0; i < 3; i++ {
			expanded := exp.pattern.ReplaceAllString(result, exp.replacement)
			if expanded == result {
				break
			}
			result = expanded
		}
	}

	return strings.TrimSpace(multipleSpacePattern.ReplaceAllString(result, " "))
}

const streetTypes = `ave|avenue|dr|drive|rd|road|st|street|blvd|boulevard|ln|lane|cir|circle|ct|court|cor|corner|pl|place|plz|plaza|way|pkw?y|parkway|cswy|causeway|xing|crssng|crossing|sq|square|trl?|trail`

// "<city>, <state> <zip>" at the end of a line, which we strip out
var cityStateZipTrailerPattern = regexp.MustCompile(`(^\s*|,\s+)[A-Za-z\s]+,\s+[A-Z]{2}\s*,?\s+(\d{5}(-\d{4})?|USA)\s*$`)

var suiteSpacingPattern = regexp.MustCompile(`(?i)\b(suite|ste\.?|unit)(#?)(\d+)`)

// always line breaks
var certainLineBreakPattern = regexp.MustCompile(`\s*\n\s*|\s+[|/]\s+`)

// line breaks only when followed by something that is clearly its own line
var possibleLineBreakPattern = regexp.MustCompile(`\s*,\s+|\s+-\s+`)

var separateLinePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(?:suite|ste\.?|unit|bldg|building)\s+#?\d+`),
	regexp.MustCompile(`(?i)^p\.?o\.? box #?\d+`),
	regexp.MustCompile(`(?i)^\d+\s+\w+[\w\s]+\s+(?:` + streetTypes + `)\b`),
}

func startsSeparateLine(text string) bool {
	for _, pattern := range separateLinePatterns {
		if pattern.MatchString(text) {
			return true
		}
	}
	return false
}

// SplitAddressLines splits one raw address line that may have several
// logical lines squished together. Ambiguous separators (", " and " - ")
// only split when the next part is a suite/unit, PO box, or street address.
func SplitAddressLines(line string) []string {
	breaks := certainLineBreakPattern.FindAllStringIndex(line, -1)
	for _, loc := range possibleLineBreakPattern.FindAllStringIndex(line, -1) {
		if startsSeparateLine(line[loc[1]:]) {
			breaks = append(breaks, loc)
		}
	}
	sort.Slice(breaks, func(i, j int) bool { return breaks[i][0] < breaks[j][0] })

	parts := make([]string, 0, len(breaks)+1)
	start := 0
	for _, loc := range breaks {
		if loc[0] < start {
			continue
		}
		parts = append(parts, line[start:loc[0]])
		start = loc[1]
	}
	parts = append(parts, line[start:])

	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); len(trimmed) > 0 {
			result = append(result, trimmed)
		}
	}
	return result
}

// CleanAddressLines fixes up raw address lines from a source: it adds the
// missing space in "Suite#4", removes city/state/zip trailers, and splits
// lines that were concatenated. Empty lines are dropped.
func CleanAddressLines(lines []string) []string {
	result := make([]string, 0, len(lines))
	for _, line := range lines {
		line = suiteSpacingPattern.ReplaceAllString(line, "${1} ${2}${3}")
		line = cityStateZipTrailerPattern.ReplaceAllString(line, "")
		result = append(result, SplitAddressLines(line)...)
	}
	return result
}
