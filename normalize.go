package avail

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var multipleSpacePattern = regexp.MustCompile(`\s+`)
var punctuationPattern = regexp.MustCompile(`[.,;\-–—'"“”‘’` + "`" + `!()/\\]+`)
var possessivePattern = regexp.MustCompile(`['’]s `)

// Matchable simplifies text (especially an address) as much as possible so
// that it might match similar text from another source.
func Matchable(text string) string {
	text = strings.ToLower(text)
	text = possessivePattern.ReplaceAllString(text, " ")
	text = punctuationPattern.ReplaceAllString(text, " ")
	text = multipleSpacePattern.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

var usAddressPattern = regexp.MustCompile(`(?i)^(.*),\s+([^,]+),\s+([A-Z]{2}),?\s+(\d+(-\d{4})?)\s*$`)

// Address is the result of parsing a single-string US address.
type Address struct {
	Lines []string
	City  string
	State string
	Zip   string
}

// ParseUsAddress parses text like "123 Main St, Springfield, IL 62701".
// A ZIP code whose first segment has fewer than 5 digits is dropped (with a
// warning) instead of failing the whole parse.
func ParseUsAddress(text string) (Address, error) {
	match := usAddressPattern.FindStringSubmatch(text)

	// catches things shaped like addresses with junk values, e.g. "., ., CA 90210"
	if match == nil ||
		strings.TrimSpace(punctuationPattern.ReplaceAllString(match[1], "")) == "" ||
		strings.TrimSpace(punctuationPattern.ReplaceAllString(match[2], "")) == "" ||
		punctuationPattern.ReplaceAllString(match[4], "") == "" {
		return Address{}, newParseError("could not parse address", text)
	}

	return Address{
		Lines: []string{strings.TrimSpace(match[1])},
		City:  strings.TrimSpace(match[2]),
		State: strings.ToUpper(match[3]),
		Zip:   CleanPostalCode(match[4]),
	}, nil
}

// CleanPostalCode trims a ZIP code and returns "" (with a warning) when its
// first segment has fewer than 5 characters.
func CleanPostalCode(zip string) string {
	zip = strings.TrimSpace(zip)
	if zip == "" {
		return ""
	}
	if zipPrefix, _ := SplitOnce(zip, "-"); len(zipPrefix) < 5 {
		Log.Warnf("Dropping invalid ZIP code: %q", zip)
		return ""
	}
	return zip
}

var usPhoneNumberPattern = regexp.MustCompile(
	`^(?:\+?1[\s.-])?` + // country code
		`(?:\(([2-9]\d\d)\)[\s.-]?|([2-9]\d\d)[\s.-])` + // area code, maybe in parentheses
		`([2-9]\d\d)[\s.-]` + // central office number
		`(\d{1,4})$`, // local number
)

// ParseUsPhoneNumber normalizes a US phone number with an area code to
// "(NNN) NNN-NNNN".
func ParseUsPhoneNumber(text string) (string, error) {
	match := usPhoneNumberPattern.FindStringSubmatch(strings.TrimSpace(text))
	if match == nil {
		return "", newParseError("invalid U.S. phone number", text)
	}

	areaCode := match[1]
	if len(areaCode) == 0 {
		areaCode = match[2]
	}

	return "(" + padLeft(areaCode, 3) + ") " + padLeft(match[3], 3) + "-" + padLeft(match[4], 4), nil
}

func padLeft(text string, width int) string {
	if len(text) >= width {
		return text
	}
	return strings.Repeat("0", width-len(text)) + text
}

var urlPattern = regexp.MustCompile(`(?i)^(https?://)?[^/\s]+\.[^/\s]{2,}(?:/\S*)?$`)

// CleanUrl makes sure text is a complete URL. Empty input returns "" with
// no error. Something that doesn't look like a URL at all is a ParseError.
func CleanUrl(text string) (string, error) {
	result := strings.TrimSpace(text)
	if len(result) == 0 {
		return "", nil
	}

	match := urlPattern.FindStringSubmatch(result)
	if match == nil {
		return "", newParseError("text is not a URL", text)
	}
	if len(match[1]) == 0 {
		result = "http://" + result
	}
	return result, nil
}

var paddedNumberPattern = regexp.MustCompile(`^0+(\d+)$`)

// UnpadNumber strips leading zeros from a purely numeric string.
func UnpadNumber(text string) string {
	return paddedNumberPattern.ReplaceAllString(text, "${1}")
}

// SplitOnce splits text at the first instance of delim. If delim isn't
// present, rest is "".
func SplitOnce(text string, delim string) (first string, rest string) {
	index := strings.Index(text, delim)
	if index < 0 {
		return text, ""
	}
	return text[:index], text[index+len(delim):]
}

// TitleCase capitalizes the first letter of each word, e.g.
// "SAN ANTONIO" -> "San Antonio".
func TitleCase(text string) string {
	// casers keep state, so they can't be shared between goroutines
	return cases.Title(language.AmericanEnglish).String(strings.ToLower(text))
}
