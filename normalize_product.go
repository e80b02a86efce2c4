package avail

import (
	"regexp"
	"strings"
)

// ProductRule maps a pattern in a vaccine's name to a product. Bivalent is
// used when the name indicates an updated (BA.4/BA.5) formulation. An empty
// product means "we don't recognize this", which callers should warn about.
type ProductRule struct {
	Pattern  *regexp.Regexp
	Product  VaccineProduct
	Bivalent VaccineProduct
}

// ProductBrand is a manufacturer. Its rules are checked in order; the first
// match wins. If no rule matches, Default/DefaultBivalent apply.
type ProductBrand struct {
	Pattern         *regexp.Regexp
	Rules           []ProductRule
	Default         VaccineProduct
	DefaultBivalent VaccineProduct
}

var bivalentPattern = regexp.MustCompile(`(?i)bivalent|omicron|ba\.\s?4|ba\.\s?5|updated`)

// Probably a pediatric variation we haven't seen before.
var unknownAgePattern = regexp.MustCompile(`(?i)ped|child|age`)

// ProductRules is the ordered list of brands and age bands used to match
// free-text vaccine names.
var ProductRules = []ProductBrand{
	{
		Pattern: regexp.MustCompile(`astra\s*zeneca`),
		Default: ProductAstraZeneca,
	},
	{
		Pattern: regexp.MustCompile(`moderna`),
		Rules: []ProductRule{
			{regexp.MustCompile(`(?i)ages?\s+(6|12|18)( (years )?and up|\s*\+)`), ProductModerna, ProductModernaBa4Ba5},
			{regexp.MustCompile(`(?i)ages?\s+6\s*(m|months)\b`), ProductModernaAge0_5, ""},
			{regexp.MustCompile(`(?i)ages? 6\s?(-|through)\s?11`), ProductModernaAge6_11, ""},
			{unknownAgePattern, "", ""},
		},
		Default:         ProductModerna,
		DefaultBivalent: ProductModernaBa4Ba5,
	},
	{
		Pattern: regexp.MustCompile(`nova\s*vax`),
		Default: ProductNovavax,
	},
	{
		Pattern: regexp.MustCompile(`comirnaty|pfizer`),
		Rules: []ProductRule{
			{regexp.MustCompile(`(?i)ages?\s+12( (years )?and up|\s*\+)`), ProductPfizer, ProductPfizerBa4Ba5},
			{regexp.MustCompile(`(?i)ages?\s+5|\b5\s?(-|through)\s?11\b`), ProductPfizerAge5_11, ProductPfizerBa4Ba5Age5_11},
			{regexp.MustCompile(`(?i)ages?\s+6\s*(m|months)\b`), ProductPfizerAge0_4, ""},
			{unknownAgePattern, "", ""},
		},
		Default:         ProductPfizer,
		DefaultBivalent: ProductPfizerBa4Ba5,
	},
	{
		Pattern: regexp.MustCompile(`janssen|johnson`),
		Default: ProductJanssen,
	},
}

// MatchVaccineProduct fuzzily matches a vaccine name like
// "Pfizer-BioNTech COVID-19 Vaccine (Ages 12+)" to a product. It returns
// false if there's no confident match.
func MatchVaccineProduct(name string) (VaccineProduct, bool) {
	text := strings.ToLower(name)
	isBivalent := bivalentPattern.MatchString(text)

	for _, brand := range ProductRules {
		if !brand.Pattern.MatchString(text) {
			continue
		}

		product := brand.Default
		if isBivalent {
			product = brand.DefaultBivalent
		}
		for _, rule := range brand.Rules {
			if rule.Pattern.MatchString(text) {
				product = rule.Product
				if isBivalent {
					product = rule.Bivalent
				}
				break
			}
		}

		return product, product != ""
	}

	return "", false
}

var nonCovidProductPattern = regexp.MustCompile(`(?i)^influenza|flu|zoster|^\s*adenovirus\s*$|^child and adolescent immunization|monkeypox|jynneos|\btdap\b|\bPCV(\d+)?\b|\bPPSV(\d+)?\b|\bMMRV?\b|multi\s*-\s*vaccine`)

// IsNonCovidProductName reports whether a vaccine name is for something
// other than COVID-19 (flu, shingles, etc).
func IsNonCovidProductName(name string) bool {
	return nonCovidProductPattern.MatchString(name)
}
