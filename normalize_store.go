package avail

import (
	"fmt"
	"regexp"
	"strings"
)

// StoreBrand is a retail brand that might appear in a location's name.
// Sources with several brands (e.g. a grocery chain that owns Safeway and
// Carrs) supply their own list.
type StoreBrand struct {
	Key     string
	Name    string
	Pattern *regexp.Regexp
}

// NewStoreBrand builds a brand that matches its name as a whole word.
func NewStoreBrand(key string, name string) StoreBrand {
	return StoreBrand{
		Key:     key,
		Name:    name,
		Pattern: regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(name) + `\b`),
	}
}

// StoreInfo is what we can pull out of strings like
// "Safeway 3410 - 30 College Rd, Fairbanks, AK, 99701".
type StoreInfo struct {
	Brand       *StoreBrand
	StoreNumber string
	Name        string
	Address     Address
}

// "<name> <number> [<brand again>] - <address>". The name is lazy, so a
// number that isn't followed by the separator (e.g. the 10 in "July 10")
// gets absorbed into the name instead.
var storeNameAndAddressPattern = regexp.MustCompile(`(?i)^(.*?)\s*#?(\d+)(\s+[a-z][a-z' ]*?)?\s+-\s+(.+)$`)

// vaccine names sometimes get prepended, e.g. "Pfizer Age 5 to 11 Albertsons"
var storeVaccinePrefixPattern = regexp.MustCompile(`(?i)^((pfizer|moderna|comirnaty|novavax|janssen|j&j)\w*(\s+(ages?\s+)?\d+\s*(\+|(to|-|through)\s*\d+))?\s+)+`)

var monthNamePattern = regexp.MustCompile(`(?i)\b(jan|feb|mar|apr|may|jun|jul|aug|sep|sept|oct|nov|dec)[a-z]*\s*$`)

// ParseNameAndAddress splits a combined store name, number and address.
func ParseNameAndAddress(text string, brands []StoreBrand) (StoreInfo, error) {
	match := storeNameAndAddressPattern.FindStringSubmatch(strings.TrimSpace(text))
	if match == nil {
		return StoreInfo{}, newParseError("could not find store number and address", text)
	}

	name := strings.TrimSpace(storeVaccinePrefixPattern.ReplaceAllString(match[1], ""))
	if len(name) == 0 || monthNamePattern.MatchString(name) {
		return StoreInfo{}, newParseError("could not find store name", text)
	}

	address, err := ParseUsAddress(match[4])
	if err != nil {
		return StoreInfo{}, err
	}
	address.City = titleCaseShouting(address.City)

	info := StoreInfo{
		StoreNumber: match[2],
		Name:        name,
		Address:     address,
	}

	// the name may have some junk in front of the brand, so use the last
	// brand that shows up in it
	lastIndex := -1
	for i := range brands {
		locations := brands[i].Pattern.FindAllStringIndex(name, -1)
		if len(locations) == 0 {
			continue
		}
		if index := locations[len(locations)-1][0]; index > lastIndex {
			lastIndex = index
			info.Brand = &brands[i]
		}
	}
	if info.Brand != nil {
		info.Name = info.Brand.Name
	} else {
		info.Name = titleCaseShouting(name)
	}

	return info, nil
}

// titleCaseShouting title-cases text that is entirely upper case and leaves
// anything with mixed case alone.
func titleCaseShouting(text string) string {
	if text != strings.ToUpper(text) || text == strings.ToLower(text) {
		return text
	}
	return TitleCase(text)
}

// FormatStoreName returns a name like "Safeway Pharmacy #3410".
func FormatStoreName(info StoreInfo) string {
	name := info.Name
	if info.Brand != nil {
		name = info.Brand.Name
	}
	if len(info.StoreNumber) == 0 {
		return fmt.Sprintf("%s Pharmacy", name)
	}
	return fmt.Sprintf("%s Pharmacy #%s", name, info.StoreNumber)
}

// StoreExternalIds returns the brand-scoped ids for a store, e.g.
// ["safeway", "3410"] and ["albertsons_store_number", "safeway:3410"].
func StoreExternalIds(provider string, info StoreInfo) ExternalIdList {
	if info.Brand == nil || len(info.StoreNumber) == 0 {
		return nil
	}
	return ExternalIdList{
		{System: info.Brand.Key, Value: info.StoreNumber},
		{System: provider + "_store_number", Value: info.Brand.Key + ":" + info.StoreNumber},
	}
}
