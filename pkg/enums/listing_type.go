package enums

import "fmt"

// ListingType distinguishes ongoing work from file downloads.
type ListingType string

const (
	ListingTypeService        ListingType = "service"
	ListingTypeDigitalProduct ListingType = "digital_product"
)

var validListingTypes = []ListingType{
	ListingTypeService,
	ListingTypeDigitalProduct,
}

// String implements fmt.Stringer.
func (l ListingType) String() string {
	return string(l)
}

// IsValid reports whether the value is a known ListingType.
func (l ListingType) IsValid() bool {
	for _, candidate := range validListingTypes {
		if candidate == l {
			return true
		}
	}
	return false
}

// ParseListingType converts raw input into a ListingType.
func ParseListingType(value string) (ListingType, error) {
	for _, candidate := range validListingTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid listing type %q", value)
}
