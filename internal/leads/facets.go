package leads

import (
	"fmt"
	"sort"
	"strings"
)

// FacetOption is one selectable filter value with its display label.
type FacetOption struct {
	Value int    `json:"value"`
	Label string `json:"label"`
}

// FilterOptions are the selectable facet values derived from the current
// lead collection.
type FilterOptions struct {
	PropertyTypes []FacetOption `json:"propertyTypes"`
	Regions       []FacetOption `json:"regions"`
	Zones         []FacetOption `json:"zones"`
}

// propertyTypeCatalog is the fixed catalog of property types in canonical
// order. Facet derivation intersects it with the types observed in the
// collection and falls back to the whole catalog when none are observed.
var propertyTypeCatalog = []FacetOption{
	{Value: 1, Label: "Apartment"},
	{Value: 2, Label: "House / Villa"},
	{Value: 3, Label: "Land"},
	{Value: 4, Label: "Commercial space"},
	{Value: 5, Label: "Office"},
	{Value: 6, Label: "Industrial space"},
	{Value: 7, Label: "Hotel / Guesthouse"},
	{Value: 8, Label: "Building"},
}

var regionLabelKeys = []string{"region_name", "region", "county"}
var zoneLabelKeys = []string{"zone_name", "zone"}

// DeriveFilterOptions scans the full, unfiltered collection and produces
// the selectable filter facets. It is a pure function: deriving twice from
// the same collection yields identical output.
func DeriveFilterOptions(collection []Lead) FilterOptions {
	seenTypes := map[int]bool{}
	regions := map[int]string{}
	zones := map[int]string{}

	for _, lead := range collection {
		if n, ok := lead.CRMRaw.Number("property_type"); ok {
			seenTypes[int(n)] = true
		}
		collectFacet(regions, lead.CRMRaw, "region_obj_id", regionLabelKeys, "Region")
		collectFacet(zones, lead.CRMRaw, "zone_id", zoneLabelKeys, "Zone")
	}

	var types []FacetOption
	if len(seenTypes) == 0 {
		types = append(types, propertyTypeCatalog...)
	} else {
		for _, entry := range propertyTypeCatalog {
			if seenTypes[entry.Value] {
				types = append(types, entry)
			}
		}
	}

	return FilterOptions{
		PropertyTypes: types,
		Regions:       sortedFacetOptions(regions),
		Zones:         sortedFacetOptions(zones),
	}
}

// collectFacet records the id found under idKey with the first non-empty
// label among labelKeys. The first label seen for an id wins.
func collectFacet(out map[int]string, raw CRMRaw, idKey string, labelKeys []string, kind string) {
	n, ok := raw.Number(idKey)
	if !ok {
		return
	}
	id := int(n)
	if _, exists := out[id]; exists {
		return
	}
	for _, key := range labelKeys {
		if label, ok := raw.String(key); ok {
			out[id] = label
			return
		}
	}
	out[id] = fmt.Sprintf("%s #%d", kind, id)
}

func sortedFacetOptions(byID map[int]string) []FacetOption {
	options := make([]FacetOption, 0, len(byID))
	for id, label := range byID {
		options = append(options, FacetOption{Value: id, Label: label})
	}
	sort.Slice(options, func(i, j int) bool {
		li := strings.ToLower(options[i].Label)
		lj := strings.ToLower(options[j].Label)
		if li != lj {
			return li < lj
		}
		return options[i].Value < options[j].Value
	})
	return options
}
