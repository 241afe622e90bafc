package leads

import (
	"reflect"
	"testing"
)

func TestDeriveFilterOptionsIntersectsCatalog(t *testing.T) {
	collection := []Lead{
		{PropertyID: "p1", CRMRaw: CRMRaw{"property_type": 2.0}},
		{PropertyID: "p2", CRMRaw: CRMRaw{"property_type": 1.0}},
		{PropertyID: "p3", CRMRaw: CRMRaw{"property_type": 2.0}},
		{PropertyID: "p4", CRMRaw: CRMRaw{"property_type": 99.0}},
	}
	options := DeriveFilterOptions(collection)
	want := []FacetOption{
		{Value: 1, Label: "Apartment"},
		{Value: 2, Label: "House / Villa"},
	}
	if !reflect.DeepEqual(options.PropertyTypes, want) {
		t.Fatalf("unexpected property types: %+v", options.PropertyTypes)
	}
}

func TestDeriveFilterOptionsFallsBackToFullCatalog(t *testing.T) {
	options := DeriveFilterOptions([]Lead{{PropertyID: "p1", CRMRaw: CRMRaw{}}})
	if len(options.PropertyTypes) != len(propertyTypeCatalog) {
		t.Fatalf("expected full catalog fallback, got %d entries", len(options.PropertyTypes))
	}
}

func TestDeriveFilterOptionsCollectsRegionsAndZones(t *testing.T) {
	collection := []Lead{
		{PropertyID: "p1", CRMRaw: CRMRaw{"region_obj_id": 10.0, "region_name": "North"}},
		{PropertyID: "p2", CRMRaw: CRMRaw{"region_obj_id": 10.0, "region_name": "Renamed North"}},
		{PropertyID: "p3", CRMRaw: CRMRaw{"region_obj_id": 11.0, "county": "East County"}},
		{PropertyID: "p4", CRMRaw: CRMRaw{"region_obj_id": 12.0}},
		{PropertyID: "p5", CRMRaw: CRMRaw{"zone_id": 5.0, "zone_name": "Center"}},
	}
	options := DeriveFilterOptions(collection)

	wantRegions := []FacetOption{
		{Value: 11, Label: "East County"},
		{Value: 10, Label: "North"},
		{Value: 12, Label: "Region #12"},
	}
	if !reflect.DeepEqual(options.Regions, wantRegions) {
		t.Fatalf("unexpected regions: %+v", options.Regions)
	}
	wantZones := []FacetOption{{Value: 5, Label: "Center"}}
	if !reflect.DeepEqual(options.Zones, wantZones) {
		t.Fatalf("unexpected zones: %+v", options.Zones)
	}
}

func TestDeriveFilterOptionsIsDeterministic(t *testing.T) {
	collection := []Lead{
		{PropertyID: "p1", CRMRaw: CRMRaw{"region_obj_id": 3.0, "region_name": "alpha"}},
		{PropertyID: "p2", CRMRaw: CRMRaw{"region_obj_id": 1.0, "region_name": "Alpha"}},
		{PropertyID: "p3", CRMRaw: CRMRaw{"region_obj_id": 2.0, "region_name": "beta"}},
	}
	first := DeriveFilterOptions(collection)
	second := DeriveFilterOptions(collection)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("expected identical derivations, got %+v vs %+v", first, second)
	}
	// Equal labels after folding order by id.
	if first.Regions[0].Value != 1 || first.Regions[1].Value != 3 {
		t.Fatalf("unexpected tie-break order: %+v", first.Regions)
	}
}
