package dimensions

import (
	"testing"

	"github.com/openmetro/tripwarehouse/internal/source"
)

func testLookup() *source.ZoneLookup {
	return &source.ZoneLookup{
		Zones: []source.Zone{
			{LocationID: 13, Borough: "Manhattan", Zone: "Battery Park", ServiceZone: "Yellow Zone"},
			{LocationID: 4, Borough: "Manhattan", Zone: "Alphabet City", ServiceZone: "Yellow Zone"},
			{LocationID: 7, Borough: "Queens", Zone: "Astoria", ServiceZone: "Boro Zone"},
		},
	}
}

func TestBuildSeedsUnknownRows(t *testing.T) {
	s := Build(testLookup())

	if s.Vendors[0].ID != UnknownVendorID || s.Vendors[0].Name != "Unknown" {
		t.Errorf("vendor[0] = %+v, want Unknown row with id 0", s.Vendors[0])
	}
	if s.PaymentTypes[0].ID != UnknownPaymentTypeID || s.PaymentTypes[0].Name != "Unknown" {
		t.Errorf("payment type[0] = %+v, want Unknown row with id 0", s.PaymentTypes[0])
	}
	if s.RateCodes[0].ID != UnknownRateCodeID || s.RateCodes[0].Name != "Unknown" {
		t.Errorf("rate code[0] = %+v, want Unknown row with id 0", s.RateCodes[0])
	}
}

func TestBuildLocationsSorted(t *testing.T) {
	s := Build(testLookup())

	if len(s.Locations) != 3 {
		t.Fatalf("locations = %d, want 3", len(s.Locations))
	}
	for i := 1; i < len(s.Locations); i++ {
		if s.Locations[i-1].ID >= s.Locations[i].ID {
			t.Fatalf("locations not sorted by id: %d before %d", s.Locations[i-1].ID, s.Locations[i].ID)
		}
	}
}

func TestBuildDeterministic(t *testing.T) {
	a := Build(testLookup())
	b := Build(testLookup())

	if len(a.Locations) != len(b.Locations) {
		t.Fatal("builds differ in location count")
	}
	for i := range a.Locations {
		if a.Locations[i] != b.Locations[i] {
			t.Fatalf("location %d differs between builds: %+v vs %+v", i, a.Locations[i], b.Locations[i])
		}
	}
}

func TestResolveVendor(t *testing.T) {
	s := Build(testLookup())

	tests := []struct {
		code   int64
		wantID int64
		wantOK bool
	}{
		{1, 1, true},
		{2, 2, true},
		{6, 6, true},
		{7, 7, true},
		{0, 0, true}, // the Unknown row itself is a valid key
		{3, UnknownVendorID, false},
		{99, UnknownVendorID, false},
		{-1, UnknownVendorID, false},
	}
	for _, tc := range tests {
		id, ok := s.ResolveVendor(tc.code)
		if id != tc.wantID || ok != tc.wantOK {
			t.Errorf("ResolveVendor(%d) = (%d, %v), want (%d, %v)", tc.code, id, ok, tc.wantID, tc.wantOK)
		}
	}
}

func TestResolvePaymentType(t *testing.T) {
	s := Build(testLookup())

	if id, ok := s.ResolvePaymentType(1); id != 1 || !ok {
		t.Errorf("ResolvePaymentType(1) = (%d, %v)", id, ok)
	}
	if id, ok := s.ResolvePaymentType(9); id != UnknownPaymentTypeID || ok {
		t.Errorf("ResolvePaymentType(9) = (%d, %v), want Unknown routing", id, ok)
	}
}

func TestResolveRateCode(t *testing.T) {
	s := Build(testLookup())

	if id, ok := s.ResolveRateCode(99); id != 99 || !ok {
		t.Errorf("ResolveRateCode(99) = (%d, %v), want known", id, ok)
	}
	if id, ok := s.ResolveRateCode(42); id != UnknownRateCodeID || ok {
		t.Errorf("ResolveRateCode(42) = (%d, %v), want Unknown routing", id, ok)
	}
}

func TestBoroughZones(t *testing.T) {
	s := Build(testLookup())

	zones := s.BoroughZones("Manhattan")
	if len(zones) != 2 {
		t.Fatalf("Manhattan zones = %d, want 2", len(zones))
	}
	if _, ok := zones[7]; ok {
		t.Error("zone 7 (Queens) must not be in the Manhattan set")
	}
	if len(s.BoroughZones("Staten Island")) != 0 {
		t.Error("unexpected zones for absent borough")
	}
}
