// Package dimensions builds the four reference tables of the star
// schema. Dimension keys reuse the stable numeric codes the source
// already defines; every dimension except location carries an explicit
// Unknown row (id 0) that unresolvable source codes route to.
package dimensions

import (
	"sort"

	"github.com/openmetro/tripwarehouse/internal/source"
)

// Surrogate keys of the Unknown rows.
const (
	UnknownVendorID      = 0
	UnknownPaymentTypeID = 0
	UnknownRateCodeID    = 0
)

// Location is one geographic zone from the static lookup.
type Location struct {
	ID          int64
	Borough     string
	Zone        string
	ServiceZone string
}

// Vendor is a trip provider.
type Vendor struct {
	ID        int64
	Name      string
	ShortName string
}

// PaymentType classifies how a trip was paid.
type PaymentType struct {
	ID            int64
	Name          string
	IsCardPayment bool
	AllowsTip     bool
}

// RateCode classifies the fare schedule applied to a trip.
type RateCode struct {
	ID         int64
	Name       string
	IsAirport  bool
	IsStandard bool
}

// Set holds the four built dimension tables plus resolution indexes.
type Set struct {
	Locations    []Location
	Vendors      []Vendor
	PaymentTypes []PaymentType
	RateCodes    []RateCode

	locationIDs map[int64]Location
	vendorIDs   map[int64]struct{}
	paymentIDs  map[int64]struct{}
	rateIDs     map[int64]struct{}
}

// Build constructs the dimension set from the zone lookup and the fixed
// enumerations. Output ordering is deterministic, so two builds from
// the same lookup produce identical tables.
func Build(lookup *source.ZoneLookup) *Set {
	s := &Set{
		Vendors: []Vendor{
			{ID: UnknownVendorID, Name: "Unknown", ShortName: "UNK"},
			{ID: 1, Name: "Creative Mobile Technologies", ShortName: "CMT"},
			{ID: 2, Name: "VeriFone Inc.", ShortName: "VTS"},
			{ID: 6, Name: "Other", ShortName: "Other"},
			{ID: 7, Name: "Other", ShortName: "Other"},
		},
		PaymentTypes: []PaymentType{
			{ID: UnknownPaymentTypeID, Name: "Unknown"},
			{ID: 1, Name: "Credit card", IsCardPayment: true, AllowsTip: true},
			{ID: 2, Name: "Cash"},
			{ID: 3, Name: "No charge"},
			{ID: 4, Name: "Dispute"},
			{ID: 5, Name: "Unknown"},
		},
		RateCodes: []RateCode{
			{ID: UnknownRateCodeID, Name: "Unknown"},
			{ID: 1, Name: "Standard rate", IsStandard: true},
			{ID: 2, Name: "JFK", IsAirport: true},
			{ID: 3, Name: "Newark", IsAirport: true},
			{ID: 4, Name: "Nassau or Westchester"},
			{ID: 5, Name: "Negotiated fare"},
			{ID: 6, Name: "Group ride"},
			{ID: 99, Name: "Other"},
		},
	}

	s.Locations = make([]Location, 0, len(lookup.Zones))
	for _, z := range lookup.Zones {
		s.Locations = append(s.Locations, Location{
			ID:          z.LocationID,
			Borough:     z.Borough,
			Zone:        z.Zone,
			ServiceZone: z.ServiceZone,
		})
	}
	sort.Slice(s.Locations, func(i, j int) bool { return s.Locations[i].ID < s.Locations[j].ID })

	s.locationIDs = make(map[int64]Location, len(s.Locations))
	for _, l := range s.Locations {
		s.locationIDs[l.ID] = l
	}
	s.vendorIDs = make(map[int64]struct{}, len(s.Vendors))
	for _, v := range s.Vendors {
		s.vendorIDs[v.ID] = struct{}{}
	}
	s.paymentIDs = make(map[int64]struct{}, len(s.PaymentTypes))
	for _, p := range s.PaymentTypes {
		s.paymentIDs[p.ID] = struct{}{}
	}
	s.rateIDs = make(map[int64]struct{}, len(s.RateCodes))
	for _, r := range s.RateCodes {
		s.rateIDs[r.ID] = struct{}{}
	}

	return s
}

// ResolveVendor maps a source vendor code to a dimension key, routing
// unknown codes to the Unknown row.
func (s *Set) ResolveVendor(code int64) (int64, bool) {
	if _, ok := s.vendorIDs[code]; ok {
		return code, true
	}
	return UnknownVendorID, false
}

// ResolvePaymentType maps a source payment code to a dimension key.
func (s *Set) ResolvePaymentType(code int64) (int64, bool) {
	if _, ok := s.paymentIDs[code]; ok {
		return code, true
	}
	return UnknownPaymentTypeID, false
}

// ResolveRateCode maps a source rate code to a dimension key.
func (s *Set) ResolveRateCode(code int64) (int64, bool) {
	if _, ok := s.rateIDs[code]; ok {
		return code, true
	}
	return UnknownRateCodeID, false
}

// Location returns the location row for an id, if it exists.
func (s *Set) Location(id int64) (Location, bool) {
	l, ok := s.locationIDs[id]
	return l, ok
}

// BoroughZones returns the set of zone ids belonging to a borough.
func (s *Set) BoroughZones(borough string) map[int64]struct{} {
	zones := make(map[int64]struct{})
	for _, l := range s.Locations {
		if l.Borough == borough {
			zones[l.ID] = struct{}{}
		}
	}
	return zones
}
