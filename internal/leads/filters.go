package leads

import (
	"strconv"
	"time"
)

// RoomsAll disables the room-count clause.
const RoomsAll = "all"

// Transaction selects which transaction kinds a lead must offer. When both
// flags are set the clause is an inclusive-or, not a conjunction.
type Transaction struct {
	Sale bool `json:"sale"`
	Rent bool `json:"rent"`
}

// Filters is a composite filter specification over a lead collection. The
// zero value is the all-permissive filter and matches every lead.
type Filters struct {
	PropertyTypes []int       `json:"propertyTypes,omitempty"`
	RegionID      *int        `json:"regionId,omitempty"`
	ZoneID        *int        `json:"zoneId,omitempty"`
	Transaction   Transaction `json:"transaction"`
	Rooms         string      `json:"rooms,omitempty"`
	MinBudget     *float64    `json:"minBudget,omitempty"`
	MaxBudget     *float64    `json:"maxBudget,omitempty"`
	DateFrom      *time.Time  `json:"dateFrom,omitempty"`
	DateTo        *time.Time  `json:"dateTo,omitempty"`
}

// Matches reports whether the lead satisfies every active clause. Each
// clause is evaluated independently; inactive clauses always pass.
func (f Filters) Matches(lead Lead) bool {
	return f.matchesPropertyType(lead) &&
		f.matchesRegion(lead) &&
		f.matchesZone(lead) &&
		f.matchesTransaction(lead) &&
		f.matchesRooms(lead) &&
		f.matchesBudget(lead) &&
		f.matchesDateRange(lead)
}

// Apply filters the sequence, preserving input order.
func (f Filters) Apply(collection []Lead) []Lead {
	matched := make([]Lead, 0, len(collection))
	for _, lead := range collection {
		if f.Matches(lead) {
			matched = append(matched, lead)
		}
	}
	return matched
}

func (f Filters) matchesPropertyType(lead Lead) bool {
	if len(f.PropertyTypes) == 0 {
		return true
	}
	value, ok := lead.CRMRaw.Number("property_type")
	if !ok {
		return false
	}
	for _, wanted := range f.PropertyTypes {
		if int(value) == wanted {
			return true
		}
	}
	return false
}

func (f Filters) matchesRegion(lead Lead) bool {
	if f.RegionID == nil {
		return true
	}
	value, ok := lead.CRMRaw.Number("region_obj_id")
	return ok && int(value) == *f.RegionID
}

func (f Filters) matchesZone(lead Lead) bool {
	if f.ZoneID == nil {
		return true
	}
	value, ok := lead.CRMRaw.Number("zone_id")
	return ok && int(value) == *f.ZoneID
}

func (f Filters) matchesTransaction(lead Lead) bool {
	if !f.Transaction.Sale && !f.Transaction.Rent {
		return true
	}
	isSale := lead.CRMRaw.Truthy("for_sale")
	isRent := lead.CRMRaw.Truthy("for_rent")
	switch {
	case f.Transaction.Sale && f.Transaction.Rent:
		return isSale || isRent
	case f.Transaction.Sale:
		return isSale
	default:
		return isRent
	}
}

func (f Filters) matchesRooms(lead Lead) bool {
	rooms := f.Rooms
	if rooms == "" || rooms == RoomsAll {
		return true
	}
	value, ok := lead.CRMRaw.Number("rooms")
	if !ok {
		return false
	}
	if rooms == "5+" {
		return value >= 5
	}
	wanted, err := strconv.ParseFloat(rooms, 64)
	if err != nil {
		return true
	}
	return value == wanted
}

func (f Filters) matchesBudget(lead Lead) bool {
	if f.MinBudget == nil && f.MaxBudget == nil {
		return true
	}
	saleOK := f.priceWithinBudget(lead.CRMRaw, "price_sale")
	rentOK := f.priceWithinBudget(lead.CRMRaw, "price_rent")
	switch {
	case f.Transaction.Sale && !f.Transaction.Rent:
		return saleOK
	case f.Transaction.Rent && !f.Transaction.Sale:
		return rentOK
	default:
		// Both or neither transaction selected: either price qualifies.
		return saleOK || rentOK
	}
}

func (f Filters) priceWithinBudget(raw CRMRaw, key string) bool {
	price, ok := raw.Number(key)
	if !ok {
		return false
	}
	if f.MinBudget != nil && price < *f.MinBudget {
		return false
	}
	if f.MaxBudget != nil && price > *f.MaxBudget {
		return false
	}
	return true
}

func (f Filters) matchesDateRange(lead Lead) bool {
	if f.DateFrom == nil && f.DateTo == nil {
		return true
	}
	added, ok := lead.AddedAt()
	if !ok {
		return false
	}
	if f.DateFrom != nil && added.Before(startOfDay(*f.DateFrom)) {
		return false
	}
	if f.DateTo != nil && added.After(endOfDay(*f.DateTo)) {
		return false
	}
	return true
}

func startOfDay(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.Local)
}

func endOfDay(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), 23, 59, 59, 0, time.Local)
}
