package model

// MarketKey identifies a tradable item in one region — a (region_id,
// type_id) pair with tuple-set equality semantics.
type MarketKey struct {
	RegionID uint64
	TypeID   uint64
}
