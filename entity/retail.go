package entity

import "strconv"

// Bottler is a bottling company, keyed by name
type Bottler struct {
	Named
}

func NewBottler() *Bottler { return &Bottler{} }

func (e *Bottler) Table() string     { return "bttlrs" }
func (e *Bottler) Columns() []string { return e.Named.columns() }
func (e *Bottler) Values() []any     { return e.Named.values() }

// BottlerBranch is a branch of a bottler, keyed by name
type BottlerBranch struct {
	Named
}

func NewBottlerBranch() *BottlerBranch { return &BottlerBranch{} }

func (e *BottlerBranch) Table() string     { return "bttlrbrchs" }
func (e *BottlerBranch) Columns() []string { return e.Named.columns() }
func (e *BottlerBranch) Values() []any     { return e.Named.values() }

// District is a distributor district, keyed by its external id
type District struct {
	NamedWithID
	Code string `db:"cd"`
}

func NewDistrict() *District { return &District{} }

func (e *District) Table() string     { return "dstbdstrcts" }
func (e *District) Columns() []string { return append(e.NamedWithID.columns(), "cd") }
func (e *District) Values() []any     { return append(e.NamedWithID.values(), e.Code) }

// Store is a retail store, keyed by its store number
type Store struct {
	NamedWithID
	Address string `db:"address"`
	City    string `db:"city"`
	State   string `db:"state"`
	Zip     string `db:"zip"`
}

func NewStore() *Store { return &Store{} }

func (e *Store) Table() string { return "stores" }

func (e *Store) Columns() []string {
	return append(e.NamedWithID.columns(), "address", "city", "state", "zip")
}

func (e *Store) Values() []any {
	return append(e.NamedWithID.values(), e.Address, e.City, e.State, e.Zip)
}

// ProductCategory groups products in reports, keyed by its external id
type ProductCategory struct {
	NamedWithID
}

func NewProductCategory() *ProductCategory { return &ProductCategory{} }

func (e *ProductCategory) Table() string     { return "prdctctgrs" }
func (e *ProductCategory) Columns() []string { return e.NamedWithID.columns() }
func (e *ProductCategory) Values() []any     { return e.NamedWithID.values() }

// BottlerToBranch maps a bottler to one of its branches
type BottlerToBranch struct {
	Uploadable
	Bottler       int64 `db:"bottler"`
	BottlerBranch int64 `db:"bottlerbranch"`
}

func NewBottlerToBranch() *BottlerToBranch { return &BottlerToBranch{} }

func (e *BottlerToBranch) Table() string { return "bttlrstobttlrbrchs" }

func (e *BottlerToBranch) Columns() []string {
	return append(e.Uploadable.columns(), "bottler", "bottlerbranch")
}

func (e *BottlerToBranch) Values() []any {
	return append(e.Uploadable.values(), e.Bottler, e.BottlerBranch)
}

func (e *BottlerToBranch) UniqueKey() string   { return PairKey(e.Bottler, e.BottlerBranch) }
func (e *BottlerToBranch) Link(from, to int64) { e.Bottler, e.BottlerBranch = from, to }

// BranchToStore maps a bottler branch to a store it serves
type BranchToStore struct {
	Uploadable
	BottlerBranch int64 `db:"bottlerbranch"`
	Store         int64 `db:"store"`
}

func NewBranchToStore() *BranchToStore { return &BranchToStore{} }

func (e *BranchToStore) Table() string { return "bttlrbrchstostores" }

func (e *BranchToStore) Columns() []string {
	return append(e.Uploadable.columns(), "bottlerbranch", "store")
}

func (e *BranchToStore) Values() []any {
	return append(e.Uploadable.values(), e.BottlerBranch, e.Store)
}

func (e *BranchToStore) UniqueKey() string   { return PairKey(e.BottlerBranch, e.Store) }
func (e *BranchToStore) Link(from, to int64) { e.BottlerBranch, e.Store = from, to }

// DistrictToStore maps a distributor district to a store in it
type DistrictToStore struct {
	Uploadable
	District int64 `db:"distributordistrict"`
	Store    int64 `db:"store"`
}

func NewDistrictToStore() *DistrictToStore { return &DistrictToStore{} }

func (e *DistrictToStore) Table() string { return "dstbdstrctstostores" }

func (e *DistrictToStore) Columns() []string {
	return append(e.Uploadable.columns(), "distributordistrict", "store")
}

func (e *DistrictToStore) Values() []any {
	return append(e.Uploadable.values(), e.District, e.Store)
}

func (e *DistrictToStore) UniqueKey() string   { return PairKey(e.District, e.Store) }
func (e *DistrictToStore) Link(from, to int64) { e.District, e.Store = from, to }

// Mapping relates two entities by primary key, from the general one to the
// specific one.
type Mapping interface {
	Uploaded
	Link(from, to int64)
}

// PairKey joins two primary keys the way mapping lookups are keyed
func PairKey(from, to int64) string {
	return strconv.FormatInt(from, 10) + "|" + strconv.FormatInt(to, 10)
}
