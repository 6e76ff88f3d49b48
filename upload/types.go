package upload

import "github.com/mevdschee/stockbatch/entity"

// Priorities of the upload tables. Mappings reference entities, so every
// entity table must be durable before any mapping table.
const (
	EntityPriority  = 100
	MappingPriority = 200
)

// EntityType describes one table an upload writes to
type EntityType struct {
	Name     string // handle prefix, e.g. "Bottler" registers "BottlerCreate"
	Priority int
	New      func() entity.Uploaded
	// KeyColumns identify existing rows during preload; UniqueKey is used
	// when empty.
	KeyColumns []string
}

func (t EntityType) createHandle() string { return t.Name + "Create" }
func (t EntityType) updateHandle() string { return t.Name + "Update" }

var (
	Bottlers = EntityType{
		Name:       "Bottler",
		Priority:   EntityPriority,
		New:        func() entity.Uploaded { return entity.NewBottler() },
		KeyColumns: []string{"name"},
	}
	BottlerBranches = EntityType{
		Name:       "BottlerBranch",
		Priority:   EntityPriority,
		New:        func() entity.Uploaded { return entity.NewBottlerBranch() },
		KeyColumns: []string{"name"},
	}
	Districts = EntityType{
		Name:       "District",
		Priority:   EntityPriority,
		New:        func() entity.Uploaded { return entity.NewDistrict() },
		KeyColumns: []string{"id"},
	}
	Stores = EntityType{
		Name:       "Store",
		Priority:   EntityPriority,
		New:        func() entity.Uploaded { return entity.NewStore() },
		KeyColumns: []string{"id"},
	}
	ProductCategories = EntityType{
		Name:       "ProductCategory",
		Priority:   EntityPriority,
		New:        func() entity.Uploaded { return entity.NewProductCategory() },
		KeyColumns: []string{"id"},
	}
	BottlerToBranches = EntityType{
		Name:       "BottlerToBranch",
		Priority:   MappingPriority,
		New:        func() entity.Uploaded { return entity.NewBottlerToBranch() },
		KeyColumns: []string{"bottler", "bottlerbranch"},
	}
	BranchToStores = EntityType{
		Name:       "BranchToStore",
		Priority:   MappingPriority,
		New:        func() entity.Uploaded { return entity.NewBranchToStore() },
		KeyColumns: []string{"bottlerbranch", "store"},
	}
	DistrictToStores = EntityType{
		Name:       "DistrictToStore",
		Priority:   MappingPriority,
		New:        func() entity.Uploaded { return entity.NewDistrictToStore() },
		KeyColumns: []string{"distributordistrict", "store"},
	}
)

// AllTypes lists every table of the active store upload
func AllTypes() []EntityType {
	return []EntityType{
		Bottlers, BottlerBranches, Districts, Stores, ProductCategories,
		BottlerToBranches, BranchToStores, DistrictToStores,
	}
}
