package upload

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mevdschee/stockbatch/entity"
)

// Fixture is an active store upload in YAML form
type Fixture struct {
	Bottlers   []FixtureBottler  `yaml:"bottlers"`
	Districts  []FixtureDistrict `yaml:"districts"`
	Stores     []FixtureStore    `yaml:"stores"`
	Categories []FixtureCategory `yaml:"categories"`
}

type FixtureBottler struct {
	Name     string          `yaml:"name"`
	Branches []FixtureBranch `yaml:"branches"`
}

type FixtureBranch struct {
	Name   string  `yaml:"name"`
	Stores []int64 `yaml:"stores"` // store ids
}

type FixtureDistrict struct {
	ID     int64   `yaml:"id"`
	Name   string  `yaml:"name"`
	Code   string  `yaml:"code"`
	Stores []int64 `yaml:"stores"`
}

type FixtureStore struct {
	ID      int64  `yaml:"id"`
	Name    string `yaml:"name"`
	Address string `yaml:"address"`
	City    string `yaml:"city"`
	State   string `yaml:"state"`
	Zip     string `yaml:"zip"`
}

type FixtureCategory struct {
	ID   int64  `yaml:"id"`
	Name string `yaml:"name"`
}

// LoadFixture reads a fixture file
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseFixture(data)
}

// ParseFixture decodes a fixture and checks that every referenced store is
// listed.
func ParseFixture(data []byte) (*Fixture, error) {
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture: %w", err)
	}

	known := make(map[int64]bool, len(f.Stores))
	for _, s := range f.Stores {
		known[s.ID] = true
	}
	check := func(owner string, ids []int64) error {
		for _, id := range ids {
			if !known[id] {
				return fmt.Errorf("parse fixture: %s references unknown store %d", owner, id)
			}
		}
		return nil
	}
	for _, b := range f.Bottlers {
		for _, br := range b.Branches {
			if err := check(br.Name, br.Stores); err != nil {
				return nil, err
			}
		}
	}
	for _, d := range f.Districts {
		if err := check(d.Name, d.Stores); err != nil {
			return nil, err
		}
	}
	return &f, nil
}

// Apply writes the fixture through job. Rows are written in file order;
// the batch priorities take care of referential order.
func (f *Fixture) Apply(ctx context.Context, job *Job) error {
	for _, t := range AllTypes() {
		if err := job.Register(ctx, t); err != nil {
			return err
		}
	}

	stores := make(map[int64]*entity.Store, len(f.Stores))
	store := func(id int64) (*entity.Store, error) {
		if s, ok := stores[id]; ok {
			return s, nil
		}
		for _, fs := range f.Stores {
			if fs.ID != id {
				continue
			}
			s := entity.NewStore()
			s.ID = fs.ID
			s.Name = fs.Name
			s.Address = fs.Address
			s.City = fs.City
			s.State = fs.State
			s.Zip = fs.Zip
			if _, err := job.Ensure(ctx, Stores.Name, s); err != nil {
				return nil, err
			}
			stores[id] = s
			return s, nil
		}
		return nil, fmt.Errorf("unknown store %d", id)
	}

	for _, fb := range f.Bottlers {
		b := entity.NewBottler()
		b.Name = fb.Name
		if _, err := job.Ensure(ctx, Bottlers.Name, b); err != nil {
			return err
		}
		for _, fbr := range fb.Branches {
			br := entity.NewBottlerBranch()
			br.Name = fbr.Name
			if _, err := job.Ensure(ctx, BottlerBranches.Name, br); err != nil {
				return err
			}
			if _, err := job.Link(ctx, BottlerToBranches.Name, b, br); err != nil {
				return err
			}
			for _, id := range fbr.Stores {
				s, err := store(id)
				if err != nil {
					return err
				}
				if _, err := job.Link(ctx, BranchToStores.Name, br, s); err != nil {
					return err
				}
			}
		}
	}

	for _, fd := range f.Districts {
		d := entity.NewDistrict()
		d.ID = fd.ID
		d.Name = fd.Name
		d.Code = fd.Code
		if _, err := job.Ensure(ctx, Districts.Name, d); err != nil {
			return err
		}
		for _, id := range fd.Stores {
			s, err := store(id)
			if err != nil {
				return err
			}
			if _, err := job.Link(ctx, DistrictToStores.Name, d, s); err != nil {
				return err
			}
		}
	}

	// Stores without a branch or district
	for _, fs := range f.Stores {
		if _, err := store(fs.ID); err != nil {
			return err
		}
	}

	for _, fc := range f.Categories {
		c := entity.NewProductCategory()
		c.ID = fc.ID
		c.Name = fc.Name
		if _, err := job.Ensure(ctx, ProductCategories.Name, c); err != nil {
			return err
		}
	}
	return nil
}
