// Package reference manages the reference tables owned by versioned datasets: the catalogue of
// tables, their staging copies and the DDL used to swap staging into production.
package reference

import (
	_ "embed"
	"fmt"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed catalogue.yaml
var catalogueDoc []byte

var identifier = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Namespace names the production and staging schemas.
type Namespace struct {
	Production string
	Staging    string
}

// DefaultNamespace is used against postgres.
var DefaultNamespace = Namespace{Production: "public", Staging: "staging"}

// Table is one reference table of a dataset.
type Table struct {
	Dataset string
	Name    string
	Columns []string
	// Production and Staging are the schema qualified names.
	Production string
	Staging    string
	// Backup is the unqualified name the production table is renamed to during promotion.
	Backup string
}

type catalogue struct {
	Datasets []struct {
		Name   string `yaml:"name"`
		Tables []struct {
			Name    string   `yaml:"name"`
			Columns []string `yaml:"columns"`
		} `yaml:"tables"`
	} `yaml:"datasets"`
}

// Registry maps datasets to their tables. It is built once at startup and read only afterwards.
type Registry struct {
	ns       Namespace
	datasets map[string][]Table
	tables   map[string]map[string]Table
}

// LoadRegistry builds the Registry from the embedded catalogue.
func LoadRegistry(ns Namespace) (*Registry, error) {
	return ParseRegistry(catalogueDoc, ns)
}

// ParseRegistry builds a Registry from a yaml catalogue document.
func ParseRegistry(doc []byte, ns Namespace) (*Registry, error) {
	if !identifier.MatchString(ns.Production) || !identifier.MatchString(ns.Staging) {
		return nil, fmt.Errorf("invalid namespace %+v", ns)
	}
	if ns.Production == ns.Staging {
		return nil, fmt.Errorf("production and staging namespace must differ, both are %q", ns.Production)
	}

	var c catalogue
	if err := yaml.Unmarshal(doc, &c); err != nil {
		return nil, fmt.Errorf("unable to parse reference catalogue: %w", err)
	}

	r := Registry{
		ns:       ns,
		datasets: make(map[string][]Table),
		tables:   make(map[string]map[string]Table),
	}
	for _, ds := range c.Datasets {
		if !identifier.MatchString(ds.Name) {
			return nil, fmt.Errorf("invalid dataset name %q", ds.Name)
		}
		if _, present := r.datasets[ds.Name]; present {
			return nil, fmt.Errorf("dataset %q declared twice", ds.Name)
		}
		if len(ds.Tables) == 0 {
			return nil, fmt.Errorf("dataset %q has no tables", ds.Name)
		}
		byName := make(map[string]Table)
		for _, t := range ds.Tables {
			if !identifier.MatchString(t.Name) {
				return nil, fmt.Errorf("invalid table name %q in dataset %s", t.Name, ds.Name)
			}
			if _, present := byName[t.Name]; present {
				return nil, fmt.Errorf("table %q declared twice in dataset %s", t.Name, ds.Name)
			}
			if len(t.Columns) == 0 {
				return nil, fmt.Errorf("table %s.%s has no columns", ds.Name, t.Name)
			}
			for _, col := range t.Columns {
				if !identifier.MatchString(col) {
					return nil, fmt.Errorf("invalid column name %q in table %s", col, t.Name)
				}
			}
			table := Table{
				Dataset:    ds.Name,
				Name:       t.Name,
				Columns:    t.Columns,
				Production: ns.Production + "." + t.Name,
				Staging:    ns.Staging + "." + t.Name,
				Backup:     t.Name + "_backup",
			}
			byName[t.Name] = table
			r.datasets[ds.Name] = append(r.datasets[ds.Name], table)
		}
		r.tables[ds.Name] = byName
	}
	return &r, nil
}

// Namespace returns the schemas the registry was built for.
func (r *Registry) Namespace() Namespace {
	return r.ns
}

// Datasets returns the dataset names in sorted order.
func (r *Registry) Datasets() []string {
	names := make([]string, 0, len(r.datasets))
	for name := range r.datasets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Tables returns the tables of dataset in catalogue order.
func (r *Registry) Tables(dataset string) ([]Table, error) {
	tables, ok := r.datasets[dataset]
	if !ok {
		return nil, fmt.Errorf("unknown dataset %q", dataset)
	}
	return tables, nil
}

// TableNames returns the table names of dataset in catalogue order.
func (r *Registry) TableNames(dataset string) ([]string, error) {
	tables, err := r.Tables(dataset)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(tables))
	for i, t := range tables {
		names[i] = t.Name
	}
	return names, nil
}

// Table returns a single table of dataset.
func (r *Registry) Table(dataset, name string) (Table, error) {
	byName, ok := r.tables[dataset]
	if !ok {
		return Table{}, fmt.Errorf("unknown dataset %q", dataset)
	}
	t, ok := byName[name]
	if !ok {
		return Table{}, fmt.Errorf("unknown table %q in dataset %s", name, dataset)
	}
	return t, nil
}
