package metadata

import (
	"fmt"

	"github.com/conduit-lang/docmapper/internal/orm/ormerror"
)

// Definition is the declarative form of a Metadata, decoded from schema files
type Definition struct {
	Name       string               `mapstructure:"name"`
	Collection string               `mapstructure:"collection"`
	IDField    string               `mapstructure:"id_field"`
	IDStrategy string               `mapstructure:"id_strategy"`
	Inherits   []string             `mapstructure:"inherits"`
	Listeners  []string             `mapstructure:"listeners"`
	Fields     []FieldDefinition    `mapstructure:"fields"`
	Relations  []RelationDefinition `mapstructure:"relations"`
	Indexes    []IndexDefinition    `mapstructure:"indexes"`
}

// FieldDefinition is the declarative form of a Field
type FieldDefinition struct {
	Name     string      `mapstructure:"name"`
	Property string      `mapstructure:"property"`
	Type     string      `mapstructure:"type"`
	Table    string      `mapstructure:"table"`
	Default  interface{} `mapstructure:"default"`
	ReadOnly bool        `mapstructure:"read_only"`
}

// RelationDefinition is the declarative form of a Relation
type RelationDefinition struct {
	Kind        string `mapstructure:"kind"`
	Property    string `mapstructure:"property"`
	StorageName string `mapstructure:"storage_name"`
	Target      string `mapstructure:"target"`
	Sort        string `mapstructure:"sort"`
	Direction   string `mapstructure:"direction"`
}

// IndexDefinition is the declarative form of an Index
type IndexDefinition struct {
	Name   string   `mapstructure:"name"`
	Fields []string `mapstructure:"fields"`
	Unique bool     `mapstructure:"unique"`
}

// FromDefinition builds a Metadata from its declarative form
func FromDefinition(def Definition) (*Metadata, error) {
	if def.Name == "" {
		return nil, ormerror.Configuration("schema definition without a name")
	}

	m := New(def.Name)
	m.Collection = def.Collection
	m.IDField = def.IDField
	m.Inherits = append(m.Inherits, def.Inherits...)
	m.Listeners = append(m.Listeners, def.Listeners...)

	strategy, err := ParseIDStrategy(def.IDStrategy)
	if err != nil {
		return nil, ormerror.Configuration("document %s: %v", def.Name, err)
	}
	m.IDStrategy = strategy

	for _, fd := range def.Fields {
		ft, err := ParseFieldType(fd.Type)
		if err != nil {
			return nil, ormerror.Configuration("document %s field %s: %v", def.Name, fd.Name, err)
		}
		m.Fields = append(m.Fields, &Field{
			Name:     fd.Name,
			Property: fd.Property,
			Type:     ft,
			Table:    fd.Table,
			Default:  fd.Default,
			ReadOnly: fd.ReadOnly,
		})
	}

	for _, rd := range def.Relations {
		kind, err := ParseRelationKind(rd.Kind)
		if err != nil {
			return nil, ormerror.Configuration("document %s relation %s: %v", def.Name, rd.Property, err)
		}
		dir, err := ParseDirection(rd.Direction)
		if err != nil {
			return nil, ormerror.Configuration("document %s relation %s: %v", def.Name, rd.Property, err)
		}
		m.Relations = append(m.Relations, &Relation{
			Kind:        kind,
			Property:    rd.Property,
			StorageName: rd.StorageName,
			Target:      rd.Target,
			Sort:        rd.Sort,
			Direction:   dir,
		})
	}

	for i, id := range def.Indexes {
		name := id.Name
		if name == "" {
			name = fmt.Sprintf("%s_idx_%d", m.CollectionName(), i)
		}
		m.Indexes = append(m.Indexes, &Index{Name: name, Fields: id.Fields, Unique: id.Unique})
	}

	m.reindex()
	return m, nil
}

// RegisterDefinitions converts and registers a set of definitions, then
// resolves inheritance across the registry
func (r *Registry) RegisterDefinitions(defs []Definition) error {
	for _, def := range defs {
		m, err := FromDefinition(def)
		if err != nil {
			return err
		}
		if err := r.Register(m); err != nil {
			return err
		}
	}
	return r.HandleInheritance()
}
