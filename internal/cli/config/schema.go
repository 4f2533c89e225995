package config

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/conduit-lang/docmapper/internal/orm"
	"github.com/conduit-lang/docmapper/internal/orm/events"
	"github.com/conduit-lang/docmapper/internal/orm/metadata"
)

// schemaFile is the layout of a schema definition file
type schemaFile struct {
	Types []metadata.Definition `mapstructure:"types"`
}

// LoadDefinitions reads the document definitions listed under "types" in each
// file. The file format follows the extension (yaml, json, toml).
func LoadDefinitions(paths ...string) ([]metadata.Definition, error) {
	var defs []metadata.Definition
	for _, path := range paths {
		v := viper.New()
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read schema file %s: %w", path, err)
		}

		var file schemaFile
		if err := v.Unmarshal(&file); err != nil {
			return nil, fmt.Errorf("failed to decode schema file %s: %w", path, err)
		}
		defs = append(defs, file.Types...)
	}
	return defs, nil
}

// LoadSchema loads the definitions in paths into a new schema
func LoadSchema(paths []string, opts ...events.Option) (*orm.Schema, error) {
	defs, err := LoadDefinitions(paths...)
	if err != nil {
		return nil, err
	}

	schema := orm.NewSchema(opts...)
	if err := schema.LoadDefinitions(defs); err != nil {
		schema.Close()
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	return schema, nil
}
