package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/conduit-lang/docmapper/internal/cli/config"
	"github.com/conduit-lang/docmapper/internal/cli/ui"
	"github.com/conduit-lang/docmapper/internal/orm"
	"github.com/conduit-lang/docmapper/internal/orm/metadata"
)

func newSchemaCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "schema [type]",
		Short: "List the document types of the loaded schema",
		Long: `Load the configured schema definition files and list their document types.

With a type name, show that type's fields, relations and indexes after
inheritance has been resolved.`,
		Example: `  # List every document type
  docmapper schema --schema schema/blog.yml

  # Describe one type
  docmapper schema Post`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer logger.Sync()

			schema, err := loadSchema(cfg, logger)
			if err != nil {
				return err
			}
			defer schema.Close()

			if len(args) == 0 {
				renderSchema(cmd, schema, opts.noColor)
				return nil
			}
			meta, err := lookupType(cmd, schema, args[0], opts.noColor)
			if err != nil {
				return err
			}
			renderType(cmd, meta, opts.noColor)
			return nil
		},
	}
}

// lookupType resolves a type name, printing close matches when it is unknown
func lookupType(cmd *cobra.Command, schema *orm.Schema, name string, noColor bool) (*metadata.Metadata, error) {
	meta, ok := schema.Registry.Lookup(name)
	if !ok {
		ui.UnknownType(name, schema.Registry.List(), noColor).Write(cmd.ErrOrStderr())
		return nil, fmt.Errorf("unknown document type %q", name)
	}
	return meta, nil
}

func renderSchema(cmd *cobra.Command, schema *orm.Schema, noColor bool) {
	table := ui.NewTable(cmd.OutOrStdout(), noColor, "Type", "Collection", "ID", "Strategy", "Fields", "Relations")
	for _, name := range schema.Registry.List() {
		meta, ok := schema.Registry.Lookup(name)
		if !ok {
			continue
		}
		table.AddRow(
			meta.Name,
			meta.CollectionName(),
			meta.IDField,
			meta.IDStrategy.String(),
			fmt.Sprint(len(meta.Fields)),
			fmt.Sprint(len(meta.Relations)),
		)
	}
	table.Render()
}

func renderType(cmd *cobra.Command, meta *metadata.Metadata, noColor bool) {
	out := cmd.OutOrStdout()

	ui.Header(out, meta.Name, noColor)
	kv := ui.NewKeyValueTable(out, noColor)
	kv.AddRow("collection", meta.CollectionName())
	kv.AddRow("id field", meta.IDField)
	kv.AddRow("id strategy", meta.IDStrategy)
	if len(meta.Inherits) > 0 {
		kv.AddRow("inherits", strings.Join(meta.Inherits, ", "))
	}
	if len(meta.Listeners) > 0 {
		kv.AddRow("listeners", strings.Join(meta.Listeners, ", "))
	}
	kv.Render()
	fmt.Fprintln(out)

	fields := ui.NewTable(out, noColor, "Property", "Storage", "Type", "Default", "Flags")
	for _, f := range meta.Fields {
		var flags []string
		if f.PropertyName() == meta.IDField {
			flags = append(flags, "id")
		}
		if f.ReadOnly {
			flags = append(flags, "read-only")
		}
		if f.Table != "" {
			flags = append(flags, "table="+f.Table)
		}
		def := ""
		if f.Default != nil {
			def = fmt.Sprint(f.Default)
		}
		fields.AddRow(f.PropertyName(), f.Name, f.Type.String(), def, strings.Join(flags, ","))
	}
	fields.Render()

	if len(meta.Relations) > 0 {
		fmt.Fprintln(out)
		relations := ui.NewTable(out, noColor, "Property", "Kind", "Target", "Storage", "Sort")
		for _, r := range meta.Relations {
			sort := ""
			if r.Sort != "" {
				sort = r.Sort + " " + r.Direction.String()
			}
			relations.AddRow(r.Property, r.Kind.String(), r.Target, r.StorageKey(), sort)
		}
		relations.Render()
	}

	if len(meta.Indexes) > 0 {
		fmt.Fprintln(out)
		indexes := ui.NewTable(out, noColor, "Index", "Fields", "Unique")
		for _, idx := range meta.Indexes {
			indexes.AddRow(idx.Name, strings.Join(idx.Fields, ", "), fmt.Sprint(idx.Unique))
		}
		indexes.Render()
	}
}

// configView renders the resolved configuration
func configView(cmd *cobra.Command, cfg *config.Config, noColor bool) {
	kv := ui.NewKeyValueTable(cmd.OutOrStdout(), noColor)
	kv.AddRow("store.driver", cfg.Store.Driver)
	kv.AddRow("store.dsn", redactDSN(cfg.Store.DSN))
	kv.AddRow("store.table", cfg.Store.Table)
	kv.AddRow("store.transactions", cfg.Store.Transactions)
	if cfg.Cache.Enabled() {
		kv.AddRow("cache.redis_addr", cfg.Cache.RedisAddr)
		kv.AddRow("cache.redis_db", cfg.Cache.RedisDB)
		kv.AddRow("cache.prefix", cfg.Cache.Prefix)
		kv.AddRow("cache.ttl", cfg.Cache.TTL)
	} else {
		kv.AddRow("cache", "disabled")
	}
	kv.AddRow("ids.generate", cfg.IDs.Generate)
	kv.AddRow("ids.format", cfg.IDs.Format)
	kv.AddRow("log.level", cfg.Log.Level)
	kv.AddRow("schema.paths", strings.Join(cfg.Schema.Paths, ", "))
	kv.Render()
}

func newConfigCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show the resolved configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			configView(cmd, cfg, opts.noColor)
			return nil
		},
	}
}
