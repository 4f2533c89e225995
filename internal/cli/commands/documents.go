package commands

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cast"
	"github.com/spf13/cobra"

	"github.com/conduit-lang/docmapper/internal/cli/ui"
	"github.com/conduit-lang/docmapper/internal/orm/document"
	"github.com/conduit-lang/docmapper/internal/orm/metadata"
	"github.com/conduit-lang/docmapper/internal/orm/storage"
)

// queryFlags are the filtering flags shared by find and count
type queryFlags struct {
	where  []string
	sort   []string
	limit  int
	offset int
}

func (f *queryFlags) bind(cmd *cobra.Command, paging bool) {
	cmd.Flags().StringArrayVarP(&f.where, "where", "w", nil, "property=value filter (repeatable)")
	if paging {
		cmd.Flags().StringArrayVar(&f.sort, "sort", nil, "property[:asc|desc] ordering (repeatable)")
		cmd.Flags().IntVar(&f.limit, "limit", 0, "maximum number of documents")
		cmd.Flags().IntVar(&f.offset, "offset", 0, "number of documents to skip")
	}
}

func (f *queryFlags) query() (*storage.Query, error) {
	criteria, err := parseAssignments(f.where)
	if err != nil {
		return nil, err
	}
	q := storage.NewQuery(storage.Criteria(criteria))
	for _, s := range f.sort {
		property, dir := s, metadata.Ascending
		if i := strings.LastIndex(s, ":"); i >= 0 {
			property = s[:i]
			if dir, err = metadata.ParseDirection(s[i+1:]); err != nil {
				return nil, fmt.Errorf("invalid --sort %q: %w", s, err)
			}
		}
		q.OrderBy(property, dir)
	}
	return q.Page(f.offset, f.limit), nil
}

// parseAssignments parses property=value pairs
func parseAssignments(pairs []string) (map[string]interface{}, error) {
	values := make(map[string]interface{}, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("expected property=value, got %q", pair)
		}
		values[key] = parseValue(raw)
	}
	return values, nil
}

// parseValue reads a command-line value as null, a boolean, a number or a string
func parseValue(raw string) interface{} {
	switch raw {
	case "":
		return raw
	case "null":
		return nil
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return n
	}
	if f, err := cast.ToFloat64E(raw); err == nil {
		return f
	}
	return raw
}

func newFindCommand(opts *rootOptions) *cobra.Command {
	var flags queryFlags

	cmd := &cobra.Command{
		Use:   "find <type> [id]",
		Short: "Load documents from the store",
		Example: `  # Load one document with its references
  docmapper find Post post-1

  # Query by property
  docmapper find Post --where published=true --sort views:desc --limit 10`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnvironment(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer env.Close()

			meta, err := lookupType(cmd, env.schema, args[0], opts.noColor)
			if err != nil {
				return err
			}

			if len(args) == 2 {
				doc, err := env.manager.Find(cmd.Context(), meta.Name, args[1])
				if err != nil {
					return err
				}
				renderDocument(cmd.OutOrStdout(), doc, opts.noColor)
				return nil
			}

			q, err := flags.query()
			if err != nil {
				return err
			}
			docs, err := env.manager.FindByQuery(cmd.Context(), meta.Name, q)
			if err != nil {
				return err
			}
			renderDocuments(cmd.OutOrStdout(), meta, docs, opts.noColor)
			return nil
		},
	}

	flags.bind(cmd, true)
	return cmd
}

func newCountCommand(opts *rootOptions) *cobra.Command {
	var flags queryFlags

	cmd := &cobra.Command{
		Use:   "count <type>",
		Short: "Count stored documents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnvironment(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer env.Close()

			meta, err := lookupType(cmd, env.schema, args[0], opts.noColor)
			if err != nil {
				return err
			}
			q, err := flags.query()
			if err != nil {
				return err
			}
			count, err := env.manager.FindCountBy(cmd.Context(), meta.Name, q)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), count)
			return nil
		},
	}

	flags.bind(cmd, false)
	return cmd
}

func newPutCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "put <type> property=value...",
		Short: "Create a document and flush it to the store",
		Long: `Create a document of the given type from property=value pairs, apply its
defaults and createDocument listeners, and flush it in one unit of work.`,
		Example: `  docmapper put User email=ann@example.com name=Ann`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnvironment(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer env.Close()

			meta, err := lookupType(cmd, env.schema, args[0], opts.noColor)
			if err != nil {
				return err
			}
			values, err := parseAssignments(args[1:])
			if err != nil {
				return err
			}

			doc, err := env.manager.CreateDocument(cmd.Context(), meta.Name, values)
			if err != nil {
				return err
			}
			if err := env.manager.Persist(doc); err != nil {
				return err
			}
			if err := env.manager.Flush(cmd.Context(), doc); err != nil {
				return err
			}

			ui.Success(cmd.OutOrStdout(), fmt.Sprintf("stored %s", doc), opts.noColor)
			return nil
		},
	}
}

// formatValue renders a property value, showing related documents by id
func formatValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case *document.Document:
		if val == nil {
			return ""
		}
		return fmt.Sprint(val.ID())
	case []*document.Document:
		ids := make([]string, 0, len(val))
		for _, d := range val {
			if d != nil {
				ids = append(ids, fmt.Sprint(d.ID()))
			}
		}
		return "[" + strings.Join(ids, ", ") + "]"
	default:
		return fmt.Sprint(val)
	}
}

func renderDocument(w io.Writer, doc *document.Document, noColor bool) {
	ui.Header(w, doc.String(), noColor)

	values := doc.Values()
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	kv := ui.NewKeyValueTable(w, noColor)
	for _, k := range keys {
		kv.AddRow(k, formatValue(values[k]))
	}
	kv.Render()
}

func renderDocuments(w io.Writer, meta *metadata.Metadata, docs []*document.Document, noColor bool) {
	headers := make([]string, 0, len(meta.Fields)+len(meta.Relations))
	for _, f := range meta.Fields {
		headers = append(headers, f.PropertyName())
	}
	for _, r := range meta.References() {
		headers = append(headers, r.Property)
	}

	table := ui.NewTable(w, noColor, headers...)
	for _, doc := range docs {
		cells := make([]string, len(headers))
		for i, h := range headers {
			cells[i] = formatValue(doc.Get(h))
		}
		table.AddRow(cells...)
	}
	table.Render()
}
