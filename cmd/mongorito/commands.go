package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/waigo/mongorito/core"
	"github.com/waigo/mongorito/internal/docjson"
)

//region find

func (a *app) findCmd() *cobra.Command {
	var (
		where    string
		sortList []string
		populate []string
		limit    int64
		skip     int64
	)
	cmd := &cobra.Command{
		Use:   "find <collection>",
		Short: "Print the documents matching a query",
		Example: `  mongorito find posts --where '{"views":{"$gte":10}}' --sort views:-1 --limit 5
  mongorito find posts --populate author=users`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query, err := a.query(args[0], where)
			if err != nil {
				return err
			}
			for _, s := range sortList {
				field, dir, err := parseSortField(s)
				if err != nil {
					return err
				}
				query.Sort(field, dir)
			}
			for _, p := range populate {
				field, collection, ok := strings.Cut(p, "=")
				if !ok || field == "" || collection == "" {
					return fmt.Errorf("%w: populate %q, want field=collection", core.ErrInvalidArgument, p)
				}
				query.Populate(field, a.model(collection))
			}
			if limit > 0 {
				query.Limit(limit)
			}
			if skip > 0 {
				query.Skip(skip)
			}

			docs, err := query.Find(cmd.Context())
			if err != nil {
				return err
			}
			if docs == nil {
				docs = []*core.Document{}
			}
			return a.print(cmd, docs)
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&where, "where", "w", "", "criteria as a JSON object")
	flags.StringArrayVarP(&sortList, "sort", "s", nil, "sort field, field:-1 for descending; repeatable")
	flags.StringArrayVarP(&populate, "populate", "p", nil, "replace field ids with documents of collection, as field=collection")
	flags.Int64Var(&limit, "limit", 0, "maximum number of documents")
	flags.Int64Var(&skip, "skip", 0, "number of documents to skip")
	return a.dataCmd(cmd)
}

//endregion

//region count

func (a *app) countCmd() *cobra.Command {
	var where string
	cmd := &cobra.Command{
		Use:   "count <collection>",
		Short: "Print the number of documents matching a query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query, err := a.query(args[0], where)
			if err != nil {
				return err
			}
			n, err := query.Count(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), n)
			return nil
		},
	}
	cmd.Flags().StringVarP(&where, "where", "w", "", "criteria as a JSON object")
	return a.dataCmd(cmd)
}

//endregion

//region remove

func (a *app) removeCmd() *cobra.Command {
	var (
		where string
		all   bool
	)
	cmd := &cobra.Command{
		Use:   "remove <collection>",
		Short: "Remove the documents matching a query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if where == "" && !all {
				return fmt.Errorf("%w: remove needs --where or --all", core.ErrInvalidArgument)
			}
			query, err := a.query(args[0], where)
			if err != nil {
				return err
			}
			res, err := query.Remove(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d\n", res.Deleted)
			return nil
		},
	}
	cmd.Flags().StringVarP(&where, "where", "w", "", "criteria as a JSON object")
	cmd.Flags().BoolVar(&all, "all", false, "remove every document of the collection")
	return a.dataCmd(cmd)
}

//endregion

//region insert

func (a *app) insertCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "insert <collection> <json>...",
		Short:   "Insert new documents",
		Example: `  mongorito insert posts '{"title":"Hello","views":0}' '{"title":"World"}'`,
		Args:    cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			model := a.model(args[0])
			docs := make([]*core.Document, 0, len(args)-1)
			for _, arg := range args[1:] {
				attrs, err := docjson.Unmarshal([]byte(arg))
				if err != nil {
					return fmt.Errorf("%w: %v", core.ErrInvalidArgument, err)
				}
				// Create rather than Save so that a given _id is inserted
				doc := model.New(attrs)
				if err := doc.Create(cmd.Context()); err != nil {
					return err
				}
				docs = append(docs, doc)
			}
			return a.print(cmd, docs)
		},
	}
	return a.dataCmd(cmd)
}

//endregion

//region index

func (a *app) indexCmd() *cobra.Command {
	var (
		name   string
		unique bool
	)
	cmd := &cobra.Command{
		Use:     "index <collection> <field[:-1]>...",
		Short:   "Create an index",
		Example: `  mongorito index users email --unique`,
		Args:    cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			keys := make([]core.SortField, 0, len(args)-1)
			for _, arg := range args[1:] {
				field, dir, err := parseSortField(arg)
				if err != nil {
					return err
				}
				keys = append(keys, core.SortField{Field: field, Direction: dir})
			}
			created, err := a.model(args[0]).Index(cmd.Context(), keys, core.IndexOptions{Name: name, Unique: unique})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), created)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "index name (default derived from the keys)")
	cmd.Flags().BoolVar(&unique, "unique", false, "reject documents repeating the indexed values")
	return a.dataCmd(cmd)
}

func (a *app) indexesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "indexes <collection>",
		Short: "List the indexes of a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			infoList, err := a.model(args[0]).Indexes(cmd.Context())
			if err != nil {
				return err
			}
			if infoList == nil {
				infoList = []core.IndexInfo{}
			}
			return a.print(cmd, infoList)
		},
	}
	return a.dataCmd(cmd)
}

//endregion

// query starts a query over collection filtered by the JSON criteria in
// where, if any.
func (a *app) query(collection, where string) (*core.Query, error) {
	query := a.model(collection).Query()
	if where == "" {
		return query, nil
	}
	attrs, err := docjson.Unmarshal([]byte(where))
	if err != nil {
		return nil, fmt.Errorf("%w: --where: %v", core.ErrInvalidArgument, err)
	}
	return query.Where(attrs), nil
}

// parseSortField splits "field" or "field:-1" into a field and direction.
func parseSortField(s string) (string, core.Direction, error) {
	field, dir, ok := strings.Cut(s, ":")
	if field == "" {
		return "", 0, fmt.Errorf("%w: empty field in %q", core.ErrInvalidArgument, s)
	}
	if !ok {
		return field, core.Asc, nil
	}
	switch strings.ToLower(dir) {
	case "1", "asc":
		return field, core.Asc, nil
	case "-1", "desc":
		return field, core.Desc, nil
	}
	return "", 0, fmt.Errorf("%w: sort direction %q", core.ErrInvalidArgument, dir)
}
