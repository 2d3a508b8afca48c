package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/civilservant/gratsample/internal/storage"
)

var (
	cacheCmd = &cobra.Command{
		Use:   "cache",
		Short: "Inspect the table cache",
	}
	cacheLsCmd = &cobra.Command{
		Use:   "ls [namespace]",
		Short: "List cached entries, optionally of one namespace",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ns := ""
			if len(args) == 1 {
				ns = args[0]
			}
			return withStorage(cmd.Context(), func(ctx context.Context, st storage.Storage) error {
				return listEntries(ctx, st, ns, cmd.OutOrStdout())
			})
		},
	}
	cacheStatCmd = &cobra.Command{
		Use:   "stat",
		Short: "Count cached entries per namespace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStorage(cmd.Context(), func(ctx context.Context, st storage.Storage) error {
				return countEntries(ctx, st, cmd.OutOrStdout())
			})
		},
	}
)

func withStorage(ctx context.Context, fn func(context.Context, storage.Storage) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	r, err := setup(ctx, false)
	if err != nil {
		return err
	}
	defer r.Close()
	return fn(ctx, r.store)
}

// listEntries prints one "namespace key" line per entry, sorted.
func listEntries(ctx context.Context, st storage.Storage, ns string, w io.Writer) error {
	prefix := ""
	if ns != "" {
		if err := storage.ValidateNamespace(ns); err != nil {
			return err
		}
		prefix = storage.MakeKey(ns, "")
	}
	keys, err := st.List(ctx, prefix)
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", st.Name(), err)
	}
	sort.Strings(keys)
	for _, k := range keys {
		ns, key, ok := storage.SplitKey(k)
		if !ok || ns == "outputs" {
			continue
		}
		if _, err := fmt.Fprintf(w, "%s\t%s\n", ns, key); err != nil {
			return err
		}
	}
	return nil
}

// countEntries prints the number of entries per namespace.
func countEntries(ctx context.Context, st storage.Storage, w io.Writer) error {
	keys, err := st.List(ctx, "")
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", st.Name(), err)
	}
	counts := map[string]int{}
	for _, k := range keys {
		if ns, _, ok := storage.SplitKey(k); ok && ns != "outputs" {
			counts[ns]++
		}
	}
	names := make([]string, 0, len(counts))
	for ns := range counts {
		names = append(names, ns)
	}
	sort.Strings(names)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAMESPACE\tENTRIES")
	for _, ns := range names {
		fmt.Fprintf(tw, "%s\t%d\n", ns, counts[ns])
	}
	return tw.Flush()
}
