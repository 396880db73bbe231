package main

import (
	"fmt"
	"runtime"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/ajitpratap0/gridetl/internal/driver"
	"github.com/ajitpratap0/gridetl/pkg/timespan"
)

func (a *app) initCommand() *cobra.Command {
	var window string
	var overwrite bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Load the first window of a dataset",
		Long: `Load the oldest data available remotely, up to --window, into a new
version of the dataset. An existing version is kept unless --overwrite is
given.

Example:
  gridetl init --dataset cpc_us_precip --window 2Y`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w, err := timespan.ParseWindow(window)
			if err != nil {
				return err
			}
			return a.withDriver(cmd, func(d *driver.Driver) error {
				return d.Init(cmd.Context(), w, overwrite)
			})
		},
	}
	cmd.Flags().StringVar(&window, "window", driver.DefaultWindow, "Largest span to load (e.g. 5Y, 18M, 30D, 12H)")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace an existing version")
	return cmd
}

func (a *app) appendCommand() *cobra.Command {
	var window string

	cmd := &cobra.Command{
		Use:   "append",
		Short: "Load the data following the last stored timestamp",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w, err := timespan.ParseWindow(window)
			if err != nil {
				return err
			}
			return a.withDriver(cmd, func(d *driver.Driver) error {
				_, err := d.Append(cmd.Context(), w)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&window, "window", driver.DefaultWindow, "Largest span to load (e.g. 5Y, 18M, 30D, 12H)")
	return cmd
}

func (a *app) replaceCommand() *cobra.Command {
	var start, end string

	cmd := &cobra.Command{
		Use:   "replace",
		Short: "Rewrite stored data between --start and --end",
		Long: `Reprocess the source files covering a span and overwrite the stored
values in place. The span must lie within the stored time range.

Example:
  gridetl replace --start 1984-12-25 --end 1984-12-25`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			span, err := driver.ParseSpan(start, end)
			if err != nil {
				return err
			}
			return a.withDriver(cmd, func(d *driver.Driver) error {
				return d.Replace(cmd.Context(), span)
			})
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "First timestamp to replace (YYYY-MM-DD or RFC3339)")
	cmd.Flags().StringVar(&end, "end", "", "Last timestamp to replace (YYYY-MM-DD or RFC3339)")
	return cmd
}

func (a *app) showCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Summarize the published version of a dataset",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withDriver(cmd, func(d *driver.Driver) error {
				return d.Show(cmd.Context())
			})
		},
	}
}

func (a *app) datasetsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "datasets",
		Short: "List the datasets defined in the catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			catalog, err := a.catalog()
			if err != nil {
				return err
			}
			for _, name := range catalog.Names() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}

func (a *app) listCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered components",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"Capability", "Name", "Default", "Description"})
			for _, reg := range a.registry.Describe() {
				mark := ""
				if def, ok := a.registry.Default(reg.Capability); ok && def == reg.Name {
					mark = "*"
				}
				t.AppendRow(table.Row{reg.Capability, reg.Name, mark, reg.Description})
			}
			t.Render()
			return nil
		},
	}
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "gridetl v%s\n", version)
			fmt.Fprintf(out, "Go version: %s\n", runtime.Version())
			fmt.Fprintf(out, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}
