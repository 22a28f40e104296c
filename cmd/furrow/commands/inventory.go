package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/furrow-sh/furrow/pkg/inventory"
)

func newInventoryCommand() *cobra.Command {
	var (
		list  bool
		graph bool
	)

	cmd := &cobra.Command{
		Use:   "inventory [group]",
		Short: "Show resolved inventory hosts",
		Long: `Resolve a group expression against the inventory and print the
matching hosts. Without a group argument the whole inventory is
shown. Group expressions accept comma-separated unions ("web, db").`,
		Example: `  # Hosts in the web group, nested groups included
  furrow inventory web

  # Union of two groups
  furrow inventory 'web, db'

  # Full inventory as JSON
  furrow inventory --list --json

  # Group nesting tree
  furrow inventory --graph`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inv, err := loadInventory()
			if err != nil {
				return err
			}

			if graph {
				printGroupGraph(inv)
				return nil
			}

			expr := inventory.AllGroup
			if len(args) == 1 {
				expr = args[0]
			}

			hosts, err := inv.Resolve(expr)
			if err != nil {
				return invalid(err)
			}

			if list || jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(hosts)
			}

			for _, h := range hosts {
				if h.Address != "" && h.Address != h.Name {
					fmt.Printf("%s (%s)\n", h.Name, h.Address)
				} else {
					fmt.Println(h.Name)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&list, "list", false, "print full host records as JSON")
	cmd.Flags().BoolVar(&graph, "graph", false, "print the group nesting tree")

	return cmd
}

// printGroupGraph prints each group with its direct hosts and child
// groups indented below it.
func printGroupGraph(inv *inventory.Inventory) {
	for _, name := range inv.GroupNames() {
		if name == inventory.AllGroup {
			continue
		}
		g, ok := inv.Group(name)
		if !ok {
			continue
		}
		fmt.Printf("[%s]\n", name)
		for _, child := range g.Children {
			fmt.Printf("  @%s\n", child)
		}
		for _, host := range g.Hosts {
			fmt.Printf("  %s\n", host)
		}
		fmt.Println()
	}
}
