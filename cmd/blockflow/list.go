package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/blockflow/blockflow/internal/block"
	"github.com/blockflow/blockflow/internal/cache"
	"github.com/blockflow/blockflow/internal/outline"
)

var listShowAll bool

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Print the outline from the local snapshot",
	Long: `Render the outline stored in the local snapshot cache.

Blocks hidden under a collapsed ancestor are skipped unless --all is given.
Collapsed parents are marked with '+', pinned blocks with '*'.`,
	Run: func(cmd *cobra.Command, args []string) {
		c, err := cache.Open(cfg.cachePath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening cache: %v\n", err)
			os.Exit(1)
		}
		defer c.Close()

		blob, err := c.Get()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading snapshot: %v\n", err)
			os.Exit(1)
		}
		if len(blob) == 0 {
			fmt.Println("No blocks yet. Run 'blockflow sync' first.")
			return
		}

		blocks, err := block.DecodeSet(blob)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error decoding snapshot: %v\n", err)
			os.Exit(1)
		}

		store := block.NewStore(nil)
		store.Replace(blocks)
		nav := outline.New(store)

		shown := blocks
		if !listShowAll {
			shown = nav.Visible()
		}

		for _, b := range shown {
			marker := " "
			if b.IsCollapsed {
				marker = "+"
			}
			pin := ""
			if b.IsPinned {
				pin = " *"
			}
			fmt.Printf("%s %s%s%s  [%s]\n",
				marker, strings.Repeat("  ", b.Indent), b.Name, pin, b.Column)
		}
	},
}

func init() {
	listCmd.Flags().BoolVar(&listShowAll, "all", false, "include blocks hidden by collapsed ancestors")
}
