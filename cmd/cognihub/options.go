package main

import (
	"github.com/spf13/cobra"

	"cognihub/internal/research"
	"cognihub/internal/store"
)

func docSearchOptions(cmd *cobra.Command) store.DocRetrieveOptions {
	mmr, _ := cmd.Flags().GetBool("mmr")
	return store.DocRetrieveOptions{UseMMR: mmr}
}

func researchOptions(rounds int, noDocs, noWeb, noKiwix bool) research.Options {
	return research.Options{
		Mode:     "research",
		Rounds:   rounds,
		UseDocs:  !noDocs,
		UseWeb:   !noWeb,
		UseKiwix: !noKiwix,
	}
}
