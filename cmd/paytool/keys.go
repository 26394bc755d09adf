package main

import (
	"encoding/json"
	"io"

	"github.com/ManuelReschke/PayProxy/internal/pkg/codec"
	"github.com/spf13/cobra"
)

func keysCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keys",
		Short: "Generate two related keypairs",
		Long: `Generate two fresh keypairs as JSON. Give "a" to one side of a relationship
and "b" to the other, e.g. PERMA_PAYMENTS_SECRET_KEY / PERMA_PUBLIC_KEY.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return writeKeys(cmd.OutOrStdout(), nil)
		},
	}
}

func writeKeys(w io.Writer, random io.Reader) error {
	pair, err := codec.GenerateKeypairPair(random)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(pair)
}
