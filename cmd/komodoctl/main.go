// Command komodoctl is a small operational CLI over an on-disk
// komodo store: list its maps, and fetch the raw bytes stored under a
// key in one of them. It works purely in terms of map names and raw
// bytes since, unlike an application linking against komodo directly,
// it has no static Go type to decode a collection's values into.
package main

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	komodo "github.com/clydebarrow/komodo"
	"github.com/clydebarrow/komodo/komodolog"
)

var verbose bool

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "komodoctl",
		Short: "Inspect an on-disk komodo store",
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug-level store logging")
	root.AddCommand(newInspectCmd())
	root.AddCommand(newGetCmd())
	return root
}

func openStore(path string) (*komodo.Store, error) {
	return komodo.Open(komodo.Config{
		Filename: path,
		Logger:   komodolog.New(komodolog.Config{Debug: verbose}),
	})
}

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <path>",
		Short: "List every map in the store at path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(args[0])
			if err != nil {
				return err
			}
			defer store.Close()

			maps, err := store.GetMaps()
			if err != nil {
				return err
			}
			for _, name := range maps {
				count, err := store.RawCount(name)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\n", name, count)
			}
			return nil
		},
	}
}

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <path> <map> <key>",
		Short: "Print the raw bytes stored under key in map, hex-encoded",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, mapName, rawKey := args[0], args[1], args[2]
			store, err := openStore(path)
			if err != nil {
				return err
			}
			defer store.Close()

			keyBytes, err := decodeKeyArg(rawKey)
			if err != nil {
				return err
			}
			val, found, err := store.RawGet(mapName, keyBytes)
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("komodoctl: no entry for key %q in map %q", rawKey, mapName)
			}
			fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(val))
			return nil
		},
	}
}

// decodeKeyArg accepts either a literal string key or, prefixed with
// "0x", an explicit hex-encoded key: most collections key by
// human-readable bytes, but composite keys are easiest to pass as hex.
func decodeKeyArg(s string) ([]byte, error) {
	if len(s) > 2 && s[0:2] == "0x" {
		return hex.DecodeString(s[2:])
	}
	return []byte(s), nil
}
