package cmd

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/smazurov/pwmirror/internal/negotiate"
	"github.com/smazurov/pwmirror/pkg/spa"
	"github.com/spf13/cobra"
)

// CreateOfferCmd creates the offer command.
func CreateOfferCmd() *cobra.Command {
	var (
		candidates string
		fps        uint32
		width      uint32
		height     uint32
		raw        bool
	)

	cmd := &cobra.Command{
		Use:   "offer",
		Short: "Print the EnumFormat offer for a candidate list",
		Long:  `Builds the format offer sent on connect and prints each encoded parameter as a hex dump followed by its decoded form.`,
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			list, err := negotiate.ParseCandidates(SplitList(candidates))
			if err != nil {
				return err
			}
			n := negotiate.New(negotiate.WithDefaultSize(width, height))
			return WriteOffer(c.OutOrStdout(), n.OfferParams(list, fps), raw)
		},
	}

	cmd.Flags().StringVar(&candidates, "candidates", "XR24,AR24,XB24,AB24", "Comma separated FOURCC[:modifier] list")
	cmd.Flags().Uint32Var(&fps, "fps", 30, "Target framerate")
	cmd.Flags().Uint32Var(&width, "width", negotiate.DefaultSize.Width, "Preferred width")
	cmd.Flags().Uint32Var(&height, "height", negotiate.DefaultSize.Height, "Preferred height")
	cmd.Flags().BoolVar(&raw, "raw", false, "Print only the hex dump")

	return cmd
}

// WriteOffer prints every encoded parameter. An empty offer, where no
// candidate maps to a supported format, prints a note instead.
func WriteOffer(w io.Writer, params [][]byte, raw bool) error {
	if len(params) == 0 {
		_, err := fmt.Fprintln(w, "no supported candidates")
		return err
	}
	for i, p := range params {
		if _, err := fmt.Fprintf(w, "# param %d (%d bytes)\n%s", i, len(p), hex.Dump(p)); err != nil {
			return err
		}
		if raw {
			continue
		}
		obj, err := spa.Decode(p)
		if err != nil {
			return fmt.Errorf("param %d: %w", i, err)
		}
		if _, err := fmt.Fprintf(w, "%s\n", spa.Dump(obj)); err != nil {
			return err
		}
	}
	return nil
}

// SplitList splits a comma separated list, dropping empty entries.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
