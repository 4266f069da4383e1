// Package search queries stored images from the command line.
package search

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/clipvault/clipvault/internal/app"
	engine "github.com/clipvault/clipvault/internal/search"
)

type options struct {
	texts      []string
	ids        []int64
	limit      int
	before     int64
	from, to   int64
	color      []uint
	coverFrom  float64
	coverTo    float64
	difference float64
	asJSON     bool
}

// Command creates the search command.
func Command(env *app.Env) *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "search",
		Short: "List stored images, newest first",
		Long: "List stored images matching every given filter. Pass the printed " +
			"cursor to --before to fetch the next page.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := opts.query(cmd)
			if err != nil {
				return err
			}
			a, err := env.Open()
			if err != nil {
				return err
			}
			defer a.Close()

			page, err := a.Search.Search(cmd.Context(), q)
			if err != nil {
				return err
			}
			if opts.asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(page)
			}
			printPage(cmd.OutOrStdout(), page)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringSliceVar(&opts.texts, "text", nil, "Recognized text fragment, repeatable; any term matches")
	f.Int64SliceVar(&opts.ids, "id", nil, "Restrict to these record ids")
	f.IntVarP(&opts.limit, "limit", "n", 0, "Maximum results (default: search.defaultlimit)")
	f.Int64Var(&opts.before, "before", 0, "Only records with mtime below this cursor")
	f.Int64Var(&opts.from, "from", 0, "Earliest creation time, ms since epoch")
	f.Int64Var(&opts.to, "to", 0, "Latest creation time, ms since epoch")
	f.UintSliceVar(&opts.color, "color", nil, "Target color as r,g,b")
	f.Float64Var(&opts.coverFrom, "cover-from", 0.1, "Minimum share of pixels near --color")
	f.Float64Var(&opts.coverTo, "cover-to", 1, "Maximum share of pixels near --color")
	f.Float64Var(&opts.difference, "difference", 10, "CIEDE2000 distance counted as near --color")
	f.BoolVar(&opts.asJSON, "json", false, "Print the page as JSON")
	return cmd
}

// query maps the flags that were set onto a search query.
func (o *options) query(cmd *cobra.Command) (engine.Query, error) {
	var q engine.Query
	flags := cmd.Flags()
	if flags.Changed("limit") {
		q.Limit = &o.limit
	}
	if flags.Changed("before") {
		q.MTime = &o.before
	}
	if flags.Changed("from") {
		q.DateRangeFrom = &o.from
	}
	if flags.Changed("to") {
		q.DateRangeTo = &o.to
	}
	q.IDs = o.ids
	q.Texts = o.texts

	if flags.Changed("color") {
		if len(o.color) != 3 {
			return q, fmt.Errorf("--color takes three values r,g,b, got %d", len(o.color))
		}
		for _, c := range o.color {
			if c > 255 {
				return q, fmt.Errorf("--color components must be 0-255, got %d", c)
			}
		}
		q.ColorFilter = &engine.ColorFilter{
			Red:            uint8(o.color[0]),
			Green:          uint8(o.color[1]),
			Blue:           uint8(o.color[2]),
			CoverRatioFrom: o.coverFrom,
			CoverRatioTo:   o.coverTo,
			Difference:     o.difference,
		}
	}
	return q, nil
}

func printPage(out io.Writer, page engine.Page) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tMODIFIED\tSIZE\tDIMENSIONS\tTEXT")
	for _, img := range page.Images {
		text := ""
		if img.OCR != nil {
			text = "yes"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%dx%d\t%s\n",
			img.ID,
			humanize.Time(time.UnixMilli(img.MTime)),
			humanize.IBytes(uint64(img.Size)),
			img.Width, img.Height,
			text)
	}
	_ = tw.Flush()

	if page.Cursor != nil {
		fmt.Fprintf(out, "\nnext page: --before %d\n", *page.Cursor)
	}
}
