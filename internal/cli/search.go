package cli

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/gosuri/uitable"
	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"otakushelf/internal/anilist"
)

var errNoPick = errors.New("nothing picked")

func addSearch(topLevel *cobra.Command, a *app) {
	var (
		filters anilist.SearchFilters
		addTo   string
	)

	cmd := &cobra.Command{
		Use:   "search [title...]",
		Short: "Search AniList for titles to add",
		Example: `
otakushelf search frieren
otakushelf search --genre Horror --format movie --min-score 7.5
otakushelf search one piece --add watching
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := a.catalog()
			if err != nil {
				return err
			}
			defer catalog.Close()

			page, err := catalog.Search(cmd.Context(), strings.Join(args, " "), filters)
			if err != nil {
				return err
			}
			if len(page.Hits) == 0 {
				fmt.Fprintln(a.out, faint.Sprint("no matches"))
				return nil
			}

			if addTo == "" {
				printHits(a.out, page)
				return nil
			}
			c, err := categoryArg(addTo)
			if err != nil {
				return err
			}
			hit, err := a.pickHit(page.Hits)
			if err != nil {
				return err
			}
			return a.addToList(cmd.Context(), hit.ExternalID, c)
		},
	}
	cmd.Flags().StringSliceVar(&filters.Genres, "genre", nil, "only these genres")
	cmd.Flags().StringSliceVar(&filters.Formats, "format", nil, "tv, movie, ova, ona, special")
	cmd.Flags().StringSliceVar(&filters.Statuses, "status", []string{"FINISHED", "RELEASING"}, "finished, releasing, not_yet_released")
	cmd.Flags().Float64Var(&filters.MinScore, "min-score", 0, "minimum average score out of 10")
	cmd.Flags().IntVar(&filters.Page, "page", 1, "result page")
	cmd.Flags().StringVar(&addTo, "add", "", "pick a result and add it to this list")

	topLevel.AddCommand(cmd)
}

func hitEpisodes(h anilist.Hit) string {
	if !h.EpisodesKnown() {
		return "?"
	}
	return strconv.Itoa(h.Episodes)
}

func printHits(w io.Writer, page *anilist.SearchPage) {
	tbl := uitable.New()
	tbl.Separator = "  "
	tbl.MaxColWidth = 48
	for _, h := range page.Hits {
		score := ""
		if h.AverageScore > 0 {
			score = fmt.Sprintf("%.0f%%", h.AverageScore)
		}
		tbl.AddRow(idColor.Sprint(h.ExternalID), h.Title, h.Format, hitEpisodes(h), faint.Sprint(score))
	}
	fmt.Fprintln(w, tbl)
	if page.HasNext {
		fmt.Fprintln(w, faint.Sprintf("page %d of %d, more with --page %d", page.Page, page.LastPage, page.Page+1))
	}
	fmt.Fprintln(w, faint.Sprint("add one with: otakushelf add <id> <list>"))
}

// pickHit lets the user choose a result: a select list on a terminal, a
// numbered menu otherwise.
func (a *app) pickHit(hits []anilist.Hit) (anilist.Hit, error) {
	labels := make([]string, len(hits))
	for i, h := range hits {
		labels[i] = fmt.Sprintf("%s (%s, %s eps)", h.Title, h.Format, hitEpisodes(h))
	}

	if a.tty {
		sel := promptui.Select{
			Label: "Add which title",
			Items: labels,
			Size:  10,
			Searcher: func(input string, i int) bool {
				return strings.Contains(strings.ToLower(labels[i]), strings.ToLower(strings.TrimSpace(input)))
			},
		}
		i, _, err := sel.Run()
		if err != nil {
			return anilist.Hit{}, err
		}
		return hits[i], nil
	}

	for i, l := range labels {
		fmt.Fprintf(a.out, "%s %s\n", color.CyanString("%2d)", i+1), l)
	}
	answer, err := a.ask("Number", false)
	if err != nil {
		return anilist.Hit{}, err
	}
	n, err := strconv.Atoi(answer)
	if err != nil || n < 1 || n > len(hits) {
		return anilist.Hit{}, fmt.Errorf("%w: %q is not a listed number", errNoPick, answer)
	}
	return hits[n-1], nil
}
