package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/gosuri/uitable"

	"otakushelf/internal/present"
	"otakushelf/pkg/models"
)

const shortIDLen = 8

var (
	heading = color.New(color.Bold, color.Underline)
	faint   = color.New(color.Faint)
	idColor = color.New(color.FgHiYellow, color.Faint)
)

func shortID(id string) string {
	if len(id) > shortIDLen {
		return id[:shortIDLen]
	}
	return id
}

func episodes(e models.AnimeEntry) string {
	if !e.EpisodesKnown() {
		return strconv.Itoa(e.EpisodesWatched) + "/?"
	}
	return fmt.Sprintf("%d/%d", e.EpisodesWatched, e.TotalEpisodes)
}

func stars(n int) string {
	if n <= 0 {
		return faint.Sprint("unrated")
	}
	return strings.Repeat("★", n) + strings.Repeat("☆", 5-n)
}

func categoryTitle(c models.Category, count int) string {
	noun := "entries"
	if count == 1 {
		noun = "entry"
	}
	return heading.Sprint(strings.ToUpper(string(c[:1]))+string(c[1:])) + faint.Sprintf(" - %d %s", count, noun)
}

func entryTable(entries []models.AnimeEntry, c models.Category) *uitable.Table {
	tbl := uitable.New()
	tbl.Separator = "  "
	tbl.MaxColWidth = 48
	for _, e := range entries {
		date := present.UnknownDate
		if t, ok := present.EffectiveDate(e, c); ok {
			date = t.Format(time.DateOnly)
		}
		tbl.AddRow(idColor.Sprint(shortID(e.ID)), e.Title, episodes(e), stars(e.UserRating), faint.Sprint(date))
	}
	return tbl
}

func printFlat(w io.Writer, c models.Category, entries []models.AnimeEntry) {
	fmt.Fprintln(w, categoryTitle(c, len(entries)))
	if len(entries) == 0 {
		fmt.Fprintln(w, faint.Sprint("  none"))
		fmt.Fprintln(w)
		return
	}
	fmt.Fprintln(w, entryTable(entries, c))
	fmt.Fprintln(w)
}

func printGrouped(w io.Writer, c models.Category, groups []present.Group) {
	total := 0
	for _, g := range groups {
		total += len(g.Entries)
	}
	fmt.Fprintln(w, categoryTitle(c, total))
	if total == 0 {
		fmt.Fprintln(w, faint.Sprint("  none"))
		fmt.Fprintln(w)
		return
	}
	for _, g := range groups {
		fmt.Fprintln(w, color.New(color.FgCyan).Sprint(g.Key))
		fmt.Fprintln(w, entryTable(g.Entries, c))
	}
	fmt.Fprintln(w)
}

func printDetails(w io.Writer, d models.EntryDetails) {
	e := d.Entry
	tbl := uitable.New()
	tbl.Separator = "  "
	tbl.Wrap = true
	tbl.MaxColWidth = 72

	bold := color.New(color.Bold)
	row := func(k string, v any) { tbl.AddRow(bold.Sprint(k), v) }

	row("Title", e.Title)
	row("ID", e.ID)
	row("List", string(d.Category))
	row("Episodes", episodes(e))
	row("Rating", stars(e.UserRating))
	if !e.AddedDate.IsZero() {
		row("Added", e.AddedDate.Format(time.DateOnly))
	}
	if !e.FinishDate.IsZero() {
		row("Finished", e.FinishDate.Format(time.DateOnly))
	}
	if len(e.Genres) > 0 {
		row("Genres", strings.Join(e.Genres, ", "))
	}

	if x := d.Details; x != nil {
		if x.Format != "" {
			row("Format", x.Format)
		}
		if x.Status != "" {
			row("Airing", x.Status)
		}
		if x.AverageScore > 0 {
			row("Score", fmt.Sprintf("%.0f%%", x.AverageScore))
		}
		if len(x.Studios) > 0 {
			row("Studios", strings.Join(x.Studios, ", "))
		}
		if x.Trailer != nil && x.Trailer.URL() != "" {
			row("Trailer", x.Trailer.URL())
		}
		for _, r := range x.Relations {
			row(strings.ToLower(strings.ReplaceAll(r.Type, "_", " ")), r.Title)
		}
		if x.Synopsis != "" {
			row("Synopsis", x.Synopsis)
		}
	} else if e.ExternalID > 0 || e.MalID > 0 {
		row("Details", faint.Sprint("metadata unavailable"))
	}

	fmt.Fprintln(w, tbl)
}

func printProgress(w io.Writer, st models.ImportJobState) {
	switch {
	case st.Error != "":
		fmt.Fprintln(w, color.RedString("import failed: %s", st.Error))
	case st.Completed:
		fmt.Fprintln(w, color.GreenString("import complete"))
	case st.Total > 0:
		fmt.Fprintf(w, "importing %d/%d\n", st.Current, st.Total)
	default:
		fmt.Fprintln(w, faint.Sprint("importing..."))
	}
}
