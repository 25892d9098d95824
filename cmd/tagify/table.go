package main

import (
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"tagify/internal/metadata"
)

func renderTable(headers []string, rows [][]string, rightAligned ...int) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, len(headers))
	for i, h := range headers {
		header[i] = h
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, len(headers))
		for i := range headers {
			if i < len(row) {
				r[i] = row[i]
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, len(rightAligned))
	for _, col := range rightAligned {
		configs = append(configs, table.ColumnConfig{
			Number:      col + 1,
			Align:       text.AlignRight,
			AlignHeader: text.AlignRight,
		})
	}
	tw.SetColumnConfigs(configs)

	return tw.Render()
}

func candidateTable(cands []metadata.Candidate) string {
	rows := make([][]string, len(cands))
	for i, c := range cands {
		rows[i] = []string{
			strconv.Itoa(i + 1),
			c.Kind.String(),
			c.Artist,
			c.Title,
			c.Album,
			c.Date,
			metadata.FormatNumberPair(atoi(c.TrackPos), atoi(c.TrackCount)),
		}
	}
	return renderTable([]string{"#", "Source", "Artist", "Title", "Album", "Date", "Track"}, rows, 0)
}

func trackTable(tracks []metadata.Track) string {
	rows := make([][]string, len(tracks))
	for i, t := range tracks {
		complete := "yes"
		if !t.HasRequiredTag {
			complete = "no"
		}
		rows[i] = []string{
			strconv.FormatInt(t.ID, 10),
			t.Artist,
			t.Title,
			t.Album,
			complete,
			t.Path,
		}
	}
	return renderTable([]string{"ID", "Artist", "Title", "Album", "Complete", "Path"}, rows, 0)
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
