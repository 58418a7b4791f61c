package mal

import (
	"bytes"
	"compress/gzip"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"otakushelf/internal/normalize"
	"otakushelf/pkg/models"
)

const sampleExport = `<?xml version="1.0" encoding="UTF-8" ?>
<!--
 Created by XML Export feature at MyAnimeList.net
-->
<myanimelist>
	<myinfo>
		<user_id>1</user_id>
		<user_name>shelfuser</user_name>
		<user_export_type>1</user_export_type>
	</myinfo>
	<anime>
		<series_animedb_id>5114</series_animedb_id>
		<series_title><![CDATA[Fullmetal Alchemist: Brotherhood]]></series_title>
		<series_type>TV</series_type>
		<series_episodes>64</series_episodes>
		<my_watched_episodes>64</my_watched_episodes>
		<my_start_date>2023-01-10</my_start_date>
		<my_finish_date>2023-02-01</my_finish_date>
		<my_score>10</my_score>
		<my_status>Completed</my_status>
	</anime>
	<anime>
		<series_animedb_id>52991</series_animedb_id>
		<series_title><![CDATA[Sousou no Frieren]]></series_title>
		<series_episodes>0</series_episodes>
		<my_watched_episodes>3</my_watched_episodes>
		<my_start_date>0000-00-00</my_start_date>
		<my_score>0</my_score>
		<my_status>On-Hold</my_status>
	</anime>
</myanimelist>`

func TestParse(t *testing.T) {
	exp, err := Parse(strings.NewReader(sampleExport))
	require.NoError(t, err)

	assert.Equal(t, "shelfuser", exp.User)
	require.Len(t, exp.Records, 2)
	assert.Equal(t, 5114, exp.Records[0].AnimeID())
	assert.Equal(t, "Fullmetal Alchemist: Brotherhood", exp.Records[0].Title())
	assert.Equal(t, "On-Hold", exp.Records[1].Get("my_status"))
}

func TestParseGzip(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(sampleExport))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	exp, err := Parse(&buf)
	require.NoError(t, err)
	assert.Len(t, exp.Records, 2)
}

func TestRecordsNormalize(t *testing.T) {
	exp, err := Parse(strings.NewReader(sampleExport))
	require.NoError(t, err)

	fma := normalize.Normalize(exp.Records[0].Raw())
	require.NotNil(t, fma)
	assert.Equal(t, models.Completed, fma.Status)
	assert.Equal(t, 64, fma.EpisodesWatched)
	assert.Equal(t, 5, fma.UserRating)

	frieren := normalize.Normalize(exp.Records[1].Raw())
	require.NotNil(t, frieren)
	assert.Equal(t, models.Watching, frieren.Status)
	assert.Equal(t, models.UnknownEpisodes, frieren.TotalEpisodes)
	assert.True(t, frieren.AddedDate.IsZero())
}

func TestParseRejectsInvalidDocuments(t *testing.T) {
	cases := map[string]string{
		"not xml":      "hello there",
		"wrong root":   "<html><body/></html>",
		"empty list":   "<myanimelist><myinfo><user_name>x</user_name></myinfo></myanimelist>",
		"manga export": "<myanimelist><manga><manga_mangadb_id>2</manga_mangadb_id></manga></myanimelist>",
		"truncated":    "<myanimelist><anime><series_animedb_id>1</series_animedb_id></anime>",
		"empty":        "",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(doc))
			assert.ErrorIs(t, err, ErrInvalidExport)
		})
	}
}
