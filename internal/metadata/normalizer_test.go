package metadata

import "testing"

func TestNormalizeQuery(t *testing.T) {
	tests := []struct {
		name       string
		title      string
		artist     string
		wantTitle  string
		wantArtist string
	}{
		{
			name:       "tagged track is unchanged",
			title:      "Under Pressure",
			artist:     "Queen",
			wantTitle:  "Under Pressure",
			wantArtist: "Queen",
		},
		{
			name:       "official audio suffix",
			title:      "Karma Police (Official Audio)",
			artist:     "Radiohead",
			wantTitle:  "Karma Police",
			wantArtist: "Radiohead",
		},
		{
			name:       "bitrate suffix",
			title:      "Teardrop [320 kbps]",
			artist:     "Massive Attack",
			wantTitle:  "Teardrop",
			wantArtist: "Massive Attack",
		},
		{
			name:       "featured artist dropped",
			title:      "Stay (feat. Justin Bieber)",
			artist:     "The Kid LAROI",
			wantTitle:  "Stay",
			wantArtist: "The Kid LAROI",
		},
		{
			name:       "stacked suffixes",
			title:      "Teardrop (feat. Elizabeth Fraser) (Official Video) [HD]",
			artist:     "Massive Attack",
			wantTitle:  "Teardrop",
			wantArtist: "Massive Attack",
		},
		{
			name:       "VEVO channel name",
			title:      "Roads",
			artist:     "PortisheadVEVO",
			wantTitle:  "Roads",
			wantArtist: "Portishead",
		},
		{
			name:       "underscores in file name",
			title:      "Glory_Box",
			artist:     "Portishead",
			wantTitle:  "Glory Box",
			wantArtist: "Portishead",
		},
		{
			name:       "base name with artist",
			title:      "Massive Attack - Angel",
			wantTitle:  "Angel",
			wantArtist: "Massive Attack",
		},
		{
			name:       "base name with track number",
			title:      "07 - Portishead - Sour Times",
			wantTitle:  "Sour Times",
			wantArtist: "Portishead",
		},
		{
			name:       "base name with disc and track",
			title:      "2-05. Pink Floyd - Time",
			wantTitle:  "Time",
			wantArtist: "Pink Floyd",
		},
		{
			name:       "en dash separator",
			title:      "Björk – Hyperballad",
			wantTitle:  "Hyperballad",
			wantArtist: "Björk",
		},
		{
			name:       "numeric title is not a track number",
			title:      "1979",
			wantTitle:  "1979",
			wantArtist: "",
		},
		{
			name:       "numeric title after artist",
			title:      "The Smashing Pumpkins - 1979",
			wantTitle:  "1979",
			wantArtist: "The Smashing Pumpkins",
		},
		{
			name:       "empty title",
			artist:     "Some Artist",
			wantTitle:  "",
			wantArtist: "Some Artist",
		},
		{
			name:       "decomposed unicode is composed",
			title:      "Cafe\u0301 del Mar",
			artist:     "Sigur Ro\u0301s",
			wantTitle:  "Caf\u00e9 del Mar",
			wantArtist: "Sigur R\u00f3s",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeQuery(tt.title, tt.artist)
			if got.Title != tt.wantTitle {
				t.Errorf("title = %q, want %q", got.Title, tt.wantTitle)
			}
			if got.Artist != tt.wantArtist {
				t.Errorf("artist = %q, want %q", got.Artist, tt.wantArtist)
			}
		})
	}
}
