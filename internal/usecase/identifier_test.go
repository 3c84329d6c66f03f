package usecase

import (
	"errors"
	"strings"
	"testing"

	"hyperstream/internal/domain"
)

func TestSlugify(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Big Buck Bunny", "big-buck-bunny"},
		{"Café Noir (2019).mkv", "cafe-noir-2019-mkv"},
		{"  --Hello__World--  ", "hello-world"},
		{"Amélie/Season 1", "amelie-season-1"},
		{"", ""},
		{"!!!", ""},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			if got := Slugify(tc.in); got != tc.want {
				t.Fatalf("Slugify(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestSlugifyCapsLength(t *testing.T) {
	got := Slugify(strings.Repeat("ab ", 100))
	if len(got) > maxSlugLen {
		t.Fatalf("len = %d, want <= %d", len(got), maxSlugLen)
	}
	if strings.HasSuffix(got, "-") {
		t.Fatalf("slug %q ends with dash", got)
	}
}

func TestNormalizeInfoHash(t *testing.T) {
	const hexHash = "c7f59a9da3b3615ca92e8587f1eed9903f098163"
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"lowercase hex", hexHash, hexHash, false},
		{"uppercase hex", strings.ToUpper(hexHash), hexHash, false},
		{"padded", "  " + hexHash + "\n", hexHash, false},
		{"base32", "Y72ZVHNDWNQVZKJOQWD7D3WZSA7QTALD", hexHash, false},
		{"base32 lowercase", "y72zvhndwnqvzkjoqwd7d3wzsa7qtald", hexHash, false},
		{"magnet", "magnet:?xt=urn:btih:" + strings.ToUpper(hexHash) + "&dn=x", hexHash, false},
		{"too short", "abc", "", true},
		{"non-hex 40", strings.Repeat("z", 40), "", true},
		{"empty", "", "", true},
		{"magnet without btih", "magnet:?dn=x", "", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NormalizeInfoHash(tc.in)
			if tc.wantErr {
				if !errors.Is(err, domain.ErrBadIdentifier) {
					t.Fatalf("err = %v, want ErrBadIdentifier", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NormalizeInfoHash: %v", err)
			}
			if got != tc.want {
				t.Fatalf("NormalizeInfoHash = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestBuildMagnet(t *testing.T) {
	got := BuildMagnet("c7f59a9da3b3615ca92e8587f1eed9903f098163", "Big Buck Bunny (2008)", DefaultTrackers())
	want := "magnet:?xt=urn:btih:c7f59a9da3b3615ca92e8587f1eed9903f098163" +
		"&dn=Big+Buck+Bunny+%282008%29" +
		"&tr=udp%3A%2F%2Fopen.demonii.com%3A1337%2Fannounce" +
		"&tr=udp%3A%2F%2Ftracker.openbittorrent.com%3A80"
	if got != want {
		t.Fatalf("BuildMagnet =\n%s\nwant\n%s", got, want)
	}

	bare := BuildMagnet("abc", "  ", []string{"", " "})
	if bare != "magnet:?xt=urn:btih:abc" {
		t.Fatalf("BuildMagnet bare = %q", bare)
	}
}

func TestDefaultTrackersIsCopy(t *testing.T) {
	tr := DefaultTrackers()
	tr[0] = "changed"
	if DefaultTrackers()[0] == "changed" {
		t.Fatal("DefaultTrackers must return a copy")
	}
}

func TestTorrentCacheName(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://yts.mx/torrent/download/C7F59A9DA3B3615CA92E", "c7f59a9da3b3615ca92e.torrent"},
		{"https://example.com/files/Big.Buck.Bunny.torrent", "big.torrent"},
		{"https://example.com/", "example-com.torrent"},
	}
	for _, tc := range tests {
		t.Run(tc.url, func(t *testing.T) {
			if got := torrentCacheName(tc.url); got != tc.want {
				t.Fatalf("torrentCacheName = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestLocalStreamID(t *testing.T) {
	id := localStreamID("Movies/Big Buck Bunny.mp4")
	if !strings.HasPrefix(id, "local-movies-big-buck-bunny-mp4-") || len(id) != len("local-movies-big-buck-bunny-mp4-")+8 {
		t.Fatalf("localStreamID = %q", id)
	}
	if again := localStreamID("Movies/Big Buck Bunny.mp4"); again != id {
		t.Fatalf("localStreamID not stable: %q vs %q", again, id)
	}
	if got := localStreamID("!!!"); !strings.HasPrefix(got, "local-file-") {
		t.Fatalf("localStreamID fallback = %q", got)
	}

	// Paths that slug alike must still get distinct ids.
	alike := [][2]string{
		{"Movie.mp4", "movie.mp4"},
		{"a b.mp4", "a-b.mp4"},
		{"x/y.mp4", "x-y.mp4"},
	}
	for _, pair := range alike {
		if Slugify(pair[0]) != Slugify(pair[1]) {
			t.Fatalf("%q and %q should slug alike", pair[0], pair[1])
		}
		if localStreamID(pair[0]) == localStreamID(pair[1]) {
			t.Fatalf("localStreamID(%q) == localStreamID(%q) = %q", pair[0], pair[1], localStreamID(pair[0]))
		}
	}
}
