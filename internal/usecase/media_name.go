package usecase

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

const (
	mediaKindMovie  = "movie"
	mediaKindSeries = "series"
)

type parsedMediaName struct {
	title   string
	kind    string
	season  int
	episode int
	year    int
}

var (
	seriesPatternSxE = regexp.MustCompile(`(?i)\bS(\d{1,2})[ ._-]*E(\d{1,3})\b`)
	seriesPatternX   = regexp.MustCompile(`(?i)\b(\d{1,2})x(\d{1,3})\b`)
	episodePattern   = regexp.MustCompile(`(?i)\bE(?:P)?[ ._-]?(\d{1,3})\b`)
	seasonPattern    = regexp.MustCompile(`(?i)\b(?:season|s)[ ._-]?(\d{1,2})\b`)
	yearPattern      = regexp.MustCompile(`\b(19\d{2}|20\d{2})\b`)
	noiseToken       = regexp.MustCompile(`(?i)\b(480p|720p|1080p|2160p|x264|x265|h264|h265|hevc|bluray|bdrip|web[- ]?dl|webrip|dvdrip|hdrip|aac|ac3|dts|proper|repack|remux|extended|10bit|8bit)\b`)
	separatorPattern = regexp.MustCompile(`[._]+`)
	spacePattern     = regexp.MustCompile(`\s+`)
)

// parseMediaName extracts a display title and episode numbering from a
// root-relative media path such as "Show/Season 2/show.s02e05.720p.mkv".
func parseMediaName(relPath string) parsedMediaName {
	base := filepath.Base(relPath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))

	parsed := parsedMediaName{title: normalizeMediaName(stem), kind: mediaKindMovie}
	if parsed.title == "" {
		parsed.title = stem
	}
	if m := yearPattern.FindStringSubmatch(stem); len(m) == 2 {
		parsed.year, _ = strconv.Atoi(m[1])
	}

	if m := seriesPatternSxE.FindStringSubmatch(stem); len(m) == 3 {
		parsed.kind = mediaKindSeries
		parsed.season, _ = strconv.Atoi(m[1])
		parsed.episode, _ = strconv.Atoi(m[2])
		return parsed
	}
	if m := seriesPatternX.FindStringSubmatch(stem); len(m) == 3 {
		parsed.kind = mediaKindSeries
		parsed.season, _ = strconv.Atoi(m[1])
		parsed.episode, _ = strconv.Atoi(m[2])
		return parsed
	}
	if m := episodePattern.FindStringSubmatch(stem); len(m) == 2 {
		parsed.kind = mediaKindSeries
		parsed.episode, _ = strconv.Atoi(m[1])
		parsed.season = seasonFromPath(relPath)
	}
	return parsed
}

func seasonFromPath(path string) int {
	normalized := separatorPattern.ReplaceAllString(filepath.ToSlash(path), " ")
	if m := seasonPattern.FindStringSubmatch(normalized); len(m) == 2 {
		if season, err := strconv.Atoi(m[1]); err == nil {
			return season
		}
	}
	return 0
}

func normalizeMediaName(name string) string {
	out := separatorPattern.ReplaceAllString(name, " ")
	out = noiseToken.ReplaceAllString(out, " ")
	return strings.TrimSpace(spacePattern.ReplaceAllString(out, " "))
}
