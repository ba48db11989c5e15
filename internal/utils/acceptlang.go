package utils

import (
	"sort"
	"strconv"
	"strings"
)

type langCandidate struct {
	lang string
	q    float64
}

// DetermineLocale picks the locale for a request: an explicit query value wins,
// then the highest weighted Accept-Language entry we support, then def.
// Regional tags fall back to their base language (zh-CN -> zh).
func DetermineLocale(queryLang, acceptLang string, supported []string, def string) string {
	sup := make(map[string]struct{}, len(supported))
	for _, s := range supported {
		sup[strings.ToLower(s)] = struct{}{}
	}
	pick := func(lang string) (string, bool) {
		l := strings.ToLower(strings.TrimSpace(lang))
		if l == "" {
			return "", false
		}
		if _, ok := sup[l]; ok {
			return l, true
		}
		if base, _, found := strings.Cut(l, "-"); found {
			if _, ok := sup[base]; ok {
				return base, true
			}
		}
		return "", false
	}

	if v, ok := pick(queryLang); ok {
		return v
	}
	if cands := parseAcceptLanguage(acceptLang, pick); len(cands) > 0 {
		return cands[0].lang
	}
	if v, ok := pick(def); ok {
		return v
	}
	if len(supported) > 0 {
		return strings.ToLower(supported[0])
	}
	return "en"
}

// parseAcceptLanguage returns supported entries ordered by q, dropping q=0 and
// malformed weights.
func parseAcceptLanguage(header string, pick func(string) (string, bool)) []langCandidate {
	var cands []langCandidate
	for _, part := range strings.Split(header, ",") {
		tag, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		q := 1.0
		for _, p := range strings.Split(params, ";") {
			k, v, ok := strings.Cut(strings.TrimSpace(p), "=")
			if !ok || strings.TrimSpace(k) != "q" {
				continue
			}
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil || f < 0 || f > 1 {
				q = 0
				break
			}
			q = f
		}
		if q == 0 {
			continue
		}
		if l, ok := pick(tag); ok {
			cands = append(cands, langCandidate{lang: l, q: q})
		}
	}
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].q > cands[j].q })
	return cands
}
