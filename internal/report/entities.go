package report

import (
	"regexp"
	"strings"

	"socialwatch/internal/fetch"
	"socialwatch/internal/storage"
)

var (
	reHashtag = regexp.MustCompile(`#[\p{L}\p{N}_]+`)
	reMention = regexp.MustCompile(`(?:^|[^\w])(@[A-Za-z0-9_]{1,15})`)
	reURL     = regexp.MustCompile(`https?://[^\s<>"')\]]+`)
)

// ExtractEntities collects item ids plus unique hashtags, mentions and urls.
func ExtractEntities(items []fetch.Item) storage.Entities {
	var out storage.Entities
	seen := map[string]struct{}{}
	add := func(dst *[]string, kind, v string) {
		key := kind + "\x00" + strings.ToLower(v)
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		*dst = append(*dst, v)
	}
	for _, it := range items {
		add(&out.IDs, "id", it.ID)
		text := it.Title + "\n" + it.Text
		for _, h := range reHashtag.FindAllString(text, -1) {
			add(&out.Hashtags, "tag", h)
		}
		for _, m := range reMention.FindAllStringSubmatch(text, -1) {
			add(&out.Mentions, "at", m[1])
		}
		for _, u := range reURL.FindAllString(text, -1) {
			add(&out.URLs, "url", strings.TrimRight(u, ".,;:!?"))
		}
	}
	return out
}
