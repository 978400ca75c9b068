package crawler

import (
	"regexp"
	"strconv"
	"strings"

	"vkharvest/pkg/models"
	"vkharvest/pkg/vk"
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// NormalizeText collapses every whitespace run to one space and trims the ends
func NormalizeText(s string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(s, " "))
}

// RepostedText returns the normalized text of the last copy history entry,
// which is the original post of a repost chain. ok reports whether that
// entry carries any text at all, even text that normalizes to nothing.
func RepostedText(history []vk.Repost) (text string, ok bool) {
	if len(history) == 0 || history[len(history)-1].Text == "" {
		return "", false
	}
	return NormalizeText(history[len(history)-1].Text), true
}

// PostRecord converts a wall item. It returns false when the item has
// no text of its own and its repost chain carries no text.
func PostRecord(p vk.Post) (models.PostRecord, bool) {
	reposted, hasRepost := RepostedText(p.CopyHistory)
	rec := models.PostRecord{
		ID:           p.ID,
		OwnerID:      p.OwnerID,
		FromID:       p.FromID,
		Text:         NormalizeText(p.Text),
		Timestamp:    p.Date,
		CommentCount: p.CommentCount(),
		RepostedText: reposted,
	}
	if rec.Text == "" && !hasRepost {
		return rec, false
	}
	return rec, true
}

// ProfileRecord converts a users.get item
func ProfileRecord(u vk.User) models.ProfileRecord {
	return models.ProfileRecord{
		ID:        u.ID,
		Domain:    u.Domain,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Status:    u.Status,
		About:     u.About,
	}
}

// profileCandidates returns the sources users.get can resolve. Community
// ids are negative and have no profile.
func profileCandidates(sources []models.Source) []string {
	var ids []string
	for _, src := range sources {
		if n, err := strconv.ParseInt(src.ID, 10, 64); err == nil && n < 0 {
			continue
		}
		ids = append(ids, src.ID)
	}
	return ids
}

// chunk splits ids into slices of at most size
func chunk(ids []string, size int) [][]string {
	if size <= 0 {
		size = len(ids)
	}
	var out [][]string
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		out = append(out, ids[start:end])
	}
	return out
}
