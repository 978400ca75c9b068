package models

import (
	"strconv"
	"strings"
)

// ProfileHeader is the column order of the profile CSV file
var ProfileHeader = []string{"id", "domain", "first_name", "last_name", "status", "about"}

// PostHeader is the column order of the post CSV file
var PostHeader = []string{"id", "text", "from_id", "owner_id", "timestamp", "comment_count", "reposted_text"}

// Source is one configured wall to crawl and its pagination cursor
type Source struct {
	ID     string `json:"id"`
	Offset int    `json:"offset"`
}

// SanitizeSourceID trims whitespace, a leading @ and a vk.com URL prefix
// from a configured source identifier
func SanitizeSourceID(id string) string {
	id = strings.TrimSpace(id)
	for _, prefix := range []string{"https://vk.com/", "http://vk.com/", "vk.com/", "@"} {
		id = strings.TrimPrefix(id, prefix)
	}
	return strings.TrimRight(id, "/ ")
}

// ProfileRecord is one harvested user profile
type ProfileRecord struct {
	ID        int64  `json:"id"`
	Domain    string `json:"domain"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Status    string `json:"status"`
	About     string `json:"about"`
}

// Key returns the identifier used for deduplication
func (p ProfileRecord) Key() string {
	return strconv.FormatInt(p.ID, 10)
}

// Row renders the record in ProfileHeader order
func (p ProfileRecord) Row() []string {
	return []string{
		strconv.FormatInt(p.ID, 10),
		p.Domain,
		p.FirstName,
		p.LastName,
		p.Status,
		p.About,
	}
}

// PostRecord is one harvested wall post
type PostRecord struct {
	ID           int64  `json:"id"`
	OwnerID      int64  `json:"owner_id"`
	FromID       int64  `json:"from_id"`
	Text         string `json:"text"`
	Timestamp    int64  `json:"timestamp"`
	CommentCount int    `json:"comment_count"`
	RepostedText string `json:"reposted_text"`
}

// Key returns the composite "<owner_id>_<id>" identifier
func (p PostRecord) Key() string {
	return PostKey(p.OwnerID, p.ID)
}

// Row renders the record in PostHeader order
func (p PostRecord) Row() []string {
	return []string{
		strconv.FormatInt(p.ID, 10),
		p.Text,
		strconv.FormatInt(p.FromID, 10),
		strconv.FormatInt(p.OwnerID, 10),
		strconv.FormatInt(p.Timestamp, 10),
		strconv.Itoa(p.CommentCount),
		p.RepostedText,
	}
}

// PostKey builds the composite post identifier
func PostKey(ownerID, id int64) string {
	return strconv.FormatInt(ownerID, 10) + "_" + strconv.FormatInt(id, 10)
}

// PostKeyFromRow rebuilds the composite identifier from a CSV row in
// PostHeader order. It returns false for rows that are too short.
func PostKeyFromRow(row []string) (string, bool) {
	if len(row) < 4 || row[0] == "" || row[3] == "" {
		return "", false
	}
	return row[3] + "_" + row[0], true
}

// ProfileKeyFromRow extracts the profile identifier from a CSV row
func ProfileKeyFromRow(row []string) (string, bool) {
	if len(row) < 1 || row[0] == "" {
		return "", false
	}
	return row[0], true
}

// Challenge is a pending captcha issued by the API.
// Solution is empty until an operator answers it.
type Challenge struct {
	SID      string `json:"sid"`
	ImageURL string `json:"image_url"`
	Solution string `json:"-"`
}

// Answered reports whether the challenge can be attached to a request
func (c *Challenge) Answered() bool {
	return c != nil && c.SID != "" && c.Solution != ""
}
