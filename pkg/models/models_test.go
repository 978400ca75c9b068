package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPostRecordRowMatchesHeader(t *testing.T) {
	p := PostRecord{
		ID:           7,
		OwnerID:      -42,
		FromID:       99,
		Text:         "hello world",
		Timestamp:    1700000000,
		CommentCount: 3,
		RepostedText: "original",
	}

	row := p.Row()
	assert.Len(t, row, len(PostHeader))
	assert.Equal(t, []string{"7", "hello world", "99", "-42", "1700000000", "3", "original"}, row)
	assert.Equal(t, "-42_7", p.Key())

	key, ok := PostKeyFromRow(row)
	assert.True(t, ok)
	assert.Equal(t, p.Key(), key)
}

func TestProfileRecordRowMatchesHeader(t *testing.T) {
	p := ProfileRecord{ID: 1, Domain: "durov", FirstName: "Pavel", LastName: "Durov"}

	row := p.Row()
	assert.Len(t, row, len(ProfileHeader))
	assert.Equal(t, "1", row[0])
	assert.Equal(t, "durov", row[1])

	key, ok := ProfileKeyFromRow(row)
	assert.True(t, ok)
	assert.Equal(t, p.Key(), key)
}

func TestKeyFromShortRows(t *testing.T) {
	_, ok := PostKeyFromRow([]string{"1", "text"})
	assert.False(t, ok)

	_, ok = ProfileKeyFromRow(nil)
	assert.False(t, ok)
}

func TestChallengeAnswered(t *testing.T) {
	var nilChallenge *Challenge
	assert.False(t, nilChallenge.Answered())
	assert.False(t, (&Challenge{SID: "1"}).Answered())
	assert.True(t, (&Challenge{SID: "1", Solution: "abc"}).Answered())
}

func TestSanitizeSourceID(t *testing.T) {
	assert.Equal(t, "durov", SanitizeSourceID(" @durov "))
	assert.Equal(t, "Durov", SanitizeSourceID("http://vk.com/Durov/"))
	assert.Equal(t, "", SanitizeSourceID("@"))
}
