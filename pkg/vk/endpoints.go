package vk

import (
	"net/url"
	"strconv"
	"strings"

	"vkharvest/pkg/models"
)

const (
	// BaseURL is the VK API method root
	BaseURL = "https://api.vk.com/method"

	// MethodUsersGet returns profile information
	MethodUsersGet = "users.get"

	// MethodWallGet returns a page of wall posts
	MethodWallGet = "wall.get"

	// ProfileFields are the optional users.get fields requested
	ProfileFields = "domain,status,about"

	// MaxPageSize is the largest page wall.get serves
	MaxPageSize = 100

	// MaxProfileIDs is the largest id list users.get accepts
	MaxProfileIDs = 1000
)

// ProfileParams builds users.get parameters
func ProfileParams(ids []string) url.Values {
	params := url.Values{}
	params.Set("user_ids", strings.Join(ids, ","))
	params.Set("fields", ProfileFields)
	return params
}

// WallParams builds wall.get parameters. Numeric sources are sent as
// owner_id, screen names as domain. count is clamped to [1, MaxPageSize].
func WallParams(sourceID string, offset, count int) url.Values {
	if count <= 0 || count > MaxPageSize {
		count = MaxPageSize
	}

	params := url.Values{}
	if IsNumericSource(sourceID) {
		params.Set("owner_id", sourceID)
	} else {
		params.Set("domain", sourceID)
	}
	params.Set("offset", strconv.Itoa(offset))
	params.Set("count", strconv.Itoa(count))
	return params
}

// IsNumericSource reports whether id is a user or community id such as
// "1" or "-1" rather than a screen name
func IsNumericSource(id string) bool {
	_, err := strconv.ParseInt(id, 10, 64)
	return err == nil
}

// SanitizeSource trims whitespace, a leading @ and a vk.com URL prefix
func SanitizeSource(id string) string {
	return models.SanitizeSourceID(id)
}
