package vk

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// envelope is the top level of every API response
type envelope struct {
	Response json.RawMessage `json:"response"`
	Error    *APIError       `json:"error"`
}

// APIError is the error object returned in place of a response
type APIError struct {
	Code       int        `json:"error_code"`
	Message    string     `json:"error_msg"`
	CaptchaSID FlexString `json:"captcha_sid"`
	CaptchaImg string     `json:"captcha_img"`
}

func (e *APIError) Error() string {
	return "vk api error " + strconv.Itoa(e.Code) + ": " + e.Message
}

// FlexString accepts a JSON string or number
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = FlexString(n.String())
	return nil
}

// User is one element of a users.get response
type User struct {
	ID        int64  `json:"id"`
	Domain    string `json:"domain"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Status    string `json:"status"`
	About     string `json:"about"`
}

// WallPage is the payload of a wall.get response
type WallPage struct {
	Count int    `json:"count"`
	Items []Post `json:"items"`
}

// wallPayload keeps items raw so a missing key can be told apart from an empty list
type wallPayload struct {
	Count int             `json:"count"`
	Items json.RawMessage `json:"items"`
}

// Post is one wall item
type Post struct {
	ID          int64    `json:"id"`
	OwnerID     int64    `json:"owner_id"`
	FromID      int64    `json:"from_id"`
	Date        int64    `json:"date"`
	Text        string   `json:"text"`
	Comments    *Counter `json:"comments"`
	CopyHistory []Repost `json:"copy_history"`
}

// Counter wraps count objects such as comments
type Counter struct {
	Count int `json:"count"`
}

// Repost is an entry of a post's copy history
type Repost struct {
	ID      int64  `json:"id"`
	OwnerID int64  `json:"owner_id"`
	FromID  int64  `json:"from_id"`
	Text    string `json:"text"`
}

// CommentCount returns the number of comments, zero when absent
func (p Post) CommentCount() int {
	if p.Comments == nil {
		return 0
	}
	return p.Comments.Count
}
