package auth

import (
	"fmt"
	"io"
	"strings"
)

// ShowTokenGuide explains how to obtain a VK access token
func ShowTokenGuide(w io.Writer) {
	fmt.Fprintln(w, strings.Repeat("=", 72))
	fmt.Fprintln(w, "VK ACCESS TOKEN")
	fmt.Fprintln(w, strings.Repeat("=", 72))
	fmt.Fprintln(w)
	fmt.Fprintln(w, "wall.get and users.get need a user or service access token.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Service token (public walls only):")
	fmt.Fprintln(w, "  1. Open https://vk.com/apps?act=manage and create a standalone app")
	fmt.Fprintln(w, "  2. Settings -> copy the \"Service token\"")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "User token (walls visible to your account):")
	fmt.Fprintln(w, "  1. Open, with your app id as CLIENT_ID:")
	fmt.Fprintln(w, "     https://oauth.vk.com/authorize?client_id=CLIENT_ID&scope=wall,offline&response_type=token&redirect_uri=https://oauth.vk.com/blank.html")
	fmt.Fprintln(w, "  2. Approve, then copy access_token=... from the address bar")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "The token grants access to your account. Do not share it.")
	fmt.Fprintln(w, strings.Repeat("=", 72))
}
