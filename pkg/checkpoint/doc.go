// Package checkpoint persists crawl state between runs.
//
// Each value is stored in its own JSON file named after its key
// (posts_id.json, users_id.json, offset_list.json) inside a versioned
// envelope. Saves write a temporary file, fsync it and rename it over
// the target, so a reader only ever sees a complete old or complete new
// value.
//
// Offsets are restored positionally against the configured source list:
// missing entries start at zero and surplus entries are ignored.
//
// When no directory is given, files live in the platform data directory:
//   - Linux: ~/.local/share/vkharvest/
//   - macOS: ~/Library/Application Support/vkharvest/
//   - Windows: %APPDATA%/vkharvest/
package checkpoint
