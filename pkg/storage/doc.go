// Package storage provides the append-only CSV output of vkharvest.
//
// A Sink is one CSV file with a fixed header:
//   - a missing file is created with its header via a temporary file and rename
//   - an existing file is never overwritten, only appended to
//   - a final row cut short by a crash is truncated before appending resumes
//   - Flush pushes buffered rows to the OS and fsyncs the file
//
// Manager pairs the profile and post sinks of one data directory and can
// scan them for identifiers already written, which the crawler merges into
// its seen sets on startup.
//
// Usage:
//
//	mgr, err := storage.NewManager("./data", "users.csv", "posts.csv")
//	if err != nil {
//	    return err
//	}
//	defer mgr.Close()
//
//	if err := mgr.Posts().Append(post.Row()); err != nil {
//	    return err
//	}
//	return mgr.Flush()
package storage
