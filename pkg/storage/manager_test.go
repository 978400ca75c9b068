package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"vkharvest/pkg/models"
)

func TestManager(t *testing.T) {
	tempDir := t.TempDir()

	manager, err := NewManager(tempDir, "users.csv", "posts.csv")
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}

	profiles, posts, err := manager.ExistingIDs()
	if err != nil {
		t.Fatalf("ExistingIDs: %v", err)
	}
	if len(profiles) != 0 || len(posts) != 0 {
		t.Errorf("Expected empty files, got %v %v", profiles, posts)
	}

	post := models.PostRecord{ID: 5, OwnerID: -10, FromID: 1, Text: "hi", Timestamp: 100, CommentCount: 2}
	if err := manager.AppendPost(post); err != nil {
		t.Fatalf("Append post: %v", err)
	}
	profile := models.ProfileRecord{ID: 42, Domain: "durov", FirstName: "Pavel"}
	if err := manager.AppendProfile(profile); err != nil {
		t.Fatalf("Append profile: %v", err)
	}
	if err := manager.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	content, err := os.ReadFile(filepath.Join(tempDir, "posts.csv"))
	if err != nil {
		t.Fatalf("Failed to read posts: %v", err)
	}
	want := "id,text,from_id,owner_id,timestamp,comment_count,reposted_text\n5,hi,1,-10,100,2,\n"
	if string(content) != want {
		t.Errorf("posts.csv = %q, want %q", content, want)
	}

	// Reopening must not rewrite the header and must find the written ids
	manager2, err := NewManager(tempDir, "users.csv", "posts.csv")
	if err != nil {
		t.Fatalf("Failed to reopen manager: %v", err)
	}
	defer manager2.Close()

	profiles, posts, err = manager2.ExistingIDs()
	if err != nil {
		t.Fatalf("ExistingIDs: %v", err)
	}
	if len(profiles) != 1 || profiles[0] != "42" {
		t.Errorf("profiles = %v", profiles)
	}
	if len(posts) != 1 || posts[0] != "-10_5" {
		t.Errorf("posts = %v", posts)
	}

	content, _ = os.ReadFile(filepath.Join(tempDir, "posts.csv"))
	if strings.Count(string(content), "owner_id") != 1 {
		t.Error("header was written twice")
	}
}

func TestManagerRejectsForeignFile(t *testing.T) {
	tempDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tempDir, "posts.csv"), []byte("a,b,c\n"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := NewManager(tempDir, "users.csv", "posts.csv"); err == nil {
		t.Error("Expected error for a file with a different header")
	}
}
