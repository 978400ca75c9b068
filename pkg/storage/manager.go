package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"vkharvest/pkg/models"
)

// Manager owns the profile and post sinks of one data directory
type Manager struct {
	outputDir string
	profiles  *Sink
	posts     *Sink
}

// NewManager opens (creating if needed) both CSV files inside outputDir
func NewManager(outputDir, profilesFile, postsFile string) (*Manager, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	profiles, err := Open(filepath.Join(outputDir, profilesFile), models.ProfileHeader)
	if err != nil {
		return nil, fmt.Errorf("failed to open profile file: %w", err)
	}

	posts, err := Open(filepath.Join(outputDir, postsFile), models.PostHeader)
	if err != nil {
		profiles.Close()
		return nil, fmt.Errorf("failed to open post file: %w", err)
	}

	return &Manager{
		outputDir: outputDir,
		profiles:  profiles,
		posts:     posts,
	}, nil
}

// Profiles returns the profile sink
func (m *Manager) Profiles() *Sink {
	return m.profiles
}

// Posts returns the post sink
func (m *Manager) Posts() *Sink {
	return m.posts
}

// AppendProfile buffers one profile row
func (m *Manager) AppendProfile(p models.ProfileRecord) error {
	return m.profiles.Append(p.Row())
}

// AppendPost buffers one post row
func (m *Manager) AppendPost(p models.PostRecord) error {
	return m.posts.Append(p.Row())
}

// ExistingIDs scans both files for identifiers already written.
// It lets a run recover seen sets when the last checkpoint was lost.
func (m *Manager) ExistingIDs() (profileIDs, postIDs []string, err error) {
	err = m.profiles.ScanRows(func(row []string) {
		if id, ok := models.ProfileKeyFromRow(row); ok {
			profileIDs = append(profileIDs, id)
		}
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to scan profiles: %w", err)
	}

	err = m.posts.ScanRows(func(row []string) {
		if id, ok := models.PostKeyFromRow(row); ok {
			postIDs = append(postIDs, id)
		}
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to scan posts: %w", err)
	}

	return profileIDs, postIDs, nil
}

// Flush makes both files durable
func (m *Manager) Flush() error {
	return errors.Join(m.profiles.Flush(), m.posts.Flush())
}

// Close flushes and closes both files
func (m *Manager) Close() error {
	return errors.Join(m.profiles.Close(), m.posts.Close())
}

// GetOutputDir returns the output directory path
func (m *Manager) GetOutputDir() string {
	return m.outputDir
}
