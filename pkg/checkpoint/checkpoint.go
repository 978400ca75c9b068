package checkpoint

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"time"

	"vkharvest/pkg/logger"
)

// Checkpoint keys used by the crawler
const (
	KeyPostIDs    = "posts_id"
	KeyProfileIDs = "users_id"
	KeyOffsets    = "offset_list"
)

// CurrentVersion is the envelope format written by Save
const CurrentVersion = 1

// Envelope wraps every persisted value
type Envelope struct {
	Version   int             `json:"version"`
	Key       string          `json:"key"`
	UpdatedAt time.Time       `json:"updated_at"`
	Data      json.RawMessage `json:"data"`
}

// Manager persists named values as JSON files in one directory
type Manager struct {
	dir    string
	logger logger.Logger
	now    func() time.Time
}

// NewManager creates a checkpoint manager rooted at dir.
// An empty dir selects the platform data directory.
func NewManager(dir string, log logger.Logger) (*Manager, error) {
	if dir == "" {
		dataDir, err := getDataDirectory()
		if err != nil {
			return nil, fmt.Errorf("failed to get data directory: %w", err)
		}
		dir = dataDir
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	if log == nil {
		log = logger.GetLogger()
	}

	return &Manager{
		dir:    dir,
		logger: log.WithField("component", "checkpoint"),
		now:    time.Now,
	}, nil
}

// Dir returns the directory holding checkpoint files
func (m *Manager) Dir() string {
	return m.dir
}

func (m *Manager) path(key string) string {
	return filepath.Join(m.dir, key+".json")
}

// Load decodes the value stored under key into v.
// It returns false without error when nothing has been saved yet.
func (m *Manager) Load(key string, v interface{}) (bool, error) {
	file, err := os.Open(m.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to open checkpoint %s: %w", key, err)
	}
	defer file.Close()

	var env Envelope
	if err := json.NewDecoder(file).Decode(&env); err != nil {
		return false, fmt.Errorf("failed to decode checkpoint %s: %w", key, err)
	}
	if env.Version > CurrentVersion {
		return false, fmt.Errorf("checkpoint %s has unsupported version %d", key, env.Version)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return false, fmt.Errorf("failed to decode checkpoint %s payload: %w", key, err)
	}

	m.logger.DebugWithFields("Checkpoint loaded", map[string]interface{}{
		"key":        key,
		"updated_at": env.UpdatedAt,
	})

	return true, nil
}

// Save stores v under key atomically. A crash mid-save leaves the
// previous version intact.
func (m *Manager) Save(key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint %s: %w", key, err)
	}

	env := Envelope{
		Version:   CurrentVersion,
		Key:       key,
		UpdatedAt: m.now().UTC(),
		Data:      data,
	}

	target := m.path(key)
	tempPath := target + ".tmp"
	file, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create temporary checkpoint file: %w", err)
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(&env); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync checkpoint file: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close checkpoint file: %w", err)
	}

	if err := os.Rename(tempPath, target); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace checkpoint file: %w", err)
	}

	syncDir(m.dir)

	m.logger.DebugWithFields("Checkpoint saved", map[string]interface{}{
		"key":   key,
		"bytes": len(data),
	})

	return nil
}

// syncDir flushes the directory entry after a rename. Some platforms
// cannot open directories for sync, so failures are ignored.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	d.Close()
}

// Delete removes the checkpoint stored under key
func (m *Manager) Delete(key string) error {
	if err := os.Remove(m.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete checkpoint %s: %w", key, err)
	}

	m.logger.InfoWithFields("Checkpoint deleted", map[string]interface{}{"key": key})
	return nil
}

// Exists checks if a checkpoint file exists for key
func (m *Manager) Exists(key string) bool {
	_, err := os.Stat(m.path(key))
	return err == nil
}

// Info returns a summary of the checkpoint stored under key, or nil if absent
func (m *Manager) Info(key string) (map[string]interface{}, error) {
	file, err := os.Open(m.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open checkpoint %s: %w", key, err)
	}
	defer file.Close()

	var env Envelope
	if err := json.NewDecoder(file).Decode(&env); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint %s: %w", key, err)
	}

	var items []json.RawMessage
	count := -1
	if json.Unmarshal(env.Data, &items) == nil {
		count = len(items)
	}

	return map[string]interface{}{
		"key":        key,
		"version":    env.Version,
		"entries":    count,
		"updated_at": env.UpdatedAt,
		"age":        m.now().Sub(env.UpdatedAt),
	}, nil
}

// Backup copies the checkpoint stored under key to a .backup file
func (m *Manager) Backup(key string) error {
	if !m.Exists(key) {
		return nil
	}

	src, err := os.Open(m.path(key))
	if err != nil {
		return fmt.Errorf("failed to open checkpoint for backup: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(m.path(key) + ".backup")
	if err != nil {
		return fmt.Errorf("failed to create backup file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("failed to copy checkpoint to backup: %w", err)
	}

	m.logger.DebugWithFields("Checkpoint backed up", map[string]interface{}{"key": key})
	return nil
}

// LoadIDs loads a persisted seen-id list. A missing checkpoint yields nil.
func (m *Manager) LoadIDs(key string) ([]string, error) {
	var ids []string
	if _, err := m.Load(key, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// SaveIDs persists a seen-id list in sorted order
func (m *Manager) SaveIDs(key string, ids []string) error {
	sorted := make([]string, len(ids))
	copy(sorted, ids)
	sort.Strings(sorted)
	return m.Save(key, sorted)
}

// LoadOffsets restores n offsets positionally. Entries missing from the
// saved list are zero and extra saved entries are dropped.
func (m *Manager) LoadOffsets(n int) ([]int, error) {
	offsets := make([]int, n)

	var saved []int
	found, err := m.Load(KeyOffsets, &saved)
	if err != nil {
		return nil, err
	}
	if !found {
		return offsets, nil
	}

	for i := 0; i < n && i < len(saved); i++ {
		if saved[i] > 0 {
			offsets[i] = saved[i]
		}
	}

	if len(saved) != n {
		m.logger.WarnWithFields("Saved offsets do not match configured sources", map[string]interface{}{
			"saved":      len(saved),
			"configured": n,
		})
	}

	return offsets, nil
}

// SaveOffsets persists the offset list in source order
func (m *Manager) SaveOffsets(offsets []int) error {
	return m.Save(KeyOffsets, offsets)
}

// getDataDirectory returns the appropriate data directory for the current OS
func getDataDirectory() (string, error) {
	var dataDir string

	switch runtime.GOOS {
	case "linux":
		if xdgDataHome := os.Getenv("XDG_DATA_HOME"); xdgDataHome != "" {
			dataDir = filepath.Join(xdgDataHome, "vkharvest")
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			dataDir = filepath.Join(home, ".local", "share", "vkharvest")
		}
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dataDir = filepath.Join(home, "Library", "Application Support", "vkharvest")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			return "", fmt.Errorf("APPDATA environment variable not set")
		}
		dataDir = filepath.Join(appData, "vkharvest")
	default:
		return "", fmt.Errorf("unsupported operating system: %s", runtime.GOOS)
	}

	return dataDir, nil
}
