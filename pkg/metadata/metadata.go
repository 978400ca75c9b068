package metadata

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"vkharvest/pkg/crawler"
	"vkharvest/pkg/models"
)

// ReportFile is the name of the last run report inside the data directory
const ReportFile = "last_run.json"

// HistoryFile collects one JSON line per finished run
const HistoryFile = "runs.jsonl"

// RunReport describes one finished crawl
type RunReport struct {
	Reason string    `json:"reason"`
	Error  string    `json:"error,omitempty"`
	Start  time.Time `json:"started_at"`
	End    time.Time `json:"finished_at"`

	ElapsedSeconds float64 `json:"elapsed_seconds"`
	NewProfiles    int     `json:"new_profiles"`
	NewPosts       int     `json:"new_posts"`
	Throughput     int     `json:"posts_per_second"`

	// Pause between request bursts when the run ended
	RequestSleepInterval string `json:"request_sleep_interval"`

	Sources []SourceOffset `json:"sources"`
}

// SourceOffset is a source's pagination cursor at the end of a run
type SourceOffset struct {
	ID     string `json:"id"`
	Offset int    `json:"offset"`
}

// FromSummary builds a report from a crawl summary and its error
func FromSummary(s crawler.Summary, runErr error) *RunReport {
	r := &RunReport{
		Reason:               string(s.Reason),
		Start:                s.Started,
		End:                  s.Finished,
		ElapsedSeconds:       s.Elapsed.Seconds(),
		NewProfiles:          s.NewProfiles,
		NewPosts:             s.NewPosts,
		Throughput:           s.Throughput,
		RequestSleepInterval: s.RequestSleepInterval.String(),
		Sources:              make([]SourceOffset, 0, len(s.Sources)),
	}
	if runErr != nil {
		r.Error = runErr.Error()
	}
	for _, src := range s.Sources {
		r.Sources = append(r.Sources, SourceOffset{ID: src.ID, Offset: src.Offset})
	}
	return r
}

// Offsets converts the report's sources back to models
func (r *RunReport) Offsets() []models.Source {
	out := make([]models.Source, len(r.Sources))
	for i, src := range r.Sources {
		out[i] = models.Source{ID: src.ID, Offset: src.Offset}
	}
	return out
}

// Elapsed returns the run length
func (r *RunReport) Elapsed() time.Duration {
	return time.Duration(r.ElapsedSeconds * float64(time.Second))
}

// Save writes the report to dir and appends it to the run history
func (r *RunReport) Save(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ReportFile), data, 0644); err != nil {
		return fmt.Errorf("failed to write report file: %w", err)
	}

	line, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal history line: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, HistoryFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open history file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}

	return nil
}

// Load reads the last run report from dir
func Load(dir string) (*RunReport, error) {
	data, err := os.ReadFile(filepath.Join(dir, ReportFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read report file: %w", err)
	}

	var r RunReport
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal report: %w", err)
	}

	return &r, nil
}

// Exists checks if a run report exists in dir
func Exists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ReportFile))
	return err == nil
}
