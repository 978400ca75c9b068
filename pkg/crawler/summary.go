package crawler

import (
	"fmt"
	"time"

	"vkharvest/pkg/models"
)

// Summary describes one finished run
type Summary struct {
	Reason               StopReason
	Started              time.Time
	Finished             time.Time
	Elapsed              time.Duration
	NewProfiles          int
	NewPosts             int
	Throughput           int
	Sources              []models.Source
	RequestSleepInterval time.Duration
}

// Throughput returns whole posts per second. Runs shorter than a second
// count as one second.
func Throughput(posts int, elapsed time.Duration) int {
	secs := int64(elapsed / time.Second)
	if secs < 1 {
		secs = 1
	}
	return int(int64(posts) / secs)
}

func (s Summary) String() string {
	return fmt.Sprintf("%s elapsed, %d new profiles, %d new posts, ~%d posts/sec",
		s.Elapsed.Round(time.Second), s.NewProfiles, s.NewPosts, s.Throughput)
}
