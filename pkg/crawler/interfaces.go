package crawler

import (
	"context"

	"vkharvest/pkg/models"
	"vkharvest/pkg/vk"
)

// Client defines the VK API operations the loop needs
type Client interface {
	FetchProfiles(ctx context.Context, ids []string, challenge *models.Challenge) vk.Result[[]vk.User]
	FetchPosts(ctx context.Context, sourceID string, offset, pageSize int, challenge *models.Challenge) vk.Result[vk.WallPage]
}

// CheckpointStore persists seen ids and offsets between runs
type CheckpointStore interface {
	LoadIDs(key string) ([]string, error)
	SaveIDs(key string, ids []string) error
	LoadOffsets(n int) ([]int, error)
	SaveOffsets(offsets []int) error
}

// Output is the append-only record sink
type Output interface {
	AppendProfile(p models.ProfileRecord) error
	AppendPost(p models.PostRecord) error
	ExistingIDs() (profileIDs, postIDs []string, err error)
	Flush() error
}

// Solver obtains an operator's answer to a captcha challenge. It blocks
// until an answer arrives or ctx ends.
type Solver interface {
	Solve(ctx context.Context, challenge models.Challenge) (string, error)
}

// Notifier tells the operator about events that need attention
type Notifier interface {
	ChallengeIssued(imageURL string)
	Finished(message string)
}
