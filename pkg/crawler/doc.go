// Package crawler implements the resumable crawl loop.
//
// The loop visits every configured source in order, fetching one page of
// wall posts per visit and advancing the source's offset by the page
// length. Posts already written, or with no text of their own and no
// reposted text, are skipped. API errors are dispatched through the
// policy table in package retry: short sleeps for transient codes, a
// growing burst pause for "too many requests", a long sleep for the rate
// quota, an operator prompt for captchas, and a drain for anything else.
//
// The loop observes cancellation only between pages, so a page is either
// applied completely or not at all. Every exit from Running drains:
// output is flushed, seen ids and offsets are saved, and a Summary is
// returned.
//
// Usage:
//
//	c, err := crawler.New(crawler.Dependencies{
//	    Client:      vkClient,
//	    Checkpoints: checkpoints,
//	    Output:      storageManager,
//	    Solver:      ui.NewConsoleSolver(cfg.Crawl.AssumeOperator),
//	}, crawler.OptionsFromConfig(cfg))
//	if err != nil {
//	    return err
//	}
//	summary, err := c.Run(ctx)
package crawler
