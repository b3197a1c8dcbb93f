package diffupload

import (
	"time"

	"github.com/bitrise-io/go-utils/v2/analytics"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
)

type uploadTracker struct {
	tracker analytics.Tracker
	logger  log.Logger
}

func newUploadTracker(envRepo env.Repository, logger log.Logger) uploadTracker {
	p := analytics.Properties{
		"is_ci": envRepo.Get("CI") == "true",
	}
	return uploadTracker{
		tracker: analytics.NewDefaultTracker(logger, p),
		logger:  logger,
	}
}

func (t *uploadTracker) logUploadFinished(mode UploadMode, uploadTime time.Duration, bytesUploaded, bytesReused int64) {
	properties := analytics.Properties{
		"mode":           mode.String(),
		"upload_time_s":  uploadTime.Truncate(time.Second).Seconds(),
		"bytes_uploaded": bytesUploaded,
		"bytes_reused":   bytesReused,
	}
	t.tracker.Enqueue("diff_upload_finished", properties)
}

func (t *uploadTracker) wait() {
	t.tracker.Wait()
}
