package downloader

import (
	"context"
	"time"

	"github.com/comfydock/comfydock-core/internal/cerr"
	"github.com/comfydock/comfydock-core/retry"
)

// DownloadWithRetry wraps Download in the teacher's retry.Do, retrying only
// transport failures (§4.F's failure taxonomy): at most 3 attempts, waiting
// 250ms before the second and 1s before the third. Every other failure kind (auth, forbidden, not_found, disk_full,
// hash_mismatch, canceled) surfaces immediately without retry.
func DownloadWithRetry(ctx context.Context, d *Downloader, req Request, progress ProgressFunc) (Result, error) {
	var result Result
	err := retry.Do(ctx, func(ctx context.Context) error {
		r, err := d.Download(ctx, req, progress)
		if err != nil {
			return err
		}
		result = r
		return nil
	},
		retry.WithMaxAttempts(3),
		retry.WithInitialDelay(250*time.Millisecond),
		retry.WithMaxDelay(4*time.Second),
		retry.WithBackoffMultiplier(4.0),
		retry.WithJitterFactor(0),
		retry.WithRetryCondition(func(err error) bool {
			return cerr.Is(err, cerr.KindTransport)
		}),
	)
	if err != nil {
		return Result{}, err
	}
	return result, nil
}
