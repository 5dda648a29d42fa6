package uploads

import (
	"context"
	"sort"

	"github.com/jmhodges/clock"

	"github.com/ota-server/updateserver/core"
	"github.com/ota-server/updateserver/log"
)

// retentionCap is the number of obsolete uploads retained per
// (project, channel) before the Cleanup Coordinator deletes the rest
// (spec §4.10).
const retentionCap = 30

// Cleanup is the Cleanup Coordinator (spec §4.10). It runs synchronously
// at the end of a release transition, not as a background job — grounded
// on the teacher's batched-delete idiom (cmd/boulder-janitor/job.go),
// adapted to run inline rather than on a cron schedule.
//
// If app is nil or has autoCleanupEnabled = false, Cleanup is a no-op.
func Cleanup(ctx context.Context, meta core.MetaStore, blob core.BlobStore, app *core.App, project, channel string, clk clock.Clock, logger log.Logger) (core.CleanupResult, error) {
	if app == nil || !app.AutoCleanupEnabled {
		return core.CleanupResult{}, nil
	}

	siblings, err := meta.ListUploadsByChannel(ctx, project, channel)
	if err != nil {
		return core.CleanupResult{}, err
	}

	var obsolete []core.Upload
	for _, u := range siblings {
		if u.Status == core.StatusObsolete {
			obsolete = append(obsolete, u)
		}
	}
	sort.Slice(obsolete, func(i, j int) bool { return obsolete[i].CreatedAt.After(obsolete[j].CreatedAt) })

	if len(obsolete) <= retentionCap {
		return core.CleanupResult{}, nil
	}
	toDelete := obsolete[retentionCap:]

	var result core.CleanupResult
	for _, u := range toDelete {
		prefix := "updates/" + u.UpdateID.String() + "/"
		freed, err := blob.PrefixSize(ctx, prefix)
		if err != nil {
			logger.Warning("uploads: cleanup: sizing prefix %q: %s", prefix, err)
		} else {
			result.FreedSpace += freed
		}

		if err := blob.Delete(ctx, u.Path); err != nil {
			logger.Warning("uploads: cleanup: failed to delete archive %q: %s", u.Path, err)
		}
		if err := blob.DeletePrefix(ctx, prefix); err != nil {
			logger.Warning("uploads: cleanup: failed to delete asset prefix %q: %s", prefix, err)
		}
		if err := meta.DeleteUpload(ctx, u.ID); err != nil {
			return result, err
		}
		result.DeletedCount++
	}

	logger.Audit("uploads: cleanup retained %d, deleted %d obsolete uploads for %s/%s", retentionCap, result.DeletedCount, project, channel)
	return result, nil
}
