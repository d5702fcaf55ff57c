package jamfreport

import (
	"context"
	"fmt"

	"github.com/httprunner/JamfReport/internal/jamf"
	"golang.org/x/sync/errgroup"
)

// detailSlot holds the outcome of one detail fetch. Slot i belongs to the
// i-th id of the list call and is written by exactly one goroutine.
type detailSlot struct {
	detail jamf.DeviceDetail
	err    error
}

// fetchDetails fetches the detail of every id with at most maxInFlight
// calls outstanding. Results come back in id order regardless of the
// order in which the calls complete. Ids not started before ctx is done
// get ctx.Err() in their slot.
func (r *Reporter) fetchDetails(ctx context.Context, creds Credentials, ids []uint64) []detailSlot {
	slots := make([]detailSlot, len(ids))
	var group errgroup.Group
	group.SetLimit(r.maxInFlight)

	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			for j := i; j < len(ids); j++ {
				slots[j].err = err
			}
			break
		}
		i, id := i, id
		group.Go(func() error {
			// Go may have blocked on the limit past the deadline.
			if err := ctx.Err(); err != nil {
				slots[i].err = err
				return nil
			}
			slots[i].err = runRecovered(fmt.Sprintf("fetch device %d", id), func() error {
				detail, err := r.backend.FetchDeviceDetail(ctx, creds, id)
				if err != nil {
					return err
				}
				slots[i].detail = detail
				return nil
			})
			return nil
		})
	}
	_ = group.Wait()
	return slots
}
