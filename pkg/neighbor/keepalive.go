package neighbor

import (
	"context"
	"time"

	"github.com/rina-project/ipcpd/internal/cdap"
	"github.com/rina-project/ipcpd/pkg/enroll"
)

// RunKeepalive probes an ENROLLED flow every enroll.KeepaliveInterval,
// sending an M_READ on the keepalive object and counting consecutive
// probes that got no reply. After enroll.KeepaliveThreshold consecutive
// misses it reports the edge failed via hooks.MarkEdgeFailed and returns.
// Any inbound traffic (an M_READ_R or anything else) resets the miss
// count; callers run this in its own goroutine once a flow reaches
// ENROLLED and stop it by cancelling ctx.
func (f *Flow) RunKeepalive(ctx context.Context) {
	ticker := time.NewTicker(enroll.KeepaliveInterval * time.Millisecond)
	defer ticker.Stop()

	missed := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.mu.Lock()
			if f.state != enroll.StateEnrolled {
				f.mu.Unlock()
				return
			}
			sawActivity := f.consumeActivity()
			f.mu.Unlock()

			if sawActivity {
				missed = 0
				continue
			}

			missed++
			probe := &cdap.Message{
				OpCode:   cdap.MRead,
				InvokeID: f.invokeID.Add(1),
				ObjClass: cdap.ObjClassKeepalive,
				ObjName:  cdap.ObjNameKeepalive,
			}
			_ = f.send(ctx, probe)

			if missed >= enroll.KeepaliveThreshold {
				f.hooks.MarkEdgeFailed(ctx, f.PeerAddress())
				return
			}
		}
	}
}
