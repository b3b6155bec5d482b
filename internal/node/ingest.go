package node

import (
	"fmt"

	"github.com/barc/reactivemover/internal/perception"
)

// ingest runs on the laser subscription goroutine, one frame at a time.
func (n *Node) ingest(msg any) {
	var scan perception.Scan
	switch v := msg.(type) {
	case perception.Scan:
		scan = v
	case *perception.Scan:
		if v == nil {
			n.reject(fmt.Errorf("%w: nil frame", perception.ErrInvalidScan))
			return
		}
		scan = *v
	default:
		n.reject(fmt.Errorf("%w: unexpected message %T", perception.ErrInvalidScan, msg))
		return
	}

	snap, err := n.store.Ingest(scan)
	if err != nil {
		n.reject(err)
		return
	}
	n.metrics.RecordScan(true, snap.Seq)
	n.logger.Trace().
		Uint64("seq", snap.Seq).
		Float64("left", snap.LeftSum).
		Float64("right", snap.RightSum).
		Stringer("direction", snap.Direction).
		Msg("node.Node.ingest snapshot")
}

func (n *Node) reject(err error) {
	n.metrics.RecordScan(false, 0)
	n.logger.Warn().Err(err).Msg("node.Node.ingest dropped frame")
}
