package consensus

import (
	"fmt"
	"io"
	"time"

	"github.com/hashicorp/raft"

	"github.com/fipamesh/agentd/internal/metrics"
)

// FSM bridges hashicorp/raft's log replication to ClusterState.
type FSM struct {
	state *ClusterState
}

func newFSM() *FSM {
	return &FSM{state: newClusterState()}
}

func (f *FSM) Apply(log *raft.Log) interface{} {
	req, err := decodeRequest(log.Data)
	if err != nil {
		return fmt.Errorf("decode state request: %w", err)
	}

	start := time.Now()
	applyErr := f.state.apply(req)
	metrics.ConsensusApplyDuration.Observe(time.Since(start).Seconds())
	metrics.ConsensusApplies.WithLabelValues(req.Kind.String()).Inc()

	if applyErr != nil {
		return applyErr
	}
	return nil
}

func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	data, err := f.state.snapshot()
	if err != nil {
		return nil, err
	}
	return &fsmSnapshot{data: data}, nil
}

func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return err
	}
	return f.state.restore(data)
}

// fsmSnapshot hands the serialized ClusterState to raft's snapshot store
// in a single write.
type fsmSnapshot struct {
	data []byte
}

func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	if _, err := sink.Write(s.data); err != nil {
		sink.Cancel()
		return err
	}
	return sink.Close()
}

func (s *fsmSnapshot) Release() {}
