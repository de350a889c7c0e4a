package consensus

import (
	"testing"

	"github.com/hashicorp/raft"
)

func applyRequest(t *testing.T, f *FSM, req StateRequest) interface{} {
	t.Helper()
	data, err := req.encode()
	if err != nil {
		t.Fatal(err)
	}
	return f.Apply(&raft.Log{Data: data})
}

func TestFSMApplyRegisterAgent(t *testing.T) {
	f := newFSM()
	result := applyRequest(t, f, StateRequest{Kind: RequestRegisterAgent, Fingerprint: "trader-1", NodeID: "node-a"})
	if result != nil {
		t.Fatalf("expected nil result on success, got %v", result)
	}
	if _, ok := f.state.QueryAgent("trader-1"); !ok {
		t.Fatal("expected trader-1 registered in fsm state")
	}
}

func TestFSMApplyMigrateStaleEpochReturnsError(t *testing.T) {
	f := newFSM()
	applyRequest(t, f, StateRequest{Kind: RequestRegisterAgent, Fingerprint: "trader-1", NodeID: "node-a"})
	applyRequest(t, f, StateRequest{Kind: RequestMigrateAgent, Fingerprint: "trader-1", NodeID: "node-b", NewEpoch: 1})

	result := applyRequest(t, f, StateRequest{Kind: RequestMigrateAgent, Fingerprint: "trader-1", NodeID: "node-c", NewEpoch: 1})
	if result == nil {
		t.Fatal("expected error result for stale epoch")
	}
	if _, ok := result.(error); !ok {
		t.Fatalf("expected result to be an error, got %T", result)
	}
}

func TestFSMApplyBadLogData(t *testing.T) {
	f := newFSM()
	result := f.Apply(&raft.Log{Data: []byte("not json")})
	if result == nil {
		t.Fatal("expected error for undecodable log entry")
	}
	if _, ok := result.(error); !ok {
		t.Fatalf("expected result to be an error, got %T", result)
	}
}

func TestFSMSnapshotAndRestore(t *testing.T) {
	f := newFSM()
	applyRequest(t, f, StateRequest{Kind: RequestRegisterAgent, Fingerprint: "trader-1", NodeID: "node-a"})

	snap, err := f.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	fsmSnap, ok := snap.(*fsmSnapshot)
	if !ok {
		t.Fatalf("expected *fsmSnapshot, got %T", snap)
	}

	restored := newFSM()
	if err := restored.state.restore(fsmSnap.data); err != nil {
		t.Fatal(err)
	}
	if _, ok := restored.state.QueryAgent("trader-1"); !ok {
		t.Fatal("expected restored fsm to contain trader-1")
	}
}
