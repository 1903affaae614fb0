// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package companion

import (
	"encoding/json"
	"errors"
	"io"
	"os"
	"testing"

	"github.com/aubo-project/aubogo/pkg/host"
	"github.com/aubo-project/aubogo/pkg/stats"
	"go.uber.org/zap"
)

func TestHandleConnectionWritesSnapshot(t *testing.T) {
	st := stats.NewCollector("com.example.app", zap.NewNop())
	st.RecordBlocked("ads.example.com", "dns")
	st.RecordAllowed("example.com", "dns")

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	h := NewHandler(st, zap.NewNop())
	h.HandleConnection(int(w.Fd()))

	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}

	var snap stats.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatalf("companion reply is not valid JSON: %v", err)
	}
	if snap.Process != "com.example.app" {
		t.Errorf("expected process label, got %q", snap.Process)
	}
	if snap.TotalRequests != 2 || snap.BlockedRequests != 1 {
		t.Errorf("unexpected counters: total=%d blocked=%d", snap.TotalRequests, snap.BlockedRequests)
	}
	if snap.DomainsBlocked["ads.example.com"] != 1 {
		t.Errorf("expected blocked domain in reply, got %v", snap.DomainsBlocked)
	}
}

func TestPushSendsSnapshot(t *testing.T) {
	st := stats.NewCollector("com.example.app", zap.NewNop())
	st.RecordBlocked("ads.example.com", "dns")

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	api := &host.API{
		ConnectCompanion: func() (int, error) { return int(w.Fd()), nil },
	}
	if err := Push(api, st.Snapshot()); err != nil {
		t.Fatalf("push failed: %v", err)
	}

	var snap stats.Snapshot
	if err := json.NewDecoder(r).Decode(&snap); err != nil {
		t.Fatalf("pushed payload is not valid JSON: %v", err)
	}
	if snap.BlockedRequests != 1 {
		t.Errorf("expected 1 blocked, got %d", snap.BlockedRequests)
	}
}

func TestPushMissingCapability(t *testing.T) {
	st := stats.NewCollector("test", zap.NewNop())
	if err := Push(&host.API{}, st.Snapshot()); !errors.Is(err, host.ErrCapabilityMissing) {
		t.Errorf("expected ErrCapabilityMissing, got %v", err)
	}
}
