package redis

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/xraph/lineup"
	"github.com/xraph/lineup/job"
)

func TestKeys(t *testing.T) {
	s := New(nil, WithPrefix("lineup:burger:"))

	tests := []struct {
		got, want string
	}{
		{s.jobKey("Burger#1"), "lineup:burger:job:Burger#1"},
		{s.logsKey("Burger#1"), "lineup:burger:logs:Burger#1"},
		{s.waitKey(), "lineup:burger:wait"},
		{s.idsKey(), "lineup:burger:ids"},
		{s.seqKey(), "lineup:burger:seq"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("key = %q, want %q", tt.got, tt.want)
		}
	}

	if d := New(nil); d.waitKey() != "lineup:wait" {
		t.Errorf("default waitKey = %q", d.waitKey())
	}
}

func TestJobHashRoundTrip(t *testing.T) {
	created := time.Date(2024, 3, 1, 10, 0, 0, 123, time.UTC)
	started := created.Add(time.Second)
	j := &job.Job{
		Entity:      lineup.Entity{CreatedAt: created, UpdatedAt: started},
		ID:          "Burger#3",
		Name:        "burger",
		Payload:     json.RawMessage(`{"bun":"🍔"}`),
		State:       job.StateActive,
		Attempt:     2,
		MaxAttempts: 3,
		Progress:    40,
		LastError:   "step grill: Toast burnt!",
		RunAt:       created,
		StartedAt:   &started,
		Timeout:     time.Minute,
	}

	// HGETALL returns strings only.
	m := make(map[string]string)
	for k, v := range jobToMap(j) {
		m[k] = v.(string)
	}
	got, err := mapToJob(m)
	if err != nil {
		t.Fatalf("mapToJob: %v", err)
	}

	if got.ID != j.ID || got.Name != j.Name || got.State != j.State {
		t.Fatalf("identity = {%s %s %s}", got.ID, got.Name, got.State)
	}
	if got.Attempt != 2 || got.MaxAttempts != 3 || got.Progress != 40 {
		t.Fatalf("counters = {%d %d %d}", got.Attempt, got.MaxAttempts, got.Progress)
	}
	if string(got.Payload) != string(j.Payload) || got.LastError != j.LastError {
		t.Fatalf("payload/error = %s / %q", got.Payload, got.LastError)
	}
	if !got.CreatedAt.Equal(created) || !got.RunAt.Equal(created) {
		t.Fatalf("times = %v / %v", got.CreatedAt, got.RunAt)
	}
	if got.StartedAt == nil || !got.StartedAt.Equal(started) {
		t.Fatalf("StartedAt = %v, want %v", got.StartedAt, started)
	}
	if got.FinishedAt != nil {
		t.Fatalf("FinishedAt = %v, want nil", got.FinishedAt)
	}
	if got.Timeout != time.Minute {
		t.Fatalf("Timeout = %v", got.Timeout)
	}
}

func TestMapToJob_Invalid(t *testing.T) {
	if _, err := mapToJob(map[string]string{"state": "waiting"}); err == nil {
		t.Fatal("hash without id should fail")
	}
	if _, err := mapToJob(map[string]string{"id": "a", "state": "paused"}); err == nil {
		t.Fatal("unknown state should fail")
	}
}

func TestDecodeLogs(t *testing.T) {
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	entries := []job.LogEntry{
		{Attempt: 1, Line: "--- attempt 1/3 ---", Marker: true, Time: at},
		{Attempt: 1, Line: "Grill the patty.", Time: at},
		{Attempt: 1, Line: "", Time: at},
	}
	raw := make([]string, len(entries))
	for i, e := range entries {
		b, err := msgpack.Marshal(e)
		if err != nil {
			t.Fatal(err)
		}
		raw[i] = string(b)
	}

	got, err := decodeLogs(raw)
	if err != nil {
		t.Fatalf("decodeLogs: %v", err)
	}
	if len(got) != len(entries) {
		t.Fatalf("len = %d, want %d", len(got), len(entries))
	}
	for i := range entries {
		if got[i].Attempt != entries[i].Attempt || got[i].Line != entries[i].Line ||
			got[i].Marker != entries[i].Marker || !got[i].Time.Equal(entries[i].Time) {
			t.Errorf("entry %d = %+v, want %+v", i, got[i], entries[i])
		}
	}

	if _, err := decodeLogs([]string{"\xc1"}); err == nil {
		t.Fatal("garbage should fail to decode")
	}
}
