package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hadijannat/NeuroPLC/internal/spine"
)

func TestChainLinksHashesInOrder(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.jsonl")
	tb := spine.NewTimeBase()

	l, err := Open(path, 16, 1000, nil, tb, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	l.RecommendationApplied(1, 240)
	l.RecommendationApplied(2, 260)
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer f.Close()

	// The genesis record chains from 32 zero bytes.
	prev := strings.Repeat("0", 64)
	var lines int
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var rec Record
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if rec.Prev != prev {
			t.Fatalf("record %d: prev hash %q does not chain from previous hash %q", rec.Seq, rec.Prev, prev)
		}
		if rec.Hash == "" || len(rec.Hash) != 64 {
			t.Fatalf("record %d: expected 32-byte hex hash, got %q", rec.Seq, rec.Hash)
		}
		prev = rec.Hash
		lines++
	}
	if lines != 2 {
		t.Fatalf("expected 2 records, got %d", lines)
	}
}

func TestGenesisPrevHashIsZero(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.jsonl")
	tb := spine.NewTimeBase()

	l, err := Open(path, 16, 1000, nil, tb, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	l.EmergencyStop()
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	lines := splitLines(data)
	var rec Record
	if err := json.Unmarshal(lines[0], &rec); err != nil {
		t.Fatalf("unmarshal first record: %v", err)
	}
	wantZero := make([]byte, 64)
	for i := range wantZero {
		wantZero[i] = '0'
	}
	if rec.Prev != string(wantZero) {
		t.Fatalf("expected 64 zero hex chars, got %q", rec.Prev)
	}
}

func TestDropsAndCountsWhenQueueSaturated(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.jsonl")
	tb := spine.NewTimeBase()

	l, err := Open(path, 1, 0, nil, tb, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer l.Close()

	for i := 0; i < 50; i++ {
		l.Emit(Event{Kind: RecommendationApplied}, 0)
	}
	time.Sleep(10 * time.Millisecond)
	if l.DroppedTotal() == 0 {
		t.Skip("drain goroutine kept pace; saturation not observed on this run")
	}
}

func splitLines(data []byte) [][]byte {
	var out [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			if i > start {
				out = append(out, data[start:i])
			}
			start = i + 1
		}
	}
	return out
}
