package snowflake

import (
	"sync"
	"testing"
	"time"
)

func TestNewGenerator_NodeIDBounds(t *testing.T) {
	tests := []struct {
		name    string
		nodeID  int64
		wantErr bool
	}{
		{"zero", 0, false},
		{"max", 1023, false},
		{"negative", -1, true},
		{"too large", 1024, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewGenerator(tt.nodeID)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewGenerator(%d) error = %v, wantErr %v", tt.nodeID, err, tt.wantErr)
			}
		})
	}
}

func TestGenerate_UniqueAndAscending(t *testing.T) {
	gen, err := NewGenerator(1)
	if err != nil {
		t.Fatal(err)
	}

	var prev int64
	seen := make(map[int64]bool)
	for i := 0; i < 10000; i++ {
		id, err := gen.Generate()
		if err != nil {
			t.Fatalf("Generate() error = %v", err)
		}
		if seen[id] {
			t.Fatalf("duplicate id: %d", id)
		}
		seen[id] = true
		if id <= prev {
			t.Fatalf("ids not ascending: %d after %d", id, prev)
		}
		prev = id
	}
}

func TestGenerate_Concurrent(t *testing.T) {
	gen, err := NewGenerator(1)
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	ids := sync.Map{}
	goroutines := 10
	perGoroutine := 1000

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				id, err := gen.Generate()
				if err != nil {
					t.Errorf("Generate() error = %v", err)
					return
				}
				if _, loaded := ids.LoadOrStore(id, true); loaded {
					t.Errorf("duplicate id: %d", id)
					return
				}
			}
		}()
	}
	wg.Wait()

	count := 0
	ids.Range(func(_, _ any) bool {
		count++
		return true
	})
	if want := goroutines * perGoroutine; count != want {
		t.Errorf("unique ids = %d, want %d", count, want)
	}
}

func TestGenerate_EmbedsTimestampAndNode(t *testing.T) {
	gen, err := NewGenerator(7)
	if err != nil {
		t.Fatal(err)
	}

	before := time.Now().UnixMilli()
	id, err := gen.Generate()
	if err != nil {
		t.Fatal(err)
	}
	after := time.Now().UnixMilli()

	ms := (id >> timestampShift) + epoch
	if ms < before || ms > after {
		t.Errorf("embedded timestamp %d outside [%d, %d]", ms, before, after)
	}
	if node := (id >> nodeIDShift) & maxNodeID; node != 7 {
		t.Errorf("embedded node id = %d, want 7", node)
	}
}

func BenchmarkGenerate(b *testing.B) {
	gen, _ := NewGenerator(1)
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		gen.Generate()
	}
}
