package snowflake

import (
	"sync"
	"testing"
)

// TestGenerateUnique 测试并发生成的 ID 全局唯一
func TestGenerateUnique(t *testing.T) {
	node, err := NewNode(1)
	if err != nil {
		t.Fatalf("NewNode failed: %v", err)
	}

	const goroutines = 8
	const perGoroutine = 1000

	var mu sync.Mutex
	seen := make(map[ID]struct{}, goroutines*perGoroutine)

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids := make([]ID, 0, perGoroutine)
			for i := 0; i < perGoroutine; i++ {
				ids = append(ids, node.Generate())
			}
			mu.Lock()
			defer mu.Unlock()
			for _, id := range ids {
				if _, dup := seen[id]; dup {
					t.Errorf("Duplicate ID generated: %d", id)
				}
				seen[id] = struct{}{}
			}
		}()
	}
	wg.Wait()

	if len(seen) != goroutines*perGoroutine {
		t.Errorf("Expected %d unique IDs, got %d", goroutines*perGoroutine, len(seen))
	}
}

// TestGenerateMonotonic 测试单协程生成的 ID 严格递增
func TestGenerateMonotonic(t *testing.T) {
	node, _ := NewNode(1)

	prev := node.Generate()
	for i := 0; i < 10000; i++ {
		id := node.Generate()
		if id <= prev {
			t.Fatalf("ID not monotonic: %d after %d", id, prev)
		}
		prev = id
	}
}

// TestParseString 测试字符串解析
func TestParseString(t *testing.T) {
	node, _ := NewNode(1)
	id := node.Generate()

	parsed := ParseString(id.String())
	if parsed != id {
		t.Errorf("Expected %d, got %d", id, parsed)
	}

	if got := ParseString("not-a-number"); got != 0 {
		t.Errorf("Expected 0 for invalid input, got %d", got)
	}
	if got := ParseString("-5"); got != 0 {
		t.Errorf("Expected 0 for negative input, got %d", got)
	}
}
