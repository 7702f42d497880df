package benchmark

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"testing"
	"time"

	"github.com/yndnr/snapfn-go/internal/core/domain"
	"github.com/yndnr/snapfn-go/internal/core/service"
	"github.com/yndnr/snapfn-go/internal/storage/memory"
)

// RecordCounts are the store sizes image benchmarks run at.
var RecordCounts = []int{100, 1000, 10000}

func person(i int) *domain.StateRecord {
	payload, _ := json.Marshal(map[string]string{
		"firstName": fmt.Sprintf("First%d", i),
		"lastName":  fmt.Sprintf("Last%d", i),
	})
	return &domain.StateRecord{
		Key:       domain.NewKey(fmt.Sprintf("person#%d", i), "DETAILS"),
		Payload:   payload,
		ExpiresAt: time.Now().Add(time.Hour),
	}
}

// prefillStore writes count person records.
func prefillStore(b *testing.B, store *memory.Store, count int) {
	b.Helper()
	ctx := context.Background()
	for i := 0; i < count; i++ {
		if _, err := store.Put(ctx, person(i), service.IfAbsent()); err != nil {
			b.Fatalf("prefill: %v", err)
		}
	}
}

// reportMemory reports heap usage after a GC.
func reportMemory(b *testing.B, prefix string) {
	var m runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&m)
	b.ReportMetric(float64(m.Alloc)/(1024*1024), prefix+"_MB")
}

func runWithCounts(b *testing.B, counts []int, fn func(b *testing.B, count int)) {
	for _, count := range counts {
		b.Run(fmt.Sprintf("records_%d", count), func(b *testing.B) {
			fn(b, count)
		})
	}
}
