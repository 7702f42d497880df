package benchmark

import (
	"context"
	"testing"

	"github.com/yndnr/snapfn-go/internal/core/lifecycle"
	"github.com/yndnr/snapfn-go/internal/core/registry"
	"github.com/yndnr/snapfn-go/internal/storage/memory"
	"github.com/yndnr/snapfn-go/internal/storage/snapshot"
)

func declareStore(store *memory.Store) lifecycle.BootstrapFunc {
	return func(_ context.Context, env *lifecycle.Environment, _ *registry.Registry) error {
		return env.Declare(lifecycle.ExportedResource("store", store))
	}
}

// BenchmarkColdInitialize measures a cold boot that captures and persists
// an image holding the whole store.
func BenchmarkColdInitialize(b *testing.B) {
	runWithCounts(b, RecordCounts, func(b *testing.B, count int) {
		store := memory.New()
		prefillStore(b, store, count)

		b.ResetTimer()
		b.ReportAllocs()
		for i := 0; i < b.N; i++ {
			b.StopTimer()
			images, err := snapshot.NewManager(snapshot.DefaultConfig(b.TempDir()))
			if err != nil {
				b.Fatal(err)
			}
			env := lifecycle.NewEnvironment(lifecycle.DefaultConfig(), lifecycle.WithImageStore(images))
			b.StartTimer()

			if err := env.Initialize(context.Background(), declareStore(store)); err != nil {
				b.Fatalf("Initialize: %v", err)
			}
		}
		b.StopTimer()
		reportMemory(b, "mem")
	})
}

// BenchmarkResume measures loading, verifying and hydrating an image.
func BenchmarkResume(b *testing.B) {
	for _, encrypted := range []bool{false, true} {
		name := "plain"
		if encrypted {
			name = "encrypted"
		}
		b.Run(name, func(b *testing.B) {
			runWithCounts(b, RecordCounts, func(b *testing.B, count int) {
				cfg := snapshot.DefaultConfig(b.TempDir())
				if encrypted {
					cfg.Key = make([]byte, 32)
				}
				images, err := snapshot.NewManager(cfg)
				if err != nil {
					b.Fatal(err)
				}

				src := memory.New()
				prefillStore(b, src, count)
				cold := lifecycle.NewEnvironment(lifecycle.DefaultConfig(), lifecycle.WithImageStore(images))
				if err := cold.Initialize(context.Background(), declareStore(src)); err != nil {
					b.Fatal(err)
				}

				b.ResetTimer()
				b.ReportAllocs()
				for i := 0; i < b.N; i++ {
					env := lifecycle.NewEnvironment(lifecycle.DefaultConfig(), lifecycle.WithImageStore(images))
					dst := memory.New()
					if err := env.Resume(context.Background(), declareStore(dst)); err != nil {
						b.Fatalf("Resume: %v", err)
					}
					if dst.Len() != count {
						b.Fatalf("hydrated %d records, want %d", dst.Len(), count)
					}
				}
			})
		})
	}
}
