// Package benchmark holds performance benchmarks for the invocation path,
// the state client and snapshot images.
//
// Run them with:
//
//	go test -bench=. -benchmem ./internal/tests/benchmark/...
//
// Compare runs with benchstat:
//
//	go test -bench=. -benchmem -count=5 ./internal/tests/benchmark/... | tee new.txt
//	benchstat old.txt new.txt
package benchmark
