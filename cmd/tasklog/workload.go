package main

import (
	"github.com/omaskery/tasklog/pkg/pool"
)

func sequence(n int) []uint64 {
	values := make([]uint64, n)
	for i := range values {
		values[i] = uint64(i)
	}
	return values
}

func sequentialSum(values []uint64) uint64 {
	var total uint64
	for _, v := range values {
		total += v
	}
	return total
}

// parallelSum splits values in halves until they fit in grain, each leaf being a "sum" subgraph
func parallelSum(ctx *pool.Context, values []uint64, grain int) uint64 {
	if len(values) <= max(grain, 1) {
		return pool.Subgraph(ctx, "sum", uint64(len(values)), func(*pool.Context) uint64 {
			return sequentialSum(values)
		})
	}
	mid := len(values) / 2
	left, right := pool.Join(ctx,
		func(ctx *pool.Context) uint64 { return parallelSum(ctx, values[:mid], grain) },
		func(ctx *pool.Context) uint64 { return parallelSum(ctx, values[mid:], grain) },
	)
	return left + right
}
