//go:build !linux

package workpool

func totalMemory() uint64 { return 0 }
