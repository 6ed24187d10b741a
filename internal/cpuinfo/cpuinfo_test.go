package cpuinfo

import "testing"

func TestEffectiveThreadCountPrefersPhysical(t *testing.T) {
	if got := EffectiveThreadCount(Info{PhysicalCPUs: 4, LogicalCPUs: 8}); got != 4 {
		t.Fatalf("got %d, want 4", got)
	}
	if got := EffectiveThreadCount(Info{LogicalCPUs: 8}); got != 8 {
		t.Fatalf("got %d, want 8", got)
	}
	if got := EffectiveThreadCount(Info{}); got != 1 {
		t.Fatalf("got %d, want 1", got)
	}
}

func TestL2TotalPrefersExplicitAggregate(t *testing.T) {
	info := Info{L2TotalBytes: 12 << 20, L2Bytes: 1 << 20, PhysicalCPUs: 4}
	if got := info.L2Total(); got != 12<<20 {
		t.Fatalf("got %d, want %d", got, 12<<20)
	}
}

func TestL2TotalDerivesFromPerCoreTimesPhysicalCores(t *testing.T) {
	info := Info{L2Bytes: 2 << 20, PhysicalCPUs: 4}
	if got := info.L2Total(); got != 8<<20 {
		t.Fatalf("got %d, want %d", got, 8<<20)
	}
}

func TestL2TotalFallsBackToOneCoreWhenUnknown(t *testing.T) {
	info := Info{L2Bytes: 2 << 20}
	if got := info.L2Total(); got != 2<<20 {
		t.Fatalf("got %d, want %d", got, 2<<20)
	}
}

func TestDetectNeverReturnsZeroLogicalCPUs(t *testing.T) {
	info := Detect()
	if info.LogicalCPUs <= 0 {
		t.Fatalf("LogicalCPUs = %d, want > 0", info.LogicalCPUs)
	}
	if info.L1DataBytes == 0 || info.L2Bytes == 0 {
		t.Fatal("cache sizes must fall back to defaults, not zero")
	}
}
