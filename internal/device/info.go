package device

import (
	"log/slog"

	"github.com/klauspost/cpuid/v2"
)

// Info describes the hardware behind a device.
type Info struct {
	Device        string
	CPU           string
	PhysicalCores int
	LogicalCores  int
	Features      []string
}

var simdFeatures = []struct {
	id   cpuid.FeatureID
	name string
}{
	{cpuid.SSE4, "sse4"},
	{cpuid.AVX, "avx"},
	{cpuid.AVX2, "avx2"},
	{cpuid.FMA3, "fma3"},
	{cpuid.AVX512F, "avx512f"},
	{cpuid.ASIMD, "asimd"},
}

// Info reports the CPU model and the SIMD extensions it supports.
func (d *Device) Info() Info {
	info := Info{
		Device:        d.name,
		CPU:           cpuid.CPU.BrandName,
		PhysicalCores: cpuid.CPU.PhysicalCores,
		LogicalCores:  cpuid.CPU.LogicalCores,
	}
	for _, f := range simdFeatures {
		if cpuid.CPU.Supports(f.id) {
			info.Features = append(info.Features, f.name)
		}
	}
	return info
}

// LogValue implements slog.LogValuer.
func (i Info) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("device", i.Device),
		slog.String("cpu", i.CPU),
		slog.Int("physical_cores", i.PhysicalCores),
		slog.Int("logical_cores", i.LogicalCores),
		slog.Any("simd", i.Features),
	)
}
