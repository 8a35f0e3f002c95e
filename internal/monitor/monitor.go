// Package monitor records the scalar streams emitted during training.
//
// Every sink implements Writer. Memory keeps points in process, Console
// turns them into log records, Store persists them to SQLite per run and
// split, and Tee fans one stream out to several sinks.
package monitor

import (
	"errors"
	"slices"
	"sync"
)

// Writer receives tagged scalars at integer steps.
type Writer interface {
	AddScalar(tag string, value float64, step int) error
}

// Point is one logged scalar.
type Point struct {
	Step  int
	Value float64
}

// Memory is an in-process Writer. It is safe for concurrent use.
type Memory struct {
	mu     sync.Mutex
	series map[string][]Point
	tags   []string
}

// NewMemory returns an empty in-memory sink.
func NewMemory() *Memory {
	return &Memory{series: make(map[string][]Point)}
}

// AddScalar appends a point to the tag's series.
func (m *Memory) AddScalar(tag string, value float64, step int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.series[tag]; !ok {
		m.tags = append(m.tags, tag)
	}
	m.series[tag] = append(m.series[tag], Point{Step: step, Value: value})
	return nil
}

// Points returns a copy of the tag's series in logging order.
func (m *Memory) Points(tag string) []Point {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.series[tag])
}

// Values returns the tag's values in logging order.
func (m *Memory) Values(tag string) []float64 {
	pts := m.Points(tag)
	out := make([]float64, len(pts))
	for i, p := range pts {
		out[i] = p.Value
	}
	return out
}

// Steps returns the tag's steps in logging order.
func (m *Memory) Steps(tag string) []int {
	pts := m.Points(tag)
	out := make([]int, len(pts))
	for i, p := range pts {
		out[i] = p.Step
	}
	return out
}

// Tags returns the tags in order of first use.
func (m *Memory) Tags() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.tags)
}

// Tee writes every scalar to all of its writers.
type Tee []Writer

// AddScalar forwards to every writer and joins their errors.
func (t Tee) AddScalar(tag string, value float64, step int) error {
	var errs []error
	for _, w := range t {
		if err := w.AddScalar(tag, value, step); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
