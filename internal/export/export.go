// Package export writes a built snapshot as JSON.
package export

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rcliao/memtrace/internal/model"
	"github.com/rcliao/memtrace/internal/snapshot"
)

// ErrNotWritable is returned when the destination cannot be opened or written.
var ErrNotWritable = errors.New("export destination not writable")

// Document is the exported form of a snapshot.
type Document struct {
	Allocations []Allocation `json:"allocations"`
}

// Allocation is one exported virtual allocation with its bound resources.
type Allocation struct {
	ID                  int        `json:"id"`
	Address             uint64     `json:"address"`
	Size                uint64     `json:"size"`
	Created             uint64     `json:"created"`
	LastCPUMap          uint64     `json:"last_cpu_map"`
	LastCPUUnmap        uint64     `json:"last_cpu_unmap"`
	LastResidencyUpdate uint64     `json:"last_residency_update"`
	MapCount            int        `json:"map_count"`
	UnboundRegions      int        `json:"unbound_regions"`
	ResourceCount       int        `json:"resource_count"`
	Resources           []Resource `json:"resources"`
}

// Resource is one exported resource.
type Resource struct {
	ID      model.ResourceIdentifier `json:"id"`
	Created uint64                   `json:"created"`
	Bound   uint64                   `json:"bound"`
	Address uint64                   `json:"address"`
	Size    uint64                   `json:"size"`
	Type    model.ResourceType       `json:"type"`
}

// Build converts s into its exported form.
func Build(s *snapshot.Snapshot) Document {
	doc := Document{Allocations: make([]Allocation, 0, len(s.Allocations))}
	for _, a := range s.Allocations {
		out := Allocation{
			ID:                  a.ID,
			Address:             a.BaseAddress,
			Size:                a.Size,
			Created:             a.CreatedAt,
			LastCPUMap:          a.LastCPUMap,
			LastCPUUnmap:        a.LastCPUUnmap,
			LastResidencyUpdate: a.LastResidencyUpdate,
			MapCount:            a.MapCount,
			UnboundRegions:      a.UnboundRegionCount,
			ResourceCount:       len(a.Resources),
			Resources:           make([]Resource, 0, len(a.Resources)),
		}
		for _, r := range a.Resources {
			out.Resources = append(out.Resources, Resource{
				ID:      r.ID,
				Created: r.CreatedAt,
				Bound:   r.BoundAt,
				Address: r.Address,
				Size:    r.Size,
				Type:    r.Type,
			})
		}
		doc.Allocations = append(doc.Allocations, out)
	}
	return doc
}

// Write encodes s as indented JSON to w.
func Write(w io.Writer, s *snapshot.Snapshot) error {
	if s == nil {
		return fmt.Errorf("%w: nil snapshot", snapshot.ErrInvalidArgument)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(Build(s)); err != nil {
		return fmt.Errorf("%w: %v", ErrNotWritable, err)
	}
	return nil
}

// WriteFile writes s to path, replacing any existing file.
func WriteFile(path string, s *snapshot.Snapshot) error {
	if s == nil {
		return fmt.Errorf("%w: nil snapshot", snapshot.ErrInvalidArgument)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotWritable, err)
	}
	if err := Write(f, s); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrNotWritable, err)
	}
	return nil
}
