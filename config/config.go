// ABOUTME: Loads collector, heap and logging settings from a file
// ABOUTME: Supports TOML and Java-style properties, chosen by file extension

package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/magiconair/properties"

	"github.com/prateek/marksweep"
	"github.com/prateek/marksweep/gc"
)

var (
	// ErrUnknownFormat is returned for files that are neither TOML nor properties
	ErrUnknownFormat = errors.New("config: unknown file format")
)

type File struct {
	GC   gc.Config `toml:"gc"`
	Heap Heap      `toml:"heap"`
	Log  Log       `toml:"log"`
}

type Heap struct {
	// CapacityBytes bounds the heap; zero is unbounded.
	CapacityBytes uint64 `toml:"capacity_bytes"`
}

type Log struct {
	// Level overrides LOGLEVEL when set.
	Level string `toml:"level"`
}

// Default returns the settings used for keys a file leaves out.
func Default() File {
	return File{GC: gc.DefaultConfig()}
}

// Options converts the settings into Memory options.
func (f File) Options() marksweep.Options {
	opts := marksweep.DefaultOptions()
	opts.Config = f.GC
	opts.HeapCapacityBytes = f.Heap.CapacityBytes
	return opts
}

// Load reads a .toml or .properties file over the defaults.
func Load(path string) (File, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return loadTOML(path)
	case ".properties":
		return loadProperties(path)
	}
	return File{}, fmt.Errorf("%w: %s", ErrUnknownFormat, path)
}

func loadTOML(path string) (File, error) {
	f := Default()
	md, err := toml.DecodeFile(path, &f)
	if err != nil {
		return File{}, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return File{}, fmt.Errorf("config: %s: unknown key %s", path, undecoded[0])
	}
	return f, nil
}

func loadProperties(path string) (File, error) {
	p, err := properties.LoadFile(path, properties.UTF8)
	if err != nil {
		return File{}, fmt.Errorf("config: load %s: %w", path, err)
	}
	f := Default()
	f.GC.Threshold = p.GetUint64("gc.threshold", f.GC.Threshold)
	f.GC.AllocationThresholdBytes = p.GetUint64("gc.allocation_threshold_bytes", f.GC.AllocationThresholdBytes)
	f.Heap.CapacityBytes = p.GetUint64("heap.capacity_bytes", f.Heap.CapacityBytes)
	f.Log.Level = p.GetString("log.level", f.Log.Level)
	return f, nil
}
