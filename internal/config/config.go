package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidProbe is returned for probe entries that can never register.
var ErrInvalidProbe = errors.New("invalid probe")

// knownPrefixes are the probe spec prefixes a session understands.
var knownPrefixes = []string{"kprobe", "kprobes", "tracepoint", "tp"}

// Probe binds a script to a probe spec such as "tp:sys_enter_read".
type Probe struct {
	// Probe is the "<prefix>:<rest>" spec to register on
	Probe string `yaml:"probe"`
	// Script is the expr source run on every firing
	Script string `yaml:"script"`
	// Params names the script parameter bound to the event, at most one
	Params []string `yaml:"params,omitempty"`
}

// File is a probe file.
type File struct {
	Probes []Probe `yaml:"probes"`
	// Duration stops the run after the given time; zero runs until interrupted
	Duration time.Duration `yaml:"duration,omitempty"`
}

// Load reads and validates a probe file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the command line
	if err != nil {
		return nil, fmt.Errorf("reading probe file: %w", err)
	}
	f, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Parse decodes and validates a probe file.
func Parse(r io.Reader) (*File, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decoding probe file: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks every probe entry.
func (f *File) Validate() error {
	if f.Duration < 0 {
		return fmt.Errorf("duration must not be negative, got %s", f.Duration)
	}
	var errs []error
	for i, p := range f.Probes {
		if err := p.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("probe %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// Validate checks that the probe has a known prefix and the script is set.
func (p Probe) Validate() error {
	prefix, _, found := strings.Cut(p.Probe, ":")
	if !found {
		return fmt.Errorf("%w: %q has no prefix", ErrInvalidProbe, p.Probe)
	}
	known := false
	for _, k := range knownPrefixes {
		if prefix == k {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("%w: unknown prefix %q in %q", ErrInvalidProbe, prefix, p.Probe)
	}
	if strings.TrimSpace(p.Script) == "" {
		return fmt.Errorf("%w: %q has an empty script", ErrInvalidProbe, p.Probe)
	}
	if len(p.Params) > 1 {
		return fmt.Errorf("%w: %q declares %d params, at most one is allowed", ErrInvalidProbe, p.Probe, len(p.Params))
	}
	return nil
}

// Pair builds probe entries from matching -p and -e command-line values.
// param, when set, is bound in every script.
func Pair(specs, scripts []string, param string) ([]Probe, error) {
	if len(specs) != len(scripts) {
		return nil, fmt.Errorf("got %d probe specs and %d scripts, each -p needs one -e", len(specs), len(scripts))
	}
	probes := make([]Probe, len(specs))
	for i := range specs {
		probes[i] = Probe{Probe: specs[i], Script: scripts[i]}
		if param != "" {
			probes[i].Params = []string{param}
		}
		if err := probes[i].Validate(); err != nil {
			return nil, err
		}
	}
	return probes, nil
}
