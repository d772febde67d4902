package catalog

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Default tracefs mount points, in lookup order.
var tracefsMounts = []string{
	"/sys/kernel/tracing",
	"/sys/kernel/debug/tracing",
}

// ignoredSubsystems lists subsystems whose events are internal to ftrace
// and cannot be enabled through perf.
var ignoredSubsystems = map[string]bool{
	"ftrace": true,
}

// FindTracefs returns the first tracefs mount exposing an events directory.
func FindTracefs() (string, error) {
	for _, dir := range tracefsMounts {
		if st, err := os.Stat(filepath.Join(dir, "events")); err == nil && st.IsDir() {
			return dir, nil
		}
	}
	return "", ErrNoCatalog
}

// Tracefs is a Catalog backed by the kernel's tracefs events directory.
// The directory is parsed once on first use; descriptors are stable afterwards.
type Tracefs struct {
	root   string
	logger zerolog.Logger

	once   sync.Once
	events []*EventDescriptor
	err    error
}

// NewTracefs creates a catalog rooted at a tracefs mount point.
// An empty root selects the first mount found by FindTracefs.
func NewTracefs(root string, logger zerolog.Logger) (*Tracefs, error) {
	if root == "" {
		var err error
		if root, err = FindTracefs(); err != nil {
			return nil, err
		}
	}
	return &Tracefs{
		root:   root,
		logger: logger.With().Str("component", "catalog").Logger(),
	}, nil
}

// Root returns the tracefs mount point in use.
func (t *Tracefs) Root() string {
	return t.root
}

// Enumerate implements Catalog.
func (t *Tracefs) Enumerate(pred Predicate) ([]*EventDescriptor, error) {
	t.once.Do(t.load)
	if t.err != nil {
		return nil, t.err
	}
	return Static(t.events).Enumerate(pred)
}

func (t *Tracefs) load() {
	eventsDir := filepath.Join(t.root, "events")
	subsystems, err := os.ReadDir(eventsDir)
	if err != nil {
		t.err = fmt.Errorf("reading %s: %w", eventsDir, ErrNoCatalog)
		return
	}

	for _, sub := range subsystems {
		if !sub.IsDir() {
			continue
		}
		subDir := filepath.Join(eventsDir, sub.Name())
		entries, err := os.ReadDir(subDir)
		if err != nil {
			t.logger.Debug().Err(err).Str("subsystem", sub.Name()).Msg("Skipping unreadable subsystem")
			continue
		}
		for _, ev := range entries {
			if !ev.IsDir() {
				continue
			}
			desc, err := readEventDir(sub.Name(), filepath.Join(subDir, ev.Name()))
			if err != nil {
				t.logger.Debug().Err(err).
					Str("subsystem", sub.Name()).
					Str("event", ev.Name()).
					Msg("Skipping malformed trace event")
				continue
			}
			t.events = append(t.events, desc)
		}
	}

	t.logger.Debug().Int("events", len(t.events)).Str("root", t.root).Msg("Loaded trace event catalog")
}

// readEventDir parses <dir>/format into a descriptor of the given subsystem.
func readEventDir(subsystem, dir string) (*EventDescriptor, error) {
	f, err := os.Open(filepath.Join(dir, "format"))
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close() //nolint:errcheck // Read-only file, defer cleanup
	}()

	desc, err := ParseFormat(f)
	if err != nil {
		return nil, err
	}
	desc.Subsystem = subsystem

	if ignoredSubsystems[subsystem] {
		desc.Flags |= FlagIgnore
	}
	if desc.ID == 0 {
		desc.Flags |= FlagNoRegister
	}

	return desc, nil
}

// ParseFormat parses a tracefs event format description.
// Subsystem and Flags are left for the caller to fill.
func ParseFormat(r io.Reader) (*EventDescriptor, error) {
	desc := &EventDescriptor{}
	haveID := false

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, "name:"):
			desc.Name = strings.TrimSpace(strings.TrimPrefix(line, "name:"))
		case strings.HasPrefix(line, "ID:"):
			id, err := strconv.ParseUint(strings.TrimSpace(strings.TrimPrefix(line, "ID:")), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("parsing event id: %w", err)
			}
			desc.ID = id
			haveID = true
		case strings.HasPrefix(line, "field:"):
			field, err := parseField(line)
			if err != nil {
				return nil, err
			}
			if strings.HasPrefix(field.Name, "common_") {
				desc.CommonFields = append(desc.CommonFields, field)
			} else {
				desc.Fields = append(desc.Fields, field)
			}
		case strings.HasPrefix(line, "print fmt:"):
			desc.PrintFmt = strings.TrimSpace(strings.TrimPrefix(line, "print fmt:"))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading format: %w", err)
	}

	if desc.Name == "" {
		return nil, fmt.Errorf("format has no event name")
	}
	if !haveID {
		desc.Flags |= FlagNoRegister
	}
	return desc, nil
}

// parseField parses a line such as
//
//	field:unsigned int fd;	offset:16;	size:8;	signed:0;
func parseField(line string) (FieldDescriptor, error) {
	var field FieldDescriptor

	for _, part := range strings.Split(line, ";") {
		part = strings.TrimSpace(part)
		key, value, ok := strings.Cut(part, ":")
		if !ok {
			continue
		}
		var err error
		switch key {
		case "field":
			field.Name, field.Type = splitDeclaration(value)
		case "offset":
			field.Offset, err = strconv.Atoi(value)
		case "size":
			field.Size, err = strconv.Atoi(value)
		case "signed":
			var signed int
			signed, err = strconv.Atoi(value)
			field.Signed = signed != 0
		}
		if err != nil {
			return FieldDescriptor{}, fmt.Errorf("parsing field %q: %w", line, err)
		}
	}

	if field.Name == "" {
		return FieldDescriptor{}, fmt.Errorf("field without name: %q", line)
	}
	return field, nil
}

// splitDeclaration splits a C declaration into name and type.
// Array suffixes move to the type: "char comm[16]" -> ("comm", "char[16]").
func splitDeclaration(decl string) (name, typ string) {
	decl = strings.TrimSpace(decl)
	idx := strings.LastIndexAny(decl, " *")
	if idx < 0 {
		return decl, ""
	}
	name = decl[idx+1:]
	typ = strings.TrimSpace(decl[:idx+1])

	if bracket := strings.IndexByte(name, '['); bracket >= 0 {
		typ += name[bracket:]
		name = name[:bracket]
	}
	return name, typ
}
