// Package kvrepr parses key-value-shaped /proc pseudo-files — one "key
// value" pair per line, arbitrary keys interspersed across the file —
// into a fixed set of caller-supplied destinations.
//
// A KVRepr is built once per file with the set of keys it cares about
// (grouped into descriptors, mirroring the original's per-message-type
// grouping). Construction makes a single discovery pass recording which
// line number carries which key; every subsequent ParseOnce call then
// skips straight past uninteresting lines instead of re-comparing keys,
// which is the whole point when the same file gets re-read every tick.
package kvrepr

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
)

// FieldSetter receives the raw value token of a matched key-value line
// and assigns it into whatever destination it closes over. It is the Go
// stand-in for reflection-based field assignment: each concrete meter
// record supplies one closure per field instead of a descriptor +
// reflect.Value pair.
type FieldSetter func(raw string) error

// Descriptor groups the keys belonging to one logical record (one probe,
// one device, one message type) with the setter for each key, matched by
// index: Keys[i] feeds Setters[i].
type Descriptor struct {
	Name    string
	Keys    []string
	Setters []FieldSetter
}

// Layout is the full set of descriptors a KVRepr parses in one pass.
type Layout struct {
	Descriptors []Descriptor
}

func (l Layout) validate() error {
	if len(l.Descriptors) == 0 {
		return errors.New("kvrepr: layout has no descriptors")
	}
	for i, d := range l.Descriptors {
		if len(d.Keys) == 0 {
			return fmt.Errorf("kvrepr: descriptor %d (%s) has no keys", i, d.Name)
		}
		if len(d.Keys) != len(d.Setters) {
			return fmt.Errorf("kvrepr: descriptor %d (%s): %d keys but %d setters", i, d.Name, len(d.Keys), len(d.Setters))
		}
		seen := make(map[string]struct{}, len(d.Keys))
		for _, k := range d.Keys {
			if _, dup := seen[k]; dup {
				return fmt.Errorf("kvrepr: descriptor %d (%s): duplicate key %q", i, d.Name, k)
			}
			seen[k] = struct{}{}
		}
	}
	return nil
}

type fieldRef struct {
	descIdx  int
	fieldIdx int
}

// KVRepr is a key-value parser bound to one file and one Layout.
type KVRepr struct {
	path   string
	layout Layout

	// lineIndex maps a 0-based line number to the descriptor/field it
	// feeds. Built once at construction.
	lineIndex map[int]fieldRef

	// missingFields records descriptor/field pairs whose key was never
	// seen during discovery; ParseOnce leaves those destinations alone.
	missingFields []fieldRef

	valid bool
}

// New constructs a KVRepr for path using layout, running the one-time
// discovery pass immediately. It returns an error only for a malformed
// layout or an unreadable file; a key that's simply absent from the file
// is recorded in missingFields, not treated as fatal.
func New(path string, layout Layout) (*KVRepr, error) {
	if err := layout.validate(); err != nil {
		return nil, err
	}

	k := &KVRepr{
		path:      path,
		layout:    layout,
		lineIndex: make(map[int]fieldRef),
	}

	if err := k.discover(); err != nil {
		return nil, err
	}
	k.valid = true
	return k, nil
}

// Path returns the file this KVRepr parses.
func (k *KVRepr) Path() string { return k.path }

// IsValid reports whether discovery completed and at least one key was
// located.
func (k *KVRepr) IsValid() bool { return k.valid && len(k.lineIndex) > 0 }

// MissingFields reports, for diagnostics, which descriptor/key pairs were
// never found during discovery.
func (k *KVRepr) MissingFields() []string {
	out := make([]string, 0, len(k.missingFields))
	for _, ref := range k.missingFields {
		d := k.layout.Descriptors[ref.descIdx]
		out = append(out, d.Name+"."+d.Keys[ref.fieldIdx])
	}
	return out
}

func (k *KVRepr) discover() error {
	f, err := os.Open(k.path)
	if err != nil {
		return fmt.Errorf("kvrepr: open %s: %w", k.path, err)
	}
	defer f.Close()

	// remaining[d] tracks, per descriptor, which key indices haven't been
	// located yet so we can stop early once every key across every
	// descriptor has a line.
	remaining := make([]map[string]int, len(k.layout.Descriptors))
	total := 0
	for i, d := range k.layout.Descriptors {
		remaining[i] = make(map[string]int, len(d.Keys))
		for j, key := range d.Keys {
			remaining[i][key] = j
			total++
		}
	}

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNum := 0
	for total > 0 && sc.Scan() {
		key, _, ok := splitKV(sc.Text())
		if ok {
			for i := range remaining {
				if j, found := remaining[i][key]; found {
					k.lineIndex[lineNum] = fieldRef{descIdx: i, fieldIdx: j}
					delete(remaining[i], key)
					total--
					break
				}
			}
		}
		lineNum++
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("kvrepr: scan %s: %w", k.path, err)
	}

	for i, left := range remaining {
		for _, fieldIdx := range left {
			k.missingFields = append(k.missingFields, fieldRef{descIdx: i, fieldIdx: fieldIdx})
		}
	}
	return nil
}

// ParseOnce reads the file fresh and invokes the setter for every line
// recorded during discovery, in ascending line order. Lines not in the
// index are skipped without being tokenized.
func (k *KVRepr) ParseOnce() error {
	if len(k.lineIndex) == 0 {
		return nil
	}

	f, err := os.Open(k.path)
	if err != nil {
		return fmt.Errorf("kvrepr: open %s: %w", k.path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNum := 0
	matched := 0
	want := len(k.lineIndex)
	for want > matched && sc.Scan() {
		ref, ok := k.lineIndex[lineNum]
		lineNum++
		if !ok {
			continue
		}
		_, val, ok := splitKV(sc.Text())
		if !ok {
			continue
		}
		setter := k.layout.Descriptors[ref.descIdx].Setters[ref.fieldIdx]
		if err := setter(val); err != nil {
			return fmt.Errorf("kvrepr: %s line %d: %w", k.path, lineNum, err)
		}
		matched++
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("kvrepr: scan %s: %w", k.path, err)
	}
	return nil
}

// GenerateStatusReport renders a short human-readable summary, in the
// same spirit as the original's verbose status dump.
func (k *KVRepr) GenerateStatusReport() string {
	var b strings.Builder
	fmt.Fprintf(&b, "kvrepr %s: %d/%d keys located\n", k.path, len(k.lineIndex), len(k.lineIndex)+len(k.missingFields))
	for _, m := range k.MissingFields() {
		fmt.Fprintf(&b, "  missing: %s\n", m)
	}
	return b.String()
}

// splitKV splits a "key value..." line on the first run of whitespace,
// trimming a trailing colon from the key (meminfo-style "Key: value kB").
// It reports ok=false for blank or malformed lines.
func splitKV(line string) (key, val string, ok bool) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return "", "", false
	}
	key = strings.TrimSuffix(fields[0], ":")
	val = fields[1]
	return key, val, true
}
