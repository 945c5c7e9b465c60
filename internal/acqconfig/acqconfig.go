// Package acqconfig generates the INI configuration file the acquisition
// program reads, from a YAML description plus per-run overrides. The YAML
// mirrors the INI layout: top-level keys are section names, nested keys are
// settings. Key order from the YAML is preserved in the output.
package acqconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ChannelKey addresses one digitizer channel for per-channel overrides.
type ChannelKey struct {
	Board   int
	Channel int
}

// Section returns the INI section name for the channel.
func (k ChannelKey) Section() string {
	return fmt.Sprintf("BOARD %d - CHANNEL %d", k.Board, k.Channel)
}

// ParseChannelKey parses "board:channel".
func ParseChannelKey(s string) (ChannelKey, error) {
	var k ChannelKey
	if _, err := fmt.Sscanf(s, "%d:%d", &k.Board, &k.Channel); err != nil {
		return ChannelKey{}, fmt.Errorf("acqconfig: bad channel key %q (want board:channel)", s)
	}
	return k, nil
}

// optionsKeys lists the overridable settings that live in [OPTIONS];
// everything else routes to [COMMON].
var optionsKeys = map[string]bool{
	"DATAFILE_PATH": true, "SAVE_RAW_DATA": true, "SAVE_TDC_LIST": true,
	"SAVE_WAVEFORM": true, "SAVE_ENERGY_HISTOGRAM": true,
	"SAVE_TIME_HISTOGRAM": true, "SAVE_LISTS": true, "SAVE_RUN_INFO": true,
	"OUTPUT_FILE_FORMAT": true, "OUTPUT_FILE_HEADER": true,
	"OUTPUT_FILE_TIMESTAMP_UNIT": true, "STATS_RUN_ENABLE": true,
	"PLOT_RUN_ENABLE": true, "DGTZ_RESET": true, "SYNC_ENABLE": true,
	"TRIGGER_FIXED": true, "BOARD_REF": true, "CHANNEL_REF": true,
	"ENERGY_H_NBIN": true, "TIME_H_NBIN": true, "TIME_H_MODE": true,
	"TIME_H_MIN": true, "TIME_H_MAX": true, "BATCH_MODE": true,
	"BATCH_MAX_EVENTS": true, "BATCH_MAX_TIME": true,
}

// kv is one setting inside a section, in file order.
type kv struct {
	key   string
	value string
}

type section struct {
	name string
	keys []kv
}

func (s *section) set(key, value string) {
	for i := range s.keys {
		if s.keys[i].key == key {
			s.keys[i].value = value
			return
		}
	}
	s.keys = append(s.keys, kv{key, value})
}

type document struct {
	sections []*section
}

func (d *document) section(name string) *section {
	for _, s := range d.sections {
		if s.name == name {
			return s
		}
	}
	s := &section{name: name}
	d.sections = append(d.sections, s)
	return s
}

// Generate reads the YAML description, applies the overrides, and writes
// the INI file. A missing YAML file is not an error; the INI is then built
// from the overrides alone. Overrides route to [OPTIONS] or [COMMON] by
// key, channel overrides go into their board/channel section.
func Generate(yamlPath, outPath string, overrides map[string]any, channels map[ChannelKey]map[string]any) error {
	doc, err := loadYAML(yamlPath)
	if err != nil {
		return err
	}

	for _, key := range sortedKeys(overrides) {
		target := "COMMON"
		if optionsKeys[key] {
			target = "OPTIONS"
		}
		doc.section(target).set(key, formatValue(overrides[key]))
	}
	for _, ck := range sortedChannelKeys(channels) {
		s := doc.section(ck.Section())
		for _, key := range sortedKeys(channels[ck]) {
			s.set(key, formatValue(channels[ck][key]))
		}
	}

	if dir := filepath.Dir(outPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("acqconfig: create %s: %w", dir, err)
		}
	}
	return os.WriteFile(outPath, render(doc), 0o644)
}

func loadYAML(path string) (*document, error) {
	doc := &document{}
	if path == "" {
		return doc, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return doc, nil
		}
		return nil, fmt.Errorf("acqconfig: read %s: %w", path, err)
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("acqconfig: parse %s: %w", path, err)
	}
	if len(root.Content) == 0 {
		return doc, nil
	}
	top := root.Content[0]
	if top.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("acqconfig: %s: top level must be a mapping", path)
	}
	for i := 0; i+1 < len(top.Content); i += 2 {
		name := top.Content[i].Value
		body := top.Content[i+1]
		if body.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("acqconfig: %s: section %s must be a mapping", path, name)
		}
		s := doc.section(name)
		for j := 0; j+1 < len(body.Content); j += 2 {
			s.set(body.Content[j].Value, formatNode(body.Content[j+1]))
		}
	}
	return doc, nil
}

// formatNode renders a YAML scalar using the acquisition program's INI
// conventions: booleans become YES/NO, everything else keeps its literal
// spelling (enums like "4K" stay unquoted).
func formatNode(n *yaml.Node) string {
	if n.Tag == "!!bool" {
		var b bool
		if err := n.Decode(&b); err == nil {
			return yesNo(b)
		}
	}
	return n.Value
}

func formatValue(v any) string {
	switch t := v.(type) {
	case bool:
		return yesNo(t)
	case string:
		return t
	default:
		return fmt.Sprintf("%v", v)
	}
}

func yesNo(b bool) string {
	if b {
		return "YES"
	}
	return "NO"
}

// fixedOrder puts the connection and global sections first; remaining
// sections follow sorted by name.
var fixedOrder = []string{"CONNECTIONS", "OPTIONS", "COMMON"}

func render(doc *document) []byte {
	var b strings.Builder
	b.WriteString("# ****************************************************************\n")
	b.WriteString("# WaveDemo_x743 Configuration File (Auto-generated)\n")
	fmt.Fprintf(&b, "# Generated: %s\n", time.Now().Format("2006-01-02 15:04:05"))
	b.WriteString("# ****************************************************************\n\n")

	written := make(map[string]bool)
	for _, name := range fixedOrder {
		for _, s := range doc.sections {
			if s.name == name {
				renderSection(&b, s)
				written[name] = true
			}
		}
	}

	var rest []*section
	for _, s := range doc.sections {
		if !written[s.name] {
			rest = append(rest, s)
		}
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i].name < rest[j].name })
	for _, s := range rest {
		renderSection(&b, s)
	}
	return []byte(b.String())
}

func renderSection(b *strings.Builder, s *section) {
	fmt.Fprintf(b, "[%s]\n", s.name)
	for _, e := range s.keys {
		fmt.Fprintf(b, "%s = %s\n", e.key, e.value)
	}
	b.WriteString("\n")
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedChannelKeys(m map[ChannelKey]map[string]any) []ChannelKey {
	keys := make([]ChannelKey, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Board != keys[j].Board {
			return keys[i].Board < keys[j].Board
		}
		return keys[i].Channel < keys[j].Channel
	})
	return keys
}
