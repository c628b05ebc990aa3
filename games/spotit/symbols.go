package spotit

import (
	"bufio"
	_ "embed"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

//go:embed symbols.txt
var bundledSymbols string

// Pack is the TOML form of a symbol list.
//
//	name = "kitchen"
//	symbols = ["whisk", "ladle", "colander"]
type Pack struct {
	Name    string   `toml:"name"`
	Symbols []string `toml:"symbols"`
}

// DefaultSymbols is the fallback used when a symbol list cannot be read.
func DefaultSymbols() []string {
	return []string{
		"banana peel", "toothbrush", "angry cat", "toilet paper roll",
		"screaming sun", "spilled coffee", "dancing pickle", "flying pizza",
	}
}

// BundledSymbols returns the symbol list compiled into the binary.
func BundledSymbols() []string {
	labels, _ := readLabels(strings.NewReader(bundledSymbols))
	return labels
}

// LoadSymbols reads symbol labels from path, one per line, or from a Pack
// when path ends in ".toml". Labels are trimmed, and blank or repeated ones
// are dropped.
//
// The returned labels are always usable: if path cannot be read or parsed,
// DefaultSymbols is returned along with the error.
func LoadSymbols(path string) ([]string, error) {
	var (
		labels []string
		err    error
	)

	if strings.EqualFold(filepath.Ext(path), ".toml") {
		labels, err = loadPack(path)
	} else {
		labels, err = loadLines(path)
	}
	if err != nil {
		return DefaultSymbols(), err
	}

	return labels, nil
}

func loadLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	labels, err := readLabels(f)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return labels, nil
}

func loadPack(path string) ([]string, error) {
	var pack Pack
	if _, err := toml.DecodeFile(path, &pack); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	return clean(pack.Symbols), nil
}

func readLabels(r io.Reader) ([]string, error) {
	var lines []string

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return clean(lines), nil
}

func clean(raw []string) []string {
	labels := make([]string, 0, len(raw))
	for _, l := range raw {
		if l = strings.TrimSpace(l); l != "" {
			labels = append(labels, l)
		}
	}
	return distinct(labels)
}
