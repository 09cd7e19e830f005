package prompts

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strings"

	"github.com/xpanvictor/aisly/pkg/Logger"
)

var quotedTerm = regexp.MustCompile(`"(.*?)"`)

// Paths locates the prompt resources on disk.
type Paths struct {
	System string `mapstructure:"system"`
	Legend string `mapstructure:"legend"`
	Terms  string `mapstructure:"terms"`
}

// Resources are the read-only texts loaded once at startup.
type Resources struct {
	System string
	Legend string
	Terms  []string
}

// LoadPrompt reads a UTF-8 prompt file and trims surrounding whitespace.
func LoadPrompt(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read prompt %s: %w", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// LoadTerms reads every "quoted" entry from a term list file.
func LoadTerms(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read terms %s: %w", path, err)
	}
	return ParseTerms(string(data)), nil
}

func ParseTerms(text string) []string {
	matches := quotedTerm.FindAllStringSubmatch(text, -1)
	terms := make([]string, 0, len(matches))
	for _, m := range matches {
		if t := strings.TrimSpace(m[1]); t != "" {
			terms = append(terms, t)
		}
	}
	return terms
}

// Load reads all resources. The system prompt is required; a missing legend
// or term list only disables that feature.
func Load(paths Paths, logger *Logger.Logger) (Resources, error) {
	var res Resources

	system, err := LoadPrompt(paths.System)
	if err != nil {
		return res, err
	}
	res.System = system

	if paths.Legend != "" {
		legend, err := LoadPrompt(paths.Legend)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			logger.Warnf("legend prompt %s not found, legend turn will be empty", paths.Legend)
		case err != nil:
			return res, err
		default:
			res.Legend = legend
		}
	}

	if paths.Terms != "" {
		terms, err := LoadTerms(paths.Terms)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			logger.Warnf("term list %s not found, term correction disabled", paths.Terms)
		case err != nil:
			return res, err
		default:
			res.Terms = terms
		}
	}

	logger.Infof("loaded prompts: system=%d chars, legend=%d chars, %d terms", len(res.System), len(res.Legend), len(res.Terms))
	return res, nil
}
