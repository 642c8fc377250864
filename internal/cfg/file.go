package cfg

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/keithlinneman/natours-api/internal/xerrors"
)

// FillFromFile sets flags that are still unset from a YAML mapping of flag
// name to value. Call it after FillFromEnv so the precedence is
// cli flag > env var > file > default. Lists join with commas.
func FillFromFile(fs *flag.FlagSet, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return xerrors.Wrapf(err, "read config file %s", path)
	}

	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return xerrors.Wrapf(err, "parse config file %s", path)
	}

	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	var errs []string
	for name, v := range doc {
		if fs.Lookup(name) == nil {
			errs = append(errs, fmt.Sprintf("unknown key %q", name))
			continue
		}
		if set[name] {
			continue
		}
		if err := fs.Set(name, yamlValue(v)); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", name, err))
		}
	}
	if len(errs) > 0 {
		return xerrors.Newf("config file %s: %s", path, strings.Join(errs, "; "))
	}
	return nil
}

func yamlValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case []any:
		parts := make([]string, 0, len(t))
		for _, p := range t {
			parts = append(parts, fmt.Sprint(p))
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprint(t)
	}
}
