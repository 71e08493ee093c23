package rules

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/go-jsonnet"
	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"
)

// ErrConfigNotFound is returned by Load when the rule file does not exist.
var ErrConfigNotFound = errors.New("sieve config not found")

// Load reads a rule file. Files ending in .jsonnet or .libsonnet are
// evaluated first and must produce one document or an array of documents;
// anything else is read as multi-document YAML.
func Load(path string) ([]Spec, error) {
	path = ExpandHome(path)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jsonnet", ".libsonnet":
		out, err := jsonnet.MakeVM().EvaluateFile(path)
		if err != nil {
			return nil, fmt.Errorf("evaluate %s: %w", path, err)
		}
		return Parse(strings.NewReader(out))
	default:
		data, err := os.ReadFile(path) // #nosec G304 - path chosen by the user
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		return Parse(bytes.NewReader(data))
	}
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// Parse decodes a stream of rule-set documents. A top-level sequence is
// treated as a list of documents, which is what Jsonnet arrays evaluate to.
// All problems found are reported together.
func Parse(r io.Reader) ([]Spec, error) {
	dec := yaml.NewDecoder(r)
	var (
		specs []Spec
		errs  *multierror.Error
	)
	for {
		var doc yaml.Node
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode rules: %w", err)
		}
		root := &doc
		if root.Kind == yaml.DocumentNode && len(root.Content) > 0 {
			root = root.Content[0]
		}
		switch root.Kind {
		case yaml.SequenceNode:
			for _, item := range root.Content {
				spec, err := decodeSpec(item)
				if err != nil {
					errs = multierror.Append(errs, err)
					continue
				}
				specs = append(specs, spec)
			}
		case yaml.MappingNode:
			spec, err := decodeSpec(root)
			if err != nil {
				errs = multierror.Append(errs, err)
				continue
			}
			specs = append(specs, spec)
		case yaml.ScalarNode:
			if isNull(root) {
				continue
			}
			errs = multierror.Append(errs, nodeErr(root, "rule document must be a mapping"))
		default:
			errs = multierror.Append(errs, nodeErr(root, "rule document must be a mapping"))
		}
	}
	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}
	return specs, nil
}

func decodeSpec(n *yaml.Node) (Spec, error) {
	if n.Kind != yaml.MappingNode {
		return Spec{}, nodeErr(n, "rule document must be a mapping")
	}
	spec := Spec{Name: DefaultSpecName}
	var errs *multierror.Error
	for i := 0; i+1 < len(n.Content); i += 2 {
		key, val := n.Content[i], n.Content[i+1]
		switch key.Value {
		case "name":
			if !isNull(val) {
				spec.Name = val.Value
			}
		case "query":
			if !isNull(val) {
				spec.Query = val.Value
			}
		case "max_results":
			if isNull(val) {
				continue
			}
			v, err := strconv.Atoi(val.Value)
			if err != nil || v <= 0 {
				errs = multierror.Append(errs, nodeErr(val, "max_results must be a positive integer, got %q", val.Value))
				continue
			}
			spec.MaxResults = v
		case "spammers":
			filters, err := decodeSpammers(val)
			if err != nil {
				errs = multierror.Append(errs, err)
				continue
			}
			// spammer filters precede named filters
			spec.Filters = append(filters, spec.Filters...)
		case "default":
			if isNull(val) {
				continue
			}
			f, err := decodeFilter("default", val)
			if err != nil {
				errs = multierror.Append(errs, err)
				continue
			}
			spec.Default = &f
		case "filters":
			filters, err := decodeFilters(val)
			if err != nil {
				errs = multierror.Append(errs, err)
				continue
			}
			spec.Filters = append(spec.Filters, filters...)
		default:
			errs = multierror.Append(errs, nodeErr(key, "unknown key %q", key.Value))
		}
	}
	if len(spec.Filters) == 0 && spec.Default == nil && errs.ErrorOrNil() == nil {
		errs = multierror.Append(errs, nodeErr(n, "spec %q needs filters, spammers or a default", spec.Name))
	}
	if err := errs.ErrorOrNil(); err != nil {
		return Spec{}, fmt.Errorf("spec %q: %w", spec.Name, err)
	}
	return spec, nil
}

func decodeSpammers(n *yaml.Node) ([]Filter, error) {
	if isNull(n) {
		return nil, nil
	}
	if n.Kind != yaml.MappingNode {
		return nil, nodeErr(n, "spammers must map a header to addresses")
	}
	var out []Filter
	for i := 0; i+1 < len(n.Content); i += 2 {
		header := strings.ToLower(n.Content[i].Value)
		addrs, err := scalars(n.Content[i+1])
		if err != nil {
			return nil, err
		}
		out = append(out, SpammerFilters(header, addrs)...)
	}
	return out, nil
}

func decodeFilters(n *yaml.Node) ([]Filter, error) {
	if isNull(n) {
		return nil, nil
	}
	if n.Kind != yaml.MappingNode {
		return nil, nodeErr(n, "filters must map a name to a filter")
	}
	var (
		out  []Filter
		errs *multierror.Error
	)
	for i := 0; i+1 < len(n.Content); i += 2 {
		f, err := decodeFilter(n.Content[i].Value, n.Content[i+1])
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		out = append(out, f)
	}
	return out, errs.ErrorOrNil()
}

// decodeFilter accepts header criteria inline or under a nested "headers"
// key; both forms may be mixed.
func decodeFilter(name string, n *yaml.Node) (Filter, error) {
	if n.Kind != yaml.MappingNode {
		return Filter{}, nodeErr(n, "filter %q must be a mapping", name)
	}
	var (
		actions    []string
		hasActions bool
		criteria   []Criterion
	)
	for i := 0; i+1 < len(n.Content); i += 2 {
		key, val := n.Content[i], n.Content[i+1]
		switch key.Value {
		case "actions":
			hasActions = true
			v, err := scalars(val)
			if err != nil {
				return Filter{}, err
			}
			actions = v
		case "headers":
			if isNull(val) {
				continue
			}
			if val.Kind != yaml.MappingNode {
				return Filter{}, nodeErr(val, "filter %q: headers must be a mapping", name)
			}
			for j := 0; j+1 < len(val.Content); j += 2 {
				c, err := criterion(val.Content[j].Value, val.Content[j+1])
				if err != nil {
					return Filter{}, err
				}
				criteria = append(criteria, c)
			}
		default:
			c, err := criterion(key.Value, val)
			if err != nil {
				return Filter{}, err
			}
			criteria = append(criteria, c)
		}
	}
	if !hasActions {
		return Filter{}, nodeErr(n, "filter %q has no actions", name)
	}
	return NewFilter(name, actions, criteria...), nil
}

func criterion(header string, n *yaml.Node) (Criterion, error) {
	values, err := scalars(n)
	if err != nil {
		return Criterion{}, err
	}
	if n.Kind == yaml.SequenceNode {
		return Headers(header, values...), nil
	}
	return Criterion{Header: header, Values: values}, nil
}

// scalars reads a scalar or a sequence of scalars. Null yields no values.
func scalars(n *yaml.Node) ([]string, error) {
	switch {
	case isNull(n):
		return nil, nil
	case n.Kind == yaml.ScalarNode:
		return []string{n.Value}, nil
	case n.Kind == yaml.SequenceNode:
		out := make([]string, 0, len(n.Content))
		for _, item := range n.Content {
			if item.Kind != yaml.ScalarNode {
				return nil, nodeErr(item, "expected a string")
			}
			out = append(out, item.Value)
		}
		return out, nil
	default:
		return nil, nodeErr(n, "expected a string or a list of strings")
	}
}

func isNull(n *yaml.Node) bool {
	return n == nil || (n.Kind == yaml.ScalarNode && n.ShortTag() == "!!null")
}

func nodeErr(n *yaml.Node, format string, args ...any) error {
	return fmt.Errorf("line %d: %s", n.Line, fmt.Sprintf(format, args...))
}
