package mirror

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/3leaps/cloudphotos/pkg/provider"
)

// DefaultKeyTemplate stores each photo under its own name.
const DefaultKeyTemplate = "{name}"

type keyPart interface {
	append(dst *strings.Builder, p *provider.Photo) error
}

type literalPart string

type namePart struct{}

type idPart struct{}

type extPart struct{}

// datePart renders a component of the photo's creation date.
type datePart struct{ layout string }

func (lp literalPart) append(dst *strings.Builder, _ *provider.Photo) error {
	dst.WriteString(string(lp))
	return nil
}

func (namePart) append(dst *strings.Builder, p *provider.Photo) error {
	name := strings.ReplaceAll(p.Name, "/", "_")
	if name == "" {
		name = p.ID
	}
	dst.WriteString(name)
	return nil
}

func (idPart) append(dst *strings.Builder, p *provider.Photo) error {
	dst.WriteString(p.ID)
	return nil
}

func (extPart) append(dst *strings.Builder, p *provider.Photo) error {
	dst.WriteString(strings.TrimPrefix(strings.ToLower(path.Ext(p.Name)), "."))
	return nil
}

func (dp datePart) append(dst *strings.Builder, p *provider.Photo) error {
	created, err := time.Parse(time.RFC3339Nano, p.CreatedDate)
	if err != nil {
		return fmt.Errorf("photo %s has no usable createdDate %q", p.ID, p.CreatedDate)
	}
	dst.WriteString(created.UTC().Format(dp.layout))
	return nil
}

// KeyTemplate maps a photo to its destination key.
//
// Supported placeholders:
//   - `{name}`: photo file name (slashes replaced, falls back to the id)
//   - `{id}`: node id
//   - `{ext}`: lower-case extension without the dot
//   - `{year}`, `{month}`, `{day}`: UTC creation date components
type KeyTemplate struct {
	parts []keyPart
}

// Apply renders the key for p.
func (t *KeyTemplate) Apply(p *provider.Photo) (string, error) {
	var b strings.Builder
	for _, part := range t.parts {
		if err := part.append(&b, p); err != nil {
			return "", err
		}
	}

	out := b.String()
	for strings.Contains(out, "//") {
		out = strings.ReplaceAll(out, "//", "/")
	}
	out = strings.TrimPrefix(out, "/")
	if out == "" || strings.HasSuffix(out, "/") {
		return "", fmt.Errorf("key template produced invalid key %q for %s", out, p.ID)
	}
	return out, nil
}

// CompileKeyTemplate parses a template string. An empty template is
// DefaultKeyTemplate.
func CompileKeyTemplate(template string) (*KeyTemplate, error) {
	if template == "" {
		template = DefaultKeyTemplate
	}

	var parts []keyPart
	s := template
	for len(s) > 0 {
		open := strings.IndexByte(s, '{')
		if open == -1 {
			parts = append(parts, literalPart(s))
			break
		}
		if open > 0 {
			parts = append(parts, literalPart(s[:open]))
			s = s[open:]
		}

		closeIdx := strings.IndexByte(s, '}')
		if closeIdx == -1 {
			return nil, fmt.Errorf("unclosed placeholder in %q", template)
		}

		part, err := parsePlaceholder(s[1:closeIdx])
		if err != nil {
			return nil, err
		}
		parts = append(parts, part)
		s = s[closeIdx+1:]
	}

	return &KeyTemplate{parts: parts}, nil
}

func parsePlaceholder(p string) (keyPart, error) {
	switch p {
	case "name":
		return namePart{}, nil
	case "id":
		return idPart{}, nil
	case "ext":
		return extPart{}, nil
	case "year":
		return datePart{layout: "2006"}, nil
	case "month":
		return datePart{layout: "01"}, nil
	case "day":
		return datePart{layout: "02"}, nil
	default:
		return nil, fmt.Errorf("unsupported placeholder {%s}", p)
	}
}
