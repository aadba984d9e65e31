package forge

import "fmt"

// RefStorage selects where source references are persisted after
// tracking: inline in the element file, or in a separate project.refs
// file. See core spec §6.
type RefStorage string

const (
	RefStorageInline       RefStorage = "inline"
	RefStorageProjectRefs  RefStorage = "project.refs"
)

// Project is one project configuration file's worth of settings, plus
// the elements loaded under it.
type Project struct {
	Name string `yaml:"name" json:"name"`

	// ElementPath is the project-relative directory element files are
	// looked up under.
	ElementPath string `yaml:"element-path,omitempty" json:"element_path,omitempty"`

	RefStorage RefStorage `yaml:"ref-storage,omitempty" json:"ref_storage,omitempty"`

	Aliases map[string]string `yaml:"aliases,omitempty" json:"aliases,omitempty"`
	Mirrors map[string][]string `yaml:"mirrors,omitempty" json:"mirrors,omitempty"`

	Plugins []string `yaml:"plugins,omitempty" json:"plugins,omitempty"`
	Options map[string]any `yaml:"options,omitempty" json:"options,omitempty"`

	// Junctions maps a junction element name to the subproject it
	// loads, enabling junction.bst:element.bst path chaining.
	Junctions map[string]*Project `yaml:"-" json:"-"`

	elements map[string]*Element
}

func NewProject(name string) *Project {
	return &Project{
		Name:       name,
		RefStorage: RefStorageInline,
		elements:   make(map[string]*Element),
	}
}

// AddElement registers an already-constructed element under this
// project, enforcing the "element names are unique within their
// project" invariant from core spec §3.
func (p *Project) AddElement(e *Element) error {
	if p.elements == nil {
		p.elements = make(map[string]*Element)
	}
	if _, exists := p.elements[e.Name]; exists {
		return NewError(DomainLoad, "duplicate-element", fmt.Sprintf("element %q already exists in project %s", e.Name, p.Name), nil)
	}
	e.Project = p
	p.elements[e.Name] = e
	return nil
}

// Element looks up an element by name within this project.
func (p *Project) Element(name string) (*Element, bool) {
	e, ok := p.elements[name]
	return e, ok
}

// Elements returns all elements in this project, unordered.
func (p *Project) Elements() []*Element {
	out := make([]*Element, 0, len(p.elements))
	for _, e := range p.elements {
		out = append(out, e)
	}
	return out
}
