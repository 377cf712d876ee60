package model

import (
	"encoding/xml"
	"strings"

	"github.com/devblok/koruasset/asset"
)

// Scene is an xml entity description:
//
//	<scene>
//	  <entity id="1">
//	    <component type="Mesh">
//	      <attribute name="meshRef" value="ship.dae"/>
//	      <attribute name="materialRefs" value="hull.material;glass.material"/>
//	    </component>
//	  </entity>
//	</scene>
//
// Attributes whose name ends in "ref" hold one dependency, those ending in
// "refs" a ';' separated list.
type Scene struct {
	asset.Base

	entities []Entity
}

// Entity is one scene entity.
type Entity struct {
	ID         string      `xml:"id,attr"`
	Components []Component `xml:"component"`
}

// Component is one typed component of an entity.
type Component struct {
	Type       string      `xml:"type,attr"`
	Attributes []Attribute `xml:"attribute"`
}

// Attribute is a named component value.
type Attribute struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// Attribute returns the value of the named attribute.
func (c *Component) Attribute(name string) (string, bool) {
	for _, a := range c.Attributes {
		if strings.EqualFold(a.Name, name) {
			return a.Value, true
		}
	}
	return "", false
}

type sceneDocument struct {
	XMLName  xml.Name `xml:"scene"`
	Entities []Entity `xml:"entity"`
}

// NewScene is the factory for scenes.
func NewScene(name string) asset.Asset {
	return &Scene{Base: asset.NewBase(SceneType, name)}
}

// DeserializeFromBytes implements interface
func (s *Scene) DeserializeFromBytes(data []byte) ([]string, error) {
	var doc sceneDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	var deps []string
	seen := make(map[string]bool)
	add := func(ref string) {
		ref = strings.TrimSpace(ref)
		if ref == "" || seen[ref] {
			return
		}
		seen[ref] = true
		deps = append(deps, ref)
	}
	for _, e := range doc.Entities {
		for _, c := range e.Components {
			for _, a := range c.Attributes {
				name := strings.ToLower(a.Name)
				switch {
				case strings.HasSuffix(name, "refs"):
					for _, ref := range strings.Split(a.Value, ";") {
						add(ref)
					}
				case strings.HasSuffix(name, "ref"):
					add(a.Value)
				}
			}
		}
	}

	s.entities = doc.Entities
	s.SetLoaded(deps)
	return deps, nil
}

// Unload implements interface
func (s *Scene) Unload() {
	s.entities = nil
	s.ClearLoaded()
}

// Entities returns the entities of the scene.
func (s *Scene) Entities() []Entity { return s.entities }
