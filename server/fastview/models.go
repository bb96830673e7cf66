// Package fastview pushes small, idempotent element updates to a browser page over a websocket.
// A view renders its initial html once and afterwards only describes which elements changed.
package fastview

import (
	"html/template"
)

// EleUpdate is an element identifier and a set of operations to apply to its attributes/content.
type EleUpdate struct {
	// The id by which to find the element
	EleId string
	// Op keys are attribute names or 'textContent', values are what to set them to.
	// ('textContent','abc') sets ele.textContent to abc.
	Ops []Op
}

// Op is a key and value. For example an html attribute and its new value.
type Op struct {
	Key   string
	Value string
}

// TextUpdate is the common case of replacing an element's text.
func TextUpdate(eleID, text string) EleUpdate {
	return EleUpdate{
		EleId: eleID,
		Ops:   []Op{{Key: "textContent", Value: text}},
	}
}

// ViewComponent is a server side view: Parse adds its template to a parent and returns the
// template's name, Updates yields the element updates that keep a rendered page current.
type ViewComponent interface {
	Updates() <-chan []EleUpdate
	Parse(*template.Template) (string, error)
}
