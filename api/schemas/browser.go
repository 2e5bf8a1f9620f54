package schemas

// -- Browser Interaction Schemas --

// ElementGeometry defines the bounding box and metadata of a DOM element in
// top-level viewport coordinates.
type ElementGeometry struct {
	Vertices []float64 `json:"vertices"`
	Width    int64     `json:"width"`
	Height   int64     `json:"height"`
	TagName  string    `json:"tagName"`
	Type     string    `json:"type,omitempty"`
}

// Origin returns the top-left corner of the element's box.
func (g *ElementGeometry) Origin() (x, y float64) {
	if len(g.Vertices) < 2 {
		return 0, 0
	}
	x, y = g.Vertices[0], g.Vertices[1]
	for i := 2; i+1 < len(g.Vertices); i += 2 {
		if g.Vertices[i] < x {
			x = g.Vertices[i]
		}
		if g.Vertices[i+1] < y {
			y = g.Vertices[i+1]
		}
	}
	return x, y
}

// Center returns the centroid of the element's vertices.
func (g *ElementGeometry) Center() (x, y float64) {
	n := len(g.Vertices) / 2
	if n == 0 {
		return 0, 0
	}
	for i := 0; i < n; i++ {
		x += g.Vertices[2*i]
		y += g.Vertices[2*i+1]
	}
	return x / float64(n), y / float64(n)
}

// Frame describes an iframe of the top-level document.
type Frame struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
	Src  string `json:"src,omitempty"`
	// Ref is the backend's own node reference for the iframe element.
	Ref interface{} `json:"-"`
}

// Describe renders a short label for logs and traces.
func (f *Frame) Describe() string {
	if f == nil {
		return "top"
	}
	switch {
	case f.ID != "":
		return "iframe#" + f.ID
	case f.Name != "":
		return "iframe[name=" + f.Name + "]"
	default:
		return "iframe[src=" + f.Src + "]"
	}
}

// ElementHandle references an element located by the resolver. Ref is only
// interpreted by the Page that produced it.
type ElementHandle struct {
	Selector string      `json:"selector"`
	Frame    *Frame      `json:"frame,omitempty"`
	Ref      interface{} `json:"-"`
}

// MouseEventType defines the type of a mouse event.
type MouseEventType string

const (
	MouseMove    MouseEventType = "mouseMoved"
	MousePress   MouseEventType = "mousePressed"
	MouseRelease MouseEventType = "mouseReleased"
	MouseWheel   MouseEventType = "mouseWheel"
)

// MouseButton defines the mouse button being pressed.
type MouseButton string

const (
	ButtonNone  MouseButton = "none"
	ButtonLeft  MouseButton = "left"
	ButtonRight MouseButton = "right"
)

// MouseEventData encapsulates all data for a mouse event.
type MouseEventData struct {
	Type       MouseEventType `json:"type"`
	X          float64        `json:"x"`
	Y          float64        `json:"y"`
	Button     MouseButton    `json:"button"`
	Buttons    int64          `json:"buttons"`
	ClickCount int            `json:"clickCount"`
	DeltaX     float64        `json:"deltaX"`
	DeltaY     float64        `json:"deltaY"`
}
