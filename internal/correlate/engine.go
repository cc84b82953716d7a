package correlate

import (
	"strings"

	"tabwatch/pkg/model"
)

var (
	interactionMarks = []string{"click", "submit", "change", "input"}

	triggerFormPatterns = []string{"submit", "save", "update", "delete"}
	searchPatterns      = []string{"search", "query", "filter"}
	loadPatterns        = []string{"load", "get", "fetch"}

	sectionFormPatterns = []string{"submit", "save", "create", "update"}
	deletePatterns      = []string{"delete", "remove"}
)

// Engine derives correlation labels for freshly observed requests. It never
// errors: missing data degrades to empty labels.
type Engine struct {
	viewport model.LayoutSnapshot
}

// New creates an engine with the given fallback viewport. Non-positive
// dimensions default to 1280x720.
func New(viewport model.LayoutSnapshot) *Engine {
	if viewport.ViewportWidth <= 0 {
		viewport.ViewportWidth = 1280
	}
	if viewport.ViewportHeight <= 0 {
		viewport.ViewportHeight = 720
	}
	return &Engine{viewport: viewport}
}

// Correlate fills the record's trigger and section labels in place. A layout
// snapshot overrides the engine's fallback viewport when present; element
// geometry, when known, wins over the URL-derived section.
func (e *Engine) Correlate(rec *model.RequestRecord, layout *model.LayoutSnapshot) {
	rec.Trigger = Trigger(rec)
	applySection(rec)
	if rec.Element != nil {
		vp := e.viewport
		if layout != nil {
			vp = *layout
		}
		rec.UISection = PositionLabel(rec.Element.X, rec.Element.Y, vp)
	}
}

// Trigger labels the likely cause of a request; first match wins.
func Trigger(rec *model.RequestRecord) string {
	switch rec.Initiator.Type {
	case "script":
		for _, f := range rec.Initiator.Frames {
			name := strings.ToLower(f.Function)
			if containsAny(name, interactionMarks) {
				return "User interaction (" + name + ")"
			}
			if strings.Contains(name, "onclick") || strings.Contains(name, "onsubmit") {
				return "Event handler (" + name + ")"
			}
			if strings.Contains(name, "fetch") || strings.Contains(name, "xhr") {
				return "AJAX call"
			}
		}
	case "parser":
		return "Page parsing (HTML/CSS)"
	case "other":
		return "Browser initiated"
	}
	if rec.IsAPICall() {
		u := strings.ToLower(rec.URL)
		switch {
		case containsAny(u, triggerFormPatterns):
			return "Form submission"
		case containsAny(u, searchPatterns):
			return "Search/Filter action"
		case containsAny(u, loadPatterns):
			return "Data loading"
		}
	}
	return ""
}

func applySection(rec *model.RequestRecord) {
	switch {
	case rec.IsAPICall():
		u := strings.ToLower(rec.URL)
		switch {
		case containsAny(u, searchPatterns):
			rec.UISection = "Search/Filter interface"
			setElementText(rec, "Search or filter control")
		case containsAny(u, sectionFormPatterns):
			rec.UISection = "Form submission area"
			setElementText(rec, "Submit or save button")
		case containsAny(u, deletePatterns):
			rec.UISection = "Action controls"
			setElementText(rec, "Delete or remove button")
		case containsAny(u, loadPatterns):
			rec.UISection = "Content loading area"
			setElementText(rec, "Dynamic content trigger")
		default:
			rec.UISection = "Interactive element"
		}
	case rec.ResourceType == "Image":
		rec.UISection = "Image content"
		setElementText(rec, "Image: "+lastSegment(rec.URL))
	case rec.ResourceType == "Media", rec.ResourceType == "Other":
		rec.UISection = "Media content"
		setElementText(rec, "Media: "+lastSegment(rec.URL))
	case rec.ResourceType == "Stylesheet", rec.ResourceType == "Script":
		rec.UISection = "Page resources"
	}
}

// PositionLabel maps element coordinates onto a coarse page-layout grid.
func PositionLabel(x, y float64, vp model.LayoutSnapshot) string {
	w, h := vp.ViewportWidth, vp.ViewportHeight
	switch {
	case y < 100:
		switch {
		case x < w*0.2:
			return "Header - Left (Logo/Menu)"
		case x > w*0.8:
			return "Header - Right (User/Actions)"
		default:
			return "Header - Center (Navigation)"
		}
	case x < 200:
		return "Sidebar - Left (Navigation/Menu)"
	case x > w-200:
		return "Sidebar - Right (Info/Actions)"
	case y > h-100:
		return "Footer"
	case y < h*0.3:
		return "Main content - Top"
	case y > h*0.7:
		return "Main content - Bottom"
	default:
		return "Main content - Center"
	}
}

func setElementText(rec *model.RequestRecord, text string) {
	if rec.ElementText == "" {
		rec.ElementText = text
	}
}

func lastSegment(u string) string {
	if i := strings.LastIndex(u, "/"); i >= 0 {
		return u[i+1:]
	}
	return u
}

func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
