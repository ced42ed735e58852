package overlay

import (
	"bytes"
	"html/template"
	"slices"

	"github.com/google/uuid"
)

// Action identifies one of the two overlay buttons
type Action string

const (
	ActionAccept  Action = "accept"
	ActionDecline Action = "decline"
)

// BlockedEvents lists the input event types the overlay swallows
// outside its action buttons.
var BlockedEvents = []string{
	"click", "mousedown", "mouseup", "mousemove",
	"touchstart", "touchend", "touchmove",
	"keydown", "keyup", "keypress",
	"wheel", "scroll",
	"pointerdown", "pointerup", "pointermove",
}

var blocked = func() map[string]struct{} {
	m := make(map[string]struct{}, len(BlockedEvents))
	for _, e := range BlockedEvents {
		m[e] = struct{}{}
	}
	return m
}()

// Event is an input event dispatched on the page
type Event struct {
	Type     string
	TargetID string
}

// Widget is the modal content mounted by the controller
type Widget struct {
	ID      string
	Message string
	Labels  Labels
}

// NewMarker returns a unique DOM id for a controller's overlay.
func NewMarker() string {
	return "breakwatch-overlay-" + uuid.NewString()
}

func newWidget(marker, message string, labels Labels) *Widget {
	return &Widget{ID: marker, Message: message, Labels: labels}
}

// ActionID returns the element id of an action button.
func (w *Widget) ActionID(a Action) string {
	return w.ID + "-" + string(a)
}

// ActionFor maps an element id back to its action.
func (w *Widget) ActionFor(targetID string) (Action, bool) {
	switch targetID {
	case w.ActionID(ActionAccept):
		return ActionAccept, true
	case w.ActionID(ActionDecline):
		return ActionDecline, true
	}
	return "", false
}

// AllowedTargets returns the element ids that keep receiving input while
// the overlay is mounted. The page-side blocker is built from this list.
func (w *Widget) AllowedTargets() []string {
	return []string{w.ActionID(ActionAccept), w.ActionID(ActionDecline)}
}

// Intercepts reports whether the overlay swallows e.
func (w *Widget) Intercepts(e Event) bool {
	if _, ok := blocked[e.Type]; !ok {
		return false
	}
	return !slices.Contains(w.AllowedTargets(), e.TargetID)
}

var widgetTemplate = template.Must(template.New("overlay").Parse(`<div id="{{.ID}}" role="dialog" aria-modal="true" tabindex="-1" style="position:fixed;inset:0;width:100vw;height:100vh;z-index:2147483647;background:rgba(0,0,0,0.85);display:flex;align-items:center;justify-content:center;">
<div style="background:#1f1f1f;color:#fff;max-width:480px;padding:32px;border-radius:12px;font:16px/1.5 sans-serif;text-align:center;">
<p style="white-space:pre-line;margin:0 0 24px;">{{.Message}}</p>
<button id="{{.AcceptID}}" type="button" style="margin:0 8px;padding:8px 20px;">{{.Labels.Accept}}</button>
<button id="{{.DeclineID}}" type="button" style="margin:0 8px;padding:8px 20px;">{{.Labels.Decline}}</button>
</div>
</div>`))

// HTML renders the widget markup with the message escaped.
func (w *Widget) HTML() (string, error) {
	var buf bytes.Buffer
	err := widgetTemplate.Execute(&buf, struct {
		*Widget
		AcceptID  string
		DeclineID string
	}{w, w.ActionID(ActionAccept), w.ActionID(ActionDecline)})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}
