// Package browser drives the monitored page through playwright and provides
// the overlay Host and Navigator over it.
package browser

import (
	"fmt"

	"github.com/goodtune/breakwatch/internal/overlay"
	"github.com/playwright-community/playwright-go"
)

// Host implements overlay.Host on a playwright page
type Host struct {
	page playwright.Page
}

// Media returns the audio and video elements currently on the page.
func (h *Host) Media() ([]overlay.MediaElement, error) {
	handles, err := h.page.QuerySelectorAll("audio, video")
	if err != nil {
		return nil, fmt.Errorf("failed to query media elements: %w", err)
	}

	elements := make([]overlay.MediaElement, 0, len(handles))
	for _, handle := range handles {
		tag, err := asString(handle.Evaluate(tagScript))
		if err != nil {
			return nil, fmt.Errorf("failed to read media element tag: %w", err)
		}
		kind := overlay.MediaAudio
		if tag == "video" {
			kind = overlay.MediaVideo
		}
		elements = append(elements, &mediaElement{handle: handle, kind: kind})
	}
	return elements, nil
}

// Mounted reports whether an element with the marker id is in the document.
func (h *Host) Mounted(marker string) (bool, error) {
	return asBool(h.page.Evaluate(mountedScript, marker))
}

// Mount renders the widget and attaches it with its input blockers.
func (h *Host) Mount(w *overlay.Widget) error {
	html, err := w.HTML()
	if err != nil {
		return fmt.Errorf("failed to render overlay: %w", err)
	}

	_, err = h.page.Evaluate(mountScript, map[string]interface{}{
		"id":      w.ID,
		"html":    html,
		"allowed": w.AllowedTargets(),
		"events":  overlay.BlockedEvents,
	})
	if err != nil {
		return fmt.Errorf("failed to mount overlay: %w", err)
	}
	return nil
}

// Unmount removes the overlay and its input blockers.
func (h *Host) Unmount(marker string) error {
	if _, err := h.page.Evaluate(unmountScript, marker); err != nil {
		return fmt.Errorf("failed to unmount overlay: %w", err)
	}
	return nil
}

// DisableScroll hides the body overflow and returns its previous inline value.
func (h *Host) DisableScroll() (string, error) {
	prior, err := asString(h.page.Evaluate(disableScrollScript))
	if err != nil {
		return "", fmt.Errorf("failed to disable page scroll: %w", err)
	}
	return prior, nil
}

// RestoreScroll puts back the inline body overflow captured by DisableScroll.
func (h *Host) RestoreScroll(prior string) error {
	if _, err := h.page.Evaluate(restoreScrollScript, prior); err != nil {
		return fmt.Errorf("failed to restore page scroll: %w", err)
	}
	return nil
}

// Focus moves keyboard focus to the overlay.
func (h *Host) Focus(marker string) error {
	if _, err := h.page.Evaluate(focusScript, marker); err != nil {
		return fmt.Errorf("failed to focus overlay: %w", err)
	}
	return nil
}

type mediaElement struct {
	handle playwright.ElementHandle
	kind   overlay.MediaKind
}

func (m *mediaElement) Kind() overlay.MediaKind {
	return m.kind
}

func (m *mediaElement) Muted() (bool, error) {
	return asBool(m.handle.Evaluate(mutedScript))
}

func (m *mediaElement) SetMuted(muted bool) error {
	_, err := m.handle.Evaluate(setMuteScript, muted)
	return err
}

func (m *mediaElement) Paused() (bool, error) {
	return asBool(m.handle.Evaluate(pausedScript))
}

func (m *mediaElement) Pause() error {
	_, err := m.handle.Evaluate(pauseScript)
	return err
}

func (m *mediaElement) Play() error {
	_, err := m.handle.Evaluate(playScript)
	return err
}

// Navigator implements overlay.Navigator by sending the page to an inert URL
type Navigator struct {
	page playwright.Page
	url  string
}

// Terminate ends the browsing session.
func (n *Navigator) Terminate() error {
	if _, err := n.page.Goto(n.url); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", n.url, err)
	}
	return nil
}

func asBool(v interface{}, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("expected boolean result, got %T", v)
	}
	return b, nil
}

func asString(v interface{}, err error) (string, error) {
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("expected string result, got %T", v)
	}
	return s, nil
}
