package overlay

import (
	"sync"

	"github.com/goodtune/breakwatch/internal/metrics"
	"github.com/rs/zerolog"
)

// Controller mounts at most one overlay at a time on a Host
type Controller struct {
	mu        sync.Mutex
	host      Host
	navigator Navigator
	labels    Labels
	marker    string
	widget    *Widget
	media     []mediaState
	scroll    *string // body overflow before the overlay, nil if it was not captured
	onAccept  func()
	onDecline func()
	logger    zerolog.Logger
}

// NewController creates a controller with a fresh marker id
func NewController(host Host, navigator Navigator, labels Labels, logger zerolog.Logger) *Controller {
	return &Controller{
		host:      host,
		navigator: navigator,
		labels:    labels,
		marker:    NewMarker(),
		logger:    logger.With().Str("component", "overlay").Logger(),
	}
}

// Marker returns the DOM id used for this controller's overlay.
func (c *Controller) Marker() string {
	return c.marker
}

// Active reports whether an overlay is currently mounted.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mountedLocked()
}

// current returns the mounted widget, or nil.
func (c *Controller) current() *Widget {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.widget
}

// Show mounts a modal carrying message. It returns false without doing
// anything if an overlay is already mounted. A nil callback ends the
// browsing session through the Navigator.
func (c *Controller) Show(message string, onAccept, onDecline func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mountedLocked() {
		c.logger.Debug().Msg("Overlay already mounted, ignoring request")
		return false
	}

	c.media = c.silence()

	widget := newWidget(c.marker, message, c.labels)
	if err := c.host.Mount(widget); err != nil {
		c.logger.Error().Err(err).Msg("Failed to mount overlay")
		c.restore(c.media)
		c.media = nil
		return false
	}

	if prior, err := c.host.DisableScroll(); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to disable page scroll")
	} else {
		c.scroll = &prior
	}
	if err := c.host.Focus(c.marker); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to focus overlay")
	}

	c.widget = widget
	c.onAccept = c.orTerminate(onAccept)
	c.onDecline = c.orTerminate(onDecline)
	metrics.OverlayActive.Set(1)

	c.logger.Info().
		Int("media_elements", len(c.media)).
		Msg("Overlay mounted")

	return true
}

// Accept resolves the overlay through its accept action.
func (c *Controller) Accept() bool {
	return c.resolve(ActionAccept)
}

// Decline resolves the overlay through its decline action.
func (c *Controller) Decline() bool {
	return c.resolve(ActionDecline)
}

// Resolve dispatches a button press by element id.
func (c *Controller) Resolve(targetID string) bool {
	c.mu.Lock()
	widget := c.widget
	c.mu.Unlock()

	if widget == nil {
		return false
	}
	action, ok := widget.ActionFor(targetID)
	if !ok {
		return false
	}
	return c.resolve(action)
}

func (c *Controller) resolve(action Action) bool {
	c.mu.Lock()
	if c.widget == nil {
		c.mu.Unlock()
		return false
	}

	if err := c.host.Unmount(c.marker); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to unmount overlay")
	}
	if c.scroll != nil {
		if err := c.host.RestoreScroll(*c.scroll); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to restore page scroll")
		}
	}
	c.restore(c.media)

	callback := c.onAccept
	if action == ActionDecline {
		callback = c.onDecline
	}
	c.clearLocked()
	c.mu.Unlock()

	metrics.OverlaysShown.WithLabelValues(string(action)).Inc()
	c.logger.Info().Str("action", string(action)).Msg("Overlay resolved")

	if callback != nil {
		callback()
	}
	return true
}

// mountedLocked drops a widget the page no longer carries, e.g. after navigation.
func (c *Controller) mountedLocked() bool {
	mounted, err := c.host.Mounted(c.marker)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Failed to query overlay state")
		return c.widget != nil
	}
	if !mounted && c.widget != nil {
		c.logger.Debug().Msg("Overlay removed by page, discarding")
		c.clearLocked()
	}
	return mounted
}

func (c *Controller) clearLocked() {
	c.widget = nil
	c.media = nil
	c.scroll = nil
	c.onAccept = nil
	c.onDecline = nil
	metrics.OverlayActive.Set(0)
}

func (c *Controller) orTerminate(fn func()) func() {
	if fn != nil {
		return fn
	}
	return func() {
		if err := c.navigator.Terminate(); err != nil {
			c.logger.Error().Err(err).Msg("Failed to end browsing session")
		}
	}
}

// silence mutes every element and pauses videos, returning their prior state.
func (c *Controller) silence() []mediaState {
	elements, err := c.host.Media()
	if err != nil {
		c.logger.Warn().Err(err).Msg("Failed to enumerate media elements")
		return nil
	}

	states := make([]mediaState, 0, len(elements))
	for _, el := range elements {
		muted, err := el.Muted()
		if err != nil {
			c.logger.Warn().Err(err).Str("kind", string(el.Kind())).Msg("Failed to read media state")
			continue
		}
		st := mediaState{element: el, muted: muted}

		if el.Kind() == MediaVideo {
			paused, err := el.Paused()
			if err != nil {
				c.logger.Warn().Err(err).Msg("Failed to read video state")
				continue
			}
			st.paused = paused
			st.hasPaused = true
		}

		if err := el.SetMuted(true); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to mute media element")
		}
		if st.hasPaused {
			if err := el.Pause(); err != nil {
				c.logger.Warn().Err(err).Msg("Failed to pause video")
			}
		}
		states = append(states, st)
	}
	return states
}

// restore puts back the snapshot. Play is only called for elements that
// were playing before and are paused now.
func (c *Controller) restore(states []mediaState) {
	for _, st := range states {
		if err := st.element.SetMuted(st.muted); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to restore mute state")
		}
		if !st.hasPaused || st.paused {
			continue
		}
		paused, err := st.element.Paused()
		if err != nil {
			c.logger.Warn().Err(err).Msg("Failed to read video state")
			continue
		}
		if paused {
			if err := st.element.Play(); err != nil {
				c.logger.Warn().Err(err).Msg("Failed to resume video")
			}
		}
	}
}
