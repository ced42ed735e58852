// Package overlay mounts a full-viewport modal over the monitored page,
// silencing its media until the user resolves the modal.
package overlay

// MediaKind distinguishes audio from video elements
type MediaKind string

const (
	MediaAudio MediaKind = "audio"
	MediaVideo MediaKind = "video"
)

// MediaElement is a single audio or video element on the page
type MediaElement interface {
	Kind() MediaKind
	Muted() (bool, error)
	SetMuted(muted bool) error
	Paused() (bool, error)
	Pause() error
	Play() error
}

// Host is the page the overlay is mounted on
type Host interface {
	// Media enumerates the audio and video elements currently on the page.
	Media() ([]MediaElement, error)
	// Mounted reports whether an element with the marker id exists.
	Mounted(marker string) (bool, error)
	Mount(w *Widget) error
	Unmount(marker string) error
	// DisableScroll hides body overflow and returns the inline value it replaced.
	DisableScroll() (prior string, err error)
	// RestoreScroll puts back a value returned by DisableScroll.
	RestoreScroll(prior string) error
	Focus(marker string) error
}

// Navigator ends the browsing session by moving the page somewhere inert
type Navigator interface {
	Terminate() error
}

// Labels holds the button captions
type Labels struct {
	Accept  string
	Decline string
}

// mediaState is the snapshot taken before the overlay silenced an element
type mediaState struct {
	element   MediaElement
	muted     bool
	paused    bool
	hasPaused bool
}
