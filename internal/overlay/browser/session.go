package browser

import (
	"fmt"
	"io"
	"sync"

	"github.com/goodtune/breakwatch/internal/config"
	"github.com/playwright-community/playwright-go"
	"github.com/rs/zerolog"
)

// resolveBinding is the page function overlay buttons call with their element id.
const resolveBinding = "breakwatchResolve"

// Session is the monitored browser page
type Session struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	page    playwright.Page

	host      *Host
	navigator *Navigator

	mu       sync.Mutex
	resolver func(targetID string) bool

	done      chan struct{}
	closeOnce sync.Once
	logger    zerolog.Logger
}

// Launch starts playwright, opens a Chromium page and navigates to the start URL.
func Launch(cfg config.BrowserConfig, logger zerolog.Logger) (*Session, error) {
	logger = logger.With().Str("component", "browser").Logger()

	opts := &playwright.RunOptions{
		Browsers: []string{"chromium"},
		Verbose:  false,
		Stdout:   io.Discard,
		Stderr:   io.Discard,
	}

	if cfg.Install {
		logger.Info().Msg("Installing browser driver")
		if err := playwright.Install(opts); err != nil {
			return nil, fmt.Errorf("failed to install playwright: %w", err)
		}
	}

	pw, err := playwright.Run(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(cfg.Headless),
	})
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	bctx, err := browser.NewContext(playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{
			Width:  cfg.ViewportWidth,
			Height: cfg.ViewportHeight,
		},
	})
	if err != nil {
		browser.Close()
		pw.Stop()
		return nil, fmt.Errorf("failed to create context: %w", err)
	}

	page, err := bctx.NewPage()
	if err != nil {
		bctx.Close()
		browser.Close()
		pw.Stop()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}

	s := &Session{
		pw:        pw,
		browser:   browser,
		context:   bctx,
		page:      page,
		host:      &Host{page: page},
		navigator: &Navigator{page: page, url: cfg.TerminateURL},
		done:      make(chan struct{}),
		logger:    logger,
	}

	if err := page.ExposeFunction(resolveBinding, s.dispatch); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to expose overlay binding: %w", err)
	}

	page.OnClose(func(playwright.Page) {
		s.logger.Info().Msg("Monitored page closed")
		s.markDone()
	})

	if _, err := page.Goto(cfg.StartURL); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to open %s: %w", cfg.StartURL, err)
	}

	logger.Info().
		Str("url", cfg.StartURL).
		Bool("headless", cfg.Headless).
		Msg("Browser session started")

	return s, nil
}

// Host returns the overlay host for the page.
func (s *Session) Host() *Host {
	return s.host
}

// Navigator returns the navigator used to end the browsing session.
func (s *Session) Navigator() *Navigator {
	return s.navigator
}

// SetResolver registers the handler for overlay button presses.
func (s *Session) SetResolver(fn func(targetID string) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resolver = fn
}

// URL returns the page's current location.
func (s *Session) URL() string {
	return s.page.URL()
}

// Done is closed when the page or browser goes away.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Close shuts down the page, the browser and the driver.
func (s *Session) Close() error {
	s.markDone()

	if err := s.page.Close(); err != nil {
		s.logger.Debug().Err(err).Msg("Page close failed")
	}
	if err := s.context.Close(); err != nil {
		s.logger.Debug().Err(err).Msg("Context close failed")
	}
	if err := s.browser.Close(); err != nil {
		s.logger.Debug().Err(err).Msg("Browser close failed")
	}
	if err := s.pw.Stop(); err != nil {
		return fmt.Errorf("failed to stop playwright: %w", err)
	}
	return nil
}

func (s *Session) markDone() {
	s.closeOnce.Do(func() { close(s.done) })
}

// dispatch runs on the driver's callback goroutine. Resolution evaluates
// scripts on the same page, so it is handed off.
func (s *Session) dispatch(args ...interface{}) interface{} {
	if len(args) == 0 {
		return nil
	}
	targetID, ok := args[0].(string)
	if !ok {
		return nil
	}

	s.mu.Lock()
	resolver := s.resolver
	s.mu.Unlock()

	if resolver == nil {
		s.logger.Warn().Str("target", targetID).Msg("Overlay action with no resolver")
		return nil
	}

	go resolver(targetID)
	return nil
}
