//go:build windows

package main

import (
	"context"

	"github.com/getlantern/systray"
	"github.com/pkg/browser"
	"github.com/rs/zerolog/log"
)

// runUI shows the tray icon and blocks until Quit is chosen or ctx is done.
func runUI(ctx context.Context, url string, open bool) {
	go func() {
		<-ctx.Done()
		systray.Quit()
	}()
	systray.Run(func() { onReady(url, open) }, func() {})
}

func onReady(url string, open bool) {
	icon := trayIcon()
	systray.SetTemplateIcon(icon, icon)
	systray.SetTitle("Retouch")
	systray.SetTooltip("Retouch – click to open UI")

	openItem := systray.AddMenuItem("Open Web UI", "Launch the browser")
	systray.AddSeparator()
	quitItem := systray.AddMenuItem("Quit", "Shut down Retouch")

	if open {
		openURL(url)
	}
	go func() {
		for {
			select {
			case <-openItem.ClickedCh:
				openURL(url)
			case <-quitItem.ClickedCh:
				systray.Quit()
				return
			}
		}
	}()
}

func openURL(url string) {
	if err := browser.OpenURL(url); err != nil {
		log.Warn().Err(err).Str("url", url).Msg("failed to open browser")
	}
}
