//go:build !windows

package main

import (
	"context"

	"github.com/pkg/browser"
	"github.com/rs/zerolog/log"
)

// runUI blocks until ctx is done.
func runUI(ctx context.Context, url string, open bool) {
	if open {
		if err := browser.OpenURL(url); err != nil {
			log.Warn().Err(err).Str("url", url).Msg("failed to open browser")
		}
	}
	<-ctx.Done()
}
