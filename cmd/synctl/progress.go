package main

import (
	"context"
	"fmt"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/Guizzs26/go-trigger-sync/internal/extract"
)

func newBar(max int64, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions64(max,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionOnCompletion(func() {
			fmt.Println()
		}),
	)
}

// countingSink advances a bar for every batch written through it
type countingSink struct {
	extract.Sink
	bar *progressbar.ProgressBar
}

func (s countingSink) Put(ctx context.Context, env extract.Envelope) error {
	if err := s.Sink.Put(ctx, env); err != nil {
		return err
	}
	s.bar.Add(1)
	return nil
}
