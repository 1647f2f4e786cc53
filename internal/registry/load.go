package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fieldbirds/birddetect/internal/backend"
	"github.com/fieldbirds/birddetect/internal/config"
	"github.com/fieldbirds/birddetect/internal/log"
)

// Opener opens one backend. backend.Open is the production opener.
type Opener func(ctx context.Context, opts backend.Options) (backend.Backend, error)

// BackendOptions converts a configured model into backend options.
func BackendOptions(m config.Model) backend.Options {
	return backend.Options{
		Kind:       backend.Kind(m.Kind),
		Labels:     m.Labels,
		CanvasSize: m.CanvasSize,
		Path:       m.Path,
		InputName:  m.InputName,
		OutputName: m.OutputName,
		Anchors:    m.Anchors,
		PoolSize:   m.PoolSize,
		Threads:    m.Threads,
		ScoreFloor: m.ScoreFloor,
		URL:        m.URL,
		Timeout:    time.Duration(m.TimeoutSeconds) * time.Second,
	}
}

// Load opens every configured model concurrently, registers them in
// configuration order and activates cfg.ActiveModel().
//
// If any backend fails to open or the start-up model fails to warm up, every
// backend already opened is closed and the error is returned.
func Load(ctx context.Context, cfg *config.Config, open Opener) (*Registry, error) {
	if open == nil {
		open = backend.Open
	}

	backends := make([]backend.Backend, len(cfg.Models))
	g, gctx := errgroup.WithContext(ctx)
	for i, m := range cfg.Models {
		i, m := i, m
		g.Go(func() error {
			start := time.Now()
			b, err := open(gctx, BackendOptions(m))
			if err != nil {
				return fmt.Errorf("open model %s: %w", m.Name, err)
			}
			backends[i] = b
			log.Info(log.Fields{
				"model":    m.Name,
				"kind":     m.Kind,
				"duration": time.Since(start).String(),
			}, "[registry.Load] backend loaded")
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		closeAll(backends)
		return nil, err
	}

	reg := New()
	for i, m := range cfg.Models {
		err := reg.Register(Descriptor{
			Name:               m.Name,
			Kind:               backend.Kind(m.Kind),
			Backend:            backends[i],
			Labels:             m.Labels,
			CanvasSize:         m.CanvasSize,
			DeclaredAccuracy:   m.DeclaredAccuracy,
			DeclaredThroughput: m.DeclaredThroughput,
		})
		if err != nil {
			closeAll(backends)
			return nil, err
		}
	}

	if err := reg.SwitchTo(ctx, cfg.ActiveModel()); err != nil {
		closeAll(backends)
		return nil, err
	}

	return reg, nil
}

func closeAll(backends []backend.Backend) {
	var errs []error
	for _, b := range backends {
		if c, ok := b.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if err := errors.Join(errs...); err != nil {
		log.Warn(log.Fields{"error": err.Error()}, "[registry.Load] failed to close backends")
	}
}
