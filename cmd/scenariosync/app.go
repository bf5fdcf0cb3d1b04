package main

import (
	"fmt"

	"github.com/zenibako/scenario-sync/auth"
	"github.com/zenibako/scenario-sync/config"
	"github.com/zenibako/scenario-sync/graphql"
	"github.com/zenibako/scenario-sync/mirror"
	"github.com/zenibako/scenario-sync/panel"
	"github.com/zenibako/scenario-sync/prompt"
	"github.com/zenibako/scenario-sync/scenario"
)

// app holds every wired component for one command run
type app struct {
	remote    scenario.RemoteAPI
	cache     *scenario.Cache
	lock      *scenario.KeyedLock
	workspace *mirror.Workspace
	saver     *scenario.SaveCoordinator
	provider  *scenario.Provider
	registry  *panel.Registry
	refresh   *scenario.Reconciler
}

func newApp(cfg *config.Config) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	tokens := auth.NewProvider(auth.Options{
		Token:     cfg.Auth.Token,
		TokenFile: cfg.Auth.TokenFile,
		Leeway:    cfg.Auth.Leeway,
	})
	remote := graphql.NewClient(cfg.API.Endpoint, tokens, graphql.Options{
		Timeout:        cfg.API.Timeout,
		Logger:         logger,
		PlotComponents: cfg.API.PlotComponents,
	})
	return wire(remote, cfg), nil
}

// wire builds the core over any remote
func wire(remote scenario.RemoteAPI, cfg *config.Config) *app {
	confirmer := prompt.New(assumeYes, logger)
	lock := scenario.NewKeyedLock()

	cache := scenario.NewCache(remote, scenario.CacheOptions{
		Logger:          logger,
		EmptyRetryDelay: cfg.Cache.EmptyRetryDelay,
		EmptyRetries:    cfg.Cache.EmptyRetries,
	})
	workspace := mirror.NewWorkspace(cfg.Mirror.Dir, mirror.Options{Logger: logger})
	saver := scenario.NewSaveCoordinator(remote, cache.Store(), workspace, confirmer, scenario.SaveOptions{
		Logger: logger,
		Lock:   lock,
	})
	provider := scenario.NewProvider(cache, saver, scenario.OverrideWriter{Cache: cache})
	workspace.Bind(provider)

	registry := panel.NewRegistry(cache)
	reconciler := scenario.NewReconciler(cache, provider, workspace, registry, confirmer, scenario.RefreshOptions{
		Logger: logger,
		Lock:   lock,
	})

	return &app{
		remote:    remote,
		cache:     cache,
		lock:      lock,
		workspace: workspace,
		saver:     saver,
		provider:  provider,
		registry:  registry,
		refresh:   reconciler,
	}
}
