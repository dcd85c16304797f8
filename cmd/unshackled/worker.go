// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/unshackle-dl/unshackle/internal/apierr"
	"github.com/unshackle-dl/unshackle/internal/config"
	"github.com/unshackle-dl/unshackle/internal/drm"
	"github.com/unshackle-dl/unshackle/internal/log"
	"github.com/unshackle-dl/unshackle/internal/proxy"
	"github.com/unshackle-dl/unshackle/internal/service"
	"github.com/unshackle-dl/unshackle/internal/service/example"
	"github.com/unshackle-dl/unshackle/internal/vault"
	"github.com/unshackle-dl/unshackle/internal/worker"
)

// runWorker executes one download job: argv is <payload> <result>
// <progress>. Exit codes: 0 success, 1 error, 2 usage.
func runWorker(args []string) int {
	if len(args) != 3 {
		fmt.Fprintln(os.Stderr, "usage: unshackled worker <payload> <result> <progress>")
		return worker.ExitUsage
	}
	payloadPath, resultPath, progressPath := args[0], args[1], args[2]

	cfg, err := config.Load(os.Getenv(configEnv))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		_ = worker.WriteResult(resultPath, worker.ErrorResult(err))
		return worker.ExitError
	}
	log.Configure(log.Config{Level: cfg.LogLevel, Service: "unshackle-worker"})

	// The service tag scopes the vault and DRM session manager, so peek
	// at the payload before building the runner.
	payload, err := worker.ReadPayload(payloadPath)
	if err != nil {
		_ = worker.WriteResult(resultPath, worker.ErrorResult(err))
		return worker.ExitError
	}

	registry := service.NewRegistry(cfg.ServicesDir)
	example.Register(registry)

	var proxyURI string
	if q := payload.Parameters.Proxy; q != "" && !payload.Parameters.NoProxy {
		resolver := proxy.NewResolver(proxy.ProvidersFromConfig(cfg.Proxies)...)
		proxyURI, err = resolver.Resolve(context.Background(), q)
		if err != nil {
			ae := apierr.New(apierr.CodeInvalidProxy, err.Error())
			_ = worker.WriteResult(resultPath, worker.ErrorResult(ae))
			return worker.ExitError
		}
	}

	deps := worker.Deps{
		Registry:     registry,
		GlobalConfig: cfg.Services,
		Downloader:   &worker.CommandDownloader{Binary: cfg.Tools.Downloader, Args: cfg.Tools.DownloaderArgs, Proxy: proxyURI},
		Muxer:        &worker.CommandMuxer{Binary: cfg.Tools.Muxer, Args: cfg.Tools.MuxerArgs},
		OutputDir:    cfg.OutputDir,
		Proxy:        proxyURI,
	}

	drmMgr, closeVault, err := buildDRMManager(cfg, payload.Service)
	if err != nil {
		_ = worker.WriteResult(resultPath, worker.ErrorResult(err))
		return worker.ExitError
	}
	defer closeVault()
	deps.DRM = drmMgr

	if cfg.SessionLogDir != "" {
		if dbg, err := log.NewDebugLogger(log.DebugOptions{
			Dir:       cfg.SessionLogDir,
			Name:      "job-" + payload.JobID,
			SessionID: payload.JobID,
			LogKeys:   cfg.LogDRMKeys,
		}); err == nil {
			defer dbg.Close()
			deps.Debug = dbg
		}
	}

	runner := worker.NewRunner(deps)
	return runner.Run(context.Background(), payloadPath, resultPath, progressPath)
}

// buildDRMManager wires the optional vault and remote backend. They are
// independently optional: either one is enough to source keys, and with
// neither configured key acquisition is skipped entirely. The returned
// close func is never nil.
func buildDRMManager(cfg config.Config, svc string) (*drm.Manager, func(), error) {
	noop := func() {}
	if !cfg.DRM.Configured() && cfg.VaultPath == "" {
		return nil, noop, nil
	}

	var kv drm.Vault
	closer := noop
	if cfg.VaultPath != "" {
		db, err := vault.Open(cfg.VaultPath)
		if err != nil {
			return nil, noop, err
		}
		kv = db
		closer = func() { _ = db.Close() }
	}

	var client *drm.Client
	if cfg.DRM.Configured() {
		client = drm.NewClient(cfg.DRM, nil)
	}
	return drm.NewManager(svc, client, kv), closer, nil
}
