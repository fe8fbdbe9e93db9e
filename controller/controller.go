// Copyright 2025 The packetd Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package controller wires TransportAdapter, Multiplexer and the debug
// server together into one running listener, and owns the background
// ticker that drives Pinging/Erase.
package controller

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"

	"github.com/httpmuxd/httpmuxd/callbackbus"
	"github.com/httpmuxd/httpmuxd/common"
	"github.com/httpmuxd/httpmuxd/confengine"
	"github.com/httpmuxd/httpmuxd/internal/fasttime"
	"github.com/httpmuxd/httpmuxd/logger"
	"github.com/httpmuxd/httpmuxd/multiplexer"
	"github.com/httpmuxd/httpmuxd/server"
	"github.com/httpmuxd/httpmuxd/transport"
)

// tickInterval is how often Pinging and Erase are driven; half of the
// smallest sensible ping interval keeps the half-interval PING policy
// responsive without busy-looping idle connections.
const tickInterval = 500 * time.Millisecond

// Controller owns one listener's transport.NetAdapter + multiplexer.Hub pair
// plus the shared debug/admin server.
type Controller struct {
	ctx    context.Context
	cancel context.CancelFunc

	cfg       Config
	buildInfo common.BuildInfo

	bus  *callbackbus.Bus
	hub  *multiplexer.Hub
	core *transport.NetAdapter
	svr  *server.Server
}

func setupLogger(conf *confengine.Config) error {
	var opts logger.Options
	if err := conf.UnpackChild("logger", &opts); err != nil {
		return err
	}

	if opts.Filename == "" {
		opts.Filename = "httpmuxd.log"
	}
	if opts.MaxBackups <= 0 {
		opts.MaxBackups = 10
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = 7
	}
	if opts.MaxSize <= 0 {
		opts.MaxSize = 100
	}

	logger.SetOptions(opts)
	return nil
}

// tlsConfig builds a *tls.Config from TLSConfig, or nil if TLS is disabled.
func tlsConfig(cfg TLSConfig) (*tls.Config, tls.ClientAuthType, error) {
	if !cfg.Enabled {
		return nil, tls.NoClientCert, nil
	}

	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, tls.NoClientCert, errors.Wrap(err, "loading listener certificate")
	}

	tc := &tls.Config{Certificates: []tls.Certificate{cert}}
	clientAuth := tls.NoClientCert

	if cfg.ClientCA != "" {
		pem, err := os.ReadFile(cfg.ClientCA)
		if err != nil {
			return nil, tls.NoClientCert, errors.Wrap(err, "reading client CA bundle")
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, tls.NoClientCert, errors.New("controller: client CA bundle has no usable certificates")
		}
		tc.ClientCAs = pool
		if cfg.RequireMTLS {
			clientAuth = tls.RequireAndVerifyClientCert
		} else {
			clientAuth = tls.VerifyClientCertIfGiven
		}
	}

	return tc, clientAuth, nil
}

// New builds a Controller from conf: the "controller" child unpacks into the
// listener's ServiceConfig, "server" builds the shared debug server.
func New(conf *confengine.Config, buildInfo common.BuildInfo) (*Controller, error) {
	if err := setupLogger(conf); err != nil {
		return nil, err
	}

	var cfg Config
	if err := conf.UnpackChild("controller", &cfg); err != nil {
		return nil, err
	}

	svr, err := server.New(conf)
	if err != nil {
		return nil, err
	}

	bus := callbackbus.New()
	core := transport.New(1, nil)
	hub := multiplexer.New(cfg.multiplexerConfig(), core, bus)
	core.SetSink(hub.TransportSink())

	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		ctx:       ctx,
		cancel:    cancel,
		cfg:       cfg,
		buildInfo: buildInfo,
		bus:       bus,
		hub:       hub,
		core:      core,
		svr:       svr,
	}, nil
}

// Bus exposes the callback registry so the embedding application can install
// its "request", "handshake" and other handlers before Start.
func (c *Controller) Bus() *callbackbus.Bus { return c.bus }

func (c *Controller) Start() error {
	c.setupServer()

	tc, clientAuth, err := tlsConfig(c.cfg.TLS)
	if err != nil {
		return err
	}

	if err := c.core.Listen(transport.Options{
		Address:    c.cfg.Address,
		TLS:        tc,
		ClientAuth: clientAuth,
	}); err != nil {
		return err
	}
	c.hub.NotifyLaunched(1)

	go c.tick()

	if c.svr != nil {
		go func() {
			err := c.svr.ListenAndServe()
			if !errors.Is(err, io.EOF) {
				logger.Errorf("failed to start server: %v", err)
			}
		}()
	}

	return nil
}

// tick drives the Hub's periodic housekeeping: the WebSocket PING policy and
// the deferred-erase reclamation window.
func (c *Controller) tick() {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now()
			c.hub.Pinging(now)
			c.hub.Erase(now)

		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Controller) recordMetrics() {
	uptime.Set(float64(fasttime.UnixTimestamp() - common.Started()))
	buildInfo.WithLabelValues(c.buildInfo.Version, c.buildInfo.GitHash, c.buildInfo.Time).Inc()

	stats := c.hub.Stats()
	connectionsActive.Set(float64(stats.ActiveConnections))
	connectionsTotal.Set(float64(stats.ConnectionsTotal))
	requestsHandled.Set(float64(stats.RequestsHandled))
	websocketUpgrades.Set(float64(stats.WebsocketUpgrades))
	authRejections.Set(float64(stats.AuthRejections))
	streamsActive.Set(float64(stats.ActiveStreams))
	eraseQueueDepth.Set(float64(stats.EraseQueueDepth))
}

// Reload unpacks the "controller" section of conf and stores it on the
// Controller. The running Hub and its engines keep the configuration they
// were built with in New, so auth, WebSocket and identity changes do not
// reach the listener; address and TLS material are read only at Start.
func (c *Controller) Reload(conf *confengine.Config) error {
	var cfg Config
	if err := conf.UnpackChild("controller", &cfg); err != nil {
		return err
	}
	c.cfg = cfg
	return nil
}

func (c *Controller) Stop() {
	if c.core != nil {
		_ = c.core.Stop()
	}
	c.cancel()
}
