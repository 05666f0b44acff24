// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/cobra"

	"refactor-pipeline/internal/app"
	"refactor-pipeline/internal/ledger"
	"refactor-pipeline/pkg/config"
	perrors "refactor-pipeline/pkg/errors"
)

// backend 账本操作：本地直接读写账本，或经状态 API
type backend interface {
	Stats(ctx context.Context) (ledger.RunStats, error)
	Failed(ctx context.Context) ([]ledger.FileRecord, error)
	Get(ctx context.Context, identifier string) (ledger.FileRecord, error)
	Reset(ctx context.Context, identifier string) (int, error)
	Skip(ctx context.Context, identifier string) (ledger.FileRecord, error)
	Close(ctx context.Context) error
}

func withBackend(fn func(cmd *cobra.Command, b backend, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		b, err := openBackend(cmd.Context())
		if err != nil {
			return err
		}
		defer b.Close(context.WithoutCancel(cmd.Context()))
		return fn(cmd, b, args)
	}
}

func openBackend(ctx context.Context) (backend, error) {
	if apiURL != "" {
		return newRemoteBackend(apiURL, apiToken), nil
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	boot, err := app.NewBootstrap(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &localBackend{boot: boot}, nil
}

type localBackend struct {
	boot *app.Bootstrap
}

func (b *localBackend) Stats(context.Context) (ledger.RunStats, error) {
	return b.boot.Ledger.SnapshotStats(), nil
}

func (b *localBackend) Failed(context.Context) ([]ledger.FileRecord, error) {
	var out []ledger.FileRecord
	for _, r := range b.boot.Ledger.Records() {
		if r.Status == ledger.StatusFailed || r.Status == ledger.StatusPermanentlyFailed {
			out = append(out, r)
		}
	}
	return out, nil
}

func (b *localBackend) Get(_ context.Context, identifier string) (ledger.FileRecord, error) {
	rec, ok := b.boot.Ledger.Get(identifier)
	if !ok {
		return ledger.FileRecord{}, fmt.Errorf("%s: %w", identifier, perrors.ErrNotFound)
	}
	return rec, nil
}

func (b *localBackend) Reset(ctx context.Context, identifier string) (int, error) {
	return b.boot.Ledger.Reset(ctx, identifier)
}

func (b *localBackend) Skip(ctx context.Context, identifier string) (ledger.FileRecord, error) {
	return b.boot.Retry.Skip(ctx, identifier)
}

func (b *localBackend) Close(ctx context.Context) error { return b.boot.Close(ctx) }

type remoteBackend struct {
	client *resty.Client
}

func newRemoteBackend(baseURL, token string) *remoteBackend {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30*time.Second).
		SetHeader("Content-Type", "application/json")
	if token != "" {
		c.SetAuthToken(token)
	}
	return &remoteBackend{client: c}
}

type apiError struct {
	Error string `json:"error"`
}

func (b *remoteBackend) do(ctx context.Context, method, path string, body, out any) error {
	var apiErr apiError
	req := b.client.R().SetContext(ctx).SetError(&apiErr)
	if out != nil {
		req.SetResult(out)
	}
	if body != nil {
		req.SetBody(body)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return err
	}
	if resp.IsError() {
		msg := apiErr.Error
		if msg == "" {
			msg = resp.String()
		}
		switch resp.StatusCode() {
		case http.StatusNotFound:
			return fmt.Errorf("%s %s: %s: %w", method, path, msg, perrors.ErrNotFound)
		case http.StatusConflict:
			return fmt.Errorf("%s %s: %s: %w", method, path, msg, ledger.ErrInFlight)
		}
		return fmt.Errorf("%s %s: %d %s", method, path, resp.StatusCode(), msg)
	}
	return nil
}

func (b *remoteBackend) Stats(ctx context.Context) (ledger.RunStats, error) {
	var out struct {
		Stats ledger.RunStats `json:"stats"`
	}
	err := b.do(ctx, http.MethodGet, "/api/ledger/stats", nil, &out)
	return out.Stats, err
}

func (b *remoteBackend) Failed(ctx context.Context) ([]ledger.FileRecord, error) {
	var out struct {
		Files []ledger.FileRecord `json:"files"`
	}
	err := b.do(ctx, http.MethodGet, "/api/ledger/failed", nil, &out)
	return out.Files, err
}

func (b *remoteBackend) Get(ctx context.Context, identifier string) (ledger.FileRecord, error) {
	var rec ledger.FileRecord
	err := b.do(ctx, http.MethodGet, "/api/ledger/files/"+escapePath(identifier), nil, &rec)
	return rec, err
}

func (b *remoteBackend) Reset(ctx context.Context, identifier string) (int, error) {
	var out struct {
		Reset int `json:"reset"`
	}
	body := map[string]any{"identifier": identifier, "all": identifier == ""}
	err := b.do(ctx, http.MethodPost, "/api/ledger/reset", body, &out)
	return out.Reset, err
}

func (b *remoteBackend) Skip(ctx context.Context, identifier string) (ledger.FileRecord, error) {
	var rec ledger.FileRecord
	err := b.do(ctx, http.MethodPost, "/api/ledger/skip", map[string]string{"identifier": identifier}, &rec)
	return rec, err
}

func (b *remoteBackend) Close(context.Context) error { return nil }

// escapePath 逐段转义，保留路径分隔符
func escapePath(id string) string {
	u := url.URL{Path: id}
	return u.EscapedPath()
}
