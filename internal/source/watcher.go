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

package source

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"

	"refactor-pipeline/pkg/log"
)

// Watcher 监听仓库目录，去抖后回调变更的 identifier 列表（watch 模式触发新一轮 run）
type Watcher struct {
	src      *FSSource
	watcher  *fsnotify.Watcher
	debounce time.Duration
	logger   *log.Logger
}

// NewWatcher debounce<=0 时取 2s
func NewWatcher(src *FSSource, debounce time.Duration, logger *log.Logger) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Watcher{src: src, watcher: w, debounce: debounce, logger: logger}, nil
}

// Run 阻塞直到 ctx 结束；每批变更调用一次 onChange
func (w *Watcher) Run(ctx context.Context, onChange func(ctx context.Context, identifiers []string)) error {
	defer w.watcher.Close()
	if err := w.addRecursive(w.src.Root()); err != nil {
		return err
	}

	pending := map[string]struct{}{}
	var timer *time.Timer
	var timerC <-chan time.Time
	flush := func() {
		if len(pending) == 0 {
			return
		}
		ids := make([]string, 0, len(pending))
		for id := range pending {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		clear(pending)
		onChange(ctx, ids)
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() && !w.src.excluded(info.Name()) {
					_ = w.addRecursive(ev.Name)
					continue
				}
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if !w.src.matchesExt(ev.Name) {
				continue
			}
			c := w.src.candidate(ev.Name)
			if w.src.inExcludedDir(c.Identifier) {
				continue
			}
			pending[c.Identifier] = struct{}{}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}
		case <-timerC:
			timer, timerC = nil, nil
			flush()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("file watcher error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if path != root && w.src.excluded(d.Name()) {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
}
