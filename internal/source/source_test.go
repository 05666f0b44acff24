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
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, rel string, lines int) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(strings.Repeat("x\n", lines)), 0o644))
}

func fixtureRepo(t *testing.T) string {
	root := t.TempDir()
	writeFile(t, root, "src/main/java/org/app/business/Big.java", 500)
	writeFile(t, root, "src/main/java/org/app/business/Mid.java", 250)
	writeFile(t, root, "src/main/java/org/app/web/Small.java", 10)
	writeFile(t, root, "src/test/java/org/app/BigTest.java", 900)
	writeFile(t, root, "target/generated/Gen.java", 900)
	writeFile(t, root, "README.md", 900)
	return root
}

func ids(t *testing.T, src Source) []string {
	t.Helper()
	cands, err := Collect(context.Background(), src)
	require.NoError(t, err)
	out := make([]string, len(cands))
	for i, c := range cands {
		out[i] = c.Identifier
	}
	return out
}

func TestFSSource_Modes(t *testing.T) {
	root := fixtureRepo(t)

	all, err := NewFSSource(Options{Root: root, Mode: ModeAll}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"src/main/java/org/app/business/Big.java",
		"src/main/java/org/app/business/Mid.java",
		"src/main/java/org/app/web/Small.java",
	}, ids(t, all))

	large, _ := NewFSSource(Options{Root: root, Mode: ModeLarge, MinLines: 200}, nil)
	assert.Equal(t, []string{
		"src/main/java/org/app/business/Big.java",
		"src/main/java/org/app/business/Mid.java",
	}, ids(t, large), "largest first")

	pkg, _ := NewFSSource(Options{Root: root, Mode: ModePackage, Packages: []string{"org/app/web"}}, nil)
	assert.Equal(t, []string{"src/main/java/org/app/web/Small.java"}, ids(t, pkg))

	manual, _ := NewFSSource(Options{Root: root, Mode: ModeManual, Files: []string{"src/main/java/org/app/web/Small.java", "missing/X.java", " "}}, nil)
	assert.Equal(t, []string{"src/main/java/org/app/web/Small.java"}, ids(t, manual))
}

type stubChanges struct {
	files []string
	err   error
}

func (s stubChanges) Changed(context.Context, string, int) ([]string, error) { return s.files, s.err }

func TestFSSource_ChangedFallsBackToLarge(t *testing.T) {
	root := fixtureRepo(t)

	src, _ := NewFSSource(Options{Root: root, Mode: ModeChanged, MinLines: 300}, nil)
	src.WithChangeLister(stubChanges{files: []string{"src/main/java/org/app/web/Small.java", "README.md", "src/test/java/org/app/BigTest.java"}})
	assert.Equal(t, []string{"src/main/java/org/app/web/Small.java"}, ids(t, src))

	src.WithChangeLister(stubChanges{err: errors.New("not a git repository")})
	assert.Equal(t, []string{"src/main/java/org/app/business/Big.java"}, ids(t, src))
}

func TestFSSource_ReadAndRelated(t *testing.T) {
	root := fixtureRepo(t)
	src, _ := NewFSSource(Options{Root: root, Mode: ModeAll}, nil)
	cands, err := Collect(context.Background(), src)
	require.NoError(t, err)

	b, err := src.Read(context.Background(), cands[0])
	require.NoError(t, err)
	assert.Len(t, ContentHash(b), 16)

	rel := src.Related(context.Background(), []string{"Mid.java", "Small.java", "Gen.java", "Nope.java"}, 3)
	assert.Len(t, rel, 2)
	assert.Contains(t, rel, "Mid.java")
	assert.NotContains(t, rel, "Gen.java", "excluded dirs are not searched")
}

func TestFSSource_UnknownMode(t *testing.T) {
	src, _ := NewFSSource(Options{Root: t.TempDir(), Mode: "random"}, nil)
	_, err := Collect(context.Background(), src)
	assert.Error(t, err)
}

func TestStaticSource(t *testing.T) {
	src := NewStaticSource([]string{"A", "B"}, map[string]string{"A": "a"})
	assert.Equal(t, []string{"A", "B"}, ids(t, src))
	_, err := src.Read(context.Background(), Candidate{Identifier: "B", ContentRef: "B"})
	var re *ReadError
	assert.ErrorAs(t, err, &re)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Collect(ctx, src)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWatcher(t *testing.T) {
	root := fixtureRepo(t)
	src, _ := NewFSSource(Options{Root: root, Mode: ModeAll}, nil)
	w, err := NewWatcher(src, 50*time.Millisecond, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	got := make(chan []string, 1)
	done := make(chan error, 1)
	go func() {
		done <- w.Run(ctx, func(_ context.Context, ids []string) {
			select {
			case got <- ids:
			default:
			}
		})
	}()

	time.Sleep(200 * time.Millisecond)
	writeFile(t, root, "src/main/java/org/app/web/Small.java", 20)
	writeFile(t, root, "README.md", 1)

	select {
	case changed := <-got:
		assert.Equal(t, []string{"src/main/java/org/app/web/Small.java"}, changed)
	case <-ctx.Done():
		t.Fatal("no change batch delivered")
	}
	cancel()
	assert.NoError(t, <-done)
}
