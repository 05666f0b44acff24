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
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// ChangeLister 列出最近变更的相对路径
type ChangeLister interface {
	Changed(ctx context.Context, root string, hours int) ([]string, error)
}

// GitChanges 调用本地 git
type GitChanges struct{}

// Changed git diff --name-only HEAD@{N hours ago}..HEAD
func (GitChanges) Changed(ctx context.Context, root string, hours int) ([]string, error) {
	rev := fmt.Sprintf("HEAD@{%d hours ago}..HEAD", hours)
	cmd := exec.CommandContext(ctx, "git", "-C", root, "diff", "--name-only", rev)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("git diff: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	var files []string
	for _, line := range strings.Split(string(out), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			files = append(files, line)
		}
	}
	return files, nil
}
