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

package validate

import (
	"context"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/java"
)

const maxIssues = 20

// TreeSitterChecker 基于 tree-sitter 语法树的可解析性检查
type TreeSitterChecker struct {
	lang *sitter.Language
}

// NewJavaChecker Java 语法检查
func NewJavaChecker() *TreeSitterChecker {
	return &TreeSitterChecker{lang: java.GetLanguage()}
}

// Check 收集 ERROR / MISSING 节点；无顶层类型声明也视为问题
func (c *TreeSitterChecker) Check(ctx context.Context, code string) ([]SyntaxIssue, error) {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(c.lang)

	content := []byte(code)
	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("parsing failed: %w", err)
	}
	defer tree.Close()

	root := tree.RootNode()
	var issues []SyntaxIssue
	collectIssues(root, &issues, 0)
	if len(issues) == 0 && !hasTypeDeclaration(root) {
		issues = append(issues, SyntaxIssue{Line: 1, Message: "no top-level type declaration"})
	}
	return issues, nil
}

func collectIssues(node *sitter.Node, issues *[]SyntaxIssue, depth int) {
	if node == nil || depth > 1000 || len(*issues) >= maxIssues {
		return
	}
	if node.IsError() || node.IsMissing() {
		p := node.StartPoint()
		msg := "syntax error"
		if node.IsMissing() {
			msg = "missing " + node.Type()
		}
		*issues = append(*issues, SyntaxIssue{Line: int(p.Row) + 1, Column: int(p.Column), Message: msg})
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		collectIssues(node.Child(i), issues, depth+1)
	}
}

func hasTypeDeclaration(root *sitter.Node) bool {
	for i := 0; i < int(root.NamedChildCount()); i++ {
		switch root.NamedChild(i).Type() {
		case "class_declaration", "interface_declaration", "enum_declaration", "record_declaration", "annotation_type_declaration":
			return true
		}
	}
	return false
}
