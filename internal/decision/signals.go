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

package decision

import (
	"regexp"
	"strings"

	"refactor-pipeline/internal/smell"
)

// Signals 结构信号：决定修改是否可能波及当前文件之外
type Signals struct {
	PublicSurface       bool // 坏味涉及的方法中有 public/protected 方法
	Inheritance         bool // extends / implements / abstract / interface
	DIAnnotations       bool // @Autowired、@Inject 等依赖注入注解
	ExternalDeclaration bool // 检测端明确声明需要改动其他文件
	InputBytes          int
}

// MultiFileImpact 任一信号成立即视为多文件影响
func (s Signals) MultiFileImpact() bool {
	return s.PublicSurface || s.Inheritance || s.DIAnnotations || s.ExternalDeclaration
}

// Reasons 成立的信号名
func (s Signals) Reasons() []string {
	var out []string
	if s.PublicSurface {
		out = append(out, "public_surface")
	}
	if s.Inheritance {
		out = append(out, "inheritance")
	}
	if s.DIAnnotations {
		out = append(out, "di_annotations")
	}
	if s.ExternalDeclaration {
		out = append(out, "external_declaration")
	}
	return out
}

var (
	methodPattern      = regexp.MustCompile(`(public|private|protected)\s+(?:static\s+)?(?:final\s+)?(?:synchronized\s+)?(?:<[^>]+>\s+)?([\w.<>\[\],\s]+?)\s+(\w+)\s*\(([^)]*)\)`)
	inheritancePattern = regexp.MustCompile(`\b(?:class|interface|enum|record)\s+\w+(?:<[^>{]*>)?[^{]*\b(extends|implements)\b|\babstract\s+class\b|\binterface\s+\w+`)
	diPattern          = regexp.MustCompile(`@(Autowired|Inject|Component|Service|Repository|Controller|RestController|Configuration|Bean|Resource|Named|Singleton)\b`)
)

// Method 方法签名
type Method struct {
	Visibility string
	ReturnType string
	Name       string
	Params     string
}

// Signature 归一化签名，用于比较
func (m Method) Signature() string {
	return m.Visibility + " " + normalizeSpace(m.ReturnType) + " " + m.Name + "(" + normalizeParams(m.Params) + ")"
}

// ExtractMethods 提取方法签名（正则近似，不做语法分析）
func ExtractMethods(code string) []Method {
	code = stripComments(code)
	var out []Method
	for _, m := range methodPattern.FindAllStringSubmatch(code, -1) {
		ret := strings.TrimSpace(m[2])
		if ret == "new" || ret == "return" || ret == "else" {
			continue
		}
		out = append(out, Method{Visibility: m[1], ReturnType: ret, Name: m[3], Params: m[4]})
	}
	return out
}

// PublicSignatures public 与 protected 方法的归一化签名
func PublicSignatures(code string) []string {
	var out []string
	for _, m := range ExtractMethods(code) {
		if m.Visibility == "private" {
			continue
		}
		out = append(out, m.Signature())
	}
	return out
}

// CollectSignals 从源码与检测结果计算结构信号
func CollectSignals(code string, det smell.Detection) Signals {
	clean := stripComments(code)
	s := Signals{
		Inheritance:         inheritancePattern.MatchString(clean),
		DIAnnotations:       diPattern.MatchString(clean),
		ExternalDeclaration: len(det.RelatedFiles) > 0 || det.Scope == smell.ScopeMultiFile,
		InputBytes:          len(code),
	}
	affected := map[string]struct{}{}
	for _, name := range det.AffectedMethods() {
		affected[name] = struct{}{}
	}
	for _, m := range ExtractMethods(clean) {
		if m.Visibility == "private" {
			continue
		}
		if _, ok := affected[m.Name]; ok {
			s.PublicSurface = true
			break
		}
	}
	return s
}

var (
	blockComment = regexp.MustCompile(`(?s)/\*.*?\*/`)
	lineComment  = regexp.MustCompile(`(?m)//.*$`)
)

func stripComments(code string) string {
	return lineComment.ReplaceAllString(blockComment.ReplaceAllString(code, ""), "")
}

func normalizeSpace(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	s = strings.ReplaceAll(s, ", ", ",")
	return strings.ReplaceAll(s, " ,", ",")
}

// normalizeParams 只保留参数类型，参数改名不算签名变化
func normalizeParams(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	parts := splitTopLevel(p)
	types := make([]string, 0, len(parts))
	for _, part := range parts {
		fields := strings.Fields(strings.ReplaceAll(part, "final ", ""))
		var kept []string
		for _, f := range fields {
			if !strings.HasPrefix(f, "@") {
				kept = append(kept, f)
			}
		}
		if len(kept) > 1 {
			kept = kept[:len(kept)-1]
		}
		types = append(types, normalizeSpace(strings.Join(kept, " ")))
	}
	return strings.Join(types, ",")
}

// splitTopLevel 按不在泛型尖括号内的逗号切分
func splitTopLevel(s string) []string {
	var parts []string
	depth, start := 0, 0
	for i, r := range s {
		switch r {
		case '<':
			depth++
		case '>':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, s[start:])
}
