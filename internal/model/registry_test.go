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

package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"refactor-pipeline/pkg/config"
)

func TestGetLLM_NotRegistered(t *testing.T) {
	r := NewRegistry()
	_, err := r.Get("non-existent-llm")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not registered")
}

func TestNewRegistryFromConfig(t *testing.T) {
	r, err := NewRegistryFromConfig(map[string]config.ProviderConfig{
		"gemini": {Type: "rest", BaseURL: "http://localhost:1", Model: "gemini-2.0-flash", Timeout: time.Second},
		"openai": {Type: "openai", Model: "gpt-4o-mini"},
		"local":  {Type: "eino", BaseURL: "http://localhost:2", Model: "qwen"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"gemini", "local", "openai"}, r.Names())

	c, err := r.Get("gemini")
	require.NoError(t, err)
	assert.Equal(t, "gemini", c.Provider())
	assert.Equal(t, "gemini-2.0-flash", c.Model())
}

func TestNewRegistryFromConfig_BadType(t *testing.T) {
	_, err := NewRegistryFromConfig(map[string]config.ProviderConfig{"x": {Type: "soap", Model: "m"}})
	assert.Error(t, err)
}
