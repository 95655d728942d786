// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
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

package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadYAMLSource reads a flat-mapping YAML file (string keys, scalar values)
// into a MapSource. Nested maps are flattened with "." as the separator so
// that "redshift:\n  schema: x" resolves under the key "redshift.schema".
func LoadYAMLSource(path string) (MapSource, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var tree map[string]interface{}
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return nil, err
	}
	out := MapSource{}
	flattenYAML("", tree, out)
	return out, nil
}

func flattenYAML(prefix string, tree map[string]interface{}, out MapSource) {
	for k, v := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch vv := v.(type) {
		case map[string]interface{}:
			flattenYAML(key, vv, out)
		case map[interface{}]interface{}:
			converted := make(map[string]interface{}, len(vv))
			for ck, cv := range vv {
				converted[toString(ck)] = cv
			}
			flattenYAML(key, converted, out)
		default:
			out[key] = toString(v)
		}
	}
}

func toString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// LoadPropertiesSource reads a line-based key=value file, matching the
// .properties files of the source system: "#" starts a comment line, blank
// lines are skipped, and the first "=" on a line separates key from value.
func LoadPropertiesSource(path string) (MapSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	out := MapSource{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.Index(line, "=")
		if idx < 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		val := strings.TrimSpace(line[idx+1:])
		out[key] = val
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
