// Copyright 2025 Tom Barlow
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
	"os"
	"path/filepath"
)

// DefaultToolPath returns the maintenance tool path relative to the
// directory of the running executable, where installers place it.
func DefaultToolPath() string {
	return resolveFromExecutable(defaultToolRelPath)
}

func resolveFromExecutable(rel string) string {
	exe, err := os.Executable()
	if err != nil {
		return filepath.FromSlash(rel)
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Clean(filepath.Join(filepath.Dir(exe), filepath.FromSlash(rel)))
}
