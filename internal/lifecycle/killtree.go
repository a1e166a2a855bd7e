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

package lifecycle

import (
	"errors"

	"github.com/shirou/gopsutil/v3/process"
)

// killTree kills pid and every descendant, children first.
func killTree(pid int) error {
	root, err := process.NewProcess(int32(pid))
	if err != nil {
		if errors.Is(err, process.ErrorProcessNotRunning) {
			return nil
		}
		return err
	}
	return killProcess(root)
}

func killProcess(p *process.Process) error {
	// Children fails when there are none; that is not an error here.
	children, _ := p.Children()
	for _, child := range children {
		_ = killProcess(child)
	}
	if err := p.Kill(); err != nil {
		if running, _ := p.IsRunning(); !running {
			return nil
		}
		return err
	}
	return nil
}
