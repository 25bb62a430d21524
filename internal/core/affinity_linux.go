/*
dnsdeny — DNS blocklist fetcher and renderer in Go
Copyright (C) 2026  The dnsdeny authors

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

//go:build linux

package core

import (
	"runtime"

	"golang.org/x/sys/unix"

	"github.com/dnsdeny/internal/logging"
)

const affinityMode = "linux"

// setAffinity pins the calling goroutine's OS thread to the given CPU core.
// Failures are logged and ignored; affinity is an optimization, not a
// requirement.
func setAffinity(workerID, cpu int) {
	runtime.LockOSThread()

	var cpuSet unix.CPUSet
	cpuSet.Zero()
	cpuSet.Set(cpu)

	tid := unix.Gettid()
	if err := unix.SchedSetaffinity(tid, &cpuSet); err != nil {
		logging.Warnf("failed to set CPU affinity for worker %d (cpu %d): %v", workerID, cpu, err)
	}
}
