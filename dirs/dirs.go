// -*- Mode: Go; indent-tabs-mode: t -*-

/*
 * Copyright (C) 2025 Canonical Ltd
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License version 3 as
 * published by the Free Software Foundation.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package dirs

import (
	"os"
	"path/filepath"
)

// the various file paths
var (
	GlobalRootDir string

	DplinkRunDir      string
	DplinkSocket      string
	DplinkStateDir    string
	DplinkJournalFile string
	DplinkConfigFile  string

	SysfsDRMDir string
)

const defaultRootDir = "/"

func init() {
	// init the global directories at startup
	root := os.Getenv("DPLINK_ROOT")
	if root == "" {
		root = defaultRootDir
	}

	SetRootDir(root)
}

// SetRootDir allows settings a new global root directory, this is useful
// for e.g. chroot operations or tests
func SetRootDir(rootdir string) {
	if rootdir == "" {
		rootdir = defaultRootDir
	}
	GlobalRootDir = rootdir

	DplinkRunDir = filepath.Join(rootdir, "/run/dplink")
	DplinkSocket = filepath.Join(DplinkRunDir, "dplinkd.socket")
	DplinkStateDir = filepath.Join(rootdir, "/var/lib/dplink")
	DplinkJournalFile = filepath.Join(DplinkStateDir, "journal.db")
	DplinkConfigFile = filepath.Join(rootdir, "/etc/dplink/dplink.yaml")

	SysfsDRMDir = filepath.Join(rootdir, "/sys/class/drm")
}
