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

package dirs_test

import (
	"path/filepath"
	"testing"

	. "gopkg.in/check.v1"

	"github.com/snapcore/dplink/dirs"
)

// Hook up check.v1 into the "go test" runner
func Test(t *testing.T) { TestingT(t) }

var _ = Suite(&DirsTestSuite{})

type DirsTestSuite struct{}

func (s *DirsTestSuite) TestSetRootDir(c *C) {
	defer dirs.SetRootDir("")

	root := c.MkDir()
	dirs.SetRootDir(root)
	c.Check(dirs.GlobalRootDir, Equals, root)
	c.Check(dirs.DplinkSocket, Equals, filepath.Join(root, "/run/dplink/dplinkd.socket"))
	c.Check(dirs.DplinkJournalFile, Equals, filepath.Join(root, "/var/lib/dplink/journal.db"))
	c.Check(dirs.DplinkConfigFile, Equals, filepath.Join(root, "/etc/dplink/dplink.yaml"))
	c.Check(dirs.SysfsDRMDir, Equals, filepath.Join(root, "/sys/class/drm"))
}

func (s *DirsTestSuite) TestSetRootDirEmpty(c *C) {
	defer dirs.SetRootDir("")

	dirs.SetRootDir("")
	c.Check(dirs.GlobalRootDir, Equals, "/")
	c.Check(dirs.DplinkRunDir, Equals, "/run/dplink")
}
