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


// Package i18n translates user visible strings of the dplink tools.
package i18n

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/snapcore/go-gettext"

	"github.com/snapcore/dplink/dirs"
	"github.com/snapcore/dplink/osutil"
)

// TEXTDOMAIN is the gettext domain of dplink messages.
var TEXTDOMAIN = "dplink"

// LocaleDirEnv points at an alternative message catalog tree.
const LocaleDirEnv = "DPLINK_LOCALEDIR"

var (
	catalog gettext.Catalog
	domain  gettext.Translations
)

func init() {
	dir := os.Getenv(LocaleDirEnv)
	if dir == "" {
		dir = filepath.Join(dirs.GlobalRootDir, "/usr/share/locale")
	}
	bindTextDomain(TEXTDOMAIN, dir)
	setLocale("")
}

// catalogPath finds the .mo file for loc, trying "de_DE" before "de".
func catalogPath(root, loc, textDomain string) string {
	name := textDomain + ".mo"
	candidates := []string{loc}
	if lang, _, found := strings.Cut(loc, "_"); found {
		candidates = append(candidates, lang)
	}
	for _, cand := range candidates {
		p := filepath.Join(root, cand, "LC_MESSAGES", name)
		if osutil.FileExists(p) {
			return p
		}
	}
	return ""
}

func bindTextDomain(textDomain, dir string) {
	domain = gettext.NewTranslations(dir, textDomain, catalogPath)
}

// normalizeLocale strips the codeset and modifier, "de_DE.UTF-8@euro"
// becomes "de_DE".
func normalizeLocale(loc string) string {
	if i := strings.IndexAny(loc, ".@"); i >= 0 {
		loc = loc[:i]
	}
	return loc
}

func setLocale(loc string) {
	for _, env := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
		if loc != "" {
			break
		}
		loc = os.Getenv(env)
	}
	catalog = domain.Locale(normalizeLocale(loc))
}

// G translates msgid.
func G(msgid string) string {
	return catalog.Gettext(msgid)
}

// pluralN folds n into the range gettext plural rules are defined for.
func pluralN(n int) uint32 {
	const limit = 1000000
	if n < 0 {
		n = -n
	}
	if n > limit {
		n = n%limit + limit
	}
	return uint32(n)
}

// NG translates msgid or msgidPlural depending on n.
func NG(msgid, msgidPlural string, n int) string {
	return catalog.NGettext(msgid, msgidPlural, pluralN(n))
}
