package cmd

import (
	_ "pkgkeeper/cmd/account"
	_ "pkgkeeper/cmd/packages"
	_ "pkgkeeper/cmd/repo"
	_ "pkgkeeper/cmd/root"
	_ "pkgkeeper/cmd/server"
)
