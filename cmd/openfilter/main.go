package main

import (
	"os"

	ofcmd "github.com/hiagors92/open-filter-challange/cmd"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	ofcmd.SetVersionInfo(version, commit)
	os.Exit(ofcmd.Execute())
}
