// flaky finds flaky Appium UI tests by running a suite in two passes.
package main

import (
	"os"

	"github.com/steveyegge/flaky/internal/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
