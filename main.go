// The main package for the linkwarmer executable.
package main

import (
	"github.com/JakeFAU/linkwarmer/cmd"
)

func main() {
	cmd.Execute()
}
