// The main package for the insight executable.
package main

import (
	"github.com/godseye/insight/cmd"
)

func main() {
	cmd.Execute()
}
